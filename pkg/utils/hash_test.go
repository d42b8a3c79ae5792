package utils

import "testing"

func TestScanKey_NormalizesLineEndings(t *testing.T) {
	a := ScanKey("Alpha One\r\nBeta Two\r\n")
	b := ScanKey("Alpha One\nBeta Two")
	if a != b {
		t.Errorf("expected equal keys, got %s and %s", a, b)
	}
	if ScanKey("Alpha One") == b {
		t.Error("different pastes share a key")
	}
	if len(a) != 64 {
		t.Errorf("expected a hex sha256, got %q", a)
	}
}
