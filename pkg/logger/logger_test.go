package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestInit_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := Init("debug", "json", path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { Log = zap.NewNop() })

	Named("esi").Info("request done")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"msg":"request done"`, `"component":"esi"`, `"service":"scan-intel"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}

func TestInit_RejectsBadInput(t *testing.T) {
	if err := Init("loud", "json", "stdout"); err == nil {
		t.Error("expected an invalid level to fail")
	}
	if err := Init("info", "xml", "stdout"); err == nil {
		t.Error("expected an invalid format to fail")
	}
}
