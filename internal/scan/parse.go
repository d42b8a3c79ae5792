package scan

import (
	"strconv"
	"strings"
)

type Kind string

const (
	KindDirectional Kind = "directional"
	KindLocal       Kind = "local"
)

// Entry is one directional scan line.
type Entry struct {
	TypeID   int64
	Name     string
	TypeName string
	Distance string
	OnGrid   bool
}

// Detect treats any tab-separated line as a directional scan.
func Detect(raw string) Kind {
	if strings.Contains(raw, "\t") {
		return KindDirectional
	}
	return KindLocal
}

func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	return strings.Split(raw, "\n")
}

// ParseDirectional returns the well-formed entries and the number of
// non-blank lines that were not.
func ParseDirectional(raw string) ([]Entry, int) {
	var entries []Entry
	dropped := 0

	for _, line := range splitLines(raw) {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			dropped++
			continue
		}

		typeID, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			dropped++
			continue
		}

		entries = append(entries, Entry{
			TypeID:   typeID,
			Name:     fields[1],
			TypeName: fields[2],
			Distance: fields[3],
			OnGrid:   IsOnGrid(fields[3]),
		})
	}
	return entries, dropped
}

// ParseLocal returns one pilot name per non-blank line. Lines with tabs are
// not names and are counted as dropped.
func ParseLocal(raw string) ([]string, int) {
	var names []string
	dropped := 0
	for _, line := range splitLines(raw) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(line, "\t") {
			dropped++
			continue
		}
		names = append(names, line)
	}
	return names, dropped
}

var numberCleaner = strings.NewReplacer(",", "", " ", "", "\u00a0", "", "\u202f", "")

// IsOnGrid reports whether a distance column is in kilometres or metres.
// AU distances, "-" and anything unparseable are off grid.
func IsOnGrid(distance string) bool {
	d := strings.TrimSpace(distance)

	var num string
	switch {
	case strings.HasSuffix(d, "km"):
		num = d[:len(d)-2]
	case strings.HasSuffix(d, "m"):
		num = d[:len(d)-1]
	default:
		return false
	}

	num = numberCleaner.Replace(num)
	if num == "" {
		return false
	}
	_, err := strconv.ParseFloat(num, 64)
	return err == nil
}
