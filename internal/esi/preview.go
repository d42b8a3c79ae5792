package esi

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

var redactedFields = []string{"description", "title"}

var (
	characterPath   = regexp.MustCompile(`/characters/(\d+)/?$`)
	corporationPath = regexp.MustCompile(`/corporations/\d+/?$`)
	alliancePath    = regexp.MustCompile(`/alliances/\d+/?$`)
)

// ResourceKind labels a URL for metrics.
func ResourceKind(rawURL string) string {
	path := rawURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	switch {
	case strings.Contains(path, "/characters/affiliation"):
		return "affiliation"
	case characterPath.MatchString(path):
		return "character"
	case corporationPath.MatchString(path):
		return "corporation"
	case alliancePath.MatchString(path):
		return "alliance"
	case strings.Contains(path, "/universe/ids"):
		return "universe_ids"
	case strings.HasSuffix(strings.TrimSuffix(path, "/"), "/status"):
		return "status"
	default:
		return "other"
	}
}

// pilotIDFromURL reports the character id of a single-pilot profile URL.
func pilotIDFromURL(rawURL string) (int64, bool) {
	path := rawURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	m := characterPath.FindStringSubmatch(path)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// previewBody returns a loggable copy of body: JSON objects, and arrays of
// objects, lose their redacted fields; everything is cut to limit bytes.
func previewBody(body []byte, limit int) string {
	if len(body) == 0 {
		return ""
	}

	out := body
	var obj map[string]interface{}
	var arr []map[string]interface{}
	switch {
	case json.Unmarshal(body, &obj) == nil:
		if redact(obj) {
			if b, err := json.Marshal(obj); err == nil {
				out = b
			}
		}
	case json.Unmarshal(body, &arr) == nil:
		changed := false
		for _, item := range arr {
			if redact(item) {
				changed = true
			}
		}
		if changed {
			if b, err := json.Marshal(arr); err == nil {
				out = b
			}
		}
	}

	if limit > 0 && len(out) > limit {
		return string(out[:limit]) + "..."
	}
	return string(out)
}

func redact(obj map[string]interface{}) bool {
	changed := false
	for _, field := range redactedFields {
		if _, ok := obj[field]; ok {
			obj[field] = "[redacted]"
			changed = true
		}
	}
	return changed
}

// errorMessage extracts the upstream {"error": "..."} string, if any.
func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error
}
