// Package parse converts the string formats that PBS emits (walltimes,
// memory quantities, timestamps, qstat JSON payloads) into Go values.
package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// memoryPattern matches PBS memory strings like "8gb", "1000kb" or "1000".
var memoryPattern = regexp.MustCompile(`^(\d+)([A-Za-z]{0,2})$`)

// memoryScale maps PBS memory suffixes to byte multipliers. PBS uses
// decimal units.
var memoryScale = map[string]int64{
	"":   1,
	"b":  1,
	"kb": 1_000,
	"mb": 1_000_000,
	"gb": 1_000_000_000,
	"tb": 1_000_000_000_000,
}

// Memory parses a PBS memory string into bytes.
func Memory(s string) (int64, error) {
	m := memoryPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("unrecognized memory format: %q", s)
	}
	scale, ok := memoryScale[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("unrecognized memory unit: %q", m[2])
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unrecognized memory format: %q", s)
	}
	return n * scale, nil
}

// Walltime parses a PBS HH:MM:SS walltime into a duration.
// Hours may exceed 24 ("72:00:00").
func Walltime(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("unrecognized walltime format: %q", s)
	}
	var secs [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("unrecognized walltime format: %q", s)
		}
		secs[i] = n
	}
	return time.Duration(secs[0])*time.Hour +
		time.Duration(secs[1])*time.Minute +
		time.Duration(secs[2])*time.Second, nil
}

// dateTimeLayouts are tried in order. PBS writes ctime/qtime/mtime in the
// ANSI C asctime form; the tracking database stores ISO-8601.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"Mon Jan 2 15:04:05 2006",
}

// DateTime parses an ISO-8601 or asctime-style timestamp.
func DateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime format: %q", s)
}

// QstatPayload is the shape of `qstat -fF json` output.
type QstatPayload struct {
	Jobs map[string]map[string]any `json:"Jobs"`
}

// QstatJobs decodes `qstat -fF json` output into per-job attribute maps
// keyed by scheduler ID. Anything preceding the first '{' (login banners,
// prompt junk leaked by the interactive shell) is discarded.
func QstatJobs(data []byte) (map[string]map[string]any, error) {
	start := bytes.IndexByte(data, '{')
	if start < 0 {
		// No jobs queued: qstat emits nothing at all.
		if len(bytes.TrimSpace(data)) == 0 {
			return map[string]map[string]any{}, nil
		}
		return nil, fmt.Errorf("qstat output contains no JSON object")
	}
	var payload QstatPayload
	if err := json.Unmarshal(data[start:], &payload); err != nil {
		return nil, fmt.Errorf("decode qstat output: %w", err)
	}
	if payload.Jobs == nil {
		return map[string]map[string]any{}, nil
	}
	return payload.Jobs, nil
}

// String returns attrs[key] as a string, or "" when absent or non-string.
func String(attrs map[string]any, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

// Int returns attrs[key] as an int, tolerating the numeric-vs-string
// variance between PBS versions.
func Int(attrs map[string]any, key string) int {
	switch v := attrs[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// StringMap returns attrs[key] as a nested attribute map, or nil.
func StringMap(attrs map[string]any, key string) map[string]any {
	if v, ok := attrs[key].(map[string]any); ok {
		return v
	}
	return nil
}
