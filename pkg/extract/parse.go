package extract

import (
	"encoding/json"
	"strings"

	"github.com/papercomputeco/chatty/pkg/memory"
)

// Candidate is a well-formed extracted fact with a normalized key.
type Candidate struct {
	Key   string
	Value string
}

// Parse reads the model output and returns the usable candidates in order,
// with later duplicates of a key replacing earlier ones, plus the number of
// malformed entries. Output that is not JSON at all counts as one malformed
// entry.
func Parse(raw string) ([]Candidate, int) {
	entries, ok := decodeEntries(raw)
	if !ok {
		if strings.TrimSpace(raw) == "" {
			return nil, 0
		}
		return nil, 1
	}

	malformed := 0
	index := map[string]int{}
	var out []Candidate

	for _, entry := range entries {
		c, ok := decodeCandidate(entry)
		if !ok {
			malformed++
			continue
		}
		if i, seen := index[c.Key]; seen {
			out[i] = c
			continue
		}
		index[c.Key] = len(out)
		out = append(out, c)
	}
	return out, malformed
}

func decodeEntries(raw string) ([]json.RawMessage, bool) {
	text := stripFences(strings.TrimSpace(raw))

	for _, candidate := range []string{text, between(text, "{", "}"), between(text, "[", "]")} {
		if candidate == "" {
			continue
		}

		if strings.HasPrefix(candidate, "{") {
			if entries, ok := decodeObject(candidate); ok {
				return entries, true
			}
		}

		var bare []json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &bare); err == nil {
			return bare, true
		}
	}
	return nil, false
}

// decodeObject reads a {"facts": [...]} wrapper. An object without a facts
// field is a single entry, and an empty object holds none.
func decodeObject(candidate string) ([]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &fields); err != nil {
		return nil, false
	}

	raw, ok := fields["facts"]
	if !ok {
		if len(fields) == 0 {
			return nil, true
		}
		return []json.RawMessage{json.RawMessage(candidate)}, true
	}

	var facts []json.RawMessage
	if err := json.Unmarshal(raw, &facts); err != nil {
		return nil, false
	}
	return facts, true
}

func decodeCandidate(entry json.RawMessage) (Candidate, bool) {
	var obj map[string]any
	if err := json.Unmarshal(entry, &obj); err != nil {
		return Candidate{}, false
	}

	key := firstString(obj, "key", "fact_key")
	value := strings.TrimSpace(firstString(obj, "value", "fact_text", "text"))
	key = memory.NormalizeFactKey(key)
	if key == "" || value == "" {
		return Candidate{}, false
	}
	return Candidate{Key: key, Value: value}, true
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func between(s, open, closing string) string {
	start := strings.Index(s, open)
	end := strings.LastIndex(s, closing)
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
