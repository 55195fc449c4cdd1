// SPDX-License-Identifier: MIT

package vision

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports a model response that held no usable JSON. Raw keeps
// the full response text so callers can fall back to a degraded result.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string { return e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// ExtractJSON pulls a JSON object out of a model response and unmarshals it
// into v. Models wrap JSON in markdown fences or surround it with prose, so
// three forms are tried in order: a ```json fence, a bare ``` fence, and the
// first balanced {...} span in the text.
func ExtractJSON(response string, v any) error {
	candidate := fencedBlock(response, "```json")
	if candidate == "" {
		candidate = fencedBlock(response, "```")
	}
	if candidate == "" {
		candidate = balancedObject(response)
	}
	if candidate == "" {
		return fmt.Errorf("no JSON object found in model response")
	}

	if err := json.Unmarshal([]byte(candidate), v); err != nil {
		return fmt.Errorf("parse model JSON: %w", err)
	}
	return nil
}

// fencedBlock returns the content of the first code fence opened by marker.
func fencedBlock(s, marker string) string {
	start := strings.Index(s, marker)
	if start < 0 {
		return ""
	}
	rest := s[start+len(marker):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// balancedObject returns the first top-level {...} span, tracking nesting
// and string literals.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
