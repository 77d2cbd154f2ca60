// Package structured recovers JSON payloads from free-form model responses.
//
// Recovery is a fixed sequence: strip code fences, bound the outermost JSON
// object, decode and validate against a JSON Schema, and fall back to a
// caller-supplied default when any step fails. Nothing in this package panics
// on malformed input.
package structured

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when no complete JSON object can be located.
var ErrNoJSON = errors.New("structured: no JSON object found")

const fence = "```"

// Extract returns the first complete JSON object in raw. Fenced blocks are
// searched first, in order; the unfenced text is the last resort.
func Extract(raw string) (string, error) {
	for _, block := range fencedBlocks(raw) {
		if obj, ok := boundObject(block); ok {
			return obj, nil
		}
	}
	if obj, ok := boundObject(raw); ok {
		return obj, nil
	}
	return "", ErrNoJSON
}

// fencedBlocks returns the bodies of ``` fenced blocks. The info string after
// an opening fence (e.g. "json") is dropped. An unterminated fence yields the
// rest of the text.
func fencedBlocks(raw string) []string {
	var blocks []string
	rest := raw
	for {
		open := strings.Index(rest, fence)
		if open < 0 {
			return blocks
		}
		rest = rest[open+len(fence):]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[") {
			rest = rest[nl+1:]
		}
		end := strings.Index(rest, fence)
		if end < 0 {
			return append(blocks, rest)
		}
		blocks = append(blocks, rest[:end])
		rest = rest[end+len(fence):]
	}
}

// boundObject returns the first brace-balanced span of s that is valid
// JSON. Braces inside JSON string literals are ignored.
func boundObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end, ok := matchBrace(s, start); ok && json.Valid([]byte(s[start:end+1])) {
			return s[start : end+1], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(s string, start int) (int, bool) {
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
				return i, true
			}
		}
	}
	return 0, false
}
