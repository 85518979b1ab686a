package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// bareScalarInObject matches a bare (unquoted) scalar value following a
// colon inside an object, e.g. `"path": today.txt` -> `"path": "today.txt"`.
var bareScalarInObject = regexp.MustCompile(`:(\s*)([A-Za-z_][A-Za-z0-9_./\- ]*?)(\s*)([,}])`)

// bareScalarInArray matches a single bare scalar as the sole element of an
// array, e.g. `[today.txt]` -> `["today.txt"]`.
var bareScalarInArray = regexp.MustCompile(`\[(\s*)([A-Za-z_][A-Za-z0-9_./\- ]*?)(\s*)\]`)

// repairArguments parses raw tool-call argument text as JSON, falling back
// to a small set of deterministic, documented substitutions when the model
// produced slightly malformed JSON. It never grows heuristics beyond those
// listed below:
//  1. close a trailing truncated object/array by appending missing braces;
//  2. quote a bare scalar value following ":" inside an object;
//  3. quote a bare scalar that is the sole element of an array;
//  4. replace single quotes with double quotes as a last resort.
//
// Returns the parsed value as raw JSON and true if repair succeeded (or was
// unnecessary); false if the text remains invalid after every attempt.
func repairArguments(raw string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = "{}"
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), true
	}

	candidates := []string{
		closeTrailingBraces(trimmed),
		bareScalarInObject.ReplaceAllString(trimmed, `:${1}"${2}"${3}${4}`),
		bareScalarInArray.ReplaceAllString(trimmed, `[${1}"${2}"${3}]`),
		strings.ReplaceAll(trimmed, "'", `"`),
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if json.Valid([]byte(c)) {
			return json.RawMessage(c), true
		}
	}
	return nil, false
}

// closeTrailingBraces appends whatever closing braces/brackets are missing
// to balance a truncated object or array. It does not attempt to repair
// anything else about the text.
func closeTrailingBraces(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// repairError formats a human-readable, visible message for an argument
// payload that could not be parsed even after repair.
func repairError(toolName, raw string) string {
	return fmt.Sprintf("Error: could not parse arguments for tool %q: %s", toolName, raw)
}
