package tools

import "strings"

// errorPrefixes are the string prefixes that mark a string tool result as
// an error, per the turn engine's success-detection rule.
var errorPrefixes = []string{"Error:", "Failed", "错误:", "失败:"}

// IsErrorResult reports whether a handler's string result should be treated
// as a tool-execution error based on its leading text.
func IsErrorResult(s string) bool {
	for _, p := range errorPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// StructuredResult is the shape a handler may return instead of a bare
// string when it wants to report success explicitly.
type StructuredResult struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
}
