// Package util holds small helpers shared by the HTTP-facing packages.
package util

import (
	"fmt"
	"unicode/utf8"
)

// SnippetLen bounds upstream bodies quoted in errors and log lines.
const SnippetLen = 512

// Truncate shortens s to at most maxLen bytes without splitting a UTF-8
// sequence, noting the original size.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// BodySnippet renders a response body for an error message.
func BodySnippet(b []byte) string {
	return Truncate(string(b), SnippetLen)
}
