// Package redact masks secret values before they reach logs or config dumps.
package redact

import "strings"

// String keeps the first and last quarter of s visible and masks the middle,
// so a leaked log line identifies which secret it carries without disclosing
// it. Output length always matches the input.
func String(s string) string {
	head := len(s) / 4
	tail := len(s) - len(s)/4

	return s[:head] + strings.Repeat("*", tail-head) + s[tail:]
}
