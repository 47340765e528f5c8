// Package redact keeps runner registration tokens and other credentials out
// of log lines, notifications and API listings.
//
// Redaction is string based and best effort. Callers still must not log raw
// credentials on purpose.
package redact

import "strings"

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are ignored so that short
// common substrings are not mangled.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Mask hides all but the last four characters of a credential, e.g.
// "AABBCCDD1234" -> "********1234". Values of four characters or fewer are
// fully masked.
func Mask(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}
