package instance

import (
	"crypto/rand"
	"io"
	"net/url"
	"path"
	"strings"
)

const (
	suffixLen      = 6
	suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	maxBaseLen     = 40
)

// suffixLimit is the largest multiple of len(suffixAlphabet) that fits in
// a byte; bytes at or above it are rejected so every character is equally
// likely.
const suffixLimit = 256 - 256%len(suffixAlphabet)

// randomSuffix draws n characters from suffixAlphabet. Uniqueness is not
// checked here; the store's UNIQUE constraint catches the rare collision.
func randomSuffix(r io.Reader, n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		chunk := buf[:n-len(out)]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return "", err
		}
		for _, b := range chunk {
			if int(b) < suffixLimit {
				out = append(out, suffixAlphabet[int(b)%len(suffixAlphabet)])
			}
		}
	}
	return string(out), nil
}

// sanitizeName lowercases s and keeps only characters valid in a container
// name, collapsing everything else to "-".
func sanitizeName(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-_.")
	if len(out) > maxBaseLen {
		out = strings.Trim(out[:maxBaseLen], "-_.")
	}
	return out
}

// baseName picks the human-readable part of a runner name: the requested
// name, else the last path element of the source URL, else "runner".
func baseName(requested, sourceURL string) string {
	if n := sanitizeName(requested); n != "" {
		return n
	}
	if u, err := url.Parse(sourceURL); err == nil {
		if n := sanitizeName(path.Base(strings.TrimSuffix(u.Path, "/"))); n != "" {
			return n
		}
	}
	return "runner"
}

// newName returns "<base>-<suffix>".
func newName(base string) (string, error) {
	suffix, err := randomSuffix(rand.Reader, suffixLen)
	if err != nil {
		return "", err
	}
	return base + "-" + suffix, nil
}

// cloneBase is the prefix for clones of source: "<source>-clone".
func cloneBase(source string) string {
	return source + "-clone"
}
