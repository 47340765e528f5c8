// Package environment loads RunnerPilot settings from the process
// environment and optional dotenv files.
//
// Every helper returns a default rather than failing, so callers decide which
// settings are mandatory.
package environment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads KEY=VALUE pairs from the given dotenv files into the process
// environment. Variables that are already set win over file values. Missing
// files are skipped; with no arguments ".env" in the working directory is
// tried.
func Load(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %q: %w", f, err)
		}
	}
	return nil
}

// StringOr returns the value of the named variable, or defaultValue when it
// is unset or empty.
func StringOr(name, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultValue
}

// BoolOr parses the named variable with strconv.ParseBool. Unset or
// unparsable values yield defaultValue.
func BoolOr(name string, defaultValue bool) bool {
	b, err := strconv.ParseBool(os.Getenv(name))
	if err != nil {
		return defaultValue
	}
	return b
}

// IntOr parses the named variable as a decimal integer.
func IntOr(name string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return defaultValue
	}
	return n
}

// DurationOr parses the named variable as a time.Duration ("3s", "1h").
func DurationOr(name string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(name))
	if err != nil {
		return defaultValue
	}
	return d
}
