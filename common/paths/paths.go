// Package paths resolves the on-disk layout RunnerPilot uses under its data
// directory (VOLUME_PATH).
package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (
	appName = "runnerpilot"

	// DefaultDirMode is used for every directory RunnerPilot creates.
	DefaultDirMode os.FileMode = 0o755

	// DefaultFileMode is used for cache and artifact files.
	DefaultFileMode os.FileMode = 0o644
)

// DataDir is the default data directory.
//
//	Linux:   $XDG_DATA_HOME/runnerpilot (~/.local/share/runnerpilot)
//	macOS:   ~/Library/Application Support/runnerpilot
func DataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// ReleaseCache is the cached upstream release feed.
func ReleaseCache(volume string) string {
	return filepath.Join(volume, "runner-release.json")
}

// ReleasesDir is the canonical directory for downloaded runner archives.
func ReleasesDir(volume string) string {
	return filepath.Join(volume, "runners", "releases")
}

// Database is the default SQLite database location.
func Database(volume string) string {
	return filepath.Join(volume, "runnerpilot.db")
}
