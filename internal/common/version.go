package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ServiceName identifies the engine in API payloads and the banner.
const ServiceName = "vigil"

// Build identity, overridden via -ldflags at release time.
// LoadVersionFromFile offers a file fallback for packaged installs.
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

func GetVersion() string   { return Version }
func GetBuild() string     { return Build }
func GetGitCommit() string { return GitCommit }

// GetFullVersion renders the complete build identity on one line.
func GetFullVersion() string {
	return fmt.Sprintf("%s (build %s, commit %s)", Version, Build, GitCommit)
}

// LoadVersionFromFile overrides Version from a .version file beside the
// executable when one exists. Returns the effective version.
func LoadVersionFromFile() string {
	exePath, err := os.Executable()
	if err != nil {
		return Version
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(exePath), ".version"))
	if err != nil {
		return Version
	}

	if v := strings.TrimSpace(string(data)); v != "" {
		Version = v
	}
	return Version
}
