// Package version reports the build version stamped in at link time.
package version

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/mod/semver"
)

// Set with -ldflags "-X github.com/bowatch/bowatch/internal/shared/version.Version=v1.2.3".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Normalize ensures the "v" prefix semver expects: "1.2.3" -> "v1.2.3".
func Normalize(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}

// String is the one-line version banner printed by the CLI and logged at
// startup.
func String() string {
	v := Version
	if n := Normalize(v); semver.IsValid(n) {
		v = semver.Canonical(n)
	}
	return fmt.Sprintf("bowatch %s (commit %s, built %s, %s)", v, Commit, BuildDate, runtime.Version())
}
