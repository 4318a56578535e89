// Package version reports the build identity of the koko binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/soyeahso/koko/internal/version.Version=0.3.0
//	  -X github.com/soyeahso/koko/internal/version.Commit=$(git rev-parse HEAD)"
//
// Unset fields fall back to the VCS stamp the go tool embeds.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func init() {
	if bi, ok := debug.ReadBuildInfo(); ok {
		fillFromBuildInfo(bi)
	}
}

func fillFromBuildInfo(bi *debug.BuildInfo) {
	if Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" {
				Commit = s.Value
			}
		case "vcs.time":
			if Date == "unknown" {
				Date = s.Value
			}
		}
	}
}

// Info returns the one-line banner printed by `koko version`.
func Info() string {
	return fmt.Sprintf("koko %s (commit: %s, built: %s, %s/%s)",
		Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
