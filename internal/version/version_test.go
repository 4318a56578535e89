package version

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func restore(t *testing.T) {
	v, c, d := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })
}

func TestInfo(t *testing.T) {
	restore(t)
	Version, Commit, Date = "0.3.0", "f00dfacecafe", "2026-10-01"

	info := Info()
	assert.Contains(t, info, "koko 0.3.0")
	assert.Contains(t, info, "commit: f00dfac,")
	assert.Contains(t, info, "built: 2026-10-01")
	assert.Contains(t, info, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestFillFromBuildInfo(t *testing.T) {
	restore(t)
	Version, Commit, Date = "dev", "unknown", "unknown"

	fillFromBuildInfo(&debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123def456"},
			{Key: "vcs.time", Value: "2026-10-17T09:00:00Z"},
		},
	})
	assert.Equal(t, "v0.4.1", Version)
	assert.Equal(t, "abc123def456", Commit)
	assert.Equal(t, "2026-10-17T09:00:00Z", Date)
}

func TestFillFromBuildInfoKeepsLdflags(t *testing.T) {
	restore(t)
	Version, Commit, Date = "0.3.0", "cafe", "unknown"

	fillFromBuildInfo(&debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "other"}},
	})
	assert.Equal(t, "0.3.0", Version)
	assert.Equal(t, "cafe", Commit)
}

func TestShort(t *testing.T) {
	assert.Equal(t, "", short(""))
	assert.Equal(t, "abc", short("abc"))
	assert.Equal(t, "1234567", short("12345678"))
}
