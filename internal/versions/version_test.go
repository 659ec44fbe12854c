package versions

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func noBuildInfo() (*debug.BuildInfo, bool) { return nil, false }

func vcsBuildInfo(revision, vcsTime string) buildInfoReader {
	return func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: revision},
			{Key: "vcs.time", Value: vcsTime},
		}}, true
	}
}

func TestNewVersionInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		version     string
		commit      string
		buildDate   string
		buildInfo   buildInfoReader
		wantVersion string
		wantCommit  string
		wantDate    string
		wantRelease bool
	}{
		{
			name:        "release with v prefix",
			version:     "v1.2.3",
			commit:      "abc",
			buildDate:   "2025-03-04T05:06:07Z",
			buildInfo:   noBuildInfo,
			wantVersion: "1.2.3",
			wantCommit:  "abc",
			wantDate:    "2025-03-04 05:06:07 UTC",
			wantRelease: true,
		},
		{
			name:        "prerelease is not a release",
			version:     "1.3.0-rc.1",
			commit:      "abc",
			buildDate:   unknownStr,
			buildInfo:   noBuildInfo,
			wantVersion: "1.3.0-rc.1",
			wantCommit:  "abc",
			wantDate:    unknownStr,
		},
		{
			name:        "non semver tag kept verbatim",
			version:     "nightly",
			commit:      "abc",
			buildDate:   "yesterday",
			buildInfo:   noBuildInfo,
			wantVersion: "nightly",
			wantCommit:  "abc",
			wantDate:    "yesterday",
		},
		{
			name:        "dev build uses truncated commit",
			version:     "dev",
			commit:      "0123456789abcdef",
			buildDate:   unknownStr,
			buildInfo:   noBuildInfo,
			wantVersion: "build-01234567",
			wantCommit:  "0123456789abcdef",
			wantDate:    unknownStr,
		},
		{
			name:        "dev build falls back to vcs stamps",
			version:     "dev",
			commit:      unknownStr,
			buildDate:   unknownStr,
			buildInfo:   vcsBuildInfo("fedcba9876543210", "2025-06-01T12:00:00Z"),
			wantVersion: "build-fedcba98",
			wantCommit:  "fedcba9876543210",
			wantDate:    "2025-06-01 12:00:00 UTC",
		},
		{
			name:        "ldflags win over vcs stamps",
			version:     "dev",
			commit:      "abc",
			buildDate:   unknownStr,
			buildInfo:   vcsBuildInfo("fedcba9876543210", "2025-06-01T12:00:00Z"),
			wantVersion: "build-abc",
			wantCommit:  "abc",
			wantDate:    "2025-06-01 12:00:00 UTC",
		},
		{
			name:        "tagged build ignores vcs stamps",
			version:     "2.0.0",
			commit:      unknownStr,
			buildDate:   unknownStr,
			buildInfo:   vcsBuildInfo("fedcba9876543210", "2025-06-01T12:00:00Z"),
			wantVersion: "2.0.0",
			wantCommit:  unknownStr,
			wantDate:    unknownStr,
			wantRelease: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			info := newVersionInfo(tt.version, tt.commit, tt.buildDate, tt.buildInfo)
			assert.Equal(t, tt.wantVersion, info.Version)
			assert.Equal(t, tt.wantRelease, info.Release)
			assert.Equal(t, tt.wantCommit, info.Commit)
			assert.Equal(t, tt.wantDate, info.BuildDate)
			assert.Equal(t, runtime.Version(), info.GoVersion)
			assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
		})
	}
}
