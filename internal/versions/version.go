// Package versions reports how the running thv-docsync binary was built.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

const (
	unknownStr = "unknown"

	devVersion      = "dev"
	shortCommitLen  = 8
	buildDateLayout = "2006-01-02 15:04:05 MST"
)

// Set with -ldflags "-X github.com/stacklok/toolhive-docsync/internal/versions.Version=..."
var (
	Version   = devVersion
	Commit    = unknownStr
	BuildDate = unknownStr
)

// VersionInfo represents the version information
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	// Release is true only for a semantic version without a prerelease suffix.
	// Dev builds and unparseable tags are never releases.
	Release bool `json:"release"`
}

// buildInfoReader matches debug.ReadBuildInfo
type buildInfoReader func() (*debug.BuildInfo, bool)

// GetVersionInfo returns the build information of the running binary
func GetVersionInfo() VersionInfo {
	return newVersionInfo(Version, Commit, BuildDate, debug.ReadBuildInfo)
}

func newVersionInfo(version, commit, buildDate string, readBuildInfo buildInfoReader) VersionInfo {
	// Binaries built without ldflags still carry VCS stamps from the go toolchain
	if strings.HasPrefix(version, devVersion) {
		commit, buildDate = vcsStamps(commit, buildDate, readBuildInfo)
	}

	ver, release := normalizeVersion(version, commit)
	return VersionInfo{
		Version:   ver,
		Commit:    commit,
		BuildDate: formatBuildDate(buildDate),
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Release:   release,
	}
}

// normalizeVersion renders version in canonical semver form and reports
// whether it is a release. Tags that are not semver are returned unchanged.
func normalizeVersion(version, commit string) (string, bool) {
	if version == devVersion {
		return "build-" + shortCommit(commit), false
	}
	sv, err := semver.NewVersion(version)
	if err != nil {
		return version, false
	}
	return sv.String(), sv.Prerelease() == ""
}

func shortCommit(commit string) string {
	if len(commit) > shortCommitLen {
		return commit[:shortCommitLen]
	}
	return commit
}

// vcsStamps fills unknown commit and build date from the embedded build info.
func vcsStamps(commit, buildDate string, readBuildInfo buildInfoReader) (string, string) {
	info, ok := readBuildInfo()
	if !ok || info == nil {
		return commit, buildDate
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if commit == unknownStr {
				commit = setting.Value
			}
		case "vcs.time":
			if buildDate == unknownStr {
				buildDate = setting.Value
			}
		}
	}
	return commit, buildDate
}

func formatBuildDate(buildDate string) string {
	t, err := time.Parse(time.RFC3339, buildDate)
	if err != nil {
		return buildDate
	}
	return t.Format(buildDateLayout)
}
