// Package config exposes build information for BlazeAlarm binaries.
package config

import (
	"fmt"
	"runtime"
)

// Build information. Populated at build time via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuildInfo contains all build information.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information.
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Platform returns os/arch.
func (b BuildInfo) Platform() string {
	return b.OS + "/" + b.Arch
}

// VersionString returns a one-line description of the binary.
func VersionString() string {
	b := GetBuildInfo()
	return fmt.Sprintf("blazealarm %s (%s, %s) built at %s with %s",
		b.Version, b.Commit, b.Platform(), b.BuildTime, b.GoVersion)
}

// ShortVersionString returns the bare version.
func ShortVersionString() string {
	return Version
}
