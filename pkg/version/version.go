package version

import (
	"fmt"
	"runtime"
)

// These variables are populated by the build process
var (
	// Version is the version of the build
	Version = "dev"
	// Commit is the source revision the build was made from
	Commit = "unknown"
	// BuildTime is the time when the build was created
	BuildTime = "unknown"
)

// Info describes the running binary
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the build information of this binary
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("rbscope %s (commit: %s, built: %s, %s)", i.Version, i.Commit, i.BuildTime, i.Platform)
}

// GetVersionInfo returns a formatted string with version information
func GetVersionInfo() string {
	return Get().String()
}
