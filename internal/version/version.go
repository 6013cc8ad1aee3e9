// Package version carries build metadata stamped in with -ldflags, e.g.
//
//	-X github.com/elitemodel/backoffice/internal/version.Version=v1.2.0
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is reported by the health endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Go        string `json:"go"`
}

func GetInfo() Info {
	return Info{Version: Version, Commit: GitCommit, BuildDate: BuildDate, Go: runtime.Version()}
}

// String is the short form used by cobra's --version flag.
func String() string {
	return Version + " (" + GitCommit + ")"
}

func Full() string {
	return fmt.Sprintf("%s, built %s with %s", String(), BuildDate, runtime.Version())
}
