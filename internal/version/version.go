// Package version exposes the build version of the module, set at
// link time via -ldflags.
package version

import "fmt"

// Populated by the linker.
var (
	version = "0.1.0"
	commit  = ""
)

// Info describes the build.
type Info struct {
	Version string
	Commit  string
}

// Current returns the build info.
func Current() Info {
	return Info{Version: version, Commit: commit}
}

func (i Info) String() string {
	if i.Commit == "" {
		return i.Version
	}
	return fmt.Sprintf("%s (%s)", i.Version, i.Commit)
}
