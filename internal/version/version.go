// Package version carries the build identity stamped in at link time.
package version

// Set with -ldflags "-X github.com/thedongcc/Tcom-sub002/internal/version.Version=..."
// and friends; a from-source build reports "dev".
var (
	Version   = "dev"
	Built     = ""
	GitCommit = ""
)

type Info struct {
	Version   string `json:"version"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Built:     Built,
		GitCommit: GitCommit,
	}
}
