package bridgedata

import (
	"fmt"
	"io"
	"runtime"
)

// Populated during build through -ldflags -X
var (
	Version   = "v0.1.0"
	GitRev    = "undefined"
	GitBranch = "undefined"
	BuildDate = "undefined"
)

// BuildInfo describes the running binary
type BuildInfo struct {
	Version   string
	GitRev    string
	GitBranch string
	BuildDate string
	GoVersion string
	OS        string
	Arch      string
}

// GetVersion returns the build info of the running binary
func GetVersion() BuildInfo {
	return BuildInfo{
		Version:   Version,
		GitRev:    GitRev,
		GitBranch: GitBranch,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// PrintVersion writes the build info to w
func PrintVersion(w io.Writer) {
	fmt.Fprint(w, GetVersion().String())
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("bridgedata %s\n"+
		"  git:      %s (%s)\n"+
		"  go:       %s\n"+
		"  built:    %s\n"+
		"  platform: %s/%s\n",
		b.Version, b.GitRev, b.GitBranch, b.GoVersion, b.BuildDate, b.OS, b.Arch)
}
