package common

import (
	"fmt"
	"io"
	"runtime"
)

const (
	ProjectName    = "Risk Gate"
	ProjectVersion = "1.0.0"
)

// Build information, set with -ldflags "-X ...".
var (
	BuildDate   = "unknown"
	BuildCommit = "dev"
)

// PrintVersion prints version information in a formatted way
func PrintVersion(w io.Writer, appName string) {
	fmt.Fprintf(w, "%s v%s\n", appName, ProjectVersion)
	fmt.Fprintf(w, "Build: %s (%s)\n", BuildCommit, BuildDate)
	fmt.Fprintf(w, "Go: %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
