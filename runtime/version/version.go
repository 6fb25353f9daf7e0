// Package version reports the build identity of the running process.
package version

import (
	"fmt"
	"runtime"
	"time"
)

// The value of these vars are set through linker options.
var (
	gitCommit = "local"
	buildDate = "{DATE}"
	gitTag    = "v0.4.0"
)

// GetVersion returns the version string of this build.
func GetVersion() string {
	if buildDate == "{DATE}" {
		buildDate = time.Now().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s. Built at: %s with %s", GetBuildData(), buildDate, runtime.Version())
}

// GetBuildData returns the git tag and commit of the current build.
func GetBuildData() string {
	return fmt.Sprintf("TransferMonitor/%s/%s", gitTag, gitCommit)
}

// UserAgent identifies this binary on outbound HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("evm-transfer-monitor/%s", gitTag)
}
