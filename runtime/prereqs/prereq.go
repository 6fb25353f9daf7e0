// Package prereqs checks the host platform against the set the monitor is
// routinely run and tested on, and warns early instead of failing in odd
// ways later.
package prereqs

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type platform struct {
	os   string
	arch string
	// Minimum Darwin kernel version for macOS hosts; zero skips the check.
	minimumMajor int
	minimumMinor int
}

var supported = []platform{
	{os: "linux", arch: "amd64"},
	{os: "linux", arch: "arm64"},
	{os: "darwin", arch: "amd64", minimumMajor: 18}, // Darwin 18 is macOS 10.14.
	{os: "darwin", arch: "arm64"},
	{os: "windows", arch: "amd64"},
}

// Swappable for tests.
var (
	kernelVersion = kernelVersionFunc
	hostOS        = runtime.GOOS
	hostArch      = runtime.GOARCH
)

func kernelVersionFunc(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "uname", "-r").Output() // #nosec G204
	if err != nil {
		return "", errors.Wrap(err, "could not run uname")
	}
	return string(out), nil
}

func parseVersion(raw string, parts int) ([]int, error) {
	fields := strings.Split(strings.TrimSpace(raw), ".")
	if len(fields) < parts {
		return nil, errors.Errorf("version string %q too short", strings.TrimSpace(raw))
	}
	out := make([]int, parts)
	for i := range out {
		n, err := strconv.Atoi(strings.TrimSpace(fields[i]))
		if err != nil {
			return nil, errors.Wrapf(err, "could not parse version component %q", fields[i])
		}
		out[i] = n
	}
	return out, nil
}

func meetsMinimumRequirements(ctx context.Context) (bool, error) {
	for _, p := range supported {
		if hostOS != p.os || hostArch != p.arch {
			continue
		}
		if p.minimumMajor == 0 {
			return true, nil
		}
		raw, err := kernelVersion(ctx)
		if err != nil {
			return false, errors.Wrap(err, "could not read kernel version")
		}
		version, err := parseVersion(raw, 2)
		if err != nil {
			return false, err
		}
		if version[0] != p.minimumMajor {
			return version[0] > p.minimumMajor, nil
		}
		return version[1] >= p.minimumMinor, nil
	}
	return false, nil
}

// WarnIfPlatformNotSupported logs a warning when the host is outside the
// routinely tested platform set. The monitor still runs; timer resolution
// and resource behavior are simply unverified there.
func WarnIfPlatformNotSupported(ctx context.Context) {
	ok, err := meetsMinimumRequirements(ctx)
	if err != nil {
		log.WithError(err).Warn("Could not detect host platform")
		return
	}
	if !ok {
		log.Warn("This platform is not routinely tested: supported platforms are " +
			"linux/amd64, linux/arm64, darwin/amd64 (macOS 10.14+), darwin/arm64, and windows/amd64")
	}
}
