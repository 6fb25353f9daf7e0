package prereqs

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeetsMinimumRequirements(t *testing.T) {
	restoreOS, restoreArch, restoreKernel := hostOS, hostArch, kernelVersion
	defer func() {
		hostOS, hostArch, kernelVersion = restoreOS, restoreArch, restoreKernel
	}()
	ctx := context.Background()

	hostOS, hostArch = "linux", "amd64"
	ok, err := meetsMinimumRequirements(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	hostArch = "arm64"
	ok, err = meetsMinimumRequirements(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	hostArch = "mips64"
	ok, err = meetsMinimumRequirements(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	hostOS, hostArch = "darwin", "amd64"
	kernelVersion = func(context.Context) (string, error) {
		return "", errors.New("uname unavailable")
	}
	_, err = meetsMinimumRequirements(ctx)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "could not read kernel version")

	// Darwin 17 is macOS 10.13, below the cutoff.
	kernelVersion = func(context.Context) (string, error) { return "17.7.0\n", nil }
	ok, err = meetsMinimumRequirements(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	kernelVersion = func(context.Context) (string, error) { return "18.2.0\n", nil }
	ok, err = meetsMinimumRequirements(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	kernelVersion = func(context.Context) (string, error) { return "21.1.0\n", nil }
	ok, err = meetsMinimumRequirements(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// Apple silicon does not need the kernel probe.
	hostArch = "arm64"
	kernelVersion = func(context.Context) (string, error) {
		return "", errors.New("should not be called")
	}
	ok, err = meetsMinimumRequirements(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseVersion(t *testing.T) {
	version, err := parseVersion("18.7.0\n", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{18, 7}, version)

	_, err = parseVersion("18", 2)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "too short")

	_, err = parseVersion("a.b.c", 2)
	require.NotNil(t, err)
}
