package launcher

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTHPMode(t *testing.T) {
	assert.Equal(t, "madvise", parseTHPMode("always [madvise] never\n"))
	assert.Equal(t, "always", parseTHPMode("[always] madvise never"))
	assert.Equal(t, "never", parseTHPMode("always madvise [never]"))
	assert.Equal(t, "", parseTHPMode("always madvise never"))
	assert.Equal(t, "", parseTHPMode(""))
}

func TestReadTHPMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enabled")
	require.NoError(t, os.WriteFile(path, []byte("always [madvise] never\n"), 0o644))
	assert.Equal(t, "madvise", readTHPMode(path))
	assert.Equal(t, "", readTHPMode(filepath.Join(t.TempDir(), "missing")))
}

func TestHostInfoCheck(t *testing.T) {
	const minMemory = 2 << 30
	cases := []struct {
		name        string
		host        HostInfo
		unsupported bool
		reason      string
	}{
		{"Madvise", HostInfo{TotalMemory: 8 << 30, THPMode: "madvise"}, false, ""},
		{"Always", HostInfo{TotalMemory: 8 << 30, THPMode: "always"}, false, ""},
		{"UnknownMode", HostInfo{TotalMemory: 8 << 30}, false, ""},
		{"Never", HostInfo{TotalMemory: 8 << 30, THPMode: "never"}, true, "[never]"},
		{"TooLittleMemory", HostInfo{TotalMemory: 1 << 30, THPMode: "always"}, true, "need more than"},
		{"ExactlyMinimum", HostInfo{TotalMemory: minMemory, THPMode: "always"}, true, "need more than"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.host.check(minMemory)
			if !tc.unsupported {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrHostUnsupported)
			assert.ErrorContains(t, err, tc.reason)
		})
	}
}

func TestPreflight(t *testing.T) {
	if runtime.GOOS != "linux" {
		_, err := Preflight(0)
		assert.ErrorIs(t, err, ErrHostUnsupported)
		return
	}

	info, err := Preflight(0)
	require.NotNil(t, info)
	if info.THPMode == "never" {
		assert.ErrorIs(t, err, ErrHostUnsupported)
	} else {
		require.NoError(t, err)
	}
	assert.Equal(t, "linux", info.OS)
	assert.NotEmpty(t, info.KernelRelease)
	assert.Greater(t, info.TotalMemory, uint64(0))

	info, err = Preflight(math.MaxUint64)
	assert.ErrorIs(t, err, ErrHostUnsupported)
	require.NotNil(t, info)
}
