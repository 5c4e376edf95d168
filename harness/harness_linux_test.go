// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bradleyjkemp/gotraceafl/coverage"
	"github.com/bradleyjkemp/gotraceafl/forkserver"
)

const testShmEnv = "GOTRACEAFL_TEST_SHM_ID"

// fuzzerSegment creates the segment a fuzzer would hand to the target and
// returns the fuzzer's own view of it.
func fuzzerSegment(t *testing.T, size int) []byte {
	id, err := unix.SysvShmGet(unix.IPC_PRIVATE, size, unix.IPC_CREAT|0o600)
	if err != nil {
		t.Skipf("SysV shared memory unavailable: %v", err)
	}
	mem, err := unix.SysvShmAttach(id, 0, 0)
	require.NoError(t, err)
	_, err = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { unix.SysvShmDetach(mem) })
	t.Setenv(testShmEnv, strconv.Itoa(id))
	return mem
}

func standalone() *forkserver.Server {
	return &forkserver.Server{ReadFD: 1000, WriteFD: 1001}
}

func TestSetupStandalone(t *testing.T) {
	t.Setenv(forkserver.EnvChild, "")
	shared := fuzzerSegment(t, 1<<12)
	defer coverage.Install(coverage.Active())

	h, err := Setup(Options{
		ShmEnvVar:  testShmEnv,
		Config:     &coverage.Config{MapSizeBits: 12},
		Failure:    FailureCheap,
		ForkServer: standalone(),
	})
	require.NoError(t, err)
	defer h.Map.Close()
	assert.Equal(t, forkserver.Declined, h.State)
	assert.Equal(t, FailureCheap, h.Failure)
	assert.Equal(t, byte(1), shared[0], "sentinel")
	assert.Same(t, h.Tracer, coverage.Active())

	coverage.Hit(111, 222)
	coverage.Hit(333, 444)
	assert.Equal(t, byte(1), shared[0x998])
}

func TestSetupChildSkipsSentinel(t *testing.T) {
	t.Setenv(forkserver.EnvChild, "1")
	shared := fuzzerSegment(t, 1<<16)
	defer coverage.Install(coverage.Active())

	h, err := Setup(Options{ShmEnvVar: testShmEnv, Config: &coverage.Config{MapSizeBits: 16, NgramSize: 4}})
	require.NoError(t, err)
	defer h.Map.Close()
	assert.Equal(t, forkserver.ChildActive, h.State)
	assert.Zero(t, shared[0])
	assert.Equal(t, 4, h.Tracer.NgramSize())
}

func TestSetupFromEnvironment(t *testing.T) {
	t.Setenv(forkserver.EnvChild, "")
	fuzzerSegment(t, 1<<13)
	t.Setenv(coverage.EnvMapSize, "8192")
	t.Setenv(coverage.EnvNgramSize, "3")
	defer coverage.Install(coverage.Active())

	h, err := Setup(Options{ShmEnvVar: testShmEnv, ForkServer: standalone()})
	require.NoError(t, err)
	defer h.Map.Close()
	assert.Equal(t, uint8(13), h.Map.SizeBits())
	assert.Equal(t, 3, h.Tracer.NgramSize())
}

func TestSetupErrors(t *testing.T) {
	t.Setenv(forkserver.EnvChild, "")
	t.Setenv(testShmEnv, "")
	_, err := Setup(Options{ShmEnvVar: testShmEnv, ForkServer: standalone()})
	assert.ErrorIs(t, err, coverage.ErrResourceUnavailable)

	fuzzerSegment(t, 1<<12)
	_, err = Setup(Options{ShmEnvVar: testShmEnv, Config: &coverage.Config{MapSizeBits: 12, NgramSize: 99}, ForkServer: standalone()})
	assert.True(t, coverage.IsConfigError(err), "%v", err)

	t.Setenv(coverage.EnvMapSize, "3000")
	_, err = Setup(Options{ShmEnvVar: testShmEnv, ForkServer: standalone()})
	assert.True(t, coverage.IsConfigError(err), "%v", err)
}
