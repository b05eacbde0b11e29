//go:build linux

package rtvideo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUCoreMask(t *testing.T) {
	assert.Equal(t, uintptr(0xF0), CPUCoreMask([]int{4, 5, 6, 7}))
	assert.Equal(t, uintptr(1), CPUCoreMask([]int{0, -1, 64}))
	assert.Equal(t, uintptr(0), CPUCoreMask(nil))
}

func TestCPUAffinity(t *testing.T) {

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	mask, err := GetCPUAffinity()
	require.NoError(t, err)
	require.NotZero(t, mask)

	// restore the mask so the thread is returned to the pool unchanged
	defer SetCPUAffinity(mask)

	// pin to the lowest allowed core
	lowest := mask & -mask

	require.NoError(t, SetCPUAffinity(lowest))

	got, err := GetCPUAffinity()
	require.NoError(t, err)
	assert.Equal(t, lowest, got)

	assert.Error(t, SetCPUAffinity(0))
}
