//go:build linux

package rtvideo

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SetCPUAffinity pins the calling OS thread to the cores set in mask.
// Callers pinning a goroutine must hold the thread with runtime.LockOSThread
// first.
func SetCPUAffinity(mask uintptr) error {

	if mask == 0 {
		return fmt.Errorf("failed to set CPU affinity: empty core mask")
	}

	var set unix.CPUSet

	for core := 0; core < 64; core++ {
		if mask&(1<<core) != 0 {
			set.Set(core)
		}
	}

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("failed to set CPU affinity: %w", err)
	}

	return nil
}

// GetCPUAffinity returns the core mask of the calling OS thread, cores above
// 63 are not represented
func GetCPUAffinity() (uintptr, error) {

	var set unix.CPUSet

	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, fmt.Errorf("failed to get CPU affinity: %w", err)
	}

	var mask uintptr

	for core := 0; core < 64; core++ {
		if set.IsSet(core) {
			mask |= 1 << core
		}
	}

	return mask, nil
}
