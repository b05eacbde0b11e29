//go:build !linux

package rtvideo

import "errors"

// ErrAffinityUnsupported is returned on platforms without thread affinity
var ErrAffinityUnsupported = errors.New("cpu affinity not supported on this platform")

// SetCPUAffinity is not supported on this platform
func SetCPUAffinity(mask uintptr) error {
	return ErrAffinityUnsupported
}

// GetCPUAffinity is not supported on this platform
func GetCPUAffinity() (uintptr, error) {
	return 0, ErrAffinityUnsupported
}
