//go:build !linux && !darwin

package cache

import "errors"

func totalSystemMemory() (uint64, error) {
	return 0, errors.New("system memory size not available on this platform")
}
