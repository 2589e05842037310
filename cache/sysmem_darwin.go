//go:build darwin

package cache

import "golang.org/x/sys/unix"

func totalSystemMemory() (uint64, error) {
	return unix.SysctlUint64("hw.memsize")
}
