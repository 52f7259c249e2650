//go:build linux

package source

import (
	"os"

	"golang.org/x/sys/unix"
)

// deviceSize asks the kernel for the size of a block device.
func deviceSize(f *os.File) (int64, bool) {
	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil || size <= 0 {
		return 0, false
	}
	return int64(size), true
}
