package qrscan

import (
	"os"
)

// TempDir returns a new temporary directory for captured frames, in /dev/shm
// if possible so frames never touch disk, otherwise in the OS default
// temporary directory.
func TempDir() (string, error) {
	// Only use /dev/shm if it already exists, we must not create directories
	// in /dev when running as root.
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		dir, err := os.MkdirTemp("/dev/shm", "qrscan")
		if err == nil {
			return dir, nil
		}
	}
	return os.MkdirTemp("", "qrscan")
}
