//go:build unix

package profile

import (
	"os"
	"syscall"
)

func mkfifo(path string) error {
	return syscall.Mkfifo(path, 0o644)
}

// unblockFIFO opens the write end so a reader stuck in open returns.
func unblockFIFO(path string) {
	if f, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, 0); err == nil {
		f.Close()
	}
}
