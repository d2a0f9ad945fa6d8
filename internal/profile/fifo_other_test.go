//go:build !unix

package profile

import "errors"

func mkfifo(string) error { return errors.New("fifo not supported") }

func unblockFIFO(string) {}
