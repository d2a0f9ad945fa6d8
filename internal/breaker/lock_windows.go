//go:build windows

package breaker

import (
	"os"
	"path/filepath"
)

// lockFile only creates path on Windows. Concurrent hook processes can
// lose denial increments there; serve mode keeps an exact count.
func lockFile(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return func() { f.Close() }, nil
}
