package storage

import (
	"os"
	"path/filepath"
)

// MemoryPath opens an in-memory database where a backend supports it.
const MemoryPath = ":memory:"

// EnsureParentDir creates the directory holding a database file. In-memory
// and working-directory paths need nothing.
func EnsureParentDir(path string) error {
	if path == "" || path == MemoryPath {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
