package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeAtomic writes data to path without ever exposing a partially-written
// file to a reader: it creates a uniquely-named temp file in path's parent
// directory, writes and fsyncs it, then renames it onto path. The temp file
// lives in the same directory as the final path so the rename is a same
// filesystem, atomic operation rather than a copy-then-unlink fallback.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".sync_state_*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("state: fsync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("state: close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("state: rename into place: %w", err)
	}
	return nil
}
