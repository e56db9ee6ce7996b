package store

import (
	"os"
	"path/filepath"

	"github.com/ditox-dev/ditox/ditoxerr"
)

// writePathModeFile writes encoded image bytes into dir, named after the
// blob's content hash, for callers using images.local_file_path_mode. It
// reuses the same temp-file-then-rename publication the blob store uses
// internally, so a reader never observes a partial file.
func writePathModeFile(dir, sha, encoding string, data []byte) (string, error) {
	if dir == "" {
		return "", ditoxerr.New(ditoxerr.InvalidInput, "path_mode requires a directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "create path-mode image dir", err)
	}
	dest := filepath.Join(dir, sha+"."+encoding)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "create temp path-mode file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "write temp path-mode file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "fsync temp path-mode file", err)
	}
	if err := tmp.Close(); err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "close temp path-mode file", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "publish path-mode file", err)
	}
	return dest, nil
}
