package backend

import (
	"context"
	"os"
	"path/filepath"
)

// Local writes master files to a directory on the local filesystem, the
// default provider when file_writer.base_path names no remote scheme.
type Local struct {
	BaseDir string
}

func (l *Local) Provider() string { return "local" }

func (l *Local) Write(_ context.Context, path string, data []byte) error {
	full := filepath.Join(l.BaseDir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}
