package engine

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// extractions owns the script files copied out of packaged archives. The
// files live until close is called.
type extractions struct {
	mu   sync.Mutex
	dirs []string
}

func (x *extractions) extract(fsys fs.FS, entry, function, root string) (string, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "enginelink-"+uuid.NewString())
	dest := filepath.Join(dir, function+scriptSuffix)
	if _, err := os.Lstat(dest); err == nil {
		return "", fmt.Errorf("generated path already exists: %s", dest)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	x.mu.Lock()
	x.dirs = append(x.dirs, dir)
	x.mu.Unlock()

	src, err := fsys.Open(entry)
	if err != nil {
		return "", err
	}
	defer src.Close()
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dest, nil
}

func (x *extractions) close() error {
	x.mu.Lock()
	dirs := x.dirs
	x.dirs = nil
	x.mu.Unlock()
	var err error
	for _, dir := range dirs {
		err = multierr.Append(err, os.RemoveAll(dir))
	}
	return err
}
