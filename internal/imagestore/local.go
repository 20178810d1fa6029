package imagestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Local stores images on the local filesystem under a base directory.
// Used in dev and as the fallback when Cloudinary is not configured.
type Local struct {
	dir string
}

// NewLocal creates the base directory if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("imagestore: create dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Save writes the bytes under a unique filename and returns the path.
func (l *Local) Save(ctx context.Context, name string, data []byte) (string, error) {
	ext := filepath.Ext(name)
	if ext == "" {
		ext = ".jpg"
	}
	path := filepath.Join(l.dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("imagestore: write: %w", err)
	}
	return path, nil
}

// Load reads back a previously saved file. Refs outside the base directory
// are rejected.
func (l *Local) Load(ctx context.Context, ref string) ([]byte, error) {
	clean := filepath.Clean(ref)
	base, err := filepath.Abs(l.dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return nil, fmt.Errorf("imagestore: ref %q outside store", ref)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("imagestore: read: %w", err)
	}
	return data, nil
}
