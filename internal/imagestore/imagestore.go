package imagestore

import "context"

// Store is durable storage for reference photos and check-in captures.
// Save returns an opaque ref (a URL or a path) that Load accepts back.
type Store interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
	Load(ctx context.Context, ref string) ([]byte, error)
}
