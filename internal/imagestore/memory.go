package imagestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory keeps images in a map. Test use only.
type Memory struct {
	mu    sync.Mutex
	items map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

func (m *Memory) Save(ctx context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := "mem://" + uuid.NewString() + "/" + name
	m.items[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (m *Memory) Load(ctx context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.items[ref]
	if !ok {
		return nil, fmt.Errorf("imagestore: %q not found", ref)
	}
	return append([]byte(nil), data...), nil
}
