package storage

import (
	"context"
	"errors"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("storage")

// AsyncStorage is a string key value store. GetItem reports whether the key
// exists through its second result.
type AsyncStorage interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

var errMockFailure = errors.New("mock error")

var _ AsyncStorage = (*MemStorage)(nil)

type MemStorage struct {
	lk    sync.Mutex
	items map[string]string
	fail  bool
}

func NewMemStorage() *MemStorage {
	return &MemStorage{items: make(map[string]string)}
}

// SetFail makes every following call return an error.
func (m *MemStorage) SetFail(fail bool) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.fail = fail
}

func (m *MemStorage) GetItem(_ context.Context, key string) (string, bool, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.fail {
		return "", false, errMockFailure
	}
	value, ok := m.items[key]
	return value, ok, nil
}

func (m *MemStorage) SetItem(_ context.Context, key, value string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.fail {
		return errMockFailure
	}
	m.items[key] = value
	return nil
}

func (m *MemStorage) RemoveItem(_ context.Context, key string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.fail {
		return errMockFailure
	}
	delete(m.items, key)
	return nil
}

// Items returns a copy of the stored items, for inspection in tests.
func (m *MemStorage) Items() map[string]string {
	m.lk.Lock()
	defer m.lk.Unlock()
	items := make(map[string]string, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	return items
}
