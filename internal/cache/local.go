package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// JSONStore is implemented by RedisCache and LocalStore.
type JSONStore interface {
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
}

// LocalStore keeps JSON documents in process memory. It stands in for Redis
// on single-node installs so the status document still has a home.
type LocalStore struct {
	mu    sync.RWMutex
	items map[string]localItem
	now   func() time.Time
}

type localItem struct {
	data      []byte
	expiresAt time.Time
}

func NewLocalStore() *LocalStore {
	return &LocalStore{items: make(map[string]localItem), now: time.Now}
}

// SetJSON stores value as JSON. A zero ttl keeps the item until overwritten.
func (ls *LocalStore) SetJSON(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	item := localItem{data: data}
	if ttl > 0 {
		item.expiresAt = ls.now().Add(ttl)
	}

	ls.mu.Lock()
	ls.items[key] = item
	ls.mu.Unlock()
	return nil
}

// GetJSON decodes the stored value into dest; expired items read as absent.
func (ls *LocalStore) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	ls.mu.RLock()
	item, ok := ls.items[key]
	ls.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !item.expiresAt.IsZero() && ls.now().After(item.expiresAt) {
		ls.mu.Lock()
		delete(ls.items, key)
		ls.mu.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(item.data, dest); err != nil {
		return false, err
	}
	return true, nil
}
