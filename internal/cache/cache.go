// Package cache holds prepared datasets keyed by the content hash of the
// uploaded file, so re-uploading identical bytes skips parsing. A new upload
// with different bytes always produces a new key; entries are never updated
// in place.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"stockchart/internal/logger"
	"stockchart/internal/model"
)

// ContentKey returns the cache key for an uploaded file's bytes.
func ContentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Memory is an in-process LRU DatasetCache.
type Memory struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List
	items map[string]*list.Element
}

// NewMemory returns an LRU holding at most capacity datasets (minimum 1).
func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{
		cap:   capacity,
		ll:    list.New(),
		items: make(map[string]*list.Element, capacity),
	}
}

// Get implements model.DatasetCache.
func (m *Memory) Get(_ context.Context, key string) (*model.Dataset, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	m.ll.MoveToFront(el)
	return el.Value.(*model.Dataset), true, nil
}

// Put implements model.DatasetCache.
func (m *Memory) Put(_ context.Context, ds *model.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[ds.Key]; ok {
		el.Value = ds
		m.ll.MoveToFront(el)
		return nil
	}
	m.items[ds.Key] = m.ll.PushFront(ds)
	for m.ll.Len() > m.cap {
		oldest := m.ll.Back()
		m.ll.Remove(oldest)
		delete(m.items, oldest.Value.(*model.Dataset).Key)
	}
	return nil
}

// Len returns the number of cached datasets.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

// Tiered checks a fast local cache before a shared one and back-fills the
// local cache on shared hits. Errors from the shared tier are returned after
// the local write succeeds.
type Tiered struct {
	Local  model.DatasetCache
	Shared model.DatasetCache
}

// Get implements model.DatasetCache.
func (t Tiered) Get(ctx context.Context, key string) (*model.Dataset, bool, error) {
	if ds, ok, err := t.Local.Get(ctx, key); err == nil && ok {
		return ds, true, nil
	}
	ds, ok, err := t.Shared.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := t.Local.Put(ctx, ds); err != nil {
		logger.FromContext(ctx).Warn("local cache back-fill failed", "dataset", key, "error", err)
	}
	return ds, true, nil
}

// Put implements model.DatasetCache.
func (t Tiered) Put(ctx context.Context, ds *model.Dataset) error {
	if err := t.Local.Put(ctx, ds); err != nil {
		return err
	}
	return t.Shared.Put(ctx, ds)
}

// Len reports the size of the local tier when it exposes one.
func (t Tiered) Len() int {
	if l, ok := t.Local.(interface{ Len() int }); ok {
		return l.Len()
	}
	return 0
}
