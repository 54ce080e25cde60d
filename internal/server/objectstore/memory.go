package objectstore

import (
	"context"
	"sync"
)

// Memory is a threadsafe in-process Store.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

func (m *Memory) Put(ctx context.Context, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{
		Body:        append([]byte(nil), body...),
		ContentType: contentType,
		Bytes:       int64(len(body)),
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, nil
	}
	out := Object{
		Body:        append([]byte(nil), obj.Body...),
		ContentType: obj.ContentType,
		Bytes:       obj.Bytes,
	}
	return &out, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len reports the number of stored objects; test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
