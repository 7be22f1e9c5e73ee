package storage

import (
	"context"
	"sync"
)

// Object is one stored blob
type Object struct {
	Body        []byte
	ContentType string
}

// Memory is an in-process object store used by tests and local runs
type Memory struct {
	mu      sync.Mutex
	objects map[string]Object
	puts    []string

	// FailOn makes PutObject return the error for matching keys
	FailOn func(key string) error
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

// PutObject stores a copy of body under key
func (m *Memory) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailOn != nil {
		if err := m.FailOn(key); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = Object{Body: append([]byte(nil), body...), ContentType: contentType}
	m.puts = append(m.puts, key)
	return nil
}

// Get returns the object stored under key
func (m *Memory) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	return obj, ok
}

// Len returns the number of distinct keys
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Puts returns every key written, in write order, including overwrites
func (m *Memory) Puts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.puts...)
}
