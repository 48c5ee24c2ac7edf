package cache

import (
	"context"
	"strings"
	"time"
)

// Memory is a process-local tier bounded by an LRU.
type Memory struct {
	lru *LRU[string, Entry]
	now func() time.Time
}

// NewMemory returns a tier holding at most capacity entries.
func NewMemory(capacity int) *Memory {
	return &Memory{lru: NewLRU[string, Entry](capacity), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) (Entry, error) {
	entry, ok := m.lru.Get(key)
	if !ok {
		return Entry{}, ErrMiss
	}
	if entry.Expired(m.now()) {
		m.lru.Remove(key)
		return Entry{}, ErrMiss
	}
	return entry, nil
}

func (m *Memory) Set(_ context.Context, key string, entry Entry) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.lru.Put(key, entry)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	m.lru.RemoveFunc(func(key string) bool { return strings.HasPrefix(key, prefix) })
	return nil
}

func (m *Memory) Len() int { return m.lru.Len() }
