package kv

import (
	"bytes"
	"context"
	"iter"
	"slices"
	"strings"
	"sync"
)

// Memory is a Store held in a map. It is safe for concurrent use; values are
// copied in and out.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	k, err := key.encode()
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(k)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *Memory) Set(_ context.Context, key Key, value []byte) error {
	k, err := key.encode()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[string(k)] = bytes.Clone(value)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	k, err := key.encode()
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.data, string(k))
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context, prefix Key) iter.Seq2[Entry, error] {
	p, err := prefix.prefix()
	if err != nil {
		return func(yield func(Entry, error) bool) { yield(Entry{}, err) }
	}

	m.mu.RLock()
	var entries []Entry
	for k, v := range m.data {
		if strings.HasPrefix(k, string(p)) {
			entries = append(entries, Entry{Key: decodeKey([]byte(k)), Value: bytes.Clone(v)})
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Key.String(), b.Key.String())
	})

	return func(yield func(Entry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (m *Memory) BatchSet(_ context.Context, entries []Entry) error {
	keys := make([]string, len(entries))
	for i, e := range entries {
		k, err := e.Key.encode()
		if err != nil {
			return err
		}
		keys[i] = string(k)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range entries {
		m.data[keys[i]] = bytes.Clone(e.Value)
	}
	return nil
}

func (m *Memory) Close() error { return nil }
