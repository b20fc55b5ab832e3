package storage

import (
	"errors"
	"sync"
)

// ErrSlotNotFound is returned when a slot has never been written.
var ErrSlotNotFound = errors.New("slot not found")

// Store reads and writes whole blobs by slot path.
// All implementations must be thread-safe for concurrent access.
type Store interface {
	// Read returns the full content of the slot.
	// Returns ErrSlotNotFound if the slot doesn't exist.
	Read(path string) ([]byte, error)

	// Write replaces the content of the slot.
	Write(path string, data []byte) error

	// Delete removes the slot. No error if it doesn't exist.
	Delete(path string) error
}

// MemoryStore implements Store with an in-memory map
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots: make(map[string][]byte),
	}
}

// Read returns a copy of the slot content
func (m *MemoryStore) Read(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.slots[path]
	if !exists {
		return nil, ErrSlotNotFound
	}

	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

// Write stores a copy of data
func (m *MemoryStore) Write(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.slots[path] = stored

	return nil
}

// Delete removes a slot (idempotent)
func (m *MemoryStore) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.slots, path)
	return nil
}
