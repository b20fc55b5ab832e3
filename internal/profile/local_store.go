package profile

import (
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/dreamware/profilesync/internal/storage"
)

// DefaultSlotPath is where the local user's record lives.
const DefaultSlotPath = "players/user/profile_info"

// LocalStore loads and saves the local user's own record from a single slot.
// Nothing is cached: every Load re-reads the backing store.
type LocalStore struct {
	store storage.Store
	path  string
	log   *slog.Logger
}

func NewLocalStore(store storage.Store, path string, log *slog.Logger) *LocalStore {
	if path == "" {
		path = DefaultSlotPath
	}
	return &LocalStore{store: store, path: path, log: log}
}

// Load returns the stored record, or false if the slot is absent, unreadable
// or shorter than the version field.
func (s *LocalStore) Load() (Record, bool) {
	data, err := s.store.Read(s.path)
	if errors.Is(err, storage.ErrSlotNotFound) {
		return Record{}, false
	}
	if err != nil {
		s.log.Warn("Local profile unreadable", "path", s.path, "err", errors.Join(ErrLocalStoreUnavailable, err))
		return Record{}, false
	}
	if len(data) < versionSize {
		s.log.Warn("Local profile too short", "path", s.path, "size", len(data))
		return Record{}, false
	}

	version := int32(binary.LittleEndian.Uint32(data[:versionSize]))
	return NewRecord(version, data[versionSize:]), true
}

// Save overwrites the slot with version followed by the raw payload.
// Failures are logged and otherwise ignored.
func (s *LocalStore) Save(rec Record) {
	data := make([]byte, 0, versionSize+len(rec.Payload))
	data = binary.LittleEndian.AppendUint32(data, uint32(rec.Version))
	data = append(data, rec.Payload...)

	if err := s.store.Write(s.path, data); err != nil {
		s.log.Error("Local profile not saved", "path", s.path, "err", errors.Join(ErrWriteFailed, err))
	}
}
