package storage

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const slotKeyPrefix = "slot:"

// BadgerStore keeps slots as keys of an embedded BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a BadgerDB at dir.
// An empty dir opens an in-memory database.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (b *BadgerStore) Read(path string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(slotKeyPrefix + path))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read slot %s: %w", path, err)
	}
	return data, nil
}

func (b *BadgerStore) Write(path string, data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(slotKeyPrefix+path), data)
	})
	if err != nil {
		return fmt.Errorf("write slot %s: %w", path, err)
	}
	return nil
}

func (b *BadgerStore) Delete(path string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(slotKeyPrefix + path))
	})
	if err != nil {
		return fmt.Errorf("delete slot %s: %w", path, err)
	}
	return nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
