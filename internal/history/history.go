// Package history keeps a small journal of finished uploads and playback
// sessions so the companion app can show what happened on the device.
package history

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mmartingarciia/retroducer/internal/config"
)

// Kind tells which subsystem produced an entry.
type Kind string

const (
	KindUpload   Kind = "upload"
	KindPlayback Kind = "playback"
)

// Entry is one finished session.
type Entry struct {
	ID        string    `msgpack:"id" json:"id"`
	Kind      Kind      `msgpack:"kind" json:"kind"`
	Path      string    `msgpack:"path" json:"path"`
	Bytes     int64     `msgpack:"bytes" json:"bytes"`
	Result    string    `msgpack:"result" json:"result"`
	Error     string    `msgpack:"error,omitempty" json:"error,omitempty"`
	StartedAt time.Time `msgpack:"started_at" json:"started_at"`
	EndedAt   time.Time `msgpack:"ended_at" json:"ended_at"`
}

// Store records and lists entries, newest first.
type Store interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// retention bounds the number of entries kept on disk.
const retention = 200

var keyPrefix = []byte("h:")

// Open returns the store selected by cfg. A disabled history is a no-op.
func Open(cfg config.HistoryConfig) (Store, error) {
	if !cfg.Enabled {
		return NoopStore{}, nil
	}
	return NewBadgerStore(cfg.Dir, cfg.InMemory)
}

type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open history at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// key orders entries by end time; the id suffix keeps keys unique.
func key(e Entry) []byte {
	k := make([]byte, 0, len(keyPrefix)+8+len(e.ID))
	k = append(k, keyPrefix...)
	k = binary.BigEndian.AppendUint64(k, uint64(e.EndedAt.UnixNano()))
	return append(k, e.ID...)
}

func (s *BadgerStore) Record(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.EndedAt.IsZero() {
		e.EndedAt = time.Now()
	}

	val, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(e), val)
	}); err != nil {
		return fmt.Errorf("failed to record history entry: %w", err)
	}
	return s.trim()
}

// trim deletes everything older than the newest retention entries.
func (s *BadgerStore) trim() error {
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var stale [][]byte
		n := 0
		for it.Seek(seekLast()); it.Valid(); it.Next() {
			n++
			if n > retention {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func seekLast() []byte {
	return append(append([]byte{}, keyPrefix...), 0xFF)
}

func (s *BadgerStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seekLast()); it.Valid() && len(entries) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("failed to decode history entry: %w", err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// NoopStore discards entries.
type NoopStore struct{}

func (NoopStore) Record(context.Context, Entry) error          { return nil }
func (NoopStore) Recent(context.Context, int) ([]Entry, error) { return nil, nil }
func (NoopStore) Close() error                                 { return nil }
