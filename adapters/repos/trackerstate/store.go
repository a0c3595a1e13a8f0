//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2025 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package trackerstate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/weaviate/tracker/usecases/tracker"
)

var (
	cursorBucket      = []byte("tracker_state")
	keyConfig         = []byte{eTypeConfig, 0}
	_Version      int = 1
)

// constant to encode the type of entry in the DB
const (
	eTypeConfig byte = 1
	eTypeCursor byte = 2
)

type config struct {
	Version int `msgpack:"version"`
}

type record struct {
	State     tracker.State `msgpack:"state"`
	UpdatedAt int64         `msgpack:"updatedAt"`
}

// Entry is the persisted cursor of a single shard.
type Entry struct {
	Shard     string        `json:"shard"`
	State     tracker.State `json:"state"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

/*
Store persists the progress cursor of every tracked shard in a single bolt
file. Each shard owns one key in the cursor bucket:

  - Config: version of the record layout
  - Cursors: eTypeCursor followed by the shard name, msgpack encoded

Call Open before use and Close to free the file lock.
*/
type Store struct {
	version int
	path    string
	log     logrus.FieldLogger
	db      *bolt.DB
	now     func() time.Time
}

func NewStore(path string, logger logrus.FieldLogger) *Store {
	return &Store{
		version: _Version,
		path:    path,
		log:     logger,
		now:     time.Now,
	}
}

func initBoltDB(filePath string, version int, cfg *config) (*bolt.DB, error) {
	db, err := bolt.Open(filePath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", filePath, err)
	}
	root := func(tx *bolt.Tx) error {
		b, err := tx.CreateBucket(cursorBucket)
		// A new bucket has been created
		if err == nil {
			*cfg = config{Version: version}
			return saveConfig(b, *cfg)
		}
		b = tx.Bucket(cursorBucket)
		if b == nil {
			return fmt.Errorf("retrieve existing bucket %q", cursorBucket)
		}
		if data := b.Get(keyConfig); len(data) > 0 {
			if err := msgpack.Unmarshal(data, cfg); err != nil {
				return fmt.Errorf("cannot read config: %w", err)
			}
		}
		return nil
	}

	if err := db.Update(root); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func saveConfig(b *bolt.Bucket, cfg config) error {
	data, err := msgpack.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return b.Put(keyConfig, data)
}

// Open the underlying DB
func (s *Store) Open() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o777); err != nil {
		return fmt.Errorf("create root directory of %q: %w", s.path, err)
	}

	cfg := config{}
	db, err := initBoltDB(s.path, s.version, &cfg)
	if err != nil {
		return fmt.Errorf("init bolt_db: %w", err)
	}
	if cfg.Version > s.version {
		db.Close()
		return fmt.Errorf("tracker state version %d higher than %d", cfg.Version, s.version)
	}

	s.db = db
	s.log.WithField("action", "tracker_state_open").WithField("path", s.path).
		Debug("opened tracker state store")
	return nil
}

// Close the underlying DB
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func cursorKey(shard string) []byte {
	key := make([]byte, 1, len(shard)+1)
	key[0] = eTypeCursor
	return append(key, shard...)
}

// LoadState returns the zero state for shards without a cursor.
func (s *Store) LoadState(ctx context.Context, shard string) (tracker.State, error) {
	if err := ctx.Err(); err != nil {
		return tracker.State{}, err
	}

	var rec record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(cursorBucket).Get(cursorKey(shard))
		if len(data) == 0 {
			return nil
		}
		return msgpack.Unmarshal(data, &rec)
	})
	if err != nil {
		return tracker.State{}, errors.Wrapf(err, "load cursor of shard %q", shard)
	}
	return rec.State, nil
}

func (s *Store) SaveState(ctx context.Context, shard string, state tracker.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := msgpack.Marshal(record{State: state, UpdatedAt: s.now().UnixMilli()})
	if err != nil {
		return errors.Wrapf(err, "marshal cursor of shard %q", shard)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cursorBucket).Put(cursorKey(shard), data)
	})
	return errors.Wrapf(err, "save cursor of shard %q", shard)
}

// List returns the cursors of all shards ordered by shard name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(cursorBucket).Cursor()
		prefix := []byte{eTypeCursor}
		for key, value := c.Seek(prefix); key != nil && key[0] == eTypeCursor; key, value = c.Next() {
			var rec record
			if err := msgpack.Unmarshal(value, &rec); err != nil {
				return fmt.Errorf("unmarshal cursor %q: %w", key[1:], err)
			}
			entries = append(entries, Entry{
				Shard:     string(key[1:]),
				State:     rec.State,
				UpdatedAt: time.UnixMilli(rec.UpdatedAt),
			})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list cursors")
	}
	return entries, nil
}

// Reset deletes the cursor of a shard, the next tracker of the shard starts
// from the first repository transaction. It reports whether a cursor
// existed.
func (s *Store) Reset(ctx context.Context, shard string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cursorBucket)
		key := cursorKey(shard)
		existed = b.Get(key) != nil
		return b.Delete(key)
	})
	if err != nil {
		return false, errors.Wrapf(err, "reset cursor of shard %q", shard)
	}
	if existed {
		s.log.WithField("action", "tracker_state_reset").WithField("shard", shard).
			Info("tracker cursor removed")
	}
	return existed, nil
}
