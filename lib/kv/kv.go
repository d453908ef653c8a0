// Package kv persists stream cursors in a bolt database so a watcher
// can resume where it stopped.
package kv

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pcloudkit/pcloud/lib/log"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Constants
const (
	RootBucket = "streams"
	cursorKey  = "cursor"
	updatedKey = "updated"
)

// ErrClosed is returned when using a closed Store
var ErrClosed = errors.New("cursor store is closed")

// Options for Open
type Options struct {
	Timeout time.Duration // how long to wait for the file lock
	Purge   bool          // remove all stored cursors on open
}

// State is what is stored for one stream
type State struct {
	Cursor  uint64
	Updated time.Time
}

// Store is a bolt.DB file holding one State per stream name
type Store struct {
	path string
	mu   sync.Mutex
	db   *bolt.DB
}

// Open opens or creates the database at path
func Open(path string, opt Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrapf(err, "failed to create a data directory for %q", path)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: opt.Timeout})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open cursor store %q", path)
	}
	s := &Store{path: path, db: db}
	err = db.Update(func(tx *bolt.Tx) error {
		if opt.Purge {
			if err := tx.DeleteBucket([]byte(RootBucket)); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
		}
		_, err := tx.CreateBucketIfNotExists([]byte(RootBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to initialise cursor store %q", path)
	}
	log.Debugf(s, "Opened cursor store")
	return s, nil
}

// String returns the path of the store
func (s *Store) String() string {
	return s.path
}

func (s *Store) getDB() (*bolt.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

// Get returns the state stored for name.  found is false if there is
// none.
func (s *Store) Get(name string) (state State, found bool, err error) {
	db, err := s.getDB()
	if err != nil {
		return state, false, err
	}
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(RootBucket)).Bucket([]byte(name))
		if bucket == nil {
			return nil
		}
		raw := bucket.Get([]byte(cursorKey))
		if len(raw) != 8 {
			return errors.Errorf("corrupt cursor for %q", name)
		}
		state.Cursor = binary.BigEndian.Uint64(raw)
		if updated := bucket.Get([]byte(updatedKey)); updated != nil {
			if err := state.Updated.UnmarshalText(updated); err != nil {
				return errors.Wrapf(err, "corrupt update time for %q", name)
			}
		}
		found = true
		return nil
	})
	return state, found, err
}

// Set stores cursor for name.  A cursor lower than the stored one is
// ignored so the stored cursor never goes backwards.
func (s *Store) Set(name string, cursor uint64) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket([]byte(RootBucket)).CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return errors.Wrapf(err, "couldn't create bucket for %q", name)
		}
		if raw := bucket.Get([]byte(cursorKey)); len(raw) == 8 {
			if old := binary.BigEndian.Uint64(raw); old > cursor {
				log.Debugf(s, "%s: not moving cursor back from %d to %d", name, old, cursor)
				return nil
			}
		}
		var raw [8]byte
		binary.BigEndian.PutUint64(raw[:], cursor)
		if err := bucket.Put([]byte(cursorKey), raw[:]); err != nil {
			return err
		}
		updated, err := time.Now().UTC().MarshalText()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(updatedKey), updated)
	})
}

// Delete removes what is stored for name
func (s *Store) Delete(name string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket([]byte(RootBucket)).DeleteBucket([]byte(name))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// Names lists the streams with a stored cursor
func (s *Store) Names() (names []string, err error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(RootBucket)).ForEach(func(k, v []byte) error {
			if v == nil {
				names = append(names, string(k))
			}
			return nil
		})
	})
	return names, err
}

// Close closes the database.  It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
