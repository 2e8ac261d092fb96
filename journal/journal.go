// Package journal keeps the reports of past runs in a bolt database on the
// managed host. The database file lock doubles as the run lock: only one
// writer can hold the journal open, so two concurrent applies against the
// same node cannot interleave.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/flynn/mongorole/reconcile"
	"github.com/pkg/errors"
)

// DefaultPath is where apply records its runs.
const DefaultPath = "/var/lib/mongorole/journal.db"

var runsBucket = []byte("runs")

// ErrLocked is returned by Open when another process holds the journal.
var ErrLocked = errors.New("journal: another run holds the lock")

// Entry is one recorded run.
type Entry struct {
	ID     uint64            `json:"id"`
	Report *reconcile.Report `json:"report"`
}

type Journal struct {
	db   *bolt.DB
	path string
}

// Open opens the journal for writing, waiting up to timeout for a
// concurrent holder to release it.
func Open(path string, timeout time.Duration) (*Journal, error) {
	return open(path, &bolt.Options{Timeout: timeout})
}

// OpenReadOnly opens an existing journal for reading. It shares the lock
// with other readers but still waits for a writer.
func OpenReadOnly(path string, timeout time.Duration) (*Journal, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return open(path, &bolt.Options{Timeout: timeout, ReadOnly: true})
}

func open(path string, opts *bolt.Options) (*Journal, error) {
	if !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, "creating journal directory")
		}
	}
	db, err := bolt.Open(path, 0600, opts)
	if err == bolt.ErrTimeout {
		return nil, ErrLocked
	} else if err != nil {
		return nil, errors.Wrapf(err, "opening journal %s", path)
	}
	if !opts.ReadOnly {
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(runsBucket)
			return err
		}); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "initializing journal")
		}
	}
	return &Journal{db: db, path: path}, nil
}

func (j *Journal) Path() string { return j.path }

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends a report and returns its id.
func (j *Journal) Record(r *reconcile.Report) (uint64, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return 0, errors.Wrap(err, "encoding report")
	}
	var id uint64
	err = j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)
		if id, err = b.NextSequence(); err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
	if err != nil {
		return 0, errors.Wrap(err, "recording run")
	}
	return id, nil
}

// Last returns the most recent entry, or nil when nothing was recorded.
func (j *Journal) Last() (*Entry, error) {
	entries, err := j.List(1)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns every entry.
func (j *Journal) List(limit int) ([]*Entry, error) {
	var entries []*Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			e := &Entry{ID: binary.BigEndian.Uint64(k), Report: &reconcile.Report{}}
			if err := json.Unmarshal(v, e.Report); err != nil {
				return errors.Wrapf(err, "decoding run %d", e.ID)
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// Get returns the entry with the given id, or nil.
func (j *Journal) Get(id uint64) (*Entry, error) {
	var entry *Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)
		if b == nil {
			return nil
		}
		v := b.Get(itob(id))
		if v == nil {
			return nil
		}
		entry = &Entry{ID: id, Report: &reconcile.Report{}}
		return errors.Wrapf(json.Unmarshal(v, entry.Report), "decoding run %d", id)
	})
	return entry, err
}

// Prune deletes all but the newest keep entries and returns how many were
// removed.
func (j *Journal) Prune(keep int) (int, error) {
	removed := 0
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)
		var stale [][]byte
		c := b.Cursor()
		n := 0
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			if n++; n > keep {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
