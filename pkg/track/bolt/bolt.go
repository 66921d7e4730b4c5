// Package bolt persists signal history records in a bolt database.
// Keys are close timestamps so range queries map directly onto cursor
// seeks.
package bolt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/igolaizola/zelatari/pkg/track"
)

var bucket = []byte("history")

type Store struct {
	db *bolt.DB
}

// New opens or creates the database file at the given path.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("bolt: couldn't open db %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("bolt: couldn't create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

// Append stores a terminal record. The key is the close time plus the
// signal id, so simultaneous closes never collide.
func (s *Store) Append(r *track.Record) error {
	key := []byte(r.CloseTime.UTC().Format(time.RFC3339Nano) + "_" + r.ID)
	if err := s.db.Update(func(tx *bolt.Tx) error {
		byt, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("couldn't encode: %w", err)
		}
		return tx.Bucket(bucket).Put(key, byt)
	}); err != nil {
		return fmt.Errorf("bolt: couldn't put %s: %w", key, err)
	}
	return nil
}

// List returns the records closed within [from, to] in close time order.
func (s *Store) List(from time.Time, to time.Time) ([]*track.Record, error) {
	var recs []*track.Record
	if err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()

		min := []byte(from.UTC().Format(time.RFC3339Nano))
		for k, v := c.Seek(min); k != nil; k, v = c.Next() {
			var r track.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("couldn't decode: %w", err)
			}
			if r.CloseTime.Before(from) {
				continue
			}
			if r.CloseTime.After(to) {
				break
			}
			recs = append(recs, &r)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("bolt: couldn't query: %w", err)
	}
	return recs, nil
}

// Prune deletes every record closed before the cutoff and returns how
// many were removed.
func (s *Store) Prune(before time.Time) (int, error) {
	max := []byte(before.UTC().Format(time.RFC3339Nano))
	var n int
	if err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, max) < 0; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
			n++
		}
		return nil
	}); err != nil {
		return 0, fmt.Errorf("bolt: couldn't prune: %w", err)
	}
	return n, nil
}
