// Package inmem keeps history records in memory, for dry runs and tests.
package inmem

import (
	"sort"
	"sync"
	"time"

	"github.com/igolaizola/zelatari/pkg/track"
)

// Store is ready to use at its zero value.
type Store struct {
	mu   sync.Mutex
	recs []*track.Record
}

func (s *Store) Append(r *track.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	s.recs = append(s.recs, &c)
	return nil
}

func (s *Store) List(from time.Time, to time.Time) ([]*track.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*track.Record
	for _, r := range s.recs {
		if r.CloseTime.Before(from) {
			continue
		}
		if r.CloseTime.After(to) {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CloseTime.Before(out[j].CloseTime)
	})
	return out, nil
}

func (s *Store) Prune(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.recs[:0]
	var n int
	for _, r := range s.recs {
		if r.CloseTime.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.recs = kept
	return n, nil
}
