// Package memstore is an in-process, mutex-protected Store implementation,
// primarily useful for tests and for hosts that accept losing state across
// restarts.
//
// Grounded on the vendored google/safebrowsing package's database type
// (vendor/github.com/google/safebrowsing/database.go), which keeps its
// threat table and full-hash cache behind a single sync.Mutex rather than
// a full database engine.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/letsencrypt/gsb/internal/hashprefix"
	"github.com/letsencrypt/gsb/storage"
	"github.com/letsencrypt/gsb/threatlist"
)

type listState struct {
	state    string
	prefixes [][]byte // sorted, deduplicated
}

// Store is an in-memory storage.Store.
type Store struct {
	mu sync.Mutex

	lists      map[threatlist.Id]*listState
	fullHashes []storage.FullHashEntry
	schedule   storage.Schedule
}

// New returns an empty Store.
func New() *Store {
	return &Store{lists: make(map[threatlist.Id]*listState)}
}

func (s *Store) Save(_ context.Context, list threatlist.Id, state string, add [][]byte, removeIndices []int, override bool) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, ok := s.lists[list]
	if !ok {
		ls = &listState{}
		s.lists[list] = ls
	}

	var base [][]byte
	if override {
		base = nil
	} else {
		base = ls.prefixes
	}

	remove := make(map[int]struct{}, len(removeIndices))
	for _, i := range removeIndices {
		remove[i] = struct{}{}
	}
	kept := make([][]byte, 0, len(base))
	for i, p := range base {
		if _, gone := remove[i]; gone {
			continue
		}
		kept = append(kept, p)
	}

	merged := append(kept, add...)
	hashprefix.SortPrefixes(merged)
	merged = hashprefix.Dedupe(merged)

	ls.state = state
	ls.prefixes = merged
	return append([][]byte{}, merged...), nil
}

func (s *Store) Reset(_ context.Context, list threatlist.Id) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, list)
	return nil
}

func (s *Store) GetState(_ context.Context, list threatlist.Id) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.lists[list]
	if !ok {
		return "", nil
	}
	return ls.state, nil
}

func (s *Store) GetPrefixes(_ context.Context, hashes [][32]byte, lists []threatlist.Id) ([]storage.Prefix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.Prefix
	for _, list := range lists {
		ls, ok := s.lists[list]
		if !ok {
			continue
		}
		for _, h := range hashes {
			if found := longestMatch(ls.prefixes, h[:]); found != nil {
				out = append(out, storage.Prefix{Bytes: found, List: list})
			}
		}
	}
	return out, nil
}

// longestMatch returns the longest stored prefix that is a byte-prefix of
// hash, checking candidate lengths from longest (32) to shortest (4) and
// binary-searching the sorted table for an exact match at each length.
func longestMatch(sortedPrefixes [][]byte, hash []byte) []byte {
	for n := hashprefix.FullLength; n >= hashprefix.MinLength; n-- {
		candidate := hash[:n]
		i := sort.Search(len(sortedPrefixes), func(i int) bool {
			return bytes.Compare(sortedPrefixes[i], candidate) >= 0
		})
		if i < len(sortedPrefixes) && bytes.Equal(sortedPrefixes[i], candidate) {
			return sortedPrefixes[i]
		}
	}
	return nil
}

func (s *Store) AddFullHashes(_ context.Context, entries []storage.FullHashEntry, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fullHashes = append(s.fullHashes, entries...)
	return nil
}

func (s *Store) GetFullHashes(_ context.Context, hash [32]byte, lists []threatlist.Id, now time.Time) ([]storage.FullHashEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[threatlist.Id]struct{}, len(lists))
	for _, l := range lists {
		wanted[l] = struct{}{}
	}

	var out []storage.FullHashEntry
	for _, e := range s.fullHashes {
		if e.Hash != hash {
			continue
		}
		if _, ok := wanted[e.List]; !ok {
			continue
		}
		if !e.ExpiresAt.After(now) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) NextUpdate(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule.NextUpdate, nil
}

func (s *Store) Updated(_ context.Context, now, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule.LastUpdate = now
	s.schedule.NextUpdate = next
	s.schedule.ConsecutiveErrors = 0
	return nil
}

func (s *Store) UpdateError(_ context.Context, now time.Time, wait time.Duration, consecutiveErrors int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule.LastUpdate = now
	s.schedule.NextUpdate = now.Add(wait)
	s.schedule.ConsecutiveErrors = consecutiveErrors
	return nil
}

func (s *Store) LastUpdate(_ context.Context) (storage.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, nil
}
