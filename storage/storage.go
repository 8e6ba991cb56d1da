// Package storage defines the persistence contract the update and lookup
// engines consume: per-list sorted prefix tables and state tokens, a
// full-hash confirmation cache, and the update schedule.
//
// Grounded on db/interfaces.go's pattern of small, composable interfaces
// describing what the core needs rather than how a particular backend
// provides it.
package storage

import (
	"context"
	"time"

	"github.com/letsencrypt/gsb/threatlist"
)

// Prefix is a single stored hash-prefix entry, returned by GetPrefixes
// alongside the list it belongs to.
type Prefix struct {
	Bytes []byte
	List  threatlist.Id
}

// FullHashEntry is a cached, server-confirmed full hash.
type FullHashEntry struct {
	Hash      [32]byte
	List      threatlist.Id
	Metadata  map[string][]byte
	ExpiresAt time.Time
}

// Schedule is the process-wide update schedule.
type Schedule struct {
	LastUpdate       time.Time
	NextUpdate       time.Time
	ConsecutiveErrors int
}

// Store is the storage abstraction the Update and Lookup engines consume.
// Implementations must serialize their own writes and make Save
// crash-atomic: after a crash, either the pre-Save table and state remain,
// or the post-Save pair is fully visible, never a mixture.
type Store interface {
	// Save applies removals (by index into the pre-removal sorted table),
	// then additions, then re-sorts, for list. If override is true, the
	// table is rebuilt from empty before removals/additions are applied
	// (removeIndices is ignored in that case). It persists the new state
	// token and returns the resulting sorted, deduplicated table.
	Save(ctx context.Context, list threatlist.Id, state string, add [][]byte, removeIndices []int, override bool) ([][]byte, error)

	// Reset drops the prefix table and state token for list.
	Reset(ctx context.Context, list threatlist.Id) error

	// GetState returns the current state token for list, or "" if absent.
	GetState(ctx context.Context, list threatlist.Id) (string, error)

	// GetPrefixes returns, for each (hash, list) pair among hashes and
	// lists, the longest stored prefix that is a byte-prefix of hash, if
	// any exists.
	GetPrefixes(ctx context.Context, hashes [][32]byte, lists []threatlist.Id) ([]Prefix, error)

	// AddFullHashes merges entries into the cache. Callers set each
	// entry's ExpiresAt before calling; AddFullHashes does not compute
	// expiry itself. now is the current time, from which an
	// implementation may derive a TTL (ExpiresAt - now).
	AddFullHashes(ctx context.Context, entries []FullHashEntry, now time.Time) error

	// GetFullHashes returns unexpired cache entries matching hash and any
	// of lists.
	GetFullHashes(ctx context.Context, hash [32]byte, lists []threatlist.Id, now time.Time) ([]FullHashEntry, error)

	// NextUpdate returns the scheduled time of the next update, or the
	// zero Time if none has ever been scheduled.
	NextUpdate(ctx context.Context) (time.Time, error)

	// Updated records a successful update: last update time, next update
	// time, and resets the consecutive error counter.
	Updated(ctx context.Context, now, next time.Time) error

	// UpdateError records a failed update attempt: the wait until the
	// next retry and the new consecutive error count.
	UpdateError(ctx context.Context, now time.Time, wait time.Duration, consecutiveErrors int) error

	// LastUpdate returns the current schedule state.
	LastUpdate(ctx context.Context) (Schedule, error)
}
