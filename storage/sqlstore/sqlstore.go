// Package sqlstore is a MySQL-backed storage.Store, crash-atomic via
// transactions, intended for hosts that want the prefix tables and
// full-hash cache to survive process restarts.
//
// Grounded on db/interfaces.go and db/map.go's Executor/DatabaseMap
// abstraction over a *borp.DbMap. Callers that want every statement
// tagged for slow-query attribution register prefixdb's driver wrapper
// before opening the *sql.DB they build the DbMap from; this package
// only consumes the resulting db.DatabaseMap and has no driver-level
// concerns of its own.
package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gsbdb "github.com/letsencrypt/gsb/db"
	"github.com/letsencrypt/gsb/internal/hashprefix"
	"github.com/letsencrypt/gsb/storage"
	"github.com/letsencrypt/gsb/threatlist"
)

// Store is a storage.Store backed by a MySQL database, accessed through
// the db.DatabaseMap abstraction so it can be exercised against a borp
// DbMap or a test double equally.
type Store struct {
	dbMap gsbdb.DatabaseMap
}

// New wraps an already-configured db.DatabaseMap (typically a
// *db.WrappedMap over a *borp.DbMap) as a storage.Store.
func New(dbMap gsbdb.DatabaseMap) *Store {
	return &Store{dbMap: dbMap}
}

// Schema is the DDL this store expects. It is not applied automatically;
// operators run it via their migration tooling of choice.
const Schema = `
CREATE TABLE IF NOT EXISTS threat_lists (
	threat_type VARCHAR(64) NOT NULL,
	platform_type VARCHAR(64) NOT NULL,
	threat_entry_type VARCHAR(64) NOT NULL,
	state VARBINARY(4096) NOT NULL DEFAULT '',
	PRIMARY KEY (threat_type, platform_type, threat_entry_type)
);

CREATE TABLE IF NOT EXISTS list_prefixes (
	threat_type VARCHAR(64) NOT NULL,
	platform_type VARCHAR(64) NOT NULL,
	threat_entry_type VARCHAR(64) NOT NULL,
	prefix VARBINARY(32) NOT NULL,
	PRIMARY KEY (threat_type, platform_type, threat_entry_type, prefix)
);

CREATE TABLE IF NOT EXISTS full_hash_cache (
	hash BINARY(32) NOT NULL,
	threat_type VARCHAR(64) NOT NULL,
	platform_type VARCHAR(64) NOT NULL,
	threat_entry_type VARCHAR(64) NOT NULL,
	metadata_json MEDIUMBLOB NOT NULL,
	expires_at DATETIME NOT NULL,
	PRIMARY KEY (hash, threat_type, platform_type, threat_entry_type)
);

CREATE TABLE IF NOT EXISTS update_schedule (
	id TINYINT NOT NULL PRIMARY KEY DEFAULT 1,
	last_update DATETIME NOT NULL,
	next_update DATETIME NOT NULL,
	consecutive_errors INT NOT NULL DEFAULT 0
);
`

func (s *Store) Save(ctx context.Context, list threatlist.Id, state string, add [][]byte, removeIndices []int, override bool) ([][]byte, error) {
	result, err := gsbdb.WithTransaction(ctx, s.dbMap, func(tx gsbdb.Executor) (interface{}, error) {
		var current [][]byte
		if !override {
			var err error
			current, err = selectSortedPrefixes(ctx, tx, list)
			if err != nil {
				return nil, err
			}
		}

		remove := make(map[int]struct{}, len(removeIndices))
		for _, i := range removeIndices {
			remove[i] = struct{}{}
		}
		kept := make([][]byte, 0, len(current))
		for i, p := range current {
			if _, gone := remove[i]; gone {
				continue
			}
			kept = append(kept, p)
		}

		merged := append(kept, add...)
		hashprefix.SortPrefixes(merged)
		merged = hashprefix.Dedupe(merged)

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM list_prefixes WHERE threat_type = ? AND platform_type = ? AND threat_entry_type = ?`,
			list.ThreatType, list.PlatformType, list.ThreatEntryType); err != nil {
			return nil, err
		}
		inserter, err := gsbdb.NewMultiInserter("list_prefixes", "threat_type,platform_type,threat_entry_type,prefix")
		if err != nil {
			return nil, err
		}
		for _, p := range merged {
			if err := inserter.Add([]interface{}{list.ThreatType, list.PlatformType, list.ThreatEntryType, p}); err != nil {
				return nil, err
			}
		}
		if err := inserter.Insert(ctx, tx); err != nil {
			return nil, err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO threat_lists (threat_type, platform_type, threat_entry_type, state) VALUES (?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE state = VALUES(state)`,
			list.ThreatType, list.PlatformType, list.ThreatEntryType, state); err != nil {
			return nil, err
		}

		return merged, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([][]byte), nil
}

func selectSortedPrefixes(ctx context.Context, tx gsbdb.Selector, list threatlist.Id) ([][]byte, error) {
	rows, err := tx.Select(ctx, &[]byte{},
		`SELECT prefix FROM list_prefixes WHERE threat_type = ? AND platform_type = ? AND threat_entry_type = ? ORDER BY prefix ASC`,
		list.ThreatType, list.PlatformType, list.ThreatEntryType)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(rows))
	for _, r := range rows {
		p, ok := r.(*[]byte)
		if !ok || p == nil {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *Store) Reset(ctx context.Context, list threatlist.Id) error {
	_, err := gsbdb.WithTransaction(ctx, s.dbMap, func(tx gsbdb.Executor) (interface{}, error) {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM list_prefixes WHERE threat_type = ? AND platform_type = ? AND threat_entry_type = ?`,
			list.ThreatType, list.PlatformType, list.ThreatEntryType); err != nil {
			return nil, err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM threat_lists WHERE threat_type = ? AND platform_type = ? AND threat_entry_type = ?`,
			list.ThreatType, list.PlatformType, list.ThreatEntryType)
		return nil, err
	})
	return err
}

func (s *Store) GetState(ctx context.Context, list threatlist.Id) (string, error) {
	var state string
	err := s.dbMap.SelectOne(ctx, &state,
		`SELECT state FROM threat_lists WHERE threat_type = ? AND platform_type = ? AND threat_entry_type = ?`,
		list.ThreatType, list.PlatformType, list.ThreatEntryType)
	if gsbdb.IsNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return state, nil
}

func (s *Store) GetPrefixes(ctx context.Context, hashes [][32]byte, lists []threatlist.Id) ([]storage.Prefix, error) {
	var out []storage.Prefix
	for _, list := range lists {
		sorted, err := selectSortedPrefixes(ctx, s.dbMap, list)
		if err != nil {
			return nil, err
		}
		for _, h := range hashes {
			if found := longestMatch(sorted, h[:]); found != nil {
				out = append(out, storage.Prefix{Bytes: found, List: list})
			}
		}
	}
	return out, nil
}

func longestMatch(sortedPrefixes [][]byte, hash []byte) []byte {
	for n := hashprefix.FullLength; n >= hashprefix.MinLength; n-- {
		candidate := hash[:n]
		for _, p := range sortedPrefixes {
			if len(p) == n && string(p) == string(candidate) {
				return p
			}
		}
	}
	return nil
}

func (s *Store) AddFullHashes(ctx context.Context, entries []storage.FullHashEntry, _ time.Time) error {
	for _, e := range entries {
		metadataJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling full-hash metadata: %w", err)
		}
		if _, err := s.dbMap.ExecContext(ctx,
			`INSERT INTO full_hash_cache (hash, threat_type, platform_type, threat_entry_type, metadata_json, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE metadata_json = VALUES(metadata_json), expires_at = VALUES(expires_at)`,
			e.Hash[:], e.List.ThreatType, e.List.PlatformType, e.List.ThreatEntryType, metadataJSON, e.ExpiresAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetFullHashes(ctx context.Context, hash [32]byte, lists []threatlist.Id, now time.Time) ([]storage.FullHashEntry, error) {
	var out []storage.FullHashEntry
	for _, list := range lists {
		var row fullHashRow
		err := s.dbMap.SelectOne(ctx, &row,
			`SELECT metadata_json, expires_at FROM full_hash_cache
			 WHERE hash = ? AND threat_type = ? AND platform_type = ? AND threat_entry_type = ? AND expires_at > ?`,
			hash[:], list.ThreatType, list.PlatformType, list.ThreatEntryType, now)
		if gsbdb.IsNoRows(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var metadata map[string][]byte
		if err := json.Unmarshal(row.MetadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling full-hash metadata: %w", err)
		}
		out = append(out, storage.FullHashEntry{Hash: hash, List: list, Metadata: metadata, ExpiresAt: row.ExpiresAt})
	}
	return out, nil
}

type fullHashRow struct {
	MetadataJSON []byte
	ExpiresAt    time.Time
}

func (s *Store) NextUpdate(ctx context.Context) (time.Time, error) {
	sched, err := s.LastUpdate(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return sched.NextUpdate, nil
}

func (s *Store) Updated(ctx context.Context, now, next time.Time) error {
	_, err := s.dbMap.ExecContext(ctx,
		`INSERT INTO update_schedule (id, last_update, next_update, consecutive_errors) VALUES (1, ?, ?, 0)
		 ON DUPLICATE KEY UPDATE last_update = VALUES(last_update), next_update = VALUES(next_update), consecutive_errors = 0`,
		now, next)
	return err
}

func (s *Store) UpdateError(ctx context.Context, now time.Time, wait time.Duration, consecutiveErrors int) error {
	next := now.Add(wait)
	_, err := s.dbMap.ExecContext(ctx,
		`INSERT INTO update_schedule (id, last_update, next_update, consecutive_errors) VALUES (1, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE last_update = VALUES(last_update), next_update = VALUES(next_update), consecutive_errors = VALUES(consecutive_errors)`,
		now, next, consecutiveErrors)
	return err
}

func (s *Store) LastUpdate(ctx context.Context) (storage.Schedule, error) {
	var sched storage.Schedule
	err := s.dbMap.SelectOne(ctx, &sched,
		`SELECT last_update, next_update, consecutive_errors FROM update_schedule WHERE id = 1`)
	if gsbdb.IsNoRows(err) {
		return storage.Schedule{}, nil
	}
	if err != nil {
		return storage.Schedule{}, err
	}
	return sched, nil
}
