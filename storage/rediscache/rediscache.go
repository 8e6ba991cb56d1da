// Package rediscache is a Redis-backed storage.Store, aimed at hosts that
// want a shared, memory-speed backend without operating MySQL. Prefix
// tables and state are kept as small JSON documents; full-hash cache
// entries rely on Redis's native per-key expiry instead of a stored
// timestamp comparison.
//
// Grounded on redis/config.go's Config-driven *redis.Ring construction,
// simplified from a sharded/SRV-discovered ring down to a single
// go-redis/v9 client, since this module has no multi-shard requirement.
package rediscache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmhodges/clock"
	"github.com/redis/go-redis/v9"

	"github.com/letsencrypt/gsb/internal/hashprefix"
	"github.com/letsencrypt/gsb/storage"
	"github.com/letsencrypt/gsb/threatlist"
)

// Config holds the settings needed to construct a Redis client for this
// store, trimmed to a single endpoint since the volumes here don't
// warrant a sharded ring.
type Config struct {
	Addr     string `validate:"required,hostname_port"`
	Username string
	Password string
	DB       int

	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// NewClient builds a *redis.Client from c.
func (c Config) NewClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        c.Addr,
		Username:    c.Username,
		Password:    c.Password,
		DB:          c.DB,
		DialTimeout: c.DialTimeout,
		ReadTimeout: c.ReadTimeout,
	})
}

// Store is a storage.Store backed by Redis.
type Store struct {
	client *redis.Client
	clk    clock.Clock
}

// New wraps client as a storage.Store.
func New(client *redis.Client, clk clock.Clock) *Store {
	return &Store{client: client, clk: clk}
}

func prefixTableKey(list threatlist.Id) string { return "gsb:prefixes:" + list.String() }
func stateKey(list threatlist.Id) string       { return "gsb:state:" + list.String() }
func fullHashKey(hash [32]byte, list threatlist.Id) string {
	return fmt.Sprintf("gsb:fullhash:%s:%s", base64.RawURLEncoding.EncodeToString(hash[:]), list.String())
}

const (
	scheduleKey = "gsb:schedule"
)

type prefixTable struct {
	Prefixes []string `json:"prefixes"` // base64, sorted
}

func (s *Store) Save(ctx context.Context, list threatlist.Id, state string, add [][]byte, removeIndices []int, override bool) ([][]byte, error) {
	var result [][]byte
	txf := func(tx *redis.Tx) error {
		var current [][]byte
		if !override {
			existing, err := readPrefixTable(ctx, tx, list)
			if err != nil {
				return err
			}
			current = existing
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
		result = merged

		encoded := make([]string, len(merged))
		for i, p := range merged {
			encoded[i] = base64.StdEncoding.EncodeToString(p)
		}
		body, err := json.Marshal(prefixTable{Prefixes: encoded})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, prefixTableKey(list), body, 0)
			pipe.Set(ctx, stateKey(list), state, 0)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, prefixTableKey(list), stateKey(list))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func readPrefixTable(ctx context.Context, cmdable redis.Cmdable, list threatlist.Id) ([][]byte, error) {
	raw, err := cmdable.Get(ctx, prefixTableKey(list)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pt prefixTable
	if err := json.Unmarshal(raw, &pt); err != nil {
		return nil, fmt.Errorf("unmarshaling prefix table: %w", err)
	}
	out := make([][]byte, len(pt.Prefixes))
	for i, e := range pt.Prefixes {
		p, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			return nil, fmt.Errorf("decoding stored prefix: %w", err)
		}
		out[i] = p
	}
	return out, nil
}

func (s *Store) Reset(ctx context.Context, list threatlist.Id) error {
	return s.client.Del(ctx, prefixTableKey(list), stateKey(list)).Err()
}

func (s *Store) GetState(ctx context.Context, list threatlist.Id) (string, error) {
	state, err := s.client.Get(ctx, stateKey(list)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return state, err
}

func (s *Store) GetPrefixes(ctx context.Context, hashes [][32]byte, lists []threatlist.Id) ([]storage.Prefix, error) {
	var out []storage.Prefix
	for _, list := range lists {
		sorted, err := readPrefixTable(ctx, s.client, list)
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

type cachedFullHash struct {
	Metadata map[string]string `json:"metadata"` // base64-encoded values
}

func (s *Store) AddFullHashes(ctx context.Context, entries []storage.FullHashEntry, now time.Time) error {
	pipe := s.client.Pipeline()
	for _, e := range entries {
		ttl := e.ExpiresAt.Sub(now)
		if ttl <= 0 {
			continue
		}
		metadata := make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			metadata[k] = base64.StdEncoding.EncodeToString(v)
		}
		body, err := json.Marshal(cachedFullHash{Metadata: metadata})
		if err != nil {
			return err
		}
		pipe.Set(ctx, fullHashKey(e.Hash, e.List), body, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetFullHashes(ctx context.Context, hash [32]byte, lists []threatlist.Id, _ time.Time) ([]storage.FullHashEntry, error) {
	var out []storage.FullHashEntry
	for _, list := range lists {
		key := fullHashKey(hash, list)
		raw, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		ttl, err := s.client.TTL(ctx, key).Result()
		if err != nil {
			return nil, err
		}

		var cached cachedFullHash
		if err := json.Unmarshal(raw, &cached); err != nil {
			return nil, fmt.Errorf("unmarshaling cached full hash: %w", err)
		}
		metadata := make(map[string][]byte, len(cached.Metadata))
		for k, v := range cached.Metadata {
			decoded, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("decoding cached metadata: %w", err)
			}
			metadata[k] = decoded
		}
		out = append(out, storage.FullHashEntry{
			Hash:      hash,
			List:      list,
			Metadata:  metadata,
			ExpiresAt: s.clk.Now().Add(ttl),
		})
	}
	return out, nil
}

type schedule struct {
	LastUpdate        int64 `json:"last_update"` // unix seconds
	NextUpdate        int64 `json:"next_update"`
	ConsecutiveErrors int   `json:"consecutive_errors"`
}

func (s *Store) NextUpdate(ctx context.Context) (time.Time, error) {
	sched, err := s.readSchedule(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if sched.NextUpdate == 0 {
		return time.Time{}, nil
	}
	return time.Unix(sched.NextUpdate, 0).UTC(), nil
}

func (s *Store) Updated(ctx context.Context, now, next time.Time) error {
	return s.writeSchedule(ctx, schedule{LastUpdate: now.Unix(), NextUpdate: next.Unix(), ConsecutiveErrors: 0})
}

func (s *Store) UpdateError(ctx context.Context, now time.Time, wait time.Duration, consecutiveErrors int) error {
	return s.writeSchedule(ctx, schedule{LastUpdate: now.Unix(), NextUpdate: now.Add(wait).Unix(), ConsecutiveErrors: consecutiveErrors})
}

func (s *Store) LastUpdate(ctx context.Context) (storage.Schedule, error) {
	sched, err := s.readSchedule(ctx)
	if err != nil {
		return storage.Schedule{}, err
	}
	if sched.LastUpdate == 0 {
		return storage.Schedule{}, nil
	}
	return storage.Schedule{
		LastUpdate:        time.Unix(sched.LastUpdate, 0).UTC(),
		NextUpdate:        time.Unix(sched.NextUpdate, 0).UTC(),
		ConsecutiveErrors: sched.ConsecutiveErrors,
	}, nil
}

func (s *Store) readSchedule(ctx context.Context) (schedule, error) {
	raw, err := s.client.Get(ctx, scheduleKey).Bytes()
	if err == redis.Nil {
		return schedule{}, nil
	}
	if err != nil {
		return schedule{}, err
	}
	var sched schedule
	if err := json.Unmarshal(raw, &sched); err != nil {
		return schedule{}, fmt.Errorf("unmarshaling schedule: %w", err)
	}
	return sched, nil
}

func (s *Store) writeSchedule(ctx context.Context, sched schedule) error {
	body, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, scheduleKey, body, 0).Err()
}
