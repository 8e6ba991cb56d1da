// Package lookup implements the Lookup Engine: normalizing a URL,
// enumerating its expressions, matching hash prefixes locally, and
// confirming candidates against the service when nothing cached answers
// the query.
//
// Grounded on the vendored google/safebrowsing package's
// database.Lookup/cache.go TTL-cache shape, generalized to call through
// the Storage Interface instead of in-process maps, and to call gsbapi
// for full-hash confirmation instead of the vendored protobuf netAPI.
package lookup

import (
	"context"
	"time"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt/gsb/gsbapi"
	"github.com/letsencrypt/gsb/internal/expressions"
	"github.com/letsencrypt/gsb/internal/hashprefix"
	"github.com/letsencrypt/gsb/internal/urls"
	"github.com/letsencrypt/gsb/metrics"
	"github.com/letsencrypt/gsb/storage"
	"github.com/letsencrypt/gsb/threatlist"
)

// Match is a confirmed or cached threat match for a looked-up URL.
type Match struct {
	Hash          [32]byte
	List          threatlist.Id
	Metadata      map[string][]byte
	CacheDuration time.Duration
}

// Engine drives URL lookups against a Store and a Safe Browsing API
// client.
type Engine struct {
	api   *gsbapi.Client
	store storage.Store
	clk   clock.Clock
	stats metrics.Scope
}

// New constructs an Engine.
func New(api *gsbapi.Client, store storage.Store, clk clock.Clock, stats metrics.Scope) *Engine {
	return &Engine{api: api, store: store, clk: clk, stats: stats.NewScope("lookup")}
}

// Lookup checks rawURL against lists and returns zero or more confirmed
// matches. A URL that fails to normalize (unsupported scheme, empty
// host) yields an empty result rather than an error, matching this
// engine's best-effort contract.
func (e *Engine) Lookup(ctx context.Context, rawURL string, lists []threatlist.Id) ([]Match, error) {
	canon, err := urls.Normalize(rawURL)
	if err != nil {
		return nil, nil
	}

	exprs := expressions.Enumerate(canon)
	fullHashes := make([][32]byte, len(exprs))
	for i, expr := range exprs {
		fullHashes[i] = hashprefix.Of(expr)
	}

	prefixes, err := e.store.GetPrefixes(ctx, fullHashes, lists)
	if err != nil {
		return nil, err
	}
	if len(prefixes) == 0 {
		return nil, nil
	}

	now := e.clk.Now()
	var cached []storage.FullHashEntry
	for _, fh := range fullHashes {
		entries, err := e.store.GetFullHashes(ctx, fh, lists, now)
		if err != nil {
			return nil, err
		}
		cached = append(cached, entries...)
	}
	if len(cached) > 0 {
		return toMatches(cached, now), nil
	}

	matches, err := e.confirmFullHashes(ctx, prefixes)
	if err != nil {
		e.stats.Inc("FullHashRequestErrors", 1)
		return nil, nil
	}

	wanted := make(map[[32]byte]struct{}, len(fullHashes))
	for _, fh := range fullHashes {
		wanted[fh] = struct{}{}
	}

	var toCache []storage.FullHashEntry
	var result []Match
	for _, m := range matches {
		if _, ok := wanted[m.Hash]; !ok {
			continue
		}
		toCache = append(toCache, storage.FullHashEntry{
			Hash:      m.Hash,
			List:      m.List,
			Metadata:  m.Metadata,
			ExpiresAt: now.Add(m.CacheDuration),
		})
		result = append(result, Match{Hash: m.Hash, List: m.List, Metadata: m.Metadata, CacheDuration: m.CacheDuration})
	}
	if len(toCache) > 0 {
		if err := e.store.AddFullHashes(ctx, toCache, now); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// confirmFullHashes builds and issues a Full-Hash Request for the
// distinct lists and prefixes found locally.
func (e *Engine) confirmFullHashes(ctx context.Context, prefixes []storage.Prefix) ([]gsbapi.FullHashMatch, error) {
	seenLists := make(map[threatlist.Id]struct{})
	seenPrefixes := make(map[string][]byte)
	for _, p := range prefixes {
		seenLists[p.List] = struct{}{}
		seenPrefixes[string(p.Bytes)] = p.Bytes
	}

	query := gsbapi.FullHashQuery{}
	for list := range seenLists {
		state, err := e.store.GetState(ctx, list)
		if err != nil {
			return nil, err
		}
		query.ClientStates = append(query.ClientStates, state)
		query.ThreatTypes = appendUnique(query.ThreatTypes, list.ThreatType)
		query.PlatformTypes = appendUnique(query.PlatformTypes, list.PlatformType)
		query.ThreatEntryTypes = appendUnique(query.ThreatEntryTypes, list.ThreatEntryType)
	}
	for _, p := range seenPrefixes {
		query.Prefixes = append(query.Prefixes, p)
	}

	return e.api.FindFullHashes(ctx, query)
}

func toMatches(entries []storage.FullHashEntry, now time.Time) []Match {
	out := make([]Match, len(entries))
	for i, e := range entries {
		out[i] = Match{Hash: e.Hash, List: e.List, Metadata: e.Metadata, CacheDuration: e.ExpiresAt.Sub(now)}
	}
	return out
}

func appendUnique(s []string, v string) []string {
	for _, existing := range s {
		if existing == v {
			return s
		}
	}
	return append(s, v)
}
