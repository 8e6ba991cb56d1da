// Package update implements the Update Engine: fetching incremental
// threat-list updates, applying them to storage, verifying checksums,
// and scheduling the next attempt with error backoff.
//
// Grounded on the vendored google/safebrowsing package's database.go
// Update method (additions/removals/checksum/backoff sequencing), with
// the backoff formula itself replaced by the fixed minute-bucket table
// this specification defines, since it differs from the vendored code's
// continuous 2**N*jitter formula. Per-list apply concurrency is bounded
// with a semaphore.Weighted, following ocsp/responder/live's use of the
// same primitive to cap in-flight work.
package update

import (
	"bytes"
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"golang.org/x/sync/semaphore"

	"github.com/letsencrypt/gsb/blog"
	"github.com/letsencrypt/gsb/gsbapi"
	"github.com/letsencrypt/gsb/internal/hashprefix"
	"github.com/letsencrypt/gsb/metrics"
	"github.com/letsencrypt/gsb/storage"
	"github.com/letsencrypt/gsb/threatlist"
)

// listApplyConcurrency bounds how many lists' Save/checksum work runs at
// once. Each list is an independent storage write, but a response with
// dozens of lists shouldn't open dozens of simultaneous transactions.
const listApplyConcurrency = 4

// Result is the outcome of a call to Engine.Update.
type Result int

const (
	DatabaseReset Result = -6
	InternalError Result = -3
	ServerError   Result = -2
	NoUpdate      Result = -1
	NoData        Result = 0
	Successful    Result = 1
)

func (r Result) String() string {
	switch r {
	case DatabaseReset:
		return "DATABASE_RESET"
	case InternalError:
		return "INTERNAL_ERROR"
	case ServerError:
		return "SERVER_ERROR"
	case NoUpdate:
		return "NO_UPDATE"
	case NoData:
		return "NO_DATA"
	case Successful:
		return "SUCCESSFUL"
	default:
		return "UNKNOWN"
	}
}

// Engine drives updates for a Store against a Safe Browsing API client.
// It caches the list catalog after the first wildcard or empty-selector
// expansion, per this system's design notes; that cache is not safe for
// concurrent use, matching the single-threaded contract callers must
// enforce for Update and Lookup alike.
type Engine struct {
	api     *gsbapi.Client
	store   storage.Store
	clk     clock.Clock
	stats   metrics.Scope
	catalog []threatlist.Id
}

// New constructs an Engine.
func New(api *gsbapi.Client, store storage.Store, clk clock.Clock, stats metrics.Scope) *Engine {
	return &Engine{api: api, store: store, clk: clk, stats: stats.NewScope("update")}
}

// Update fetches and applies threat-list updates for the lists selectors
// expand to. If force is false and the schedule's next-update time has
// not yet arrived, it returns NoUpdate without contacting the service.
func (e *Engine) Update(ctx context.Context, selectors []threatlist.Selector, force bool) (Result, error) {
	now := e.clk.Now()

	sched, err := e.store.LastUpdate(ctx)
	if err != nil {
		return InternalError, err
	}
	if !force && !sched.NextUpdate.IsZero() && sched.NextUpdate.After(now) {
		return NoUpdate, nil
	}

	lists, err := e.expand(ctx, selectors)
	if err != nil {
		return InternalError, err
	}

	reqs := make([]gsbapi.UpdateRequest, len(lists))
	for i, list := range lists {
		state, err := e.store.GetState(ctx, list)
		if err != nil {
			return InternalError, err
		}
		reqs[i] = gsbapi.UpdateRequest{List: list, State: state}
	}

	result, err := e.api.FetchUpdates(ctx, reqs)
	if err != nil {
		wait := BackoffFor(sched.ConsecutiveErrors + 1)
		if updErr := e.store.UpdateError(ctx, now, wait, sched.ConsecutiveErrors+1); updErr != nil {
			blog.Error(ctx, "recording update error", updErr)
		}
		e.stats.Inc("ServerErrors", 1)
		return ServerError, err
	}

	overall := NoData
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(listApplyConcurrency)
	for _, resp := range result.Responses {
		resp := resp
		if err := sem.Acquire(ctx, 1); err != nil {
			blog.Error(ctx, "acquiring list-apply semaphore", err, blog.ThreatList(resp.List.String()))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			e.applyResponse(ctx, resp, &mu, &overall)
		}()
	}
	wg.Wait()

	next := now.Add(result.MinimumWait)
	if err := e.store.Updated(ctx, now, next); err != nil {
		return InternalError, err
	}

	return overall, nil
}

// applyResponse saves and checksum-verifies a single list's response,
// updating the shared overall Result under mu. Run concurrently across
// lists by Update, since each list is an independent storage write.
func (e *Engine) applyResponse(ctx context.Context, resp gsbapi.ListUpdateResponse, mu *sync.Mutex, overall *Result) {
	sortedTable, err := e.store.Save(ctx, resp.List, resp.NewState, resp.Additions, resp.RemovalIndices, resp.FullUpdate)
	if err != nil {
		blog.Error(ctx, "saving list update, skipping", err, blog.ThreatList(resp.List.String()))
		return
	}

	computed := hashprefix.ChecksumSHA256(sortedTable)
	if !bytes.Equal(computed, resp.ChecksumSHA256) {
		blog.AuditError(ctx, "checksum mismatch, resetting list", nil, blog.ThreatList(resp.List.String()))
		if err := e.store.Reset(ctx, resp.List); err != nil {
			blog.Error(ctx, "resetting list after checksum mismatch", err, blog.ThreatList(resp.List.String()))
		}
		mu.Lock()
		*overall = DatabaseReset
		mu.Unlock()
		return
	}

	if len(resp.Additions) > 0 {
		mu.Lock()
		if *overall != DatabaseReset {
			*overall = Successful
		}
		mu.Unlock()
	}
}

// expand resolves selectors into concrete list identities, fetching and
// caching the service's catalog if any selector is a wildcard or none
// were given.
func (e *Engine) expand(ctx context.Context, selectors []threatlist.Selector) ([]threatlist.Id, error) {
	needCatalog := len(selectors) == 0
	for _, s := range selectors {
		if !s.IsExact() {
			needCatalog = true
		}
	}
	if needCatalog && e.catalog == nil {
		catalog, err := e.api.GetThreatLists(ctx)
		if err != nil {
			return nil, err
		}
		e.catalog = catalog
	}
	if len(selectors) == 0 {
		return e.catalog, nil
	}
	return threatlist.Expand(selectors, e.catalog), nil
}

// backoffTable holds, for consecutive-error counts 2 through 5, the
// [min,max] minute range the next retry is drawn from.
var backoffTable = map[int][2]time.Duration{
	2: {30 * time.Minute, 60 * time.Minute},
	3: {60 * time.Minute, 120 * time.Minute},
	4: {120 * time.Minute, 240 * time.Minute},
	5: {240 * time.Minute, 480 * time.Minute},
}

// BackoffFor returns the wait duration for the nth consecutive update
// failure, per this system's fixed minute-bucket backoff table.
func BackoffFor(n int) time.Duration {
	if n <= 1 {
		return 60 * time.Second
	}
	if n >= 6 {
		return 480 * time.Minute
	}
	bounds := backoffTable[n]
	span := bounds[1] - bounds[0]
	return bounds[0] + time.Duration(rand.Int63n(int64(span)+1))
}
