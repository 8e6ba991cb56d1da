// Package gsb is a client library for the Google Safe Browsing v4 Update
// API: it maintains a local mirror of the service's threat-list prefix
// tables, applies incremental updates on a schedule, and answers lookups
// against that mirror with server-confirmed full hashes.
//
// Grounded on the vendored google/safebrowsing package's SafeBrowser
// (NewSafeBrowser/LookupURLs shape), generalized to drive its update and
// lookup logic through this module's storage.Store interface rather than
// an in-process database, and on this system's single-mutex concurrency
// contract in place of SafeBrowser's background updater goroutine.
package gsb

import (
	"context"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt/gsb/errors"
	"github.com/letsencrypt/gsb/gsbapi"
	"github.com/letsencrypt/gsb/lookup"
	"github.com/letsencrypt/gsb/metrics"
	"github.com/letsencrypt/gsb/storage"
	"github.com/letsencrypt/gsb/threatlist"
	"github.com/letsencrypt/gsb/update"
)

const (
	// DefaultBase is the production Safe Browsing Update API endpoint.
	DefaultBase = "https://safebrowsing.googleapis.com"
	// DefaultTimeout bounds each HTTP call made to the service.
	DefaultTimeout = 60 * time.Second
	// DefaultClientID identifies this library to the service when the
	// embedder does not provide its own.
	DefaultClientID = "letsencrypt-gsb"
	// DefaultClientVersion is sent alongside DefaultClientID.
	DefaultClientVersion = "1.0.0"
)

// Config configures a Client.
type Config struct {
	// Key is the Safe Browsing API key. Required.
	Key string
	// Store is this client's persistence backend. Required.
	Store storage.Store

	// Lists restricts Update and Lookup to the given threat-list
	// selectors (e.g. "MALWARE/WINDOWS/URL", or "MALWARE/*/*"). If
	// empty, the full service catalog is used.
	Lists []string

	// Base overrides the service's base URL. Defaults to DefaultBase.
	Base string
	// HTTPTimeout overrides the per-request timeout. Defaults to
	// DefaultTimeout.
	HTTPTimeout time.Duration
	// ClientID and ClientVersion identify this client to the service.
	// Default to DefaultClientID and DefaultClientVersion.
	ClientID      string
	ClientVersion string

	// Clk overrides the clock used for scheduling and cache expiry.
	// Defaults to the real clock; tests may inject a fake.
	Clk clock.Clock
	// Stats receives operational counters. Defaults to a no-op scope.
	Stats metrics.Scope
}

// Client is the top-level Safe Browsing client: it owns an API
// transport, a storage backend, and the Update and Lookup engines built
// on top of them.
//
// Per this library's single-threaded contract, Client serializes Update
// and Lookup against each other with a single mutex; callers needing
// concurrent throughput should partition work across multiple Clients
// sharing a concurrency-safe Store.
type Client struct {
	mu sync.Mutex

	api       *gsbapi.Client
	store     storage.Store
	selectors []threatlist.Selector
	catalog   []threatlist.Id

	updater *update.Engine
	lookup  *lookup.Engine
}

// New constructs a Client from conf.
func New(conf Config) (*Client, error) {
	if conf.Store == nil {
		return nil, errors.New(errors.Malformed, "gsb: Config.Store is required")
	}

	timeout := conf.HTTPTimeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	clientID := conf.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}
	clientVersion := conf.ClientVersion
	if clientVersion == "" {
		clientVersion = DefaultClientVersion
	}
	clk := conf.Clk
	if clk == nil {
		clk = clock.Default()
	}
	stats := conf.Stats
	if stats == nil {
		stats = metrics.NewNoopScope()
	}

	api, err := gsbapi.New(conf.Base, conf.Key, clientID, clientVersion, timeout, stats)
	if err != nil {
		return nil, err
	}

	selectors := make([]threatlist.Selector, len(conf.Lists))
	for i, s := range conf.Lists {
		sel, err := threatlist.ParseSelector(s)
		if err != nil {
			return nil, err
		}
		selectors[i] = sel
	}

	return &Client{
		api:       api,
		store:     conf.Store,
		selectors: selectors,
		updater:   update.New(api, conf.Store, clk, stats),
		lookup:    lookup.New(api, conf.Store, clk, stats),
	}, nil
}

// GetLists fetches and returns the service's current threat-list
// catalog.
func (c *Client) GetLists(ctx context.Context) ([]threatlist.Id, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.api.GetThreatLists(ctx)
}

// Update fetches and applies incremental updates for this client's
// configured lists, or all of listOverride's selectors if non-empty. It
// returns the status codes defined by update.Result. force bypasses the
// schedule's next-update check.
func (c *Client) Update(ctx context.Context, listOverride []string, force bool) (update.Result, error) {
	selectors, err := c.resolveSelectors(listOverride)
	if err != nil {
		return update.InternalError, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updater.Update(ctx, selectors, force)
}

// Lookup checks rawURL against this client's configured lists, or all
// of listOverride's selectors if non-empty, returning zero or more
// confirmed matches.
func (c *Client) Lookup(ctx context.Context, rawURL string, listOverride []string) ([]lookup.Match, error) {
	selectors, err := c.resolveSelectors(listOverride)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	lists, err := c.expand(ctx, selectors)
	if err != nil {
		return nil, err
	}
	return c.lookup.Lookup(ctx, rawURL, lists)
}

// expand resolves selectors into concrete list identities, fetching and
// caching the service's catalog the first time any selector is a
// wildcard or none were given, so repeated default-config lookups reuse
// it instead of fetching it on every call. Mirrors update.Engine's own
// per-Engine catalog cache.
func (c *Client) expand(ctx context.Context, selectors []threatlist.Selector) ([]threatlist.Id, error) {
	if len(selectors) == 0 || hasWildcard(selectors) {
		if c.catalog == nil {
			catalog, err := c.api.GetThreatLists(ctx)
			if err != nil {
				return nil, err
			}
			c.catalog = catalog
		}
	}
	if len(selectors) == 0 {
		return c.catalog, nil
	}
	return threatlist.Expand(selectors, c.catalog), nil
}

func (c *Client) resolveSelectors(listOverride []string) ([]threatlist.Selector, error) {
	if len(listOverride) == 0 {
		return c.selectors, nil
	}
	selectors := make([]threatlist.Selector, len(listOverride))
	for i, s := range listOverride {
		sel, err := threatlist.ParseSelector(s)
		if err != nil {
			return nil, err
		}
		selectors[i] = sel
	}
	return selectors, nil
}

func hasWildcard(selectors []threatlist.Selector) bool {
	for _, s := range selectors {
		if !s.IsExact() {
			return true
		}
	}
	return false
}
