// Package gsbapi is the HTTP/JSON transport for the Safe Browsing v4
// Update API's three REST endpoints. It owns request/response wire
// shapes and base64/duration decoding; it has no opinion about update
// scheduling or lookup orchestration.
//
// Grounded on the vendored google/safebrowsing package's netAPI/doRequest
// shape (single http.Client, path constants, key query param), adapted
// from protobuf to JSON, and on akamai.CachePurgeClient's stats injection
// and latency instrumentation.
package gsbapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmhodges/clock"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/letsencrypt/gsb/errors"
	"github.com/letsencrypt/gsb/internal/hashprefix"
	"github.com/letsencrypt/gsb/metrics"
	"github.com/letsencrypt/gsb/threatlist"
)

const (
	defaultBase      = "https://safebrowsing.googleapis.com"
	threatListsPath  = "/v4/threatLists"
	fetchUpdatesPath = "/v4/threatListUpdates:fetch"
	findHashesPath   = "/v4/fullHashes:find"
)

// Client talks to the Safe Browsing Update API over HTTPS.
type Client struct {
	httpClient    *http.Client
	base          *url.URL
	key           string
	clientID      string
	clientVersion string
	clk           clock.Clock
	stats         metrics.Scope
}

// New constructs a Client. base defaults to the production Safe Browsing
// endpoint when empty. key, clientID, and clientVersion are required by
// the service on every request.
func New(base, key, clientID, clientVersion string, timeout time.Duration, stats metrics.Scope) (*Client, error) {
	if base == "" {
		base = defaultBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	stats = stats.NewScope("gsbapi")
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		base:          u,
		key:           key,
		clientID:      clientID,
		clientVersion: clientVersion,
		clk:           clock.Default(),
		stats:         stats,
	}, nil
}

func (c *Client) urlFor(path string) string {
	u := *c.base
	u.Path = path
	q := u.Query()
	q.Set("key", c.key)
	u.RawQuery = q.Encode()
	return u.String()
}

// doJSON performs an HTTP request with an optional JSON body and decodes a
// JSON response into resp. method is "GET" or "POST"; a nil body omits the
// request payload.
func (c *Client) doJSON(ctx context.Context, method, fullURL string, body, resp interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.New(errors.ProtocolError, "marshaling request: %s", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return errors.New(errors.TransportError, "building request: %s", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := c.clk.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	c.stats.TimingDuration("RequestLatency", c.clk.Since(start))
	if err != nil {
		c.stats.Inc("TransportErrors", 1)
		return errors.New(errors.TransportError, "request to %s: %s", fullURL, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return errors.New(errors.TransportError, "reading response body: %s", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		c.stats.Inc("HTTPErrors", 1)
		return errors.New(errors.TransportError, "unexpected status %d from %s: %s", httpResp.StatusCode, fullURL, respBody)
	}

	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, resp); err != nil {
		return errors.New(errors.ProtocolError, "unmarshaling response from %s: %s", fullURL, err)
	}
	return nil
}

type wireThreatList struct {
	ThreatType      string `json:"threatType"`
	PlatformType    string `json:"platformType"`
	ThreatEntryType string `json:"threatEntryType"`
}

type threatListsResponse struct {
	ThreatLists []wireThreatList `json:"threatLists"`
}

// GetThreatLists fetches the catalog of threat lists the service supports.
func (c *Client) GetThreatLists(ctx context.Context) ([]threatlist.Id, error) {
	var resp threatListsResponse
	if err := c.doJSON(ctx, http.MethodGet, c.urlFor(threatListsPath), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]threatlist.Id, len(resp.ThreatLists))
	for i, l := range resp.ThreatLists {
		out[i] = threatlist.New(l.ThreatType, l.PlatformType, l.ThreatEntryType)
	}
	return out, nil
}

// UpdateRequest names a list and the client's current state for it.
type UpdateRequest struct {
	List  threatlist.Id
	State string
}

type clientInfo struct {
	ClientID      string `json:"clientId"`
	ClientVersion string `json:"clientVersion"`
}

type constraints struct {
	SupportedCompressions []string `json:"supportedCompressions"`
}

type wireUpdateRequest struct {
	ThreatType      string      `json:"threatType"`
	PlatformType    string      `json:"platformType"`
	ThreatEntryType string      `json:"threatEntryType"`
	State           string      `json:"state"`
	Constraints     constraints `json:"constraints"`
}

type fetchUpdatesRequest struct {
	Client             clientInfo          `json:"client"`
	ListUpdateRequests []wireUpdateRequest `json:"listUpdateRequests"`
}

type rawHashes struct {
	PrefixSize int    `json:"prefixSize"`
	RawHashes  string `json:"rawHashes"`
}

type addition struct {
	RawHashes rawHashes `json:"rawHashes"`
}

type rawIndices struct {
	Indices []int `json:"indices"`
}

type removal struct {
	RawIndices rawIndices `json:"rawIndices"`
}

type wireChecksum struct {
	SHA256 string `json:"sha256"`
}

type wireListUpdateResponse struct {
	ThreatType      string     `json:"threatType"`
	PlatformType    string     `json:"platformType"`
	ThreatEntryType string     `json:"threatEntryType"`
	ResponseType    string     `json:"responseType"`
	Additions       []addition `json:"additions"`
	Removals        []removal  `json:"removals"`
	NewClientState  string     `json:"newClientState"`
	Checksum        wireChecksum `json:"checksum"`
}

type fetchUpdatesResponse struct {
	ListUpdateResponses []wireListUpdateResponse `json:"listUpdateResponses"`
	MinimumWaitDuration string                    `json:"minimumWaitDuration"`
}

// ListUpdateResponse is a decoded per-list update: raw additions split into
// hashprefix.MinLength..hashprefix.FullLength-byte chunks, removal indices,
// the new state token, and the server's checksum.
type ListUpdateResponse struct {
	List           threatlist.Id
	FullUpdate     bool
	Additions      [][]byte
	RemovalIndices []int
	NewState       string
	ChecksumSHA256 []byte
}

// FetchUpdatesResult is the decoded response to a threatListUpdates:fetch
// call.
type FetchUpdatesResult struct {
	Responses   []ListUpdateResponse
	MinimumWait time.Duration
}

// FetchUpdates requests incremental updates for reqs.
func (c *Client) FetchUpdates(ctx context.Context, reqs []UpdateRequest) (*FetchUpdatesResult, error) {
	wireReqs := make([]wireUpdateRequest, len(reqs))
	for i, r := range reqs {
		wireReqs[i] = wireUpdateRequest{
			ThreatType:      r.List.ThreatType,
			PlatformType:    r.List.PlatformType,
			ThreatEntryType: r.List.ThreatEntryType,
			State:           r.State,
			Constraints:     constraints{SupportedCompressions: []string{"RAW"}},
		}
	}
	body := fetchUpdatesRequest{
		Client:             clientInfo{ClientID: c.clientID, ClientVersion: c.clientVersion},
		ListUpdateRequests: wireReqs,
	}

	var resp fetchUpdatesResponse
	if err := c.doJSON(ctx, http.MethodPost, c.urlFor(fetchUpdatesPath), body, &resp); err != nil {
		return nil, err
	}

	wait, err := parseServerDuration(resp.MinimumWaitDuration)
	if err != nil {
		return nil, errors.New(errors.ProtocolError, "parsing minimumWaitDuration: %s", err)
	}

	out := make([]ListUpdateResponse, 0, len(resp.ListUpdateResponses))
	for _, r := range resp.ListUpdateResponses {
		additions, err := decodeAdditions(r.Additions)
		if err != nil {
			return nil, errors.New(errors.ProtocolError, "decoding additions for %s/%s/%s: %s", r.ThreatType, r.PlatformType, r.ThreatEntryType, err)
		}
		var indices []int
		for _, rm := range r.Removals {
			indices = append(indices, rm.RawIndices.Indices...)
		}
		checksum, err := base64.StdEncoding.DecodeString(r.Checksum.SHA256)
		if err != nil {
			return nil, errors.New(errors.ProtocolError, "decoding checksum: %s", err)
		}
		out = append(out, ListUpdateResponse{
			List:           threatlist.New(r.ThreatType, r.PlatformType, r.ThreatEntryType),
			FullUpdate:     r.ResponseType == "FULL_UPDATE",
			Additions:      additions,
			RemovalIndices: indices,
			NewState:       r.NewClientState,
			ChecksumSHA256: checksum,
		})
	}

	return &FetchUpdatesResult{Responses: out, MinimumWait: wait}, nil
}

func decodeAdditions(adds []addition) ([][]byte, error) {
	var out [][]byte
	for _, a := range adds {
		if a.RawHashes.PrefixSize < hashprefix.MinLength || a.RawHashes.PrefixSize > hashprefix.FullLength {
			return nil, fmt.Errorf("prefixSize %d out of range [%d,%d]", a.RawHashes.PrefixSize, hashprefix.MinLength, hashprefix.FullLength)
		}
		raw, err := base64.StdEncoding.DecodeString(a.RawHashes.RawHashes)
		if err != nil {
			return nil, fmt.Errorf("decoding rawHashes: %w", err)
		}
		if len(raw)%a.RawHashes.PrefixSize != 0 {
			return nil, fmt.Errorf("rawHashes length %d not a multiple of prefixSize %d", len(raw), a.RawHashes.PrefixSize)
		}
		for i := 0; i < len(raw); i += a.RawHashes.PrefixSize {
			chunk := make([]byte, a.RawHashes.PrefixSize)
			copy(chunk, raw[i:i+a.RawHashes.PrefixSize])
			out = append(out, chunk)
		}
	}
	return out, nil
}

// FullHashQuery is the decoded set of inputs for a fullHashes:find call.
type FullHashQuery struct {
	ClientStates     []string
	ThreatTypes      []string
	PlatformTypes    []string
	ThreatEntryTypes []string
	Prefixes         [][]byte
}

type threatInfo struct {
	ThreatTypes      []string      `json:"threatTypes"`
	PlatformTypes    []string      `json:"platformTypes"`
	ThreatEntryTypes []string      `json:"threatEntryTypes"`
	ThreatEntries    []threatEntry `json:"threatEntries"`
}

type threatEntry struct {
	Hash string `json:"hash"`
}

type fullHashRequest struct {
	Client       clientInfo `json:"client"`
	ClientStates []string   `json:"clientStates"`
	ThreatInfo   threatInfo `json:"threatInfo"`
}

type threatHash struct {
	Hash string `json:"hash"`
}

type metadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type threatEntryMetadata struct {
	Entries []metadataEntry `json:"entries"`
}

type wireMatch struct {
	ThreatType          string               `json:"threatType"`
	PlatformType        string               `json:"platformType"`
	ThreatEntryType     string               `json:"threatEntryType"`
	Threat              threatHash           `json:"threat"`
	CacheDuration       string               `json:"cacheDuration"`
	ThreatEntryMetadata *threatEntryMetadata `json:"threatEntryMetadata"`
}

type fullHashResponse struct {
	Matches               []wireMatch `json:"matches"`
	MinimumWaitDuration   string      `json:"minimumWaitDuration"`
	NegativeCacheDuration string      `json:"negativeCacheDuration"`
}

// FullHashMatch is a single server-confirmed full hash.
type FullHashMatch struct {
	List          threatlist.Id
	Hash          [32]byte
	CacheDuration time.Duration
	Metadata      map[string][]byte
}

// FindFullHashes confirms which of q's candidate prefixes correspond to
// actual full hashes on the service's lists.
func (c *Client) FindFullHashes(ctx context.Context, q FullHashQuery) ([]FullHashMatch, error) {
	entries := make([]threatEntry, len(q.Prefixes))
	for i, p := range q.Prefixes {
		entries[i] = threatEntry{Hash: base64.StdEncoding.EncodeToString(p)}
	}
	body := fullHashRequest{
		Client:       clientInfo{ClientID: c.clientID, ClientVersion: c.clientVersion},
		ClientStates: q.ClientStates,
		ThreatInfo: threatInfo{
			ThreatTypes:      q.ThreatTypes,
			PlatformTypes:    q.PlatformTypes,
			ThreatEntryTypes: q.ThreatEntryTypes,
			ThreatEntries:    entries,
		},
	}

	var resp fullHashResponse
	if err := c.doJSON(ctx, http.MethodPost, c.urlFor(findHashesPath), body, &resp); err != nil {
		return nil, err
	}

	out := make([]FullHashMatch, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		hashBytes, err := base64.StdEncoding.DecodeString(m.Threat.Hash)
		if err != nil || len(hashBytes) != hashprefix.FullLength {
			return nil, errors.New(errors.ProtocolError, "malformed full hash in match: %s", m.Threat.Hash)
		}
		var hash [32]byte
		copy(hash[:], hashBytes)

		duration, err := parseServerDuration(m.CacheDuration)
		if err != nil {
			return nil, errors.New(errors.ProtocolError, "parsing cacheDuration: %s", err)
		}

		metadata := map[string][]byte{}
		if m.ThreatEntryMetadata != nil {
			for _, e := range m.ThreatEntryMetadata.Entries {
				key, err := base64.StdEncoding.DecodeString(e.Key)
				if err != nil {
					return nil, errors.New(errors.ProtocolError, "decoding metadata key: %s", err)
				}
				value, err := base64.StdEncoding.DecodeString(e.Value)
				if err != nil {
					return nil, errors.New(errors.ProtocolError, "decoding metadata value: %s", err)
				}
				metadata[string(key)] = value
			}
		}

		out = append(out, FullHashMatch{
			List:          threatlist.New(m.ThreatType, m.PlatformType, m.ThreatEntryType),
			Hash:          hash,
			CacheDuration: duration,
			Metadata:      metadata,
		})
	}
	return out, nil
}

// parseServerDuration parses the service's "1234.5s"-style duration
// strings.
func parseServerDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	trimmed := strings.TrimSuffix(s, "s")
	if trimmed == s {
		return 0, fmt.Errorf("duration %q missing trailing 's'", s)
	}
	seconds, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", s, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
