package lookup

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt/gsb/gsbapi"
	"github.com/letsencrypt/gsb/internal/hashprefix"
	"github.com/letsencrypt/gsb/internal/test"
	"github.com/letsencrypt/gsb/metrics"
	"github.com/letsencrypt/gsb/storage"
	"github.com/letsencrypt/gsb/storage/memstore"
	"github.com/letsencrypt/gsb/threatlist"
)

var malware = threatlist.New("MALWARE", "ANY_PLATFORM", "URL")

func testEngine(t *testing.T, handler http.HandlerFunc) (*Engine, *memstore.Store, *httptest.Server) {
	srv := httptest.NewServer(handler)
	api, err := gsbapi.New(srv.URL, "test-key", "gsb-test", "1.0", 5*time.Second, metrics.NewNoopScope())
	test.AssertNotError(t, err, "constructing api client")
	store := memstore.New()
	engine := New(api, store, clock.NewFake(), metrics.NewNoopScope())
	return engine, store, srv
}

func TestLookupInvalidURLReturnsEmpty(t *testing.T) {
	engine, _, srv := testEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not have been contacted")
	})
	defer srv.Close()

	matches, err := engine.Lookup(context.Background(), "not a url at all\x00", []threatlist.Id{malware})
	test.AssertNotError(t, err, "looking up invalid url")
	test.AssertEquals(t, len(matches), 0)
}

func TestLookupNoLocalPrefixReturnsEmpty(t *testing.T) {
	engine, _, srv := testEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not have been contacted")
	})
	defer srv.Close()

	matches, err := engine.Lookup(context.Background(), "http://example.com/", []threatlist.Id{malware})
	test.AssertNotError(t, err, "looking up clean url")
	test.AssertEquals(t, len(matches), 0)
}

func TestLookupReturnsCachedHitWithoutNetworkCall(t *testing.T) {
	engine, store, srv := testEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not have been contacted for a cached hit")
	})
	defer srv.Close()

	full := hashprefix.Of("example.com/")
	_, err := store.Save(context.Background(), malware, "state-1", [][]byte{full.Prefix(4)}, nil, true)
	test.AssertNotError(t, err, "seeding prefix table")

	err = store.AddFullHashes(context.Background(), []storage.FullHashEntry{{
		Hash:      [32]byte(full),
		List:      malware,
		Metadata:  map[string][]byte{"malware_threat_type": []byte("landing")},
		ExpiresAt: time.Now().Add(time.Hour),
	}}, time.Now())
	test.AssertNotError(t, err, "seeding full-hash cache")

	matches, err := engine.Lookup(context.Background(), "http://example.com/", []threatlist.Id{malware})
	test.AssertNotError(t, err, "looking up cached url")
	test.AssertEquals(t, len(matches), 1)
	test.AssertEquals(t, matches[0].List, malware)
}

func TestLookupConfirmsAndCachesMiss(t *testing.T) {
	full := hashprefix.Of("example.com/")

	engine, store, srv := testEngine(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ThreatInfo struct {
				ThreatEntries []struct {
					Hash string `json:"hash"`
				} `json:"threatEntries"`
			} `json:"threatInfo"`
		}
		test.AssertNotError(t, json.NewDecoder(r.Body).Decode(&req), "decoding request")
		test.AssertEquals(t, len(req.ThreatInfo.ThreatEntries), 1)
		test.AssertEquals(t, req.ThreatInfo.ThreatEntries[0].Hash, base64.StdEncoding.EncodeToString(full.Prefix(4)))

		_ = json.NewEncoder(w).Encode(struct {
			Matches []map[string]interface{} `json:"matches"`
		}{
			Matches: []map[string]interface{}{{
				"threatType": "MALWARE", "platformType": "ANY_PLATFORM", "threatEntryType": "URL",
				"threat":        map[string]string{"hash": base64.StdEncoding.EncodeToString(full.Bytes())},
				"cacheDuration": "300.000s",
			}},
		})
	})
	defer srv.Close()

	_, err := store.Save(context.Background(), malware, "state-1", [][]byte{full.Prefix(4)}, nil, true)
	test.AssertNotError(t, err, "seeding prefix table")

	matches, err := engine.Lookup(context.Background(), "http://example.com/", []threatlist.Id{malware})
	test.AssertNotError(t, err, "looking up url")
	test.AssertEquals(t, len(matches), 1)
	test.AssertEquals(t, matches[0].List, malware)
	test.AssertEquals(t, matches[0].CacheDuration, 300*time.Second)

	cached, err := store.GetFullHashes(context.Background(), [32]byte(full), []threatlist.Id{malware}, engine.clk.Now())
	test.AssertNotError(t, err, "reading back cache")
	test.AssertEquals(t, len(cached), 1)
}

func TestLookupNetworkFailureReturnsEmptyWithoutError(t *testing.T) {
	full := hashprefix.Of("example.com/")

	engine, store, srv := testEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := store.Save(context.Background(), malware, "state-1", [][]byte{full.Prefix(4)}, nil, true)
	test.AssertNotError(t, err, "seeding prefix table")

	matches, err := engine.Lookup(context.Background(), "http://example.com/", []threatlist.Id{malware})
	test.AssertNotError(t, err, "expected no error on network failure")
	test.AssertEquals(t, len(matches), 0)
}
