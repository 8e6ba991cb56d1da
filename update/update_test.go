package update

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt/gsb/blog"
	"github.com/letsencrypt/gsb/gsbapi"
	"github.com/letsencrypt/gsb/internal/test"
	"github.com/letsencrypt/gsb/metrics"
	"github.com/letsencrypt/gsb/storage/memstore"
	"github.com/letsencrypt/gsb/threatlist"
)

func testEngine(t *testing.T, handler http.HandlerFunc) (*Engine, *memstore.Store, *httptest.Server) {
	srv := httptest.NewServer(handler)
	api, err := gsbapi.New(srv.URL, "test-key", "gsb-test", "1.0", 5*time.Second, metrics.NewNoopScope())
	test.AssertNotError(t, err, "constructing api client")
	store := memstore.New()
	engine := New(api, store, clock.NewFake(), metrics.NewNoopScope())
	return engine, store, srv
}

var malware = threatlist.New("MALWARE", "ANY_PLATFORM", "URL")

func fullUpdateResponse(t *testing.T, hashes [][]byte, newState string) []byte {
	sorted := append([][]byte{}, hashes...)
	var concat []byte
	for _, h := range sorted {
		concat = append(concat, h...)
	}
	sum := sha256.Sum256(concat)

	var raw []byte
	for _, h := range hashes {
		raw = append(raw, h...)
	}

	body, err := json.Marshal(struct {
		ListUpdateResponses []map[string]interface{} `json:"listUpdateResponses"`
		MinimumWaitDuration string                    `json:"minimumWaitDuration"`
	}{
		ListUpdateResponses: []map[string]interface{}{{
			"threatType": "MALWARE", "platformType": "ANY_PLATFORM", "threatEntryType": "URL",
			"responseType": "FULL_UPDATE",
			"additions": []map[string]interface{}{{
				"rawHashes": map[string]interface{}{
					"prefixSize": 4,
					"rawHashes":  base64.StdEncoding.EncodeToString(raw),
				},
			}},
			"newClientState": newState,
			"checksum":       map[string]interface{}{"sha256": base64.StdEncoding.EncodeToString(sum[:])},
		}},
		MinimumWaitDuration: "1800s",
	})
	test.AssertNotError(t, err, "marshaling response")
	return body
}

func TestUpdateSuccessfulFullUpdate(t *testing.T) {
	h1, h2, h3 := []byte{0x01, 0x01, 0x01, 0x01}, []byte{0x02, 0x02, 0x02, 0x02}, []byte{0x03, 0x03, 0x03, 0x03}

	engine, store, srv := testEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(fullUpdateResponse(t, [][]byte{h1, h2, h3}, "state-1"))
	})
	defer srv.Close()

	result, err := engine.Update(context.Background(), []threatlist.Selector{mustSelector(t, malware)}, false)
	test.AssertNotError(t, err, "updating")
	test.Assert(t, result == Successful, "expected Successful, got "+result.String())

	state, err := store.GetState(context.Background(), malware)
	test.AssertNotError(t, err, "getting state")
	test.AssertEquals(t, state, "state-1")
}

func TestUpdateChecksumMismatchResetsList(t *testing.T) {
	engine, store, srv := testEngine(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(struct {
			ListUpdateResponses []map[string]interface{} `json:"listUpdateResponses"`
			MinimumWaitDuration string                    `json:"minimumWaitDuration"`
		}{
			ListUpdateResponses: []map[string]interface{}{{
				"threatType": "MALWARE", "platformType": "ANY_PLATFORM", "threatEntryType": "URL",
				"responseType":   "FULL_UPDATE",
				"newClientState": "bad-state",
				"checksum":       map[string]interface{}{"sha256": base64.StdEncoding.EncodeToString([]byte("not-the-real-checksum!"))},
			}},
			MinimumWaitDuration: "1800s",
		})
	})
	defer srv.Close()

	_, err := store.Save(context.Background(), malware, "old-state", [][]byte{{0xAA, 0xAA, 0xAA, 0xAA}}, nil, true)
	test.AssertNotError(t, err, "seeding store")

	// A checksum mismatch is audit-logged, and blog's logging functions
	// need a context that carries a logger.
	lc, err := blog.New(blog.Config{SyslogLevel: -1}, "update-test")
	test.AssertNotError(t, err, "constructing logger")
	ctx := lc.Context(context.Background())

	result, err := engine.Update(ctx, []threatlist.Selector{mustSelector(t, malware)}, false)
	test.AssertNotError(t, err, "updating")
	test.Assert(t, result == DatabaseReset, "expected DatabaseReset, got "+result.String())

	state, err := store.GetState(context.Background(), malware)
	test.AssertNotError(t, err, "getting state")
	test.AssertEquals(t, state, "")
}

func TestUpdateHonorsNextUpdateUnlessForced(t *testing.T) {
	called := false
	engine, store, srv := testEngine(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write(fullUpdateResponse(t, nil, ""))
	})
	defer srv.Close()

	err := store.Updated(context.Background(), time.Now(), time.Now().Add(time.Hour))
	test.AssertNotError(t, err, "seeding schedule")

	result, err := engine.Update(context.Background(), []threatlist.Selector{mustSelector(t, malware)}, false)
	test.AssertNotError(t, err, "updating")
	test.Assert(t, result == NoUpdate, "expected NoUpdate")
	test.Assert(t, !called, "server should not have been contacted")

	result, err = engine.Update(context.Background(), []threatlist.Selector{mustSelector(t, malware)}, true)
	test.AssertNotError(t, err, "forced updating")
	test.Assert(t, called, "server should have been contacted when forced")
	test.Assert(t, result == NoData, "expected NoData for an update with no additions, got "+result.String())
}

func TestUpdateServerErrorRecordsBackoff(t *testing.T) {
	engine, store, srv := testEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	result, err := engine.Update(context.Background(), []threatlist.Selector{mustSelector(t, malware)}, false)
	test.AssertError(t, err, "expected transport error")
	test.Assert(t, result == ServerError, "expected ServerError")

	sched, err := store.LastUpdate(context.Background())
	test.AssertNotError(t, err, "getting schedule")
	test.AssertEquals(t, sched.ConsecutiveErrors, 1)
}

func TestBackoffForRanges(t *testing.T) {
	test.AssertEquals(t, BackoffFor(1), 60*time.Second)
	test.AssertEquals(t, BackoffFor(6), 480*time.Minute)
	test.AssertEquals(t, BackoffFor(100), 480*time.Minute)

	for i := 0; i < 50; i++ {
		d := BackoffFor(2)
		test.Assert(t, d >= 30*time.Minute && d <= 60*time.Minute, "backoff(2) out of range")
	}
}

func mustSelector(t *testing.T, id threatlist.Id) threatlist.Selector {
	t.Helper()
	sel, err := threatlist.ParseSelector(id.String())
	test.AssertNotError(t, err, "parsing selector")
	return sel
}
