package gsb

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt/gsb/internal/test"
	"github.com/letsencrypt/gsb/storage/memstore"
	"github.com/letsencrypt/gsb/update"
)

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Config{Key: "test-key"})
	test.AssertError(t, err, "expected error for missing Store")
}

func TestNewRejectsInvalidListSelector(t *testing.T) {
	_, err := New(Config{Key: "test-key", Store: memstore.New(), Lists: []string{"not-a-selector"}})
	test.AssertError(t, err, "expected error for malformed list selector")
}

func TestClientUpdateAndLookupRoundTrip(t *testing.T) {
	full := []byte{0x10, 0x20, 0x30, 0x40}

	mux := http.NewServeMux()
	mux.HandleFunc("/v4/threatListUpdates:fetch", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(struct {
			ListUpdateResponses []map[string]interface{} `json:"listUpdateResponses"`
			MinimumWaitDuration string                    `json:"minimumWaitDuration"`
		}{
			ListUpdateResponses: []map[string]interface{}{{
				"threatType": "MALWARE", "platformType": "ANY_PLATFORM", "threatEntryType": "URL",
				"responseType": "FULL_UPDATE",
				"additions": []map[string]interface{}{{
					"rawHashes": map[string]interface{}{
						"prefixSize": 4,
						"rawHashes":  base64.StdEncoding.EncodeToString(full),
					},
				}},
				"newClientState": "state-1",
				"checksum":       map[string]interface{}{"sha256": checksumFor(full)},
			}},
			MinimumWaitDuration: "1800s",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := memstore.New()
	client, err := New(Config{
		Key:   "test-key",
		Store: store,
		Lists: []string{"MALWARE/ANY_PLATFORM/URL"},
		Base:  srv.URL,
		Clk:   clock.NewFake(),
	})
	test.AssertNotError(t, err, "constructing client")

	result, err := client.Update(context.Background(), nil, false)
	test.AssertNotError(t, err, "updating")
	test.Assert(t, result == update.Successful, "expected Successful, got "+result.String())

	matches, err := client.Lookup(context.Background(), "http://clean.example.com/", nil)
	test.AssertNotError(t, err, "looking up clean url")
	test.AssertEquals(t, len(matches), 0)
}

func checksumFor(hashes ...[]byte) string {
	var concat []byte
	for _, h := range hashes {
		concat = append(concat, h...)
	}
	sum := sha256.Sum256(concat)
	return base64.StdEncoding.EncodeToString(sum[:])
}
