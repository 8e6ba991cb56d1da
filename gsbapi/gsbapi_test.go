package gsbapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/letsencrypt/gsb/internal/test"
	"github.com/letsencrypt/gsb/metrics"
	"github.com/letsencrypt/gsb/threatlist"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c, err := New(srv.URL, "test-key", "gsb-test", "1.0", 5*time.Second, metrics.NewNoopScope())
	test.AssertNotError(t, err, "constructing client")
	return c, srv
}

func TestGetThreatLists(t *testing.T) {
	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		test.AssertEquals(t, r.URL.Path, threatListsPath)
		test.AssertEquals(t, r.URL.Query().Get("key"), "test-key")
		_ = json.NewEncoder(w).Encode(threatListsResponse{
			ThreatLists: []wireThreatList{
				{ThreatType: "MALWARE", PlatformType: "ANY_PLATFORM", ThreatEntryType: "URL"},
			},
		})
	})
	defer srv.Close()

	lists, err := c.GetThreatLists(context.Background())
	test.AssertNotError(t, err, "fetching lists")
	test.AssertEquals(t, len(lists), 1)
	test.AssertEquals(t, lists[0], threatlist.New("MALWARE", "ANY_PLATFORM", "URL"))
}

func TestFetchUpdatesDecodesAdditionsAndChecksum(t *testing.T) {
	rawPrefixes := []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xBB, 0xBB, 0xBB, 0xBB}
	checksum := []byte{1, 2, 3, 4}

	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		test.AssertEquals(t, r.URL.Path, fetchUpdatesPath)
		var req fetchUpdatesRequest
		test.AssertNotError(t, json.NewDecoder(r.Body).Decode(&req), "decoding request")
		test.AssertEquals(t, len(req.ListUpdateRequests), 1)
		test.AssertDeepEquals(t, req.ListUpdateRequests[0].Constraints.SupportedCompressions, []string{"RAW"})

		_ = json.NewEncoder(w).Encode(fetchUpdatesResponse{
			ListUpdateResponses: []wireListUpdateResponse{{
				ThreatType: "MALWARE", PlatformType: "ANY_PLATFORM", ThreatEntryType: "URL",
				ResponseType: "FULL_UPDATE",
				Additions: []addition{{RawHashes: rawHashes{
					PrefixSize: 4,
					RawHashes:  base64.StdEncoding.EncodeToString(rawPrefixes),
				}}},
				NewClientState: "opaque-state",
				Checksum:       wireChecksum{SHA256: base64.StdEncoding.EncodeToString(checksum)},
			}},
			MinimumWaitDuration: "1234.5s",
		})
	})
	defer srv.Close()

	result, err := c.FetchUpdates(context.Background(), []UpdateRequest{
		{List: threatlist.New("MALWARE", "ANY_PLATFORM", "URL"), State: ""},
	})
	test.AssertNotError(t, err, "fetching updates")
	test.AssertEquals(t, result.MinimumWait, time.Duration(1234500)*time.Millisecond)
	test.AssertEquals(t, len(result.Responses), 1)

	resp := result.Responses[0]
	test.Assert(t, resp.FullUpdate, "expected FULL_UPDATE")
	test.AssertEquals(t, resp.NewState, "opaque-state")
	test.AssertDeepEquals(t, resp.ChecksumSHA256, checksum)
	test.AssertEquals(t, len(resp.Additions), 2)
	test.AssertByteEquals(t, resp.Additions[0], []byte{0xAA, 0xAA, 0xAA, 0xAA})
	test.AssertByteEquals(t, resp.Additions[1], []byte{0xBB, 0xBB, 0xBB, 0xBB})
}

func TestFetchUpdatesSurfacesHTTPErrorsAsTransportError(t *testing.T) {
	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := c.FetchUpdates(context.Background(), nil)
	test.AssertError(t, err, "expected error for 500 response")
}

func TestFindFullHashesDecodesMetadata(t *testing.T) {
	fullHash := make([]byte, 32)
	fullHash[0] = 0x42

	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		test.AssertEquals(t, r.URL.Path, findHashesPath)
		_ = json.NewEncoder(w).Encode(fullHashResponse{
			Matches: []wireMatch{{
				ThreatType: "MALWARE", PlatformType: "ANY_PLATFORM", ThreatEntryType: "URL",
				Threat:        threatHash{Hash: base64.StdEncoding.EncodeToString(fullHash)},
				CacheDuration: "300.000s",
				ThreatEntryMetadata: &threatEntryMetadata{
					Entries: []metadataEntry{{
						Key:   base64.StdEncoding.EncodeToString([]byte("malware_threat_type")),
						Value: base64.StdEncoding.EncodeToString([]byte("landing")),
					}},
				},
			}},
		})
	})
	defer srv.Close()

	matches, err := c.FindFullHashes(context.Background(), FullHashQuery{
		Prefixes: [][]byte{{0x42}},
	})
	test.AssertNotError(t, err, "finding full hashes")
	test.AssertEquals(t, len(matches), 1)
	test.AssertEquals(t, matches[0].CacheDuration, 300*time.Second)
	test.AssertByteEquals(t, matches[0].Metadata["malware_threat_type"], []byte("landing"))
}
