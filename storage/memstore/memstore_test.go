package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/letsencrypt/gsb/internal/test"
	"github.com/letsencrypt/gsb/storage"
	"github.com/letsencrypt/gsb/threatlist"
)

var testList = threatlist.New("MALWARE", "ANY_PLATFORM", "URL")

func TestSaveFullUpdateThenGetState(t *testing.T) {
	ctx := context.Background()
	s := New()

	got, err := s.Save(ctx, testList, "state-1", [][]byte{[]byte("bbbb"), []byte("aaaa")}, nil, true)
	test.AssertNotError(t, err, "saving")
	test.AssertDeepEquals(t, got, [][]byte{[]byte("aaaa"), []byte("bbbb")})

	state, err := s.GetState(ctx, testList)
	test.AssertNotError(t, err, "getting state")
	test.AssertEquals(t, state, "state-1")
}

func TestSavePartialUpdateAppliesRemovalsThenAdditions(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Save(ctx, testList, "s0", [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cccc")}, nil, true)
	test.AssertNotError(t, err, "initial save")

	got, err := s.Save(ctx, testList, "s1", nil, []int{0}, false)
	test.AssertNotError(t, err, "partial save")
	test.AssertDeepEquals(t, got, [][]byte{[]byte("bbbb"), []byte("cccc")})
}

func TestResetDropsTableAndState(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Save(ctx, testList, "s0", [][]byte{[]byte("aaaa")}, nil, true)
	test.AssertNotError(t, err, "save")

	err = s.Reset(ctx, testList)
	test.AssertNotError(t, err, "reset")

	state, err := s.GetState(ctx, testList)
	test.AssertNotError(t, err, "get state after reset")
	test.AssertEquals(t, state, "")
}

func TestGetPrefixesReturnsLongestMatch(t *testing.T) {
	ctx := context.Background()
	s := New()

	short := []byte{0xAB, 0xCD}
	long := append(append([]byte{}, short...), 0xEF, 0x01)
	_, err := s.Save(ctx, testList, "s0", [][]byte{append(append([]byte{}, short...), 0, 0), long}, nil, true)
	test.AssertNotError(t, err, "save")

	var hash [32]byte
	copy(hash[:], long)
	hash[4] = 0x99 // bytes past the 4-byte "long" prefix do not affect the match

	got, err := s.GetPrefixes(ctx, [][32]byte{hash}, []threatlist.Id{testList})
	test.AssertNotError(t, err, "get prefixes")
	test.Assert(t, len(got) >= 1, "expected at least one matching prefix")
	if len(got) >= 1 {
		test.AssertByteEquals(t, got[0].Bytes, long)
	}
}

func TestFullHashCacheExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var hash [32]byte
	hash[0] = 0x42
	err := s.AddFullHashes(ctx, []storage.FullHashEntry{
		{Hash: hash, List: testList, ExpiresAt: now.Add(time.Minute)},
	}, now)
	test.AssertNotError(t, err, "adding full hashes")

	got, err := s.GetFullHashes(ctx, hash, []threatlist.Id{testList}, now)
	test.AssertNotError(t, err, "get full hashes before expiry")
	test.AssertEquals(t, len(got), 1)

	got, err = s.GetFullHashes(ctx, hash, []threatlist.Id{testList}, now.Add(2*time.Minute))
	test.AssertNotError(t, err, "get full hashes after expiry")
	test.AssertEquals(t, len(got), 0)
}

func TestScheduleTracking(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, err := s.NextUpdate(ctx)
	test.AssertNotError(t, err, "next update before any schedule")
	test.Assert(t, next.IsZero(), "expected zero time before first schedule")

	err = s.UpdateError(ctx, now, 60*time.Second, 1)
	test.AssertNotError(t, err, "update error")

	sched, err := s.LastUpdate(ctx)
	test.AssertNotError(t, err, "last update")
	test.AssertEquals(t, sched.ConsecutiveErrors, 1)

	err = s.Updated(ctx, now, now.Add(time.Hour))
	test.AssertNotError(t, err, "updated")

	sched, err = s.LastUpdate(ctx)
	test.AssertNotError(t, err, "last update after success")
	test.AssertEquals(t, sched.ConsecutiveErrors, 0)
}
