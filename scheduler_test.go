package securestore

import (
	"bytes"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/codec"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/persist"
)

func TestSchedulerAll(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*testing.T)
	}{
		{"ExpiryRemovesRecord", TestExpiryRemovesRecord},
		{"ExpiredReadDeletes", TestExpiredReadDeletes},
		{"LongTTLChains", TestLongTTLChains},
		{"OverwriteReschedules", TestOverwriteReschedules},
		{"RemoveCancelsTimer", TestRemoveCancelsTimer},
		{"ZeroTTLPersists", TestZeroTTLPersists},
		{"RescanWalk", TestRescanWalk},
		{"OpenRebuildsTimers", TestOpenRebuildsTimers},
		{"PeriodicRescan", TestPeriodicRescan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t)
		})
	}
}

// timerGen reads the generation of the timer currently armed for sk, zero
// when none is. Chained re-arms bump the generation, which is the only
// observable difference between the old link and the next one.
func timerGen(s *Session, sk string) uint64 {
	s.sched.mu.Lock()
	defer s.sched.mu.Unlock()
	if entry, ok := s.sched.timers[sk]; ok {
		return entry.gen
	}
	return 0
}

// putRawRecord writes a record straight into the store, bypassing the
// session. The payload is junk: expiry handling never decrypts, so these
// records exercise the metadata paths on their own.
func putRawRecord(t *testing.T, store persist.Store, namespace, key string, createdAt time.Time, expiresAt *time.Time) string {
	t.Helper()
	record := &StoredRecord{
		Ciphertext: codec.Encode([]byte("opaque-bytes")),
		Nonce:      codec.Encode(bytes.Repeat([]byte{0x01}, 12)),
		CreatedAt:  createdAt,
		ExpiresAt:  expiresAt,
	}
	data, err := encodeRecord(record)
	if err != nil {
		t.Fatalf("failed to encode record: %v", err)
	}
	sk := storageKey(namespace, key)
	if err = store.Put(sk, data); err != nil {
		t.Fatalf("failed to write record: %v", err)
	}
	return sk
}

func TestExpiryRemovesRecord(t *testing.T) {
	mock := clock.NewMock()
	store := persist.NewMemoryStore()
	s := createSessionOn(t, store, "expiry", testPassphrase, mock)
	defer s.Close()

	if err := s.SetItem("ephemeral", "short lived value", time.Minute); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}

	sk := storageKey("expiry", "ephemeral")
	if !s.sched.armed(sk) {
		t.Fatal("no deletion timer armed for a TTL write")
	}
	if _, ok, _ := s.GetItem("ephemeral"); !ok {
		t.Fatal("record unreadable before expiry")
	}

	mock.Add(time.Minute)

	// The record must disappear from the store itself, not merely from
	// the API.
	waitFor(t, "record not deleted after expiry", func() bool {
		return !storeHasKey(store, sk)
	})
	waitFor(t, "timer slot not released after firing", func() bool {
		return !s.sched.armed(sk)
	})

	value, ok, err := s.GetItem("ephemeral")
	if err != nil || ok {
		t.Errorf("expired item read as (%v, %v, %v)", value, ok, err)
	}
}

func TestExpiredReadDeletes(t *testing.T) {
	mock := clock.NewMock()
	store := persist.NewMemoryStore()
	s := createSessionOn(t, store, "lazyread", testPassphrase, mock)
	defer s.Close()

	// A record whose expiry passed with no timer covering it, as after a
	// crash. The read itself must delete it.
	past := mock.Now().UTC().Add(-time.Hour)
	sk := putRawRecord(t, store, "lazyread", "stale", past.Add(-time.Hour), &past)

	value, ok, err := s.GetItem("stale")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if ok {
		t.Fatalf("expired record produced a value: %v", value)
	}
	if storeHasKey(store, sk) {
		t.Error("expired record survived the read")
	}
}

func TestLongTTLChains(t *testing.T) {
	mock := clock.NewMock()
	store := persist.NewMemoryStore()
	s := createSessionOn(t, store, "chain", testPassphrase, mock)
	defer s.Close()

	// 72h is three maximum arms: the timer must fire at 24h and 48h,
	// re-read the metadata, re-arm, and only delete at 72h.
	if err := s.SetItem("durable", "lives three days", 72*time.Hour); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}

	sk := storageKey("chain", "durable")
	gen := timerGen(s, sk)
	if gen == 0 {
		t.Fatal("no deletion timer armed")
	}

	for link := 1; link <= 2; link++ {
		mock.Add(24 * time.Hour)

		// Wait for the fired timer to re-arm the next link before
		// advancing again.
		prev := gen
		waitFor(t, "timer did not re-arm for the next link", func() bool {
			gen = timerGen(s, sk)
			return gen > prev
		})

		if !storeHasKey(store, sk) {
			t.Fatalf("record deleted after %d of 3 days", link)
		}
	}

	mock.Add(24 * time.Hour)
	waitFor(t, "record not deleted at the end of the chain", func() bool {
		return !storeHasKey(store, sk)
	})
	if s.sched.armed(sk) {
		t.Error("timer still armed after final deletion")
	}
}

func TestOverwriteReschedules(t *testing.T) {
	mock := clock.NewMock()
	store := persist.NewMemoryStore()
	s := createSessionOn(t, store, "resched", testPassphrase, mock)
	defer s.Close()

	if err := s.SetItem("k", "first", time.Hour); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	sk := storageKey("resched", "k")
	first := timerGen(s, sk)

	// Overwriting with a longer lifetime replaces the timer.
	if err := s.SetItem("k", "second", 10*time.Hour); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	if second := timerGen(s, sk); second <= first {
		t.Error("overwrite did not replace the deletion timer")
	}

	// The original expiry passes without effect.
	mock.Add(time.Hour)
	if _, ok, _ := s.GetItem("k"); !ok {
		t.Fatal("record deleted on the superseded expiry")
	}

	mock.Add(9 * time.Hour)
	waitFor(t, "record not deleted on the rescheduled expiry", func() bool {
		return !storeHasKey(store, sk)
	})

	// Overwriting a TTL record with a non-expiring one cancels its timer.
	if err := s.SetItem("pinned", "temp", time.Hour); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	if err := s.SetItem("pinned", "forever", 0); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	if s.sched.armed(storageKey("resched", "pinned")) {
		t.Error("timer survived overwrite with a non-expiring record")
	}
	mock.Add(2 * time.Hour)
	if _, ok, _ := s.GetItem("pinned"); !ok {
		t.Error("non-expiring record was deleted")
	}
}

func TestRemoveCancelsTimer(t *testing.T) {
	mock := clock.NewMock()
	store := persist.NewMemoryStore()
	s := createSessionOn(t, store, "cancel", testPassphrase, mock)
	defer s.Close()

	if err := s.SetItem("k", "v", time.Hour); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	if err := s.RemoveItem("k"); err != nil {
		t.Fatalf("RemoveItem failed: %v", err)
	}

	if s.sched.armed(storageKey("cancel", "k")) {
		t.Error("timer survived RemoveItem")
	}
	if s.sched.timerCount() != 0 {
		t.Errorf("%d timers still tracked", s.sched.timerCount())
	}

	// Nothing left to fire.
	mock.Add(2 * time.Hour)
	if _, ok, _ := s.GetItem("k"); ok {
		t.Error("removed record reappeared")
	}
}

func TestZeroTTLPersists(t *testing.T) {
	mock := clock.NewMock()
	store := persist.NewMemoryStore()
	s := createSessionOn(t, store, "forever", testPassphrase, mock)
	defer s.Close()

	if err := s.SetItem("k", "permanent value", 0); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	if s.sched.armed(storageKey("forever", "k")) {
		t.Error("timer armed for a non-expiring record")
	}

	mock.Add(1000 * time.Hour)
	value, ok, err := s.GetItem("k")
	if err != nil || !ok || value != "permanent value" {
		t.Errorf("non-expiring record read as (%v, %v, %v)", value, ok, err)
	}
}

func TestRescanWalk(t *testing.T) {
	mock := clock.NewMock()
	store := persist.NewMemoryStore()
	s := createSessionOn(t, store, "walk", testPassphrase, mock)
	defer s.Close()

	now := mock.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	staleKey := putRawRecord(t, store, "walk", "stale", past.Add(-time.Hour), &past)
	liveKey := putRawRecord(t, store, "walk", "live", now, &future)
	foreverKey := putRawRecord(t, store, "walk", "forever", now, nil)
	garbageKey := storageKey("walk", "garbage")
	if err := store.Put(garbageKey, []byte("not a record at all")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := s.Rescan(); err != nil {
		t.Fatalf("Rescan failed: %v", err)
	}

	if storeHasKey(store, staleKey) {
		t.Error("rescan left the expired record in place")
	}
	if storeHasKey(store, garbageKey) {
		t.Error("rescan left the unparsable record in place")
	}
	if !storeHasKey(store, liveKey) {
		t.Error("rescan deleted a live record")
	}
	if !storeHasKey(store, foreverKey) {
		t.Error("rescan deleted a non-expiring record")
	}
	if !storeHasKey(store, saltStorageKey("walk")) {
		t.Error("rescan deleted the salt")
	}

	if !s.sched.armed(liveKey) {
		t.Error("rescan did not arm a timer for the live expiry")
	}
	if s.sched.armed(foreverKey) {
		t.Error("rescan armed a timer for a non-expiring record")
	}

	// The armed timer goes on to delete the record, junk payload and all:
	// proactive deletion never needs the plaintext.
	mock.Add(time.Hour)
	waitFor(t, "scheduled record not deleted at its expiry", func() bool {
		return !storeHasKey(store, liveKey)
	})
}

func TestOpenRebuildsTimers(t *testing.T) {
	mock := clock.NewMock()
	store := persist.NewMemoryStore()

	first := createSessionOn(t, store, "rebuild", testPassphrase, mock)
	if err := first.SetItem("k", "survives reopen", time.Hour); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The record outlived the session; the new session must pick its
	// expiry back up from the persisted metadata alone.
	second := createSessionOn(t, store, "rebuild", testPassphrase, mock)
	defer second.Close()

	sk := storageKey("rebuild", "k")
	if !second.sched.armed(sk) {
		t.Fatal("reopen did not re-arm the deletion timer")
	}

	mock.Add(time.Hour)
	waitFor(t, "record not deleted after reopen", func() bool {
		return !storeHasKey(store, sk)
	})
}

func TestPeriodicRescan(t *testing.T) {
	mock := clock.NewMock()
	store := persist.NewMemoryStore()
	options := Options{
		Namespace:       "periodic",
		AutoCleanup:     true,
		CleanupInterval: time.Minute,
		Clock:           mock,
	}
	s, err := NewWithStore(testPassphrase, options, store, nil)
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	defer s.Close()

	// Slip an already-expired record in behind the session's back; only
	// the periodic rescan can find it.
	past := mock.Now().UTC().Add(-time.Minute)
	sk := putRawRecord(t, store, "periodic", "stale", past.Add(-time.Minute), &past)

	mock.Add(time.Minute)
	waitFor(t, "periodic rescan did not purge the expired record", func() bool {
		return !storeHasKey(store, sk)
	})
}
