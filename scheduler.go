package securestore

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/debug"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/persist"
)

// maxTimerArm caps how far ahead a single timer is armed. Lifetimes beyond
// the cap chain: the timer fires early, re-reads the persisted expiry and
// re-arms against the wall clock, so multi-week TTLs stay anchored through
// clock drift and suspend/resume.
const maxTimerArm = 24 * time.Hour

// expiryScheduler owns the proactive-deletion timers of one session, at most
// one live timer per storage key. Timer callbacks run on their own
// goroutines, so every map mutation is serialized by mu, and each armed
// timer carries a generation number that lets a callback recognize it lost a
// reschedule race and must do nothing.
type expiryScheduler struct {
	clk clock.Clock

	mu     sync.Mutex
	timers map[string]*timerEntry
	gen    uint64
	stop   chan struct{}
}

type timerEntry struct {
	timer *clock.Timer
	gen   uint64
}

func newExpiryScheduler(clk clock.Clock) *expiryScheduler {
	return &expiryScheduler{
		clk:    clk,
		timers: make(map[string]*timerEntry),
	}
}

// schedule arms a deletion timer for the storage key, replacing any timer
// already armed for it. Expiries further out than maxTimerArm get a
// truncated arm. The fire callback receives the generation it was armed
// under and must validate itself with owns before acting.
func (sc *expiryScheduler) schedule(key string, expiresAt time.Time, fire func(gen uint64)) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.cancelLocked(key)

	sc.gen++
	gen := sc.gen

	delay := expiresAt.Sub(sc.clk.Now())
	if delay > maxTimerArm {
		delay = maxTimerArm
	}
	if delay < 0 {
		delay = 0
	}

	sc.timers[key] = &timerEntry{
		timer: sc.clk.AfterFunc(delay, func() { fire(gen) }),
		gen:   gen,
	}
}

// owns reports whether the generation still holds the key's timer slot.
// False means a later schedule or cancel superseded the caller.
func (sc *expiryScheduler) owns(key string, gen uint64) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	entry, ok := sc.timers[key]
	return ok && entry.gen == gen
}

// release clears the key's timer slot if the generation still owns it.
func (sc *expiryScheduler) release(key string, gen uint64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if entry, ok := sc.timers[key]; ok && entry.gen == gen {
		delete(sc.timers, key)
	}
}

// cancel stops and forgets the key's timer, if any.
func (sc *expiryScheduler) cancel(key string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cancelLocked(key)
}

func (sc *expiryScheduler) cancelLocked(key string) {
	if entry, ok := sc.timers[key]; ok {
		entry.timer.Stop()
		delete(sc.timers, key)
	}
}

// armed reports whether a timer is currently tracked for the key.
func (sc *expiryScheduler) armed(key string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, ok := sc.timers[key]
	return ok
}

// timerCount returns the number of live timers.
func (sc *expiryScheduler) timerCount() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.timers)
}

// startPeriodic launches the background rescan loop. It is a no-op if the
// loop is already running; cancelAll stops it.
func (sc *expiryScheduler) startPeriodic(interval time.Duration, rescan func()) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.stop != nil {
		return
	}
	sc.stop = make(chan struct{})
	stop := sc.stop

	ticker := sc.clk.Ticker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rescan()
			case <-stop:
				return
			}
		}
	}()
}

// cancelAll stops every timer and the periodic rescan. Callbacks that
// already fired re-validate through owns and find themselves stale.
func (sc *expiryScheduler) cancelAll() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for key, entry := range sc.timers {
		entry.timer.Stop()
		delete(sc.timers, key)
	}
	if sc.stop != nil {
		close(sc.stop)
		sc.stop = nil
	}
}

// Rescan walks the namespace's records once, purging expired and corrupt
// entries and arming timers for live expiries. Sessions run this routine at
// open and, while AutoCleanup is on, every CleanupInterval; calling it
// directly is a manual backstop for processes that disable the background
// loop. Expiry decisions read only the plaintext metadata, so a rescan
// works even after Clear destroyed the session key.
func (s *Session) Rescan() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	startTime := time.Now()
	requestID := s.newRequestID()

	stats, err := s.rescanLocked()
	s.logAudit(requestID, actionRescanCompleted, err, map[string]interface{}{
		"trigger":           "manual",
		"records_scanned":   stats.scanned,
		"records_scheduled": stats.scheduled,
		"records_purged":    stats.purged,
		"records_discarded": stats.discarded,
		"duration_ms":       time.Since(startTime).Milliseconds(),
	})
	return err
}

// backgroundRescan is one tick of the periodic cleanup loop. Errors are
// logged and swallowed; the loop keeps running.
func (s *Session) backgroundRescan() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	startTime := time.Now()
	requestID := s.newRequestID()

	stats, err := s.rescanLocked()
	if err != nil {
		log.Printf("WARNING: background rescan failed: %v", err)
	}
	s.logAudit(requestID, actionRescanCompleted, err, map[string]interface{}{
		"trigger":           "periodic",
		"records_scanned":   stats.scanned,
		"records_scheduled": stats.scheduled,
		"records_purged":    stats.purged,
		"records_discarded": stats.discarded,
		"duration_ms":       time.Since(startTime).Milliseconds(),
	})
}

type rescanStats struct {
	scanned   int
	scheduled int
	purged    int
	discarded int
}

// rescanLocked does the actual walk. The caller holds s.mu, or is the
// constructor running before the session escapes.
func (s *Session) rescanLocked() (rescanStats, error) {
	var stats rescanStats

	keys, err := s.store.List(s.namespace + namespaceSeparator)
	if err != nil {
		return stats, fmt.Errorf("failed to list namespace keys: %w", err)
	}

	saltKey := saltStorageKey(s.namespace)
	now := s.clk.Now()

	for _, key := range keys {
		if key == saltKey {
			continue
		}
		stats.scanned++

		data, err := s.store.Get(key)
		if errors.Is(err, persist.ErrKeyNotFound) {
			// Deleted between List and Get.
			s.sched.cancel(key)
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read record %s: %w", key, err)
		}

		record, parseErr := parseRecord(data)
		if parseErr != nil {
			s.discardRecordLocked(key, "unparsable_metadata")
			stats.discarded++
			continue
		}

		if record.ExpiresAt == nil {
			s.sched.cancel(key)
			continue
		}

		if record.expired(now) {
			s.deleteExpiredLocked(key, "rescan")
			stats.purged++
			continue
		}

		s.scheduleDeletionLocked(key, *record.ExpiresAt)
		stats.scheduled++
	}

	return stats, nil
}

// scheduleDeletionLocked arms (or re-arms) the deletion timer for a storage
// key. The caller holds s.mu.
func (s *Session) scheduleDeletionLocked(key string, expiresAt time.Time) {
	s.sched.schedule(key, expiresAt, func(gen uint64) { s.onTimerFired(key, gen) })
}

// onTimerFired runs on a timer goroutine when a deletion timer fires. The
// persisted metadata is re-read before anything is deleted: the record may
// have been removed, overwritten with a different lifetime, or still be
// mid-chain with more than one maximum arm left.
func (s *Session) onTimerFired(key string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.sched.owns(key, gen) {
		return
	}

	data, err := s.store.Get(key)
	if err != nil {
		// Record already gone.
		s.sched.release(key, gen)
		return
	}

	record, parseErr := parseRecord(data)
	if parseErr != nil {
		s.sched.release(key, gen)
		s.discardRecordLocked(key, "unparsable_metadata")
		return
	}

	if record.ExpiresAt == nil {
		// Overwritten by a non-expiring record; the timer is obsolete.
		s.sched.release(key, gen)
		return
	}

	if record.ExpiresAt.After(s.clk.Now()) {
		// Next chain link, or the record gained a later expiry.
		debug.Print("re-arming deletion timer for %s", key)
		s.scheduleDeletionLocked(key, *record.ExpiresAt)
		return
	}

	s.sched.release(key, gen)
	s.deleteExpiredLocked(key, "timer")
}
