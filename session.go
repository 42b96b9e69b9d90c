// Package securestore wraps a persistent, unauthenticated key-value store
// with confidentiality and integrity guarantees. Values are sealed with an
// AEAD under a passphrase-derived key before they reach storage, carry an
// optional time-to-live, and are proactively purged once it elapses.
// Corrupted, tampered, and expired records are indistinguishable from absent
// ones: the offending record is deleted on first observation and the caller
// sees nothing at all.
package securestore

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/benbjohnson/clock"

	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/audit"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/codec"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/crypto"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/debug"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/mem"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/misc"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/persist"
)

// Initialize memguard in init so interrupt handling is in place before any
// session holds key material.
func init() {
	memguard.CatchInterrupt()
}

// Session is a handle on one namespace of an underlying store. All methods
// are safe for concurrent use: a single mutex serializes operations, and the
// expiry scheduler's timer callbacks re-enter through the same lock.
type Session struct {
	store     persist.Store
	ownsStore bool

	options   Options
	namespace string
	clk       clock.Clock

	mu sync.Mutex

	// Derived key material, sealed in protected memory. Nil after Clear
	// or Close; no encrypt or decrypt proceeds without it.
	keyEnclave  *memguard.Enclave
	saltEnclave *memguard.Enclave
	saltEncoded string

	sched *expiryScheduler

	memoryProtectionLevel mem.ProtectionLevel

	// Audit logging
	audit audit.Logger

	// the operator recorded in audit events
	userID string

	closed bool
}

// New opens a session using the store and audit logger described by the
// options. The store defaults to the in-memory backend and auditing to
// off; Close releases both. See NewWithStore for the initialization steps.
func New(passphrase string, options Options) (*Session, error) {
	options = options.withDefaults()
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	store, err := persist.NewStore(options.Store, options.Namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	auditConfig := options.Audit
	if auditConfig != nil && auditConfig.Namespace == "" {
		cfg := *auditConfig
		cfg.Namespace = options.Namespace
		auditConfig = &cfg
	}
	auditLogger, err := audit.NewLogger(auditConfig)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}

	s, err := NewWithStore(passphrase, options, store, auditLogger)
	if err != nil {
		auditLogger.Close()
		store.Close()
		return nil, err
	}
	s.ownsStore = true
	return s, nil
}

// NewWithStore opens a session against an existing storage backend and audit
// logger (nil means no auditing).
//
// Initialization validates the options, tests storage connectivity, applies
// best-effort memory locking when requested, loads or creates the
// namespace's derivation salt, derives the session key from the passphrase,
// rebuilds deletion timers from persisted expiry metadata while purging
// anything that expired in the meantime, and starts the background cleanup
// loop when AutoCleanup is set.
//
// Reopening a namespace with a different passphrase succeeds: the new key
// simply fails to authenticate existing records, which are then treated as
// absent and purged on first read. That makes a passphrase change an
// invalidation, not a migration.
func NewWithStore(passphrase string, options Options, store persist.Store, auditLogger audit.Logger) (*Session, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}

	options = options.withDefaults()
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	// Audit calls must never fail on nil access.
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	// Fail fast on unusable storage.
	if err := store.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to storage backend: %w", err)
	}

	userID := options.UserID
	if userID == "" {
		userID = "system"
	}

	s := &Session{
		store:                 store,
		options:               options,
		namespace:             options.Namespace,
		clk:                   options.Clock,
		sched:                 newExpiryScheduler(options.Clock),
		memoryProtectionLevel: mem.ProtectionNone,
		audit:                 auditLogger,
		userID:                userID,
	}

	startTime := time.Now()
	requestID := s.newRequestID()

	if options.EnableMemoryLock {
		level, err := mem.Lock()
		if err != nil {
			// Best effort: enclaves still protect key material.
			log.Printf("WARNING: cannot fully protect memory: %v", err)
		}
		s.memoryProtectionLevel = level
	}

	saltCreated, err := s.loadOrCreateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to set up salt: %w", err)
	}

	if err = s.setupSessionKey(passphrase); err != nil {
		return nil, fmt.Errorf("failed to set up session key: %w", err)
	}

	// Rebuild deletion timers from persisted metadata and purge anything
	// that expired while no session was running.
	stats, err := s.rescanLocked()
	if err != nil {
		return nil, fmt.Errorf("failed to rescan namespace: %w", err)
	}
	debug.Print("session open: scanned %d records, scheduled %d, purged %d", stats.scanned, stats.scheduled, stats.purged)

	if options.AutoCleanup {
		s.sched.startPeriodic(options.CleanupInterval, s.backgroundRescan)
	}

	s.logAudit(requestID, actionSessionOpened, nil, map[string]interface{}{
		"store_type":        string(store.GetType()),
		"memory_protection": s.memoryProtectionLevel.String(),
		"salt_created":      saltCreated,
		"auto_cleanup":      options.AutoCleanup,
		"records_scheduled": stats.scheduled,
		"records_purged":    stats.purged,
		"duration_ms":       time.Since(startTime).Milliseconds(),
	})

	return s, nil
}

// loadOrCreateSalt loads the namespace's derivation salt, creating and
// persisting a fresh one on first open. The salt is not a secret (it sits
// base64-encoded in the unencrypted store) but still lives in an enclave so
// all derivation inputs go through one hygiene path. A salt that fails to
// decode orphans every record exactly like a missing one: a new salt is
// written and the old records self-delete on first read.
func (s *Session) loadOrCreateSalt() (created bool, err error) {
	data, err := s.store.Get(saltStorageKey(s.namespace))
	switch {
	case err == nil:
		salt, decodeErr := codec.Decode(string(data))
		if decodeErr == nil && len(salt) == misc.SaltSize {
			s.saltEncoded = string(data)
			s.saltEnclave = memguard.NewEnclave(salt)
			return false, nil
		}
	case !errors.Is(err, persist.ErrKeyNotFound):
		return false, fmt.Errorf("failed to load salt: %w", err)
	}

	debug.Print("generating new derivation salt for namespace %s", s.namespace)
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return false, &EnvironmentError{Facility: "random source", Err: err}
	}

	encoded := codec.Encode(salt)
	if err = s.store.Put(saltStorageKey(s.namespace), []byte(encoded)); err != nil {
		memguard.WipeBytes(salt)
		return false, fmt.Errorf("failed to persist salt: %w", err)
	}

	s.saltEncoded = encoded
	// NewEnclave wipes the source slice.
	s.saltEnclave = memguard.NewEnclave(salt)
	return true, nil
}

// setupSessionKey derives the session key from the passphrase and seals it
// in an enclave. The passphrase bytes and every intermediate copy are wiped
// before returning.
func (s *Session) setupSessionKey(passphrase string) error {
	passphraseData := []byte(passphrase)
	defer memguard.WipeBytes(passphraseData)

	if s.saltEnclave == nil {
		return ErrNotInitialized
	}

	derivedKey, err := crypto.DeriveSessionKey(passphraseData, s.saltEnclave)
	if err != nil {
		return &EnvironmentError{Facility: "memory enclave", Err: err}
	}

	if crypto.IsWeakKey(derivedKey.Bytes()) {
		derivedKey.Destroy()
		return &EnvironmentError{
			Facility: "key derivation",
			Err:      errors.New("derived key material is degenerate"),
		}
	}

	// Seal into an enclave before destroying the working buffer.
	keyBytes := make([]byte, len(derivedKey.Bytes()))
	copy(keyBytes, derivedKey.Bytes())
	derivedKey.Destroy()

	s.keyEnclave = memguard.NewEnclave(keyBytes)
	return nil
}

// Close cancels all deletion timers, destroys key material, closes the
// audit logger and, when the session created its own store, the store.
// Every later operation returns ErrSessionClosed; closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	requestID := s.newRequestID()
	var errs []error

	s.sched.cancelAll()
	s.closed = true

	// Enclaves hold their own protected buffers; dropping the references
	// is what revokes access.
	s.keyEnclave = nil
	s.saltEnclave = nil

	// Log shutdown before the logger goes away.
	s.logAudit(requestID, actionSessionClosed, nil, nil)

	if err := s.audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audit logger: %w", err))
	}

	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("session close errors: %v", combineErrs(errs))
	}
	return nil
}

// EncodedSalt returns the base64 form of the namespace's derivation salt.
// Empty after Clear or Close.
func (s *Session) EncodedSalt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saltEncoded
}

// Namespace returns the namespace this session owns.
func (s *Session) Namespace() string {
	return s.namespace
}

// MemoryProtection describes the memory locking level achieved at open.
func (s *Session) MemoryProtection() string {
	return s.memoryProtectionLevel.String()
}

// GetAudit returns the session's audit logger, for callers that want to run
// their own queries against it.
func (s *Session) GetAudit() audit.Logger {
	return s.audit
}

func (s *Session) logAudit(requestID, action string, err error, metadata map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	// Fields every event carries regardless of the operation.
	metadata["namespace"] = s.namespace
	metadata["user_id"] = s.userID
	metadata["request_id"] = requestID

	success := err == nil
	if err != nil {
		metadata["error"] = err.Error()
	}

	if auditErr := s.audit.Log(action, success, metadata); auditErr != nil {
		log.Printf("ERROR: audit logging failed for action %s: %v", action, auditErr)
	}
}

func (s *Session) newRequestID() string {
	return fmt.Sprintf("ss_%d", time.Now().UnixNano())
}
