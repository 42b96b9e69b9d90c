package securestore

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/codec"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/crypto"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/persist"
)

// SetItem encrypts value under the session key and persists it at key. A
// positive ttl stamps the record with an expiry and arms its deletion timer;
// ttl <= 0 stores the value without one. Overwriting a key replaces both the
// record and its timer, and the last completed write wins.
//
// Strings are stored as-is; any other value is JSON-serialized. Retrieval
// reverses this without a type tag, so numbers come back as float64 and
// structs as map[string]interface{}.
func (s *Session) SetItem(key string, value any, ttl time.Duration) error {
	startTime := time.Now()
	requestID := s.newRequestID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logAudit(requestID, actionItemStored, ErrSessionClosed, map[string]interface{}{
			"item_key":       key,
			"failure_reason": "session_closed",
		})
		return ErrSessionClosed
	}

	if err := validateItemKey(key); err != nil {
		validationErr := fmt.Errorf("invalid item key: %w", err)
		s.logAudit(requestID, actionItemStored, validationErr, map[string]interface{}{
			"item_key":       key,
			"failure_reason": "invalid_item_key",
		})
		return validationErr
	}

	if s.keyEnclave == nil {
		s.logAudit(requestID, actionItemStored, ErrNotInitialized, map[string]interface{}{
			"item_key":       key,
			"failure_reason": "not_initialized",
		})
		return ErrNotInitialized
	}

	plaintext, err := serializeValue(value)
	if err != nil {
		s.logAudit(requestID, actionItemStored, err, map[string]interface{}{
			"item_key":       key,
			"failure_reason": "serialization_failed",
		})
		return err
	}
	if len(plaintext) > maxValueSize {
		sizeErr := fmt.Errorf("value too large: %d bytes (max %d)", len(plaintext), maxValueSize)
		s.logAudit(requestID, actionItemStored, sizeErr, map[string]interface{}{
			"item_key":       key,
			"failure_reason": "value_too_large",
			"value_bytes":    len(plaintext),
		})
		return sizeErr
	}

	keyBuffer, err := s.keyEnclave.Open()
	if err != nil {
		envErr := &EnvironmentError{Facility: "memory enclave", Err: err}
		s.logAudit(requestID, actionItemStored, envErr, map[string]interface{}{
			"item_key":       key,
			"failure_reason": "enclave_open_failed",
		})
		return envErr
	}
	defer keyBuffer.Destroy()

	ciphertext, nonce, err := crypto.EncryptValue(plaintext, keyBuffer.Bytes())
	if err != nil {
		encryptErr := fmt.Errorf("failed to encrypt value: %w", err)
		s.logAudit(requestID, actionItemStored, encryptErr, map[string]interface{}{
			"item_key":       key,
			"failure_reason": "encryption_failed",
		})
		return encryptErr
	}

	now := s.clk.Now().UTC()
	record := &StoredRecord{
		Ciphertext: codec.Encode(ciphertext),
		Nonce:      codec.Encode(nonce),
		CreatedAt:  now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		record.ExpiresAt = &expiresAt
	}

	data, err := encodeRecord(record)
	if err != nil {
		s.logAudit(requestID, actionItemStored, err, map[string]interface{}{
			"item_key":       key,
			"failure_reason": "encoding_failed",
		})
		return err
	}

	sk := storageKey(s.namespace, key)
	if err = s.store.Put(sk, data); err != nil {
		persistErr := fmt.Errorf("failed to persist record: %w", err)
		s.logAudit(requestID, actionItemStored, persistErr, map[string]interface{}{
			"item_key":       key,
			"failure_reason": "persist_failed",
		})
		return persistErr
	}

	if record.ExpiresAt != nil {
		s.scheduleDeletionLocked(sk, *record.ExpiresAt)
	} else {
		// A previous record under this key may still have a timer.
		s.sched.cancel(sk)
	}

	s.logAudit(requestID, actionItemStored, nil, map[string]interface{}{
		"item_key":    key,
		"value_bytes": len(plaintext),
		"has_expiry":  record.ExpiresAt != nil,
		"duration_ms": time.Since(startTime).Milliseconds(),
	})
	return nil
}

// GetItem decrypts and returns the value stored at key. ok is false when no
// usable record exists; expired, tampered, and unparsable records are
// deleted on sight and reported exactly like records that never existed.
// The error return is reserved for the session itself (closed, key
// destroyed) and for storage failures.
func (s *Session) GetItem(key string) (value any, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrSessionClosed
	}
	if err := validateItemKey(key); err != nil {
		return nil, false, fmt.Errorf("invalid item key: %w", err)
	}
	if s.keyEnclave == nil {
		return nil, false, ErrNotInitialized
	}

	sk := storageKey(s.namespace, key)
	data, err := s.store.Get(sk)
	if errors.Is(err, persist.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read record: %w", err)
	}

	record, parseErr := parseRecord(data)
	if parseErr != nil {
		s.discardRecordLocked(sk, "unparsable_metadata")
		return nil, false, nil
	}

	if record.expired(s.clk.Now()) {
		s.deleteExpiredLocked(sk, "read")
		return nil, false, nil
	}

	ciphertext, nonce, decodeErr := record.decodePayload()
	if decodeErr != nil {
		s.discardRecordLocked(sk, "undecodable_payload")
		return nil, false, nil
	}

	keyBuffer, err := s.keyEnclave.Open()
	if err != nil {
		return nil, false, &EnvironmentError{Facility: "memory enclave", Err: err}
	}
	defer keyBuffer.Destroy()

	plaintext, valid := crypto.DecryptValue(ciphertext, nonce, keyBuffer.Bytes())
	if !valid {
		s.discardRecordLocked(sk, "integrity_failure")
		return nil, false, nil
	}

	return deserializeValue(plaintext), true, nil
}

// RemoveItem deletes the record at key and disarms its timer. Removing an
// absent key is not an error; removal needs no key material, so it still
// works after Clear.
func (s *Session) RemoveItem(key string) error {
	startTime := time.Now()
	requestID := s.newRequestID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if err := validateItemKey(key); err != nil {
		return fmt.Errorf("invalid item key: %w", err)
	}

	sk := storageKey(s.namespace, key)
	if err := s.store.Delete(sk); err != nil {
		deleteErr := fmt.Errorf("failed to delete record: %w", err)
		s.logAudit(requestID, actionItemRemoved, deleteErr, map[string]interface{}{
			"item_key":       key,
			"failure_reason": "delete_failed",
		})
		return deleteErr
	}
	s.sched.cancel(sk)

	s.logAudit(requestID, actionItemRemoved, nil, map[string]interface{}{
		"item_key":    key,
		"duration_ms": time.Since(startTime).Milliseconds(),
	})
	return nil
}

// Clear deletes every record in the session's namespace, derivation salt
// included, cancels all timers, and destroys the session key. Keys outside
// the namespace are untouched. After Clear the session can no longer encrypt
// or decrypt; opening a new session starts over with a fresh salt.
func (s *Session) Clear() error {
	startTime := time.Now()
	requestID := s.newRequestID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	keys, err := s.store.List(s.namespace + namespaceSeparator)
	if err != nil {
		listErr := fmt.Errorf("failed to list namespace keys: %w", err)
		s.logAudit(requestID, actionNamespaceCleared, listErr, map[string]interface{}{
			"failure_reason": "list_failed",
		})
		return listErr
	}

	var errs []error
	removed := 0
	for _, key := range keys {
		if err := s.store.Delete(key); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", key, err))
			continue
		}
		removed++
	}

	s.sched.cancelAll()

	// Key material derived from the deleted salt is useless; drop it.
	s.keyEnclave = nil
	s.saltEnclave = nil
	s.saltEncoded = ""

	err = combineErrs(errs)
	s.logAudit(requestID, actionNamespaceCleared, err, map[string]interface{}{
		"records_removed": removed,
		"duration_ms":     time.Since(startTime).Milliseconds(),
	})
	return err
}

// Keys lists the logical keys of the live records in the namespace, sorted.
// Records found expired are purged and omitted, unparsable ones discarded,
// the same as a read would. Listing never decrypts, so it needs no key
// material and still works after Clear.
func (s *Session) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	stored, err := s.store.List(s.namespace + namespaceSeparator)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespace keys: %w", err)
	}

	saltKey := saltStorageKey(s.namespace)
	now := s.clk.Now().UTC()
	keys := make([]string, 0, len(stored))
	for _, sk := range stored {
		if sk == saltKey {
			continue
		}
		key, ok := logicalKey(s.namespace, sk)
		if !ok {
			continue
		}

		data, err := s.store.Get(sk)
		if err != nil {
			continue
		}
		record, err := parseRecord(data)
		if err != nil {
			s.discardRecordLocked(sk, "unparsable_metadata")
			continue
		}
		if record.expired(now) {
			s.deleteExpiredLocked(sk, "list")
			continue
		}
		keys = append(keys, key)
	}

	sort.Strings(keys)
	return keys, nil
}

// deleteExpiredLocked removes a record whose lifetime elapsed. trigger names
// the deletion path: "timer", "rescan", "read", "list", or "export".
func (s *Session) deleteExpiredLocked(key, trigger string) {
	requestID := s.newRequestID()
	err := s.store.Delete(key)
	s.sched.cancel(key)

	item, _ := logicalKey(s.namespace, key)
	s.logAudit(requestID, actionItemExpired, err, map[string]interface{}{
		"item_key": item,
		"trigger":  trigger,
	})
}

// discardRecordLocked removes a record that failed parsing or integrity
// checks. Callers report plain absence; only the audit trail keeps the
// reason.
func (s *Session) discardRecordLocked(key, reason string) {
	requestID := s.newRequestID()
	err := s.store.Delete(key)
	s.sched.cancel(key)

	item, _ := logicalKey(s.namespace, key)
	s.logAudit(requestID, actionRecordDiscarded, err, map[string]interface{}{
		"item_key":       item,
		"failure_reason": reason,
	})
}
