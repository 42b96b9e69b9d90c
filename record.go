package securestore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/codec"
)

// Audit actions emitted by session operations.
const (
	actionSessionOpened    = "SESSION_OPENED"
	actionItemStored       = "ITEM_STORED"
	actionItemRemoved      = "ITEM_REMOVED"
	actionItemExpired      = "ITEM_EXPIRED"
	actionRecordDiscarded  = "RECORD_DISCARDED"
	actionRescanCompleted  = "RESCAN_COMPLETED"
	actionNamespaceCleared = "NAMESPACE_CLEARED"
	actionSessionClosed    = "SESSION_CLOSED"
	actionExportCreated    = "EXPORT_CREATED"
	actionImportCompleted  = "IMPORT_COMPLETED"
)

const (
	// DefaultNamespace prefixes storage keys when Options.Namespace is
	// left empty. Bumping the suffix orphans (and thereby invalidates)
	// data written by incompatible earlier layouts.
	DefaultNamespace = "ssw_v2"

	// namespaceSeparator joins the namespace and the logical key into a
	// storage key.
	namespaceSeparator = "::"

	// saltKeyName is the reserved logical key the derivation salt lives
	// under. Item operations refuse it.
	saltKeyName = "__salt__"
)

// StoredRecord is the persisted form of a single item: the AEAD ciphertext
// and nonce plus the expiry metadata the scheduler reads back without
// decrypting anything. Binary fields travel base64-encoded through
// internal/codec. A record that does not parse, or parses with required
// fields missing, is treated as corrupt: callers delete it and report the
// item absent.
type StoredRecord struct {
	// Ciphertext is the encoded AEAD output, authentication tag included.
	Ciphertext string `json:"ciphertext"`

	// Nonce is the encoded per-record nonce. Generated fresh on every
	// write; never reused under the same key.
	Nonce string `json:"nonce"`

	// CreatedAt is when the record was written.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is the instant the record becomes permanently
	// inaccessible. Nil means the record never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// encodeRecord serializes a record for storage.
func encodeRecord(record *StoredRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

// parseRecord decodes persisted bytes into a record. Any structural defect
// is an error; callers treat it as corruption, not as a condition to retry.
func parseRecord(data []byte) (*StoredRecord, error) {
	var record StoredRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	if record.Ciphertext == "" || record.Nonce == "" {
		return nil, fmt.Errorf("record is missing required fields")
	}
	if record.CreatedAt.IsZero() {
		return nil, fmt.Errorf("record has no creation timestamp")
	}
	return &record, nil
}

// decodePayload recovers the binary ciphertext and nonce. A *codec.DecodeError
// from either field means the record is corrupt.
func (r *StoredRecord) decodePayload() (ciphertext, nonce []byte, err error) {
	ciphertext, err = codec.Decode(r.Ciphertext)
	if err != nil {
		return nil, nil, err
	}
	nonce, err = codec.Decode(r.Nonce)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, nonce, nil
}

// expired reports whether the record's lifetime has elapsed at the given
// instant. Records without an expiry never expire.
func (r *StoredRecord) expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// storageKey returns the namespaced form of a logical key.
func storageKey(namespace, key string) string {
	return namespace + namespaceSeparator + key
}

// logicalKey strips the namespace prefix from a storage key. ok is false for
// keys belonging to other namespaces.
func logicalKey(namespace, stored string) (key string, ok bool) {
	prefix := namespace + namespaceSeparator
	if !strings.HasPrefix(stored, prefix) {
		return "", false
	}
	return stored[len(prefix):], true
}

// saltStorageKey returns the reserved storage key holding the namespace's
// derivation salt.
func saltStorageKey(namespace string) string {
	return storageKey(namespace, saltKeyName)
}
