package securestore

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/awnumar/memguard"
	"gopkg.in/yaml.v3"

	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/codec"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/crypto"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/persist"
)

// exportManifestVersion is the archive format version. Import rejects
// manifests from a newer format.
const exportManifestVersion = 1

// exportManifest holds the decrypted contents of an archive. Values inside
// are plaintext, so the serialized manifest only ever exists wrapped in
// passphrase-derived encryption.
type exportManifest struct {
	Version   int            `yaml:"version"`
	ExportID  string         `yaml:"export_id"`
	Namespace string         `yaml:"namespace"`
	CreatedAt time.Time      `yaml:"created_at"`
	Items     []exportedItem `yaml:"items"`
}

type exportedItem struct {
	Key       string     `yaml:"key"`
	Value     string     `yaml:"value"`
	CreatedAt time.Time  `yaml:"created_at"`
	ExpiresAt *time.Time `yaml:"expires_at,omitempty"`
}

// ImportResult reports what Import did with each archived item.
type ImportResult struct {
	Imported    int
	Overwritten int
	Skipped     int
	SkippedKeys []string
}

// Export decrypts every live record in the namespace and writes them to w as
// a single archive encrypted under passphrase. The archive passphrase is
// independent of the session passphrase, so an archive can move records
// between stores or namespaces. Expired records found during the walk are
// deleted rather than exported; corrupt ones are discarded.
func (s *Session) Export(w io.Writer, passphrase string) error {
	startTime := time.Now()
	requestID := s.newRequestID()
	exportID := newExportID()

	if passphrase == "" {
		return ErrEmptyPassphrase
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.keyEnclave == nil {
		return ErrNotInitialized
	}

	keys, err := s.store.List(s.namespace + namespaceSeparator)
	if err != nil {
		listErr := fmt.Errorf("failed to list namespace keys: %w", err)
		s.logAudit(requestID, actionExportCreated, listErr, map[string]interface{}{
			"export_id":      exportID,
			"failure_reason": "list_failed",
		})
		return listErr
	}

	keyBuffer, err := s.keyEnclave.Open()
	if err != nil {
		return &EnvironmentError{Facility: "memory enclave", Err: err}
	}
	defer keyBuffer.Destroy()

	manifest := exportManifest{
		Version:   exportManifestVersion,
		ExportID:  exportID,
		Namespace: s.namespace,
		CreatedAt: s.clk.Now().UTC(),
	}
	purged, discarded := 0, 0

	for _, sk := range keys {
		item, ok := logicalKey(s.namespace, sk)
		if !ok || item == saltKeyName {
			continue
		}

		data, err := s.store.Get(sk)
		if errors.Is(err, persist.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			readErr := fmt.Errorf("failed to read record %s: %w", item, err)
			s.logAudit(requestID, actionExportCreated, readErr, map[string]interface{}{
				"export_id":      exportID,
				"item_key":       item,
				"failure_reason": "read_failed",
			})
			return readErr
		}

		record, parseErr := parseRecord(data)
		if parseErr != nil {
			s.discardRecordLocked(sk, "unparsable_metadata")
			discarded++
			continue
		}
		if record.expired(s.clk.Now()) {
			s.deleteExpiredLocked(sk, "export")
			purged++
			continue
		}

		ciphertext, nonce, decodeErr := record.decodePayload()
		if decodeErr != nil {
			s.discardRecordLocked(sk, "undecodable_payload")
			discarded++
			continue
		}
		plaintext, valid := crypto.DecryptValue(ciphertext, nonce, keyBuffer.Bytes())
		if !valid {
			s.discardRecordLocked(sk, "integrity_failure")
			discarded++
			continue
		}

		manifest.Items = append(manifest.Items, exportedItem{
			Key:       item,
			Value:     codec.Encode(plaintext),
			CreatedAt: record.CreatedAt,
			ExpiresAt: record.ExpiresAt,
		})
		memguard.WipeBytes(plaintext)
	}

	manifestYAML, err := yaml.Marshal(&manifest)
	if err != nil {
		marshalErr := fmt.Errorf("failed to serialize archive manifest: %w", err)
		s.logAudit(requestID, actionExportCreated, marshalErr, map[string]interface{}{
			"export_id":      exportID,
			"failure_reason": "serialization_failed",
		})
		return marshalErr
	}

	encrypted, err := crypto.EncryptWithPassphrase(manifestYAML, passphrase)
	memguard.WipeBytes(manifestYAML)
	if err != nil {
		encryptErr := fmt.Errorf("failed to encrypt archive: %w", err)
		s.logAudit(requestID, actionExportCreated, encryptErr, map[string]interface{}{
			"export_id":      exportID,
			"failure_reason": "encryption_failed",
		})
		return encryptErr
	}

	if _, err = w.Write(encrypted); err != nil {
		writeErr := fmt.Errorf("failed to write archive: %w", err)
		s.logAudit(requestID, actionExportCreated, writeErr, map[string]interface{}{
			"export_id":      exportID,
			"failure_reason": "write_failed",
		})
		return writeErr
	}

	s.logAudit(requestID, actionExportCreated, nil, map[string]interface{}{
		"export_id":         exportID,
		"records_exported":  len(manifest.Items),
		"records_purged":    purged,
		"records_discarded": discarded,
		"archive_bytes":     len(encrypted),
		"duration_ms":       time.Since(startTime).Milliseconds(),
	})
	return nil
}

// Import decrypts an archive produced by Export and re-encrypts its items
// under this session's key. Existing keys are left alone unless overwrite is
// set; items whose expiry already passed are skipped. Item creation times
// survive the round trip, so an imported record keeps its original age.
func (s *Session) Import(r io.Reader, passphrase string, overwrite bool) (*ImportResult, error) {
	startTime := time.Now()
	requestID := s.newRequestID()

	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}

	encrypted, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.keyEnclave == nil {
		return nil, ErrNotInitialized
	}

	manifestYAML, err := crypto.DecryptWithPassphrase(encrypted, passphrase)
	if err != nil {
		authErr := fmt.Errorf("failed to decrypt archive: %w", err)
		s.logAudit(requestID, actionImportCompleted, authErr, map[string]interface{}{
			"failure_reason": "archive_authentication_failed",
		})
		return nil, authErr
	}
	defer memguard.WipeBytes(manifestYAML)

	var manifest exportManifest
	if err = yaml.Unmarshal(manifestYAML, &manifest); err != nil {
		parseErr := fmt.Errorf("failed to parse archive manifest: %w", err)
		s.logAudit(requestID, actionImportCompleted, parseErr, map[string]interface{}{
			"failure_reason": "manifest_parse_failed",
		})
		return nil, parseErr
	}
	if manifest.Version > exportManifestVersion {
		versionErr := fmt.Errorf("unsupported archive version: %d", manifest.Version)
		s.logAudit(requestID, actionImportCompleted, versionErr, map[string]interface{}{
			"failure_reason":  "unsupported_version",
			"archive_version": manifest.Version,
		})
		return nil, versionErr
	}

	keyBuffer, err := s.keyEnclave.Open()
	if err != nil {
		return nil, &EnvironmentError{Facility: "memory enclave", Err: err}
	}
	defer keyBuffer.Destroy()

	now := s.clk.Now().UTC()
	result := &ImportResult{}

	for _, item := range manifest.Items {
		if validateItemKey(item.Key) != nil {
			result.Skipped++
			result.SkippedKeys = append(result.SkippedKeys, item.Key)
			continue
		}
		if item.ExpiresAt != nil && !item.ExpiresAt.After(now) {
			result.Skipped++
			result.SkippedKeys = append(result.SkippedKeys, item.Key)
			continue
		}

		sk := storageKey(s.namespace, item.Key)
		exists := false
		if _, getErr := s.store.Get(sk); getErr == nil {
			exists = true
		} else if !errors.Is(getErr, persist.ErrKeyNotFound) {
			return nil, fmt.Errorf("failed to read record %s: %w", item.Key, getErr)
		}
		if exists && !overwrite {
			result.Skipped++
			result.SkippedKeys = append(result.SkippedKeys, item.Key)
			continue
		}

		plaintext, decodeErr := codec.Decode(item.Value)
		if decodeErr != nil {
			result.Skipped++
			result.SkippedKeys = append(result.SkippedKeys, item.Key)
			continue
		}

		ciphertext, nonce, encryptErr := crypto.EncryptValue(plaintext, keyBuffer.Bytes())
		memguard.WipeBytes(plaintext)
		if encryptErr != nil {
			return nil, fmt.Errorf("failed to encrypt value for %s: %w", item.Key, encryptErr)
		}

		createdAt := item.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		record := &StoredRecord{
			Ciphertext: codec.Encode(ciphertext),
			Nonce:      codec.Encode(nonce),
			CreatedAt:  createdAt,
			ExpiresAt:  item.ExpiresAt,
		}
		data, encodeErr := encodeRecord(record)
		if encodeErr != nil {
			return nil, encodeErr
		}
		if err = s.store.Put(sk, data); err != nil {
			return nil, fmt.Errorf("failed to persist record %s: %w", item.Key, err)
		}

		if record.ExpiresAt != nil {
			s.scheduleDeletionLocked(sk, *record.ExpiresAt)
		} else {
			s.sched.cancel(sk)
		}

		if exists {
			result.Overwritten++
		} else {
			result.Imported++
		}
	}

	s.logAudit(requestID, actionImportCompleted, nil, map[string]interface{}{
		"export_id":   manifest.ExportID,
		"imported":    result.Imported,
		"overwritten": result.Overwritten,
		"skipped":     result.Skipped,
		"duration_ms": time.Since(startTime).Milliseconds(),
	})
	return result, nil
}

// newExportID returns a unique archive identifier.
func newExportID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("export_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("export_%d_%s", time.Now().Unix(), hex.EncodeToString(buf))
}
