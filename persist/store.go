// Package persist provides the storage backends encrypted records are
// written to. A Store is a plain string-keyed byte store: values arriving
// here are already encrypted and keys already carry their namespace prefix,
// so backends never interpret either. Writes are last-write-wins; no
// versioning or compare-and-swap is offered.
package persist

import "errors"

// ErrKeyNotFound is returned by Get when no value exists under the key.
var ErrKeyNotFound = errors.New("key not found")

// Store defines the interface for record storage backends.
type Store interface {
	// Get returns the value stored under key.
	// Returns ErrKeyNotFound when the key is absent.
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(key string, value []byte) error

	// Delete removes the value stored under key.
	// Deleting an absent key is not an error.
	Delete(key string) error

	// List returns every stored key that begins with prefix, in no
	// particular order. An empty prefix lists all keys.
	List(prefix string) ([]string, error)

	// Ping tests connectivity for remote backends.
	Ping() error

	// Close releases any resources the store holds.
	Close() error

	// GetType identifies the backend.
	GetType() StoreType
}

// StoreConfig provides configuration for the different storage backends.
type StoreConfig struct {
	// Type selects the storage backend; one of the StoreType constants.
	Type StoreType `json:"type"`

	// Config contains backend-specific settings, for example "base_path"
	// for the filesystem store or "endpoint" and "bucket" for S3.
	Config map[string]interface{} `json:"config"`
}

// StoreType represents the supported storage backends.
type StoreType string

const (
	// StoreTypeMemory keeps records in process memory. Useful for tests
	// and ephemeral sessions.
	StoreTypeMemory StoreType = "memory"

	// StoreTypeFileSystem stores one file per record on the local disk.
	StoreTypeFileSystem StoreType = "filesystem"

	// StoreTypeS3 stores records as objects in an S3-compatible bucket.
	StoreTypeS3 StoreType = "s3"

	// StoreTypeRocksDB stores records in an embedded RocksDB database.
	// Available when built with the "rocksdb" tag.
	StoreTypeRocksDB StoreType = "rocksdb"
)
