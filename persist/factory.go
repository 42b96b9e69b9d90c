package persist

import (
	"fmt"
	"strings"
)

// NewStore is the factory for storage backends.
func NewStore(config StoreConfig, namespace string) (Store, error) {
	switch config.Type {
	case StoreTypeMemory:
		return NewMemoryStore(), nil

	case StoreTypeFileSystem:
		return NewFileSystemStoreFromConfig(config, namespace)

	case StoreTypeS3:
		return NewS3StoreFromConfig(config, namespace)

	case StoreTypeRocksDB:
		basePath, ok := config.Config["base_path"].(string)
		if !ok {
			return nil, fmt.Errorf("rocksdb storage requires 'base_path' in config")
		}
		if err := validateNamespace(namespace); err != nil {
			return nil, fmt.Errorf("invalid namespace: %w", err)
		}
		return newRocksDBStore(basePath, namespace)

	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// validateNamespace rejects namespace values that could escape the store's
// directory or object scope.
func validateNamespace(namespace string) error {
	if namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}

	if strings.Contains(namespace, "..") ||
		strings.Contains(namespace, "/") ||
		strings.Contains(namespace, "\\") ||
		strings.Contains(namespace, " ") {
		return fmt.Errorf("namespace contains invalid characters")
	}

	if len(namespace) > 100 {
		return fmt.Errorf("namespace too long (max 100 characters)")
	}

	return nil
}
