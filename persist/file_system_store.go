package persist

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700

	recordFileSuffix = ".json"
)

// FileSystemStore implements Store on the local filesystem. Each record is
// one file under basePath/namespace/records/, named by the URL-safe base64
// of its storage key so arbitrary key strings never reach the filesystem
// layer. Writes go through a temp file and rename, so a record file is
// always either the old or the new content, never a partial write.
type FileSystemStore struct {
	basePath    string
	namespace   string
	recordsPath string // basePath/namespace/records/
}

// NewFileSystemStore initializes and returns a new FileSystemStore rooted
// at basePath, scoped to the given namespace.
func NewFileSystemStore(basePath string, namespace string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required for filesystem store")
	}
	if err := validateNamespace(namespace); err != nil {
		return nil, fmt.Errorf("invalid namespace: %w", err)
	}

	fs := &FileSystemStore{
		basePath:    basePath,
		namespace:   namespace,
		recordsPath: filepath.Join(basePath, namespace, "records"),
	}

	if err := os.MkdirAll(fs.recordsPath, DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", fs.recordsPath, err)
	}

	return fs, nil
}

// NewFileSystemStoreFromConfig creates a FileSystemStore from a StoreConfig.
func NewFileSystemStoreFromConfig(config StoreConfig, namespace string) (*FileSystemStore, error) {
	basePath, ok := config.Config["base_path"].(string)
	if !ok {
		return nil, fmt.Errorf("base_path is required for filesystem store")
	}
	return NewFileSystemStore(basePath, namespace)
}

// filePathFor maps a storage key to its record file.
func (fs *FileSystemStore) filePathFor(key string) string {
	encoded := base64.URLEncoding.EncodeToString([]byte(key))
	return filepath.Join(fs.recordsPath, encoded+recordFileSuffix)
}

// keyFromFileName reverses filePathFor for a directory entry name.
// ok is false for files that do not follow the record naming scheme.
func keyFromFileName(name string) (string, bool) {
	if !strings.HasSuffix(name, recordFileSuffix) {
		return "", false
	}
	decoded, err := base64.URLEncoding.DecodeString(strings.TrimSuffix(name, recordFileSuffix))
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

func (fs *FileSystemStore) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(fs.filePathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return data, nil
}

func (fs *FileSystemStore) Put(key string, value []byte) error {
	if err := writeAtomic(fs.filePathFor(key), value, FilePermissions); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (fs *FileSystemStore) Delete(key string) error {
	err := os.Remove(fs.filePathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (fs *FileSystemStore) List(prefix string) ([]string, error) {
	entries, err := os.ReadDir(fs.recordsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, ok := keyFromFileName(entry.Name())
		if !ok {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (fs *FileSystemStore) Ping() error {
	_, err := os.Stat(fs.recordsPath)
	return err
}

func (fs *FileSystemStore) Close() error {
	return nil
}

func (fs *FileSystemStore) GetType() StoreType {
	return StoreTypeFileSystem
}

// writeAtomic lands data at path through a temp file in the same directory
// plus a rename, so a reader sees either the previous content or the new
// content, never a torn write.
func writeAtomic(path string, data []byte, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move record into place: %w", err)
	}
	return nil
}
