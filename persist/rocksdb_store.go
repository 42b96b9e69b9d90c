//go:build rocksdb

package persist

import (
	"fmt"
	"path/filepath"

	"github.com/linxGnu/grocksdb"
)

// RocksDBStore implements Store on an embedded RocksDB database. One
// database directory is opened per namespace; keys and values pass through
// unmodified.
type RocksDBStore struct {
	db   *grocksdb.DB
	ro   *grocksdb.ReadOptions
	wo   *grocksdb.WriteOptions
	path string
}

func newRocksDBStore(basePath, namespace string) (Store, error) {
	path := filepath.Join(basePath, namespace)

	bbto := grocksdb.NewDefaultBlockBasedTableOptions()
	bbto.SetBlockCache(grocksdb.NewLRUCache(64 << 20))

	opts := grocksdb.NewDefaultOptions()
	opts.SetBlockBasedTableFactory(bbto)
	opts.SetCreateIfMissing(true)

	db, err := grocksdb.OpenDb(opts, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rocksdb at %s: %w", path, err)
	}

	return &RocksDBStore{
		db:   db,
		ro:   grocksdb.NewDefaultReadOptions(),
		wo:   grocksdb.NewDefaultWriteOptions(),
		path: path,
	}, nil
}

func (r *RocksDBStore) Get(key string) ([]byte, error) {
	slice, err := r.db.Get(r.ro, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	defer slice.Free()

	if !slice.Exists() {
		return nil, ErrKeyNotFound
	}

	// Copy before Free releases the underlying C buffer.
	data := make([]byte, len(slice.Data()))
	copy(data, slice.Data())
	return data, nil
}

func (r *RocksDBStore) Put(key string, value []byte) error {
	if err := r.db.Put(r.wo, []byte(key), value); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (r *RocksDBStore) Delete(key string) error {
	if err := r.db.Delete(r.wo, []byte(key)); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (r *RocksDBStore) List(prefix string) ([]string, error) {
	it := r.db.NewIterator(r.ro)
	defer it.Close()

	var keys []string
	prefixBytes := []byte(prefix)
	for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
		k := it.Key()
		keys = append(keys, string(k.Data()))
		k.Free()
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return keys, nil
}

func (r *RocksDBStore) Ping() error {
	if r.db == nil {
		return fmt.Errorf("rocksdb is not open")
	}
	return nil
}

func (r *RocksDBStore) Close() error {
	r.ro.Destroy()
	r.wo.Destroy()
	r.db.Close()
	return nil
}

func (r *RocksDBStore) GetType() StoreType {
	return StoreTypeRocksDB
}
