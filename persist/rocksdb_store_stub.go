//go:build !rocksdb

package persist

import "fmt"

func newRocksDBStore(basePath, namespace string) (Store, error) {
	return nil, fmt.Errorf("rocksdb support is not compiled in; rebuild with -tags rocksdb")
}
