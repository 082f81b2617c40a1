// Package badgerindex records which remote archive files have already been
// downloaded, so repeated runs only fetch what is new.
package badgerindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// Index is a persistent set of downloaded files keyed by state and filename.
type Index struct {
	db *badger.DB
}

// Open opens the index stored under dir, creating it if needed. An empty dir
// opens an in-memory index.
func Open(dir string, logger *slog.Logger) (*Index, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		opts = badger.DefaultOptions(dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open download index: %w", err)
	}
	return &Index{db: db}, nil
}

func key(stateCode, name string) []byte {
	return []byte("file/" + stateCode + "/" + name)
}

// Size returns the recorded size of a downloaded file and whether it is known.
func (i *Index) Size(stateCode, name string) (int64, bool, error) {
	var size int64
	err := i.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(stateCode, name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt index entry for %s/%s", stateCode, name)
			}
			size = int64(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return size, true, nil
}

// Mark records a downloaded file and its size.
func (i *Index) Mark(stateCode, name string, size int64) error {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, uint64(size))
	return i.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(stateCode, name), val)
	})
}

// Forget removes a file from the index.
func (i *Index) Forget(stateCode, name string) error {
	return i.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(stateCode, name))
	})
}

// Close releases the underlying database.
func (i *Index) Close() error {
	return i.db.Close()
}

// badgerLogger adapts slog.Logger to badger's Logger interface. Badger's info
// chatter is demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
