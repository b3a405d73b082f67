package storage

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"
)

var _ AsyncStorage = (*BadgerStorage)(nil)

type BadgerStorage struct {
	db *badger.DB
}

// OpenBadger opens a badger database at path. An empty path keeps the data
// in memory only.
func OpenBadger(path string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Compression = options.Snappy
	opts.Logger = &badgerLogger{log.SugaredLogger.With("db", "badger")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStorage{db: db}, nil
}

func (bs *BadgerStorage) Close() error {
	return bs.db.Close()
}

func (bs *BadgerStorage) GetItem(_ context.Context, key string) (string, bool, error) {
	var value string
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (bs *BadgerStorage) SetItem(_ context.Context, key, value string) error {
	txn := bs.db.NewTransaction(true)
	defer txn.Discard()

	if err := txn.Set([]byte(key), []byte(value)); err != nil {
		return err
	}
	return txn.Commit()
}

func (bs *BadgerStorage) RemoveItem(_ context.Context, key string) error {
	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Ping is used by the daemon health check.
func (bs *BadgerStorage) Ping(ctx context.Context) error {
	if bs.db.IsClosed() {
		return errors.New("badger is closed")
	}
	_, _, err := bs.GetItem(ctx, ConnectedWalletIDsKey)
	return err
}

type badgerLogger struct {
	*zap.SugaredLogger
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
