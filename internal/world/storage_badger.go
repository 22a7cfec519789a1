package world

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerOptions configures the badger-backed column store.
type BadgerOptions struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStorageProvider keeps every chunk of the region in one badger
// database, keyed by chunk coordinate and column index.
type BadgerStorageProvider struct {
	db *badger.DB
}

func OpenBadgerStorageProvider(opts BadgerOptions) (*BadgerStorageProvider, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("badger storage requires a path")
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", opts.Path, err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites).WithNumVersionsToKeep(1)
	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: opts.Logger.With("component", "badger")})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStorageProvider{db: db}, nil
}

func (p *BadgerStorageProvider) NewStorage(key ChunkCoord, bounds Bounds, dim Dimensions) (BlockStorage, error) {
	return &badgerBlockStorage{
		db:     p.db,
		prefix: []byte(fmt.Sprintf("c/%d/%d/", key.X, key.Z)),
	}, nil
}

func (p *BadgerStorageProvider) Close() error {
	return p.db.Close()
}

type badgerBlockStorage struct {
	db     *badger.DB
	prefix []byte
}

func (s *badgerBlockStorage) key(index int) []byte {
	out := make([]byte, 0, len(s.prefix)+8)
	out = append(out, s.prefix...)
	return strconv.AppendInt(out, int64(index), 10)
}

func (s *badgerBlockStorage) LoadColumn(index int) (Column, bool, error) {
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(index))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Column{}, false, nil
	}
	if err != nil {
		return Column{}, false, fmt.Errorf("load column %d: %w", index, err)
	}
	var col Column
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&col); err != nil {
		return Column{}, false, fmt.Errorf("decode column %d: %w", index, err)
	}
	return col, true, nil
}

func (s *badgerBlockStorage) SaveColumn(index int, col Column) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(col); err != nil {
		return fmt.Errorf("encode column %d: %w", index, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(index), buf.Bytes())
	})
}

func (s *badgerBlockStorage) Delete(index int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(index))
	})
}

func (s *badgerBlockStorage) ForEach(fn func(index int, col Column) bool) error {
	type entry struct {
		index   int
		payload []byte
	}
	var entries []entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			item := it.Item()
			suffix := strings.TrimPrefix(string(item.Key()), string(s.prefix))
			idx, err := strconv.Atoi(suffix)
			if err != nil {
				return fmt.Errorf("parse column key %q: %w", item.Key(), err)
			}
			payload, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, entry{index: idx, payload: payload})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("iterate columns: %w", err)
	}

	for _, e := range entries {
		var col Column
		if err := gob.NewDecoder(bytes.NewReader(e.payload)).Decode(&col); err != nil {
			return fmt.Errorf("decode column %d: %w", e.index, err)
		}
		if !fn(e.index, col) {
			break
		}
	}
	return nil
}

// Close is a no-op; the shared database is closed by the provider.
func (s *badgerBlockStorage) Close() error {
	return nil
}
