// Copyright 2025 The vellum Authors
// This file is part of the vellum library.
//
// The vellum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The vellum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the vellum library. If not, see <http://www.gnu.org/licenses/>.

package database

import (
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger"

	"github.com/vellumchain/vellum/log"
)

const gcThreshold = int64(1 << 30) // GB
const sizeGCTickerTime = 1 * time.Minute

type badgerDB struct {
	fn string // filename for reporting
	db *badger.DB

	gcTicker *time.Ticker  // runs periodically and runs gc if db size exceeds the threshold.
	closeCh  chan struct{} // stops the gc loop

	logger log.Logger // Contextual logger tracking the database path
}

func getBadgerDBOptions(dbDir string) badger.Options {
	opts := badger.DefaultOptions(dbDir)
	opts.Logger = nil
	return opts
}

func NewBadgerDB(dbDir string) (*badgerDB, error) {
	localLogger := logger.NewWith("dbDir", dbDir)

	if fi, err := os.Stat(dbDir); err == nil {
		if !fi.IsDir() {
			return nil, fmt.Errorf("failed to make badgerDB while checking dbDir. Given dbDir is not a directory. dbDir: %v", dbDir)
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to make badgerDB while making dbDir. dbDir: %v, err: %v", dbDir, err)
		}
	} else {
		return nil, fmt.Errorf("failed to make badgerDB while checking dbDir. dbDir: %v, err: %v", dbDir, err)
	}

	db, err := badger.Open(getBadgerDBOptions(dbDir))
	if err != nil {
		return nil, fmt.Errorf("failed to make badgerDB while opening the DB. dbDir: %v, err: %v", dbDir, err)
	}

	bg := &badgerDB{
		fn:       dbDir,
		db:       db,
		logger:   localLogger,
		gcTicker: time.NewTicker(sizeGCTickerTime),
		closeCh:  make(chan struct{}),
	}

	go bg.runValueLogGC()

	return bg, nil
}

// runValueLogGC periodically checks the size of the value log and runs gc
// once it has grown by at least gcThreshold since the last recorded size.
func (bg *badgerDB) runValueLogGC() {
	_, lastValueLogSize := bg.db.Size()

	for {
		select {
		case <-bg.gcTicker.C:
			_, currValueLogSize := bg.db.Size()
			if currValueLogSize-lastValueLogSize < gcThreshold {
				continue
			}
			if err := bg.db.RunValueLogGC(0.5); err != nil {
				bg.logger.Debug("Value log GC returned", "err", err)
				continue
			}
			_, lastValueLogSize = bg.db.Size()
		case <-bg.closeCh:
			return
		}
	}
}

func (bg *badgerDB) Path() string {
	return bg.fn
}

func (bg *badgerDB) Put(key []byte, value []byte) error {
	return bg.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (bg *badgerDB) Has(key []byte) (bool, error) {
	err := bg.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

func (bg *badgerDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := bg.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (bg *badgerDB) Delete(key []byte) error {
	return bg.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// NewIterator materializes the prefix range up front. Badger iterators are
// bound to a transaction; copying keeps the Database iterator contract free
// of transaction lifetimes.
func (bg *badgerDB) NewIterator(prefix []byte) Iterator {
	it := &memIterator{pos: -1}
	err := bg.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		bit := txn.NewIterator(opts)
		defer bit.Close()
		for bit.Rewind(); bit.ValidForPrefix(prefix); bit.Next() {
			item := bit.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			it.keys = append(it.keys, item.KeyCopy(nil))
			it.values = append(it.values, value)
		}
		return nil
	})
	if err != nil {
		it.err = err
	}
	return it
}

func (bg *badgerDB) Close() {
	close(bg.closeCh)
	bg.gcTicker.Stop()
	err := bg.db.Close()
	if err == nil {
		bg.logger.Info("Database closed")
	} else {
		bg.logger.Error("Failed to close database", "err", err)
	}
}

func (bg *badgerDB) NewBatch() Batch {
	return &badgerBatch{db: bg.db, txn: bg.db.NewTransaction(true)}
}

type badgerBatch struct {
	db   *badger.DB
	txn  *badger.Txn
	size int
}

func (b *badgerBatch) Put(key, value []byte) error {
	err := b.txn.Set(key, value)
	b.size += len(value)
	return err
}

func (b *badgerBatch) Delete(key []byte) error {
	err := b.txn.Delete(key)
	b.size++
	return err
}

func (b *badgerBatch) Write() error {
	return b.txn.Commit()
}

func (b *badgerBatch) ValueSize() int {
	return b.size
}

func (b *badgerBatch) Reset() {
	b.txn.Discard()
	b.txn = b.db.NewTransaction(true)
	b.size = 0
}
