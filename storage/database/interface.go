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

// Package database provides the key-value backends underneath the consensus
// state store: LevelDB (default), BadgerDB and an in-memory map for tests.
package database

import (
	"errors"

	"github.com/vellumchain/vellum/log"
)

var logger = log.NewModuleLogger(log.StorageDatabase)

// ErrKeyNotFound is returned by Get when the key does not exist. Backends
// normalize their native not-found errors to this value.
var ErrKeyNotFound = errors.New("key not found")

// DBType selects a backend implementation.
type DBType int

const (
	LevelDB DBType = iota
	BadgerDB
	MemoryDB
)

// DBConfig carries backend selection and tuning knobs.
type DBConfig struct {
	Dir              string
	DBType           DBType
	LevelDBCacheSize int
	LevelDBHandles   int
}

// Putter wraps the write methods shared by databases and batches.
type Putter interface {
	Put(key []byte, value []byte) error
}

// Database is the minimal KV surface the state store builds on.
type Database interface {
	Putter
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	NewIterator(prefix []byte) Iterator
	NewBatch() Batch
	Close()
}

// Iterator walks keys with a given prefix in ascending byte order. Callers
// must Release when done.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// Batch is a write-only buffer committed atomically with Write.
type Batch interface {
	Putter
	Delete(key []byte) error
	ValueSize() int
	Write() error
	Reset()
}

// NewDatabase opens the backend selected by the config.
func NewDatabase(dbc *DBConfig) (Database, error) {
	switch dbc.DBType {
	case LevelDB:
		return NewLDBDatabase(dbc.Dir, dbc.LevelDBCacheSize, dbc.LevelDBHandles)
	case BadgerDB:
		return NewBadgerDB(dbc.Dir)
	case MemoryDB:
		return NewMemDatabase(), nil
	default:
		logger.Error("Undefined database type, falling back to LevelDB", "type", dbc.DBType)
		return NewLDBDatabase(dbc.Dir, dbc.LevelDBCacheSize, dbc.LevelDBHandles)
	}
}
