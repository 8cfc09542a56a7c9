// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package leveldb implements the ethdb.Database interface on top of goleveldb.
// The single writable transaction maps onto a leveldb transaction, read-only
// transactions map onto leveldb snapshots.
package leveldb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/syndtr/goleveldb/leveldb"
	lvlerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/celo-org/celo-stagesync/ethdb"
)

const (
	// minCache is the minimum amount of memory in megabytes to allocate to leveldb
	// read and write caching, split half and half.
	minCache = 16

	// minHandles is the minimum number of files handles to allocate to the open
	// database files.
	minHandles = 16

	// dbVersion is bumped whenever the table layout changes incompatibly.
	dbVersion = 1
)

var dbVersionKey = []byte("stagesync-version")

// Database is a persistent key-value store with table namespaces.
type Database struct {
	fn  string
	db  *leveldb.DB
	log log.Logger

	// writer holds a token while the writable transaction is open.
	writer chan struct{}
	quit   sync.Once
}

// New opens the LevelDB database at the given path, recovering it if the
// manifest is corrupted.
func New(file string, cache int, handles int) (*Database, error) {
	if cache < minCache {
		cache = minCache
	}
	if handles < minHandles {
		handles = minHandles
	}
	logger := log.New("database", file)
	logger.Info("Allocated cache and file handles", "cache", cache, "handles", handles)

	db, err := leveldb.OpenFile(file, &opt.Options{
		OpenFilesCacheCapacity: handles,
		BlockCacheCapacity:     cache / 2 * opt.MiB,
		WriteBuffer:            cache / 4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	})
	if _, corrupted := err.(*lvlerrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(file, nil)
	}
	if err != nil {
		return nil, err
	}
	if err := checkVersion(db); err != nil {
		db.Close()
		return nil, err
	}
	return newDatabase(file, db, logger), nil
}

// NewInMemory returns a wrapped LevelDB object with an in-memory storage.
func NewInMemory() (*Database, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newDatabase("", db, log.New("database", "memory")), nil
}

func newDatabase(file string, db *leveldb.DB, logger log.Logger) *Database {
	return &Database{
		fn:     file,
		db:     db,
		log:    logger,
		writer: make(chan struct{}, 1),
	}
}

// checkVersion stamps a fresh database with the current layout version and
// refuses to open one written with a different layout.
func checkVersion(db *leveldb.DB) error {
	current := make([]byte, binary.MaxVarintLen64)
	current = current[:binary.PutVarint(current, dbVersion)]

	blob, err := db.Get(dbVersionKey, nil)
	switch err {
	case leveldb.ErrNotFound:
		return db.Put(dbVersionKey, current, nil)
	case nil:
		if !bytes.Equal(blob, current) {
			have, _ := binary.Varint(blob)
			return fmt.Errorf("incompatible database version: have %d, want %d", have, dbVersion)
		}
		return nil
	default:
		return err
	}
}

// Path returns the path to the database directory.
func (db *Database) Path() string {
	return db.fn
}

// Close stops the database and releases its files.
func (db *Database) Close() error {
	var err error
	db.quit.Do(func() {
		err = db.db.Close()
		if err == nil {
			db.log.Info("Database closed")
		} else {
			db.log.Error("Failed to close database", "err", err)
		}
	})
	return err
}

// BeginRO opens a snapshot of the current committed state.
func (db *Database) BeginRO(ctx context.Context) (ethdb.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := db.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &roTx{snap: snap}, nil
}

// BeginRW opens the writable transaction.
func (db *Database) BeginRW(ctx context.Context) (ethdb.RwTx, error) {
	select {
	case db.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	tr, err := db.db.OpenTransaction()
	if err != nil {
		<-db.writer
		return nil, err
	}
	return &rwTx{tr: tr, release: func() { <-db.writer }}, nil
}

// tableKey namespaces a key within a table.
func tableKey(table string, key []byte) []byte {
	k := make([]byte, 0, len(table)+1+len(key))
	k = append(k, table...)
	k = append(k, 0)
	return append(k, key...)
}

func tablePrefix(table string) []byte {
	return tableKey(table, nil)
}
