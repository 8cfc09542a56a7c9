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

// Package ethdb defines the interfaces for a transactional, table oriented
// Ethereum data store.
package ethdb

import (
	"context"
	"errors"
)

// ErrTxDone is returned when an operation is attempted on a transaction that
// has already been committed or rolled back.
var ErrTxDone = errors.New("transaction already finished")

// Getter wraps the read access methods of a table oriented store.
type Getter interface {
	// Get retrieves the given key from the table. A missing key yields a nil
	// value and a nil error.
	Get(table string, key []byte) ([]byte, error)

	// Has retrieves if a key is present in the table.
	Has(table string, key []byte) (bool, error)
}

// Putter wraps the Put method of a table oriented store.
type Putter interface {
	Put(table string, key []byte, value []byte) error
}

// Deleter wraps the Delete method of a table oriented store.
type Deleter interface {
	Delete(table string, key []byte) error
}

// Cursor iterates over the keys of a single table in binary-alphabetical
// order. Every positioning method returns a nil key once the cursor moved
// past either end of the table. Returned slices are owned by the caller.
type Cursor interface {
	First() ([]byte, []byte, error)
	Last() ([]byte, []byte, error)
	// Seek positions the cursor at the first key greater or equal to the
	// given one.
	Seek(key []byte) ([]byte, []byte, error)
	Next() ([]byte, []byte, error)
	Prev() ([]byte, []byte, error)
	Close()
}

// Tx is a read-only view of the store. Reads observe a consistent snapshot
// and never block the writer.
type Tx interface {
	Getter

	// Cursor opens a cursor over the given table. Cursors must be closed
	// before the transaction finishes.
	Cursor(table string) (Cursor, error)

	// Rollback releases the transaction. It is safe to call after Commit.
	Rollback()
}

// RwTx is a writable transaction. It observes its own writes. Nothing it
// writes is visible to other transactions before Commit returns.
type RwTx interface {
	Tx
	Putter
	Deleter

	Commit() error
}

// Database is a transactional key-value store with a single writer and any
// number of concurrent snapshot readers.
type Database interface {
	// BeginRO opens a read-only snapshot transaction.
	BeginRO(ctx context.Context) (Tx, error)

	// BeginRW opens the writable transaction, waiting until any other
	// writable transaction has finished or the context is cancelled.
	BeginRW(ctx context.Context) (RwTx, error)

	Close() error
}

// View runs f inside a read-only transaction.
func View(ctx context.Context, db Database, f func(tx Tx) error) error {
	tx, err := db.BeginRO(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

// Update runs f inside a writable transaction and commits it if f succeeds.
func Update(ctx context.Context, db Database, f func(tx RwTx) error) error {
	tx, err := db.BeginRW(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}
