// Copyright 2022 The Celo Authors
// This file is part of the celo library.
//
// The celo library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The celo library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the celo library. If not, see <http://www.gnu.org/licenses/>.

package leveldb

import (
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/celo-org/celo-stagesync/ethdb"
)

// reader is the read surface shared by leveldb snapshots and transactions.
type reader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	Has(key []byte, ro *opt.ReadOptions) (bool, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

func get(r reader, table string, key []byte) ([]byte, error) {
	v, err := r.Get(tableKey(table, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	return v, err
}

func has(r reader, table string, key []byte) (bool, error) {
	return r.Has(tableKey(table, key), nil)
}

func newCursor(r reader, table string) *cursor {
	prefix := tablePrefix(table)
	return &cursor{
		prefix: prefix,
		it:     r.NewIterator(util.BytesPrefix(prefix), nil),
	}
}

type roTx struct {
	snap *leveldb.Snapshot
	once sync.Once
}

func (tx *roTx) Get(table string, key []byte) ([]byte, error) { return get(tx.snap, table, key) }

func (tx *roTx) Has(table string, key []byte) (bool, error) { return has(tx.snap, table, key) }

func (tx *roTx) Cursor(table string) (ethdb.Cursor, error) {
	return newCursor(tx.snap, table), nil
}

func (tx *roTx) Rollback() {
	tx.once.Do(tx.snap.Release)
}

type rwTx struct {
	tr      *leveldb.Transaction
	release func()
	done    bool
}

func (tx *rwTx) Get(table string, key []byte) ([]byte, error) {
	if tx.done {
		return nil, ethdb.ErrTxDone
	}
	return get(tx.tr, table, key)
}

func (tx *rwTx) Has(table string, key []byte) (bool, error) {
	if tx.done {
		return false, ethdb.ErrTxDone
	}
	return has(tx.tr, table, key)
}

func (tx *rwTx) Cursor(table string) (ethdb.Cursor, error) {
	if tx.done {
		return nil, ethdb.ErrTxDone
	}
	return newCursor(tx.tr, table), nil
}

func (tx *rwTx) Put(table string, key []byte, value []byte) error {
	if tx.done {
		return ethdb.ErrTxDone
	}
	return tx.tr.Put(tableKey(table, key), value, nil)
}

func (tx *rwTx) Delete(table string, key []byte) error {
	if tx.done {
		return ethdb.ErrTxDone
	}
	return tx.tr.Delete(tableKey(table, key), nil)
}

// Commit flushes the transaction. A failed commit leaves the transaction open
// so that Rollback can discard it.
func (tx *rwTx) Commit() error {
	if tx.done {
		return ethdb.ErrTxDone
	}
	if err := tx.tr.Commit(); err != nil {
		return err
	}
	tx.finish()
	return nil
}

func (tx *rwTx) Rollback() {
	if tx.done {
		return
	}
	tx.tr.Discard()
	tx.finish()
}

func (tx *rwTx) finish() {
	tx.done = true
	tx.release()
}

// cursor adapts a prefix-bounded leveldb iterator to ethdb.Cursor.
type cursor struct {
	prefix []byte
	it     iterator.Iterator
}

func (c *cursor) current(ok bool) ([]byte, []byte, error) {
	if !ok {
		return nil, nil, c.it.Error()
	}
	k := c.it.Key()[len(c.prefix):]
	return copyBytes(k), copyBytes(c.it.Value()), nil
}

func (c *cursor) First() ([]byte, []byte, error) { return c.current(c.it.First()) }

func (c *cursor) Last() ([]byte, []byte, error) { return c.current(c.it.Last()) }

func (c *cursor) Seek(key []byte) ([]byte, []byte, error) {
	return c.current(c.it.Seek(append(append([]byte{}, c.prefix...), key...)))
}

func (c *cursor) Next() ([]byte, []byte, error) { return c.current(c.it.Next()) }

func (c *cursor) Prev() ([]byte, []byte, error) { return c.current(c.it.Prev()) }

func (c *cursor) Close() { c.it.Release() }

// copyBytes returns a copy of b, leveldb reuses iterator buffers.
func copyBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
