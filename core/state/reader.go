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

package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/VictoriaMetrics/fastcache"

	"github.com/celo-org/celo-stagesync/core/rawdb"
	"github.com/celo-org/celo-stagesync/ethdb"
)

// Reader gives access to the world state as of the end of the last applied
// block.
type Reader interface {
	// ReadAccount returns nil for accounts that do not exist.
	ReadAccount(addr common.Address) (*Account, error)
	ReadStorage(addr common.Address, slot common.Hash) (common.Hash, error)
	ReadCode(codeHash common.Hash) ([]byte, error)
}

// CodeCache caches contract code by hash. Code is content addressed so the
// cache is shared across transactions.
type CodeCache struct {
	cache *fastcache.Cache
}

// NewCodeCache returns a code cache limited to roughly size bytes.
func NewCodeCache(size int) *CodeCache {
	return &CodeCache{cache: fastcache.New(size)}
}

func (c *CodeCache) get(hash common.Hash) []byte {
	if c == nil {
		return nil
	}
	return c.cache.Get(nil, hash.Bytes())
}

func (c *CodeCache) set(hash common.Hash, code []byte) {
	if c == nil {
		return
	}
	c.cache.Set(hash.Bytes(), code)
}

// PlainStateReader reads the flat state tables of a store transaction.
type PlainStateReader struct {
	db    ethdb.Getter
	codes *CodeCache
}

// NewPlainStateReader returns a Reader over the given transaction. The code
// cache may be nil.
func NewPlainStateReader(db ethdb.Getter, codes *CodeCache) *PlainStateReader {
	return &PlainStateReader{db: db, codes: codes}
}

func (r *PlainStateReader) ReadAccount(addr common.Address) (*Account, error) {
	enc, err := rawdb.ReadAccountData(r.db, addr)
	if err != nil || len(enc) == 0 {
		return nil, err
	}
	acc, err := DecodeAccount(enc)
	if err != nil {
		return nil, fmt.Errorf("account %x: %w", addr, err)
	}
	return acc, nil
}

func (r *PlainStateReader) ReadStorage(addr common.Address, slot common.Hash) (common.Hash, error) {
	return rawdb.ReadStorage(r.db, addr, slot)
}

func (r *PlainStateReader) ReadCode(codeHash common.Hash) ([]byte, error) {
	if codeHash == emptyCodeHash || codeHash == (common.Hash{}) {
		return nil, nil
	}
	if code := r.codes.get(codeHash); len(code) > 0 {
		return code, nil
	}
	code, err := rawdb.ReadCode(r.db, codeHash)
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("missing code %x", codeHash)
	}
	if crypto.Keccak256Hash(code) != codeHash {
		return nil, fmt.Errorf("corrupted code %x", codeHash)
	}
	r.codes.set(codeHash, code)
	return code, nil
}
