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

package rawdb

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru"

	"github.com/celo-org/celo-stagesync/ethdb"
)

// HeaderCache is an LRU of decoded headers keyed by hash. Headers are
// immutable for a given hash, so entries never need invalidation when the
// transaction that wrote them is rolled back.
type HeaderCache struct {
	cache *lru.Cache
}

// NewHeaderCache creates a header cache holding up to size headers.
func NewHeaderCache(size int) *HeaderCache {
	cache, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &HeaderCache{cache: cache}
}

// Add inserts a header into the cache.
func (c *HeaderCache) Add(header *types.Header) {
	c.cache.Add(header.Hash(), header)
}

// ReadHeader returns the header from the cache, falling back to the store.
func (c *HeaderCache) ReadHeader(db ethdb.Getter, hash common.Hash, number uint64) (*types.Header, error) {
	if h, ok := c.cache.Get(hash); ok {
		header := h.(*types.Header)
		if header.Number.Uint64() == number {
			return header, nil
		}
		return nil, nil
	}
	header, err := ReadHeader(db, hash, number)
	if err != nil || header == nil {
		return nil, err
	}
	c.cache.Add(hash, header)
	return header, nil
}
