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

package stagedsync

import (
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
)

// BadBlocks remembers the most recent blocks that failed validation.
type BadBlocks struct {
	cache *lru.Cache
}

// NewBadBlocks creates a set holding at most size blocks.
func NewBadBlocks(size int) *BadBlocks {
	if size <= 0 {
		size = 1
	}
	cache, _ := lru.New(size)
	return &BadBlocks{cache: cache}
}

// Add marks a block as bad.
func (b *BadBlocks) Add(hash common.Hash, number uint64) {
	b.cache.Add(hash, number)
}

// Contains reports whether a block is known to be bad.
func (b *BadBlocks) Contains(hash common.Hash) bool {
	return b.cache.Contains(hash)
}

// Len returns the number of remembered blocks.
func (b *BadBlocks) Len() int {
	return b.cache.Len()
}
