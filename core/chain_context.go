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

package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/celo-org/celo-stagesync/core/rawdb"
	"github.com/celo-org/celo-stagesync/ethdb"
)

// ChainContext serves the EVM's header lookups (BLOCKHASH) from a store
// transaction.
type ChainContext struct {
	db    ethdb.Getter
	cache *rawdb.HeaderCache
}

// NewChainContext returns a chain context over db. The cache may be nil.
func NewChainContext(db ethdb.Getter, cache *rawdb.HeaderCache) *ChainContext {
	return &ChainContext{db: db, cache: cache}
}

// Engine returns nil, the EVM is always given an explicit coinbase.
func (c *ChainContext) Engine() consensus.Engine {
	return nil
}

// GetHeader retrieves a header by hash and number, nil if unknown.
func (c *ChainContext) GetHeader(hash common.Hash, number uint64) *types.Header {
	var (
		header *types.Header
		err    error
	)
	if c.cache != nil {
		header, err = c.cache.ReadHeader(c.db, hash, number)
	} else {
		header, err = rawdb.ReadHeader(c.db, hash, number)
	}
	if err != nil {
		log.Error("Failed to read header", "number", number, "hash", hash, "err", err)
		return nil
	}
	return header
}
