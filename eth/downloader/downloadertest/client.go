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

// Package downloadertest provides an in-memory downloader client for tests.
package downloadertest

import (
	"context"
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrInjected is the default error of injected faults.
var ErrInjected = errors.New("injected fault")

// ChainClient serves headers and bodies of a set of blocks. Requests are
// logged and faults can be injected.
type ChainClient struct {
	mu     sync.Mutex
	blocks map[common.Hash]*types.Block
	bodies map[common.Hash]*types.Body // served instead of the real body
	head   *types.Block

	maxBodies int // bodies per response, zero for no limit

	headerFaults []error
	bodyFaults   []error

	headerRequests int
	bodyRequests   int
	requested      mapset.Set // hashes of blocks whose body was requested
}

// NewChainClient creates a client serving blocks. The last block is the
// announced head.
func NewChainClient(blocks []*types.Block) *ChainClient {
	c := &ChainClient{
		blocks:    make(map[common.Hash]*types.Block),
		bodies:    make(map[common.Hash]*types.Body),
		requested: mapset.NewSet(),
	}
	c.AddBlocks(blocks)
	return c
}

// AddBlocks makes further blocks available, the last one becomes the head.
func (c *ChainClient) AddBlocks(blocks []*types.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, block := range blocks {
		c.blocks[block.Hash()] = block
	}
	if len(blocks) > 0 {
		c.head = blocks[len(blocks)-1]
	}
}

// ReplaceBody serves body instead of the real body of the given block.
func (c *ChainClient) ReplaceBody(hash common.Hash, body *types.Body) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies[hash] = body
}

// RestoreBody serves the real body of the given block again.
func (c *ChainClient) RestoreBody(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bodies, hash)
}

// SetMaxBodies limits the number of bodies per response.
func (c *ChainClient) SetMaxBodies(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxBodies = n
}

// FailHeaders makes the next n header requests fail with err.
func (c *ChainClient) FailHeaders(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.headerFaults = append(c.headerFaults, err)
	}
}

// FailBodies makes the next n body requests fail with err.
func (c *ChainClient) FailBodies(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.bodyFaults = append(c.bodyFaults, err)
	}
}

// HeaderRequests returns the number of header requests served or failed.
func (c *ChainClient) HeaderRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headerRequests
}

// BodyRequests returns the number of body requests served or failed.
func (c *ChainClient) BodyRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodyRequests
}

// Requested reports whether the body of the block with the given hash was
// ever requested.
func (c *ChainClient) Requested(hash common.Hash) bool {
	return c.requested.Contains(hash)
}

// RequestedCount returns the number of distinct blocks whose body was
// requested.
func (c *ChainClient) RequestedCount() int {
	return c.requested.Cardinality()
}

// HeadersBackward implements downloader.Client.
func (c *ChainClient) HeadersBackward(ctx context.Context, hash common.Hash, max int) ([]*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.headerRequests++
	if len(c.headerFaults) > 0 {
		err := c.headerFaults[0]
		c.headerFaults = c.headerFaults[1:]
		return nil, err
	}
	var headers []*types.Header
	for len(headers) < max {
		block, ok := c.blocks[hash]
		if !ok {
			break
		}
		headers = append(headers, block.Header())
		if block.NumberU64() == 0 {
			break
		}
		hash = block.ParentHash()
	}
	return headers, nil
}

// BodiesByHash implements downloader.Client.
func (c *ChainClient) BodiesByHash(ctx context.Context, hashes []common.Hash) ([]*types.Body, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bodyRequests++
	if len(c.bodyFaults) > 0 {
		err := c.bodyFaults[0]
		c.bodyFaults = c.bodyFaults[1:]
		return nil, err
	}
	var bodies []*types.Body
	for _, hash := range hashes {
		if c.maxBodies > 0 && len(bodies) == c.maxBodies {
			break
		}
		c.requested.Add(hash)
		block, ok := c.blocks[hash]
		if !ok {
			break
		}
		if body, ok := c.bodies[hash]; ok {
			bodies = append(bodies, body)
			continue
		}
		bodies = append(bodies, block.Body())
	}
	return bodies, nil
}

// CurrentTip returns the head block. It implements consensus.TipSource.
func (c *ChainClient) CurrentTip(ctx context.Context) (common.Hash, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head == nil {
		return common.Hash{}, 0, errors.New("no blocks")
	}
	return c.head.Hash(), c.head.NumberU64(), nil
}
