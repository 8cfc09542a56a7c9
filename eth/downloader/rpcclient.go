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

package downloader

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// RPCClient serves chain data from a JSON-RPC endpoint of another node.
type RPCClient struct {
	client *ethclient.Client
}

// DialRPC connects to the JSON-RPC endpoint at url.
func DialRPC(ctx context.Context, url string) (*RPCClient, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewRPCClient(client), nil
}

// NewRPCClient wraps an established ethclient connection.
func NewRPCClient(client *ethclient.Client) *RPCClient {
	return &RPCClient{client: client}
}

// HeadersBackward implements Client. Headers are requested one by one since
// the RPC interface has no batch lookup by hash, an unknown hash ends the
// response early.
func (c *RPCClient) HeadersBackward(ctx context.Context, hash common.Hash, max int) ([]*types.Header, error) {
	headers := make([]*types.Header, 0, max)
	for len(headers) < max {
		header, err := c.client.HeaderByHash(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			break
		}
		if err != nil {
			return headers, err
		}
		headers = append(headers, header)
		if header.Number.Sign() == 0 {
			break
		}
		hash = header.ParentHash
	}
	return headers, nil
}

// BodiesByHash implements Client. The response stops at the first block the
// endpoint does not know.
func (c *RPCClient) BodiesByHash(ctx context.Context, hashes []common.Hash) ([]*types.Body, error) {
	bodies := make([]*types.Body, 0, len(hashes))
	for _, hash := range hashes {
		block, err := c.client.BlockByHash(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			break
		}
		if err != nil {
			return bodies, err
		}
		bodies = append(bodies, block.Body())
	}
	return bodies, nil
}

// CurrentTip returns the head of the remote chain. It implements
// consensus.TipSource.
func (c *RPCClient) CurrentTip(ctx context.Context) (common.Hash, uint64, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, 0, err
	}
	return header.Hash(), header.Number.Uint64(), nil
}

// Close terminates the connection.
func (c *RPCClient) Close() {
	c.client.Close()
}
