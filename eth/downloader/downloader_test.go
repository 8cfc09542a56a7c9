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

package downloader_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/celo-org/celo-stagesync/core/chaintest"
	"github.com/celo-org/celo-stagesync/eth/downloader"
	"github.com/celo-org/celo-stagesync/eth/downloader/downloadertest"
)

func testConfig() downloader.Config {
	return downloader.Config{
		HeaderBatch:   4,
		BodyBatch:     3,
		Parallelism:   2,
		MaxAttempts:   3,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 2 * time.Millisecond,
	}
}

func TestHeaderStreamDescending(t *testing.T) {
	chain := chaintest.Default(10)
	client := downloadertest.NewChainClient(chain.Blocks)
	d := downloader.New(client, testConfig())

	ctx := context.Background()
	stream := d.Headers(ctx, chain.Head().Hash())
	defer stream.Close()

	for n := int64(10); n >= 0; n-- {
		header, err := stream.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, chain.Blocks[n].Hash(), header.Hash())
	}
	_, err := stream.Next(ctx)
	require.ErrorIs(t, err, io.EOF)

	// 11 headers in batches of 4.
	require.Equal(t, 3, client.HeaderRequests())
}

func TestHeaderStreamCloseEarly(t *testing.T) {
	chain := chaintest.Default(40)
	client := downloadertest.NewChainClient(chain.Blocks)
	d := downloader.New(client, testConfig())

	ctx := context.Background()
	stream := d.Headers(ctx, chain.Head().Hash())
	header, err := stream.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(40), header.Number.Uint64())
	stream.Close()

	// The current batch plus at most one prefetched batch and one blocked
	// on delivery.
	require.LessOrEqual(t, client.HeaderRequests(), 3)
}

func TestHeaderStreamRetries(t *testing.T) {
	chain := chaintest.Default(3)
	client := downloadertest.NewChainClient(chain.Blocks)
	client.FailHeaders(2, downloadertest.ErrInjected)
	d := downloader.New(client, testConfig())

	ctx := context.Background()
	stream := d.Headers(ctx, chain.Head().Hash())
	defer stream.Close()

	header, err := stream.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, chain.Head().Hash(), header.Hash())
}

func TestHeaderStreamFetchError(t *testing.T) {
	chain := chaintest.Default(3)
	client := downloadertest.NewChainClient(chain.Blocks)
	client.FailHeaders(3, downloadertest.ErrInjected)
	d := downloader.New(client, testConfig())

	ctx := context.Background()
	stream := d.Headers(ctx, chain.Head().Hash())
	defer stream.Close()

	_, err := stream.Next(ctx)
	var fetchErr *downloader.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 3, fetchErr.Attempts)
	require.ErrorIs(t, err, downloadertest.ErrInjected)

	// Errors are sticky.
	_, err2 := stream.Next(ctx)
	require.Equal(t, err, err2)
}

func TestHeaderStreamUnknownStart(t *testing.T) {
	chain := chaintest.Default(3)
	client := downloadertest.NewChainClient(chain.Blocks)
	d := downloader.New(client, testConfig())

	ctx := context.Background()
	stream := d.Headers(ctx, common.Hash{0xde, 0xad})
	defer stream.Close()

	_, err := stream.Next(ctx)
	require.ErrorIs(t, err, downloader.ErrEmptyResponse)
}

func TestBodyStreamOrdered(t *testing.T) {
	chain := chaintest.Default(11)
	client := downloadertest.NewChainClient(chain.Blocks)
	client.SetMaxBodies(2)
	d := downloader.New(client, testConfig())

	var hashes []common.Hash
	for _, block := range chain.Blocks[1:] {
		hashes = append(hashes, block.Hash())
	}
	ctx := context.Background()
	stream := d.Bodies(ctx, hashes)
	defer stream.Close()

	for _, block := range chain.Blocks[1:] {
		body, err := stream.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, len(block.Transactions()), len(body.Transactions))
		for i, tx := range body.Transactions {
			require.Equal(t, block.Transactions()[i].Hash(), tx.Hash())
		}
	}
	_, err := stream.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, len(hashes), client.RequestedCount())
}

func TestBodyStreamFetchError(t *testing.T) {
	chain := chaintest.Default(2)
	client := downloadertest.NewChainClient(chain.Blocks)
	boom := errors.New("boom")
	client.FailBodies(10, boom)
	d := downloader.New(client, testConfig())

	ctx := context.Background()
	stream := d.Bodies(ctx, []common.Hash{chain.Blocks[1].Hash(), chain.Blocks[2].Hash()})
	defer stream.Close()

	_, err := stream.Next(ctx)
	var fetchErr *downloader.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.ErrorIs(t, err, boom)
}

func TestBodyStreamEmpty(t *testing.T) {
	d := downloader.New(downloadertest.NewChainClient(nil), testConfig())
	ctx := context.Background()
	stream := d.Bodies(ctx, nil)
	defer stream.Close()

	_, err := stream.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
}

func TestRetryHonoursCancellation(t *testing.T) {
	chain := chaintest.Default(1)
	client := downloadertest.NewChainClient(chain.Blocks)
	client.FailHeaders(100, downloadertest.ErrInjected)
	cfg := testConfig()
	cfg.MaxAttempts = 100
	cfg.RetryDelay = time.Hour
	cfg.MaxRetryDelay = time.Hour
	d := downloader.New(client, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	stream := d.Headers(ctx, chain.Head().Hash())
	defer stream.Close()
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := stream.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSyncModeText(t *testing.T) {
	for _, mode := range []downloader.SyncMode{downloader.FullSync, downloader.LightSync} {
		text, err := mode.MarshalText()
		require.NoError(t, err)
		parsed, err := downloader.FromString(string(text))
		require.NoError(t, err)
		require.Equal(t, mode, parsed)
	}
	_, err := downloader.FromString("fast")
	require.Error(t, err)
	require.True(t, downloader.FullSync.SyncFullBlockChain())
	require.False(t, downloader.LightSync.SyncFullBlockChain())
}
