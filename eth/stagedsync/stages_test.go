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
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/require"

	"github.com/celo-org/celo-stagesync/consensus/consensustest"
	"github.com/celo-org/celo-stagesync/core"
	"github.com/celo-org/celo-stagesync/core/chaintest"
	"github.com/celo-org/celo-stagesync/core/rawdb"
	"github.com/celo-org/celo-stagesync/core/state"
	"github.com/celo-org/celo-stagesync/eth/downloader"
	"github.com/celo-org/celo-stagesync/eth/downloader/downloadertest"
	"github.com/celo-org/celo-stagesync/ethdb"
)

type syncEnv struct {
	chain     *chaintest.Chain
	db        ethdb.Database
	client    *downloadertest.ChainClient
	validator *consensustest.MockValidator
	pipeline  *Pipeline
}

func testDownloaderConfig() downloader.Config {
	return downloader.Config{
		HeaderBatch:   5,
		BodyBatch:     3,
		Parallelism:   2,
		MaxAttempts:   2,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 2 * time.Millisecond,
	}
}

func testStagesConfig() Config {
	cfg := testPipelineConfig()
	cfg.BodiesBatch = 4
	cfg.SendersBatch = 3
	cfg.ExecutionBatch = 5
	cfg.SenderWorkers = 3
	return cfg
}

// newSyncEnv creates a store holding the genesis of chain and a pipeline
// syncing blocks, the last of which is the announced tip.
func newSyncEnv(t *testing.T, chain *chaintest.Chain, blocks []*types.Block, mode downloader.SyncMode) *syncEnv {
	client := downloadertest.NewChainClient(blocks)
	env := buildSyncEnv(t, chain, client, blocks[len(blocks)-1], mode)
	env.client = client
	return env
}

func buildSyncEnv(t *testing.T, chain *chaintest.Chain, client downloader.Client, tip *types.Block, mode downloader.SyncMode) *syncEnv {
	db := newTestDB(t)
	err := ethdb.Update(context.Background(), db, func(tx ethdb.RwTx) error {
		return core.WriteGenesis(tx, chain.Blocks[0], chain.Genesis.Alloc, chain.Config)
	})
	require.NoError(t, err)

	validator := consensustest.NewFaker(chain.Config)
	validator.SetTip(tip.Hash(), tip.NumberU64())
	p, err := NewPipeline(db, mode, chain.Config, downloader.New(client, testDownloaderConfig()), validator,
		core.NewStateProcessor(chain.Config, vm.Config{}), testStagesConfig())
	require.NoError(t, err)
	return &syncEnv{chain: chain, db: db, validator: validator, pipeline: p}
}

// checkState compares the plain state with go-ethereum's state after block.
func checkState(t *testing.T, env *syncEnv, block *types.Block) {
	want, err := env.chain.StateOf(block)
	require.NoError(t, err)
	err = ethdb.View(context.Background(), env.db, func(tx ethdb.Tx) error {
		reader := state.NewPlainStateReader(tx, nil)
		for _, addr := range env.chain.Accounts() {
			acc, err := reader.ReadAccount(addr)
			if err != nil {
				return err
			}
			if !want.Exist(addr) {
				require.Nil(t, acc, "unexpected account %x", addr)
				continue
			}
			require.NotNil(t, acc, "missing account %x", addr)
			require.Zero(t, want.GetBalance(addr).Cmp(acc.Balance.ToBig()), "balance of %x: have %v, want %v", addr, acc.Balance, want.GetBalance(addr))
			require.Equal(t, want.GetNonce(addr), acc.Nonce, "nonce of %x", addr)
			require.Equal(t, want.GetCodeHash(addr), acc.CodeHash, "code hash of %x", addr)
		}
		slot, err := reader.ReadStorage(chaintest.Counter, common.Hash{})
		if err != nil {
			return err
		}
		require.Equal(t, want.GetState(chaintest.Counter, common.Hash{}), slot, "counter slot")
		return nil
	})
	require.NoError(t, err)
}

// dumpTables returns the contents of every table, hex encoded.
func dumpTables(t *testing.T, db ethdb.Database) map[string]map[string]string {
	dump := make(map[string]map[string]string)
	err := ethdb.View(context.Background(), db, func(tx ethdb.Tx) error {
		for _, table := range ethdb.Tables {
			c, err := tx.Cursor(table)
			if err != nil {
				return err
			}
			rows := make(map[string]string)
			for k, v, err := c.First(); k != nil || err != nil; k, v, err = c.Next() {
				if err != nil {
					c.Close()
					return err
				}
				rows[hexutil.Encode(k)] = hexutil.Encode(v)
			}
			c.Close()
			dump[table] = rows
		}
		return nil
	})
	require.NoError(t, err)
	return dump
}

func TestFullSyncReproducesState(t *testing.T) {
	var (
		chain = chaintest.Default(12)
		env   = newSyncEnv(t, chain, chain.Blocks, downloader.FullSync)
	)
	require.NoError(t, env.pipeline.Sync(context.Background()))
	require.Equal(t, []uint64{12, 12, 12, 12}, checkpoints(t, env.pipeline))
	checkState(t, env, chain.Head())

	err := ethdb.View(context.Background(), env.db, func(tx ethdb.Tx) error {
		for _, block := range chain.Blocks {
			number := block.NumberU64()
			hash, err := rawdb.ReadCanonicalHash(tx, number)
			require.NoError(t, err)
			require.Equal(t, block.Hash(), hash, "canonical hash #%d", number)

			receipts, err := rawdb.ReadReceipts(tx, block.Hash(), number, chain.Config)
			require.NoError(t, err)
			require.Len(t, receipts, len(block.Transactions()), "receipts #%d", number)
			require.Equal(t, block.ReceiptHash(), types.DeriveSha(receipts, trie.NewStackTrie(nil)), "receipts root #%d", number)
		}
		td, err := rawdb.ReadTd(tx, chain.Head().Hash(), 12)
		require.NoError(t, err)
		want := new(big.Int)
		for _, block := range chain.Blocks {
			want.Add(want, block.Difficulty())
		}
		require.Equal(t, want, td)
		return nil
	})
	require.NoError(t, err)
}

func TestEmptyBlocksAreNotRequested(t *testing.T) {
	var (
		chain = chaintest.Default(12)
		env   = newSyncEnv(t, chain, chain.Blocks, downloader.FullSync)
	)
	require.NoError(t, env.pipeline.Sync(context.Background()))
	for _, block := range chain.Blocks[1:] {
		empty := len(block.Transactions()) == 0 && len(block.Uncles()) == 0
		require.Equal(t, !empty, env.client.Requested(block.Hash()), "block #%d", block.NumberU64())
	}
	require.Equal(t, 8, env.client.RequestedCount())
}

func TestEmptyChainIssuesNoBodyRequests(t *testing.T) {
	var (
		chain = chaintest.New(5, nil)
		env   = newSyncEnv(t, chain, chain.Blocks, downloader.FullSync)
	)
	require.NoError(t, env.pipeline.Sync(context.Background()))
	require.Equal(t, []uint64{5, 5, 5, 5}, checkpoints(t, env.pipeline))
	require.Zero(t, env.client.BodyRequests())
}

func TestLightSyncHeadersOnly(t *testing.T) {
	var (
		chain = chaintest.Default(7)
		env   = newSyncEnv(t, chain, chain.Blocks, downloader.LightSync)
	)
	require.NoError(t, env.pipeline.Sync(context.Background()))
	progress, err := env.pipeline.Progress(context.Background())
	require.NoError(t, err)
	require.Equal(t, []StageProgress{{ID: Headers, Checkpoint: 7}}, progress)
	require.Zero(t, env.client.BodyRequests())
}

// tamperedClient alters headers on their way to the downloader. The
// downloader checks that a batch starts at the requested hash, so tampering
// is only caught by the stage when the header is inside a batch.
type tamperedClient struct {
	*downloadertest.ChainClient
	tamper func(*types.Header) *types.Header
}

func (c *tamperedClient) HeadersBackward(ctx context.Context, hash common.Hash, max int) ([]*types.Header, error) {
	headers, err := c.ChainClient.HeadersBackward(ctx, hash, max)
	for i, header := range headers {
		headers[i] = c.tamper(header)
	}
	return headers, err
}

func TestHeaderLinkageEnforced(t *testing.T) {
	var (
		chain  = chaintest.Default(10)
		forged *types.Header
		client = &tamperedClient{
			ChainClient: downloadertest.NewChainClient(chain.Blocks),
			tamper: func(header *types.Header) *types.Header {
				if header.Number.Uint64() != 7 {
					return header
				}
				forged = types.CopyHeader(header)
				forged.Extra = []byte("forged")
				return forged
			},
		}
		env = buildSyncEnv(t, chain, client, chain.Head(), downloader.FullSync)
	)
	err := env.pipeline.Sync(context.Background())
	require.ErrorIs(t, err, ErrLinkage)
	var invalid *ValidationError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, uint64(7), invalid.Block)
	require.Equal(t, forged.Hash(), invalid.Hash)
	require.False(t, env.pipeline.BadBlocks().Contains(forged.Hash()))
	require.Equal(t, []uint64{0, 0, 0, 0}, checkpoints(t, env.pipeline))

	// The served header may belong to another branch, it is not remembered
	// and honest headers are accepted afterwards.
	client.tamper = func(header *types.Header) *types.Header { return header }
	require.NoError(t, env.pipeline.Sync(context.Background()))
	require.Equal(t, []uint64{10, 10, 10, 10}, checkpoints(t, env.pipeline))
	checkState(t, env, chain.Head())
}

func TestTipNumberMismatchRejected(t *testing.T) {
	var (
		chain = chaintest.Default(10)
		env   = newSyncEnv(t, chain, chain.Blocks, downloader.FullSync)
	)
	env.validator.SetTip(chain.Head().Hash(), 11)

	err := env.pipeline.Sync(context.Background())
	require.ErrorIs(t, err, ErrTipMismatch)
	require.True(t, IsTransient(err))
	require.Equal(t, []uint64{0, 0, 0, 0}, checkpoints(t, env.pipeline))

	env.validator.SetTip(chain.Head().Hash(), 10)
	require.NoError(t, env.pipeline.Sync(context.Background()))
	require.Equal(t, []uint64{10, 10, 10, 10}, checkpoints(t, env.pipeline))
}

func TestHeaderRejectionIsRemembered(t *testing.T) {
	var (
		chain  = chaintest.Default(10)
		env    = newSyncEnv(t, chain, chain.Blocks, downloader.FullSync)
		errBad = errors.New("bad seal")
		bad    = chain.Blocks[7]
	)
	env.validator.Reject(bad.Hash(), errBad)

	err := env.pipeline.Sync(context.Background())
	require.ErrorIs(t, err, errBad)
	require.True(t, env.pipeline.BadBlocks().Contains(bad.Hash()))
	require.Equal(t, []uint64{0, 0, 0, 0}, checkpoints(t, env.pipeline))

	// Once rejected, the block stays bad even if the validator changed its
	// mind.
	env.validator.Forget()
	err = env.pipeline.Sync(context.Background())
	require.ErrorIs(t, err, ErrKnownBad)
	var invalid *ValidationError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, uint64(7), invalid.Block)
}

func TestBodyCommitmentsEnforced(t *testing.T) {
	var (
		chain = chaintest.Default(12)
		env   = newSyncEnv(t, chain, chain.Blocks, downloader.FullSync)
		bad   = chain.Blocks[4]
	)
	env.client.ReplaceBody(bad.Hash(), chain.Blocks[5].Body())

	err := env.pipeline.Sync(context.Background())
	require.ErrorIs(t, err, ErrBodyMismatch)
	var invalid *ValidationError
	require.ErrorAs(t, err, &invalid, spew.Sdump(err))
	require.Equal(t, Bodies, invalid.Stage)
	require.Equal(t, uint64(4), invalid.Block)

	// The headers stage is unwound to the parent of the bad block, the batch
	// holding it was never committed.
	require.Equal(t, []uint64{3, 0, 0, 0}, checkpoints(t, env.pipeline))

	// The header was fine, only the body served for it was wrong. Once the
	// client serves the real body the chain syncs.
	require.False(t, env.pipeline.BadBlocks().Contains(bad.Hash()))
	env.client.RestoreBody(bad.Hash())
	require.NoError(t, env.pipeline.Sync(context.Background()))
	require.Equal(t, []uint64{12, 12, 12, 12}, checkpoints(t, env.pipeline))
	checkState(t, env, chain.Head())
}

var secp256k1N, _ = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)

// highS returns tx with its signature replaced by the malleable high-s
// counterpart.
func highS(t *testing.T, tx *types.Transaction, config *params.ChainConfig) *types.Transaction {
	v, r, s := tx.RawSignatureValues()
	recid := new(big.Int).Sub(v, new(big.Int).Lsh(config.ChainID, 1))
	recid.Sub(recid, big.NewInt(35))

	sig := make([]byte, 65)
	r.FillBytes(sig[:32])
	new(big.Int).Sub(secp256k1N, s).FillBytes(sig[32:64])
	sig[64] = byte(1 - recid.Uint64())
	forged, err := tx.WithSignature(types.LatestSigner(config), sig)
	require.NoError(t, err)
	return forged
}

func TestInvalidSignatureUnwinds(t *testing.T) {
	chain := chaintest.Default(6)

	// Block 4 carrying a transaction whose signature only a pre-Homestead
	// chain accepts.
	orig := chain.Blocks[4]
	txs := orig.Transactions()
	tampered := append(types.Transactions{highS(t, txs[0], chain.Config)}, txs[1:]...)
	forged := types.NewBlock(orig.Header(), tampered, nil, nil, trie.NewStackTrie(nil))

	blocks := append(append([]*types.Block{}, chain.Blocks[:4]...), forged)
	env := newSyncEnv(t, chain, blocks, downloader.FullSync)

	err := env.pipeline.Sync(context.Background())
	require.ErrorIs(t, err, ErrInvalidSignature)
	var invalid *ValidationError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, Senders, invalid.Stage)
	require.Equal(t, forged.Hash(), invalid.Hash)
	require.Equal(t, []uint64{3, 3, 3, 0}, checkpoints(t, env.pipeline))
}

func TestReceiptMismatchUnwinds(t *testing.T) {
	chain := chaintest.Default(6)

	header := chain.Blocks[6].Header()
	header.GasUsed++
	forged := types.NewBlockWithHeader(header).WithBody(chain.Blocks[6].Transactions(), nil)

	blocks := append(append([]*types.Block{}, chain.Blocks[:6]...), forged)
	env := newSyncEnv(t, chain, blocks, downloader.FullSync)

	err := env.pipeline.Sync(context.Background())
	require.ErrorIs(t, err, ErrReceiptMismatch)
	var invalid *ValidationError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, Execution, invalid.Stage)
	require.Equal(t, uint64(6), invalid.Block)
	require.Equal(t, []uint64{5, 5, 5, 5}, checkpoints(t, env.pipeline))
	checkState(t, env, chain.Blocks[5])
}

// Tests that unwinding and syncing again leaves exactly the store a direct
// sync produces.
func TestUnwindReplayMatchesDirectSync(t *testing.T) {
	var (
		chain  = chaintest.Default(12)
		direct = newSyncEnv(t, chain, chain.Blocks, downloader.FullSync)
		replay = newSyncEnv(t, chain, chain.Blocks, downloader.FullSync)
		ctx    = context.Background()
	)
	require.NoError(t, direct.pipeline.Sync(ctx))

	require.NoError(t, replay.pipeline.Sync(ctx))
	require.NoError(t, replay.pipeline.Unwind(ctx, 5))
	require.Equal(t, []uint64{5, 5, 5, 5}, checkpoints(t, replay.pipeline))
	checkState(t, replay, chain.Blocks[5])

	err := ethdb.View(ctx, replay.db, func(tx ethdb.Tx) error {
		hash, err := rawdb.ReadCanonicalHash(tx, 6)
		require.NoError(t, err)
		require.Equal(t, common.Hash{}, hash)
		index, err := rawdb.ReadBodyIndex(tx, 6)
		require.NoError(t, err)
		require.Nil(t, index)
		receipts, err := rawdb.ReadRawReceipts(tx, 6)
		require.NoError(t, err)
		require.Nil(t, receipts)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, replay.pipeline.Sync(ctx))
	require.Equal(t, dumpTables(t, direct.db), dumpTables(t, replay.db))
	checkState(t, replay, chain.Head())
}

func TestReorgToHeavierBranch(t *testing.T) {
	var (
		chain = chaintest.Default(8)
		env   = newSyncEnv(t, chain, chain.Blocks, downloader.FullSync)
		ctx   = context.Background()
	)
	require.NoError(t, env.pipeline.Sync(ctx))

	side := chain.Fork(4, 6, func(i int, b *gethcore.BlockGen) {
		b.SetCoinbase(common.Address{0xfe, byte(i)})
	})
	env.client.AddBlocks(side)
	head := side[len(side)-1]
	env.validator.SetTip(head.Hash(), head.NumberU64())

	require.NoError(t, env.pipeline.Sync(ctx))
	require.Equal(t, []uint64{10, 10, 10, 10}, checkpoints(t, env.pipeline))
	checkState(t, env, head)

	err := ethdb.View(ctx, env.db, func(tx ethdb.Tx) error {
		for _, block := range side {
			hash, err := rawdb.ReadCanonicalHash(tx, block.NumberU64())
			require.NoError(t, err)
			require.Equal(t, block.Hash(), hash)
		}
		// The replaced branch is gone.
		ok, err := rawdb.HasHeader(tx, chain.Blocks[6].Hash(), 6)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestSyncContinuesFromCheckpoint(t *testing.T) {
	var (
		chain = chaintest.Default(10)
		env   = newSyncEnv(t, chain, chain.Blocks[:7], downloader.FullSync)
		ctx   = context.Background()
	)
	require.NoError(t, env.pipeline.Sync(ctx))
	require.Equal(t, []uint64{6, 6, 6, 6}, checkpoints(t, env.pipeline))

	env.client.AddBlocks(chain.Blocks[7:])
	env.validator.SetTip(chain.Head().Hash(), 10)
	require.NoError(t, env.pipeline.Sync(ctx))
	require.Equal(t, []uint64{10, 10, 10, 10}, checkpoints(t, env.pipeline))
	checkState(t, env, chain.Head())
}
