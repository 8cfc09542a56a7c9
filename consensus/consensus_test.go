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

package consensus

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/ethash"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	"github.com/celo-org/celo-stagesync/core/chaintest"
)

func TestEngineValidatorAcceptsGeneratedChain(t *testing.T) {
	chain := chaintest.Default(5)
	v := NewEngineValidator(chain.Config, ethash.NewFaker(), NewTipTracker())
	for i := 1; i < len(chain.Blocks); i++ {
		require.NoError(t, v.ValidateHeader(chain.Blocks[i].Header(), chain.Blocks[i-1].Header()), "block %d", i)
	}
}

func TestEngineValidatorRejects(t *testing.T) {
	chain := chaintest.Default(2)
	v := NewEngineValidator(chain.Config, ethash.NewFaker(), NewTipTracker())
	parent, good := chain.Blocks[1].Header(), chain.Blocks[2].Header()

	// Wrong parent.
	require.ErrorIs(t, v.ValidateHeader(good, chain.Blocks[0].Header()), ErrParentMismatch)
	require.ErrorIs(t, v.ValidateHeader(good, nil), ErrParentMismatch)

	// Consensus field tampering.
	bad := types.CopyHeader(good)
	bad.GasLimit = parent.GasLimit * 2
	require.Error(t, v.ValidateHeader(bad, parent))

	bad = types.CopyHeader(good)
	bad.Difficulty = new(big.Int).Add(good.Difficulty, common.Big1)
	require.Error(t, v.ValidateHeader(bad, parent))

	bad = types.CopyHeader(good)
	bad.Time = parent.Time
	require.Error(t, v.ValidateHeader(bad, parent))
}

func TestBlockRewards(t *testing.T) {
	var (
		config   = params.TestChainConfig
		coinbase = common.Address{0x01}
		uncle1   = &types.Header{Number: big.NewInt(9), Coinbase: common.Address{0x02}}
		uncle2   = &types.Header{Number: big.NewInt(8), Coinbase: common.Address{0x03}}
		header   = &types.Header{Number: big.NewInt(10), Coinbase: coinbase, Difficulty: big.NewInt(1)}
		base     = ethash.ConstantinopleBlockReward
	)
	rewards := BlockRewards(config, header, []*types.Header{uncle1, uncle2})
	require.Len(t, rewards, 3)

	// (9+8-10)/8 and (8+8-10)/8 of the base reward.
	require.Equal(t, uncle1.Coinbase, rewards[0].Beneficiary)
	require.Equal(t, new(big.Int).Div(new(big.Int).Mul(base, big.NewInt(7)), big8), rewards[0].Amount.ToBig())
	require.Equal(t, uncle2.Coinbase, rewards[1].Beneficiary)
	require.Equal(t, new(big.Int).Div(new(big.Int).Mul(base, big.NewInt(6)), big8), rewards[1].Amount.ToBig())

	miner := new(big.Int).Add(base, new(big.Int).Div(base, big.NewInt(16)))
	require.Equal(t, coinbase, rewards[2].Beneficiary)
	require.Equal(t, miner, rewards[2].Amount.ToBig())

	// Post-merge blocks pay nothing.
	merged := types.CopyHeader(header)
	merged.Difficulty = new(big.Int)
	require.Empty(t, BlockRewards(config, merged, nil))
}

func TestBaseRewardSchedule(t *testing.T) {
	config := &params.ChainConfig{
		ByzantiumBlock:      big.NewInt(10),
		ConstantinopleBlock: big.NewInt(20),
	}
	require.Equal(t, ethash.FrontierBlockReward, BaseReward(config, big.NewInt(9)))
	require.Equal(t, ethash.ByzantiumBlockReward, BaseReward(config, big.NewInt(10)))
	require.Equal(t, ethash.ConstantinopleBlockReward, BaseReward(config, big.NewInt(20)))
}

func TestTipTracker(t *testing.T) {
	tracker := NewTipTracker()
	defer tracker.Close()

	_, _, err := tracker.CurrentTip(context.Background())
	require.ErrorIs(t, err, ErrNoTip)

	ch := make(chan NewTipEvent, 4)
	sub := tracker.SubscribeNewTip(ch)
	defer sub.Unsubscribe()

	require.True(t, tracker.Announce(common.Hash{1}, 10))
	require.False(t, tracker.Announce(common.Hash{1}, 10))
	require.True(t, tracker.Announce(common.Hash{2}, 9))

	require.Equal(t, NewTipEvent{Hash: common.Hash{1}, Number: 10}, <-ch)
	require.Equal(t, NewTipEvent{Hash: common.Hash{2}, Number: 9}, <-ch)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	default:
	}
	hash, number, err := tracker.CurrentTip(context.Background())
	require.NoError(t, err)
	require.Equal(t, common.Hash{2}, hash)
	require.Equal(t, uint64(9), number)
}

type countingSource struct {
	calls int32
}

func (s *countingSource) CurrentTip(ctx context.Context) (common.Hash, uint64, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if n == 2 {
		return common.Hash{}, 0, errors.New("unavailable")
	}
	if n > 3 {
		n = 3
	}
	return common.Hash{byte(n)}, uint64(n), nil
}

func TestPollTips(t *testing.T) {
	var (
		src     = new(countingSource)
		tracker = NewTipTracker()
		ch      = make(chan NewTipEvent, 16)
	)
	defer tracker.Close()
	sub := tracker.SubscribeNewTip(ch)
	defer sub.Unsubscribe()

	stop := PollTips(context.Background(), src, tracker, 10*time.Millisecond)
	defer stop()

	// The first poll happens before PollTips returns.
	hash, _, err := tracker.CurrentTip(context.Background())
	require.NoError(t, err)
	require.Equal(t, common.Hash{1}, hash)

	// The failed second poll is skipped, the third one is announced.
	require.Equal(t, uint64(1), (<-ch).Number)
	select {
	case ev := <-ch:
		require.Equal(t, uint64(3), ev.Number)
	case <-time.After(5 * time.Second):
		t.Fatal("tip not announced")
	}
}
