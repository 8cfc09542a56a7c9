// Copyright 2017 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package consensus

import (
	"math/big"

	"github.com/ethereum/go-ethereum/consensus/ethash"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

var (
	big8  = big.NewInt(8)
	big32 = big.NewInt(32)
)

// BaseReward returns the static block reward of the proof-of-work schedule
// at the given block number.
func BaseReward(config *params.ChainConfig, number *big.Int) *big.Int {
	blockReward := ethash.FrontierBlockReward
	if config.IsByzantium(number) {
		blockReward = ethash.ByzantiumBlockReward
	}
	if config.IsConstantinople(number) {
		blockReward = ethash.ConstantinopleBlockReward
	}
	return new(big.Int).Set(blockReward)
}

// BlockRewards computes the mining reward of header and its ommers. The
// total static reward is credited to the coinbase of the block, each ommer
// coinbase receives a share depending on its distance, and the block
// coinbase gets an extra 1/32 of the static reward per included ommer.
//
// Clique chains and blocks past the proof-of-stake transition carry no
// reward.
func BlockRewards(config *params.ChainConfig, header *types.Header, ommers []*types.Header) []Reward {
	if config.Clique != nil || header.Difficulty == nil || header.Difficulty.Sign() == 0 {
		return nil
	}
	var (
		blockReward = BaseReward(config, header.Number)
		reward      = new(big.Int).Set(blockReward)
		rewards     = make([]Reward, 0, len(ommers)+1)
	)
	for _, ommer := range ommers {
		r := new(big.Int).Add(ommer.Number, big8)
		r.Sub(r, header.Number)
		r.Mul(r, blockReward)
		r.Div(r, big8)
		rewards = append(rewards, Reward{Beneficiary: ommer.Coinbase, Amount: mustUint256(r)})

		reward.Add(reward, new(big.Int).Div(blockReward, big32))
	}
	return append(rewards, Reward{Beneficiary: header.Coinbase, Amount: mustUint256(reward)})
}

func mustUint256(b *big.Int) *uint256.Int {
	u, overflow := uint256.FromBig(b)
	if overflow {
		panic("reward overflows 256 bits")
	}
	return u
}
