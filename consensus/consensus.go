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

// Package consensus judges header validity, supplies the canonical tip and
// defines the block reward schedule used by the sync stages.
package consensus

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethconsensus "github.com/ethereum/go-ethereum/consensus"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

var (
	// ErrNoTip is returned when no canonical tip has been announced yet.
	ErrNoTip = errors.New("no canonical tip known")

	// ErrParentMismatch is returned when a header is validated against a
	// header that is not its parent.
	ErrParentMismatch = errors.New("parent does not match header")
)

// Validator defines the consensus rules the sync stages rely on.
type Validator interface {
	// ValidateHeader checks whether a header conforms to the consensus rules
	// given its already accepted parent.
	ValidateHeader(header, parent *types.Header) error

	// CurrentTip returns the hash and number of the block currently
	// considered canonical head of the chain.
	CurrentTip(ctx context.Context) (common.Hash, uint64, error)

	// BlockRewards returns the balance credits earned by sealing header with
	// the given ommers.
	BlockRewards(header *types.Header, ommers []*types.Header) []Reward
}

// Reward is a balance credit applied after the transactions of a block.
type Reward struct {
	Beneficiary common.Address
	Amount      *uint256.Int
}

// TipSource supplies the canonical tip.
type TipSource interface {
	CurrentTip(ctx context.Context) (common.Hash, uint64, error)
}

// EngineValidator implements Validator on top of a go-ethereum consensus
// engine. Headers are checked against the supplied parent only, nothing is
// looked up from the local chain.
type EngineValidator struct {
	config *params.ChainConfig
	engine gethconsensus.Engine
	tips   TipSource
}

// NewEngineValidator creates a validator checking headers with engine.
func NewEngineValidator(config *params.ChainConfig, engine gethconsensus.Engine, tips TipSource) *EngineValidator {
	return &EngineValidator{config: config, engine: engine, tips: tips}
}

// ValidateHeader implements Validator.
func (v *EngineValidator) ValidateHeader(header, parent *types.Header) error {
	if parent == nil || header.ParentHash != parent.Hash() || header.Number.Uint64() != parent.Number.Uint64()+1 {
		return ErrParentMismatch
	}
	return v.engine.VerifyHeader(&parentReader{config: v.config, parent: parent}, header, true)
}

// CurrentTip implements Validator.
func (v *EngineValidator) CurrentTip(ctx context.Context) (common.Hash, uint64, error) {
	return v.tips.CurrentTip(ctx)
}

// BlockRewards implements Validator.
func (v *EngineValidator) BlockRewards(header *types.Header, ommers []*types.Header) []Reward {
	return BlockRewards(v.config, header, ommers)
}

// parentReader serves a single known parent to an engine's header checks.
type parentReader struct {
	config *params.ChainConfig
	parent *types.Header
}

func (r *parentReader) Config() *params.ChainConfig { return r.config }

func (r *parentReader) CurrentHeader() *types.Header { return r.parent }

func (r *parentReader) GetHeader(hash common.Hash, number uint64) *types.Header {
	if hash == r.parent.Hash() && number == r.parent.Number.Uint64() {
		return r.parent
	}
	return nil
}

func (r *parentReader) GetHeaderByNumber(number uint64) *types.Header {
	if number == r.parent.Number.Uint64() {
		return r.parent
	}
	return nil
}

func (r *parentReader) GetHeaderByHash(hash common.Hash) *types.Header {
	if hash == r.parent.Hash() {
		return r.parent
	}
	return nil
}

// GetTd is unknown to the stages while headers are checked.
func (r *parentReader) GetTd(hash common.Hash, number uint64) *big.Int { return nil }
