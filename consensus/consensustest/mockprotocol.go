// Copyright 2017 The Celo Authors
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

// Package consensustest provides a scripted consensus validator for tests.
package consensustest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/celo-org/celo-stagesync/consensus"
)

// ErrFakeFail is returned for headers a failer is scripted to reject.
var ErrFakeFail = errors.New("scripted header rejection")

// Mode selects how much the MockValidator checks.
type Mode uint

const (
	// ModeFake checks parent linkage only.
	ModeFake Mode = iota
	// ModeFullFake accepts every header.
	ModeFullFake
)

// MockValidator is a consensus.Validator whose verdicts and tip are scripted
// by the test.
type MockValidator struct {
	mode   Mode
	config *params.ChainConfig // reward schedule, nil pays nothing

	mu        sync.Mutex
	tipHash   common.Hash
	tipNumber uint64
	fakeFail  map[uint64]error      // block numbers which fail validation
	rejected  map[common.Hash]error // block hashes which fail validation
	fakeDelay time.Duration         // delay before returning from validation
	validated []uint64              // numbers of validated headers, in call order
}

// NewFaker creates a MockValidator that accepts every correctly linked
// header and pays rewards according to config.
func NewFaker(config *params.ChainConfig) *MockValidator {
	return &MockValidator{
		mode:     ModeFake,
		config:   config,
		fakeFail: make(map[uint64]error),
		rejected: make(map[common.Hash]error),
	}
}

// NewFakeFailer creates a MockValidator that accepts all headers apart from
// the one with the given number.
func NewFakeFailer(config *params.ChainConfig, fail uint64) *MockValidator {
	v := NewFaker(config)
	v.fakeFail[fail] = ErrFakeFail
	return v
}

// NewFakeDelayer creates a MockValidator that accepts all headers but delays
// each verdict.
func NewFakeDelayer(config *params.ChainConfig, delay time.Duration) *MockValidator {
	v := NewFaker(config)
	v.fakeDelay = delay
	return v
}

// NewFullFaker creates a MockValidator that accepts every header without
// checking anything.
func NewFullFaker(config *params.ChainConfig) *MockValidator {
	v := NewFaker(config)
	v.mode = ModeFullFake
	return v
}

// SetTip scripts the canonical tip.
func (v *MockValidator) SetTip(hash common.Hash, number uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tipHash, v.tipNumber = hash, number
}

// Reject scripts the rejection of the header with the given hash.
func (v *MockValidator) Reject(hash common.Hash, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejected[hash] = err
}

// Forget clears all scripted rejections.
func (v *MockValidator) Forget() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fakeFail = make(map[uint64]error)
	v.rejected = make(map[common.Hash]error)
}

// Validated returns the numbers of all headers passed to ValidateHeader.
func (v *MockValidator) Validated() []uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]uint64(nil), v.validated...)
}

// ValidateHeader implements consensus.Validator.
func (v *MockValidator) ValidateHeader(header, parent *types.Header) error {
	if v.fakeDelay > 0 {
		time.Sleep(v.fakeDelay)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	number := header.Number.Uint64()
	v.validated = append(v.validated, number)
	if v.mode == ModeFullFake {
		return nil
	}
	if parent == nil || header.ParentHash != parent.Hash() || number != parent.Number.Uint64()+1 {
		return consensus.ErrParentMismatch
	}
	if err, ok := v.fakeFail[number]; ok {
		return err
	}
	if err, ok := v.rejected[header.Hash()]; ok {
		return err
	}
	return nil
}

// CurrentTip implements consensus.Validator.
func (v *MockValidator) CurrentTip(ctx context.Context) (common.Hash, uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.tipHash == (common.Hash{}) {
		return common.Hash{}, 0, consensus.ErrNoTip
	}
	return v.tipHash, v.tipNumber, nil
}

// BlockRewards implements consensus.Validator.
func (v *MockValidator) BlockRewards(header *types.Header, ommers []*types.Header) []consensus.Reward {
	if v.config == nil {
		return nil
	}
	return consensus.BlockRewards(v.config, header, ommers)
}
