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
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/celo-org/celo-stagesync/consensus"
	"github.com/celo-org/celo-stagesync/core"
	"github.com/celo-org/celo-stagesync/core/rawdb"
	"github.com/celo-org/celo-stagesync/core/state"
	"github.com/celo-org/celo-stagesync/ethdb"
)

// ExecutionStage executes canonical blocks against the plain state, checks
// the results against the header and credits the block rewards.
type ExecutionStage struct {
	config    *params.ChainConfig
	executor  core.Executor
	validator consensus.Validator
	batch     uint64
	codes     *state.CodeCache
	headers   *rawdb.HeaderCache
	log       log.Logger
}

// NewExecutionStage creates the execution stage. Rewards are taken from
// validator.
func NewExecutionStage(config *params.ChainConfig, executor core.Executor, validator consensus.Validator, cfg Config) *ExecutionStage {
	cfg = cfg.sanitize()
	var codes *state.CodeCache
	if cfg.CodeCacheSize > 0 {
		codes = state.NewCodeCache(cfg.CodeCacheSize)
	}
	return &ExecutionStage{
		config:    config,
		executor:  executor,
		validator: validator,
		batch:     cfg.ExecutionBatch,
		codes:     codes,
		headers:   rawdb.NewHeaderCache(cfg.HeaderCacheSize),
		log:       log.New("stage", Execution),
	}
}

// ID implements Stage.
func (s *ExecutionStage) ID() StageID { return Execution }

// Execute implements Stage.
func (s *ExecutionStage) Execute(ctx context.Context, tx ethdb.RwTx, in ExecInput) (ExecOutput, error) {
	if in.TargetReached() {
		return finished(in.Checkpoint), nil
	}
	var (
		from, to = in.Range(s.batch)
		chain    = core.NewChainContext(tx, s.headers)
		txs      int
		gas      uint64
		start    = time.Now()
		logged   = time.Now()
	)
	for n := from; n <= to; n++ {
		if err := ctx.Err(); err != nil {
			return ExecOutput{}, err
		}
		header, err := rawdb.ReadCanonicalHeader(tx, n)
		if err != nil {
			return ExecOutput{}, &StoreError{Op: "read header", Err: err}
		}
		index, err := rawdb.ReadBodyIndex(tx, n)
		if err != nil {
			return ExecOutput{}, &StoreError{Op: "read body index", Err: err}
		}
		if header == nil || index == nil {
			return ExecOutput{}, &StoreError{Op: "read block", Err: fmt.Errorf("missing block #%d", n)}
		}
		if err := s.executeBlock(tx, chain, header, index); err != nil {
			return ExecOutput{}, err
		}
		txs += int(index.TxCount)
		gas += header.GasUsed

		if time.Since(logged) > logInterval {
			s.log.Info("Executing blocks", "number", n, "target", to, "txs", txs, "mgas", float64(gas)/1e6)
			logged = time.Now()
		}
	}
	elapsed := time.Since(start)
	mgasps := 0.0
	if elapsed > 0 {
		mgasps = float64(gas) * 1000 / float64(elapsed)
	}
	s.log.Info("Executed blocks", "from", from, "to", to, "txs", txs, "mgas", float64(gas)/1e6, "mgasps", mgasps, "elapsed", common.PrettyDuration(elapsed))
	return progressed(in, to), nil
}

// executeBlock runs one block and writes its state changes and receipts.
func (s *ExecutionStage) executeBlock(tx ethdb.RwTx, chain *core.ChainContext, header *types.Header, index *rawdb.BodyIndex) error {
	var (
		number = header.Number.Uint64()
		hash   = header.Hash()
		start  = time.Now()
	)
	txs, err := rawdb.ReadTransactions(tx, index)
	if err != nil {
		return &StoreError{Op: "read transactions", Err: err}
	}
	senders, err := rawdb.ReadSenders(tx, index)
	if err != nil {
		return &StoreError{Op: "read senders", Err: err}
	}
	ommers, err := rawdb.ReadOmmers(tx, number)
	if err != nil {
		return &StoreError{Op: "read ommers", Err: err}
	}
	reader := state.NewPlainStateReader(tx, s.codes)
	diff, receipts, err := s.executor.ExecuteBlock(chain, reader, header, txs, senders)
	if err != nil {
		var execErr *core.ExecutionError
		if errors.As(err, &execErr) {
			return &ValidationError{Stage: Execution, Block: number, Hash: hash, Err: err, Permanent: true}
		}
		return fmt.Errorf("execution of block #%d failed: %w", number, err)
	}
	if err := verifyReceipts(header, receipts); err != nil {
		return &ValidationError{Stage: Execution, Block: number, Hash: hash, Err: err, Permanent: true}
	}
	for _, reward := range s.validator.BlockRewards(header, ommers) {
		if err := diff.AddBalance(reader, reward.Beneficiary, reward.Amount); err != nil {
			return &StoreError{Op: "read account", Err: err}
		}
	}
	if err := state.WriteDiff(tx, number, diff); err != nil {
		return &StoreError{Op: "write state", Err: err}
	}
	if err := rawdb.WriteReceipts(tx, number, receipts); err != nil {
		return &StoreError{Op: "write receipts", Err: err}
	}
	s.headers.Add(header)
	blockExecTimer.UpdateSince(start)
	return nil
}

// verifyReceipts checks the execution results against the header.
func verifyReceipts(header *types.Header, receipts types.Receipts) error {
	var gasUsed uint64
	if len(receipts) > 0 {
		gasUsed = receipts[len(receipts)-1].CumulativeGasUsed
	}
	if gasUsed != header.GasUsed {
		return fmt.Errorf("%w: gas used %d, header %d", ErrReceiptMismatch, gasUsed, header.GasUsed)
	}
	if bloom := types.CreateBloom(receipts); bloom != header.Bloom {
		return fmt.Errorf("%w: logs bloom %x, header %x", ErrReceiptMismatch, bloom, header.Bloom)
	}
	if root := types.DeriveSha(receipts, trie.NewStackTrie(nil)); root != header.ReceiptHash {
		return fmt.Errorf("%w: receipts root %x, header %x", ErrReceiptMismatch, root, header.ReceiptHash)
	}
	return nil
}

// Unwind implements Stage. The plain state is restored from the change sets
// of the unwound blocks.
func (s *ExecutionStage) Unwind(ctx context.Context, tx ethdb.RwTx, in UnwindInput) (UnwindOutput, error) {
	if err := state.Unwind(tx, in.UnwindTo); err != nil {
		return UnwindOutput{}, &StoreError{Op: "unwind state", Err: err}
	}
	for n := in.Checkpoint; n > in.UnwindTo; n-- {
		if err := rawdb.DeleteReceipts(tx, n); err != nil {
			return UnwindOutput{}, &StoreError{Op: "delete receipts", Err: err}
		}
	}
	return UnwindOutput{Checkpoint: in.UnwindTo}, nil
}
