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

// Package stagedsync implements the staged synchronisation pipeline: headers,
// bodies, sender recovery and execution run one after the other, each
// resumable from its own persisted checkpoint and able to roll back its
// artifacts when a later stage rejects a block.
package stagedsync

import (
	"context"

	"github.com/celo-org/celo-stagesync/ethdb"
)

// StageID identifies a stage. It is the key of the stage's checkpoint.
type StageID string

const (
	Headers   StageID = "Headers"   // Download, validate and canonicalise headers
	Bodies    StageID = "Bodies"    // Download and verify block bodies
	Senders   StageID = "Senders"   // Recover transaction signers
	Execution StageID = "Execution" // Execute blocks into the plain state
)

// ExecInput is the input of a stage execution.
type ExecInput struct {
	Checkpoint uint64 // Highest block already processed by the stage
	Target     uint64 // Highest block the stage may process
}

// NextBlock returns the first block to process.
func (in ExecInput) NextBlock() uint64 {
	return in.Checkpoint + 1
}

// TargetReached reports whether there is nothing left to process.
func (in ExecInput) TargetReached() bool {
	return in.Checkpoint >= in.Target
}

// Range returns the inclusive range processed in one call when at most
// batch blocks may be handled. A zero batch means no limit.
func (in ExecInput) Range(batch uint64) (from, to uint64) {
	from, to = in.NextBlock(), in.Target
	if batch > 0 && to-in.Checkpoint > batch {
		to = in.Checkpoint + batch
	}
	return from, to
}

// ExecOutput is the result of a stage execution.
type ExecOutput struct {
	Checkpoint uint64 // Highest block processed after the call
	ReachedTip bool   // Whether the target was reached
	Done       bool   // Whether the stage needs no further call in this pass
}

// UnwindInput is the input of a stage rollback.
type UnwindInput struct {
	Checkpoint uint64 // Current checkpoint of the stage
	UnwindTo   uint64 // Highest block to keep
}

// UnwindOutput is the result of a stage rollback.
type UnwindOutput struct {
	Checkpoint uint64 // Checkpoint of the stage after the rollback
}

// Stage is a resumable unit of sync work. Both operations write only through
// the supplied transaction and never commit it.
type Stage interface {
	ID() StageID

	// Execute processes the blocks (Checkpoint, Target]. It may stop early
	// and report Done = false, the pipeline then commits and calls again.
	Execute(ctx context.Context, tx ethdb.RwTx, in ExecInput) (ExecOutput, error)

	// Unwind removes every artifact the stage wrote for blocks above
	// UnwindTo.
	Unwind(ctx context.Context, tx ethdb.RwTx, in UnwindInput) (UnwindOutput, error)
}

// finished is the output of a stage with nothing left to do.
func finished(checkpoint uint64) ExecOutput {
	return ExecOutput{Checkpoint: checkpoint, ReachedTip: true, Done: true}
}

// progressed is the output of a stage that processed blocks up to to.
func progressed(in ExecInput, to uint64) ExecOutput {
	reached := to >= in.Target
	return ExecOutput{Checkpoint: to, ReachedTip: reached, Done: reached}
}
