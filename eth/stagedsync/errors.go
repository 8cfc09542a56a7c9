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
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celo-org/celo-stagesync/eth/downloader"
)

var (
	// ErrLinkage is returned for a header whose parent hash or number does
	// not match the header preceding it.
	ErrLinkage = errors.New("header does not link to its parent")

	// ErrKnownBad is returned for a block that failed validation before.
	ErrKnownBad = errors.New("known bad block")

	// ErrBodyMismatch is returned for a body that does not match the
	// commitments of its header.
	ErrBodyMismatch = errors.New("body does not match header")

	// ErrInvalidSignature is returned for a transaction whose signer cannot
	// be recovered.
	ErrInvalidSignature = errors.New("invalid transaction signature")

	// ErrReceiptMismatch is returned when the execution results of a block
	// differ from the values committed in its header.
	ErrReceiptMismatch = errors.New("execution results do not match header")

	// ErrUnknownAncestor is returned when the remote chain shares no block
	// with the local one, not even the genesis.
	ErrUnknownAncestor = errors.New("no common ancestor with remote chain")

	// ErrTipMismatch is returned when the tip header does not carry the
	// number the tip source reported for it.
	ErrTipMismatch = errors.New("tip number does not match tip header")

	// ErrRetriesExhausted wraps the last error once the pipeline gives up.
	ErrRetriesExhausted = errors.New("sync retries exhausted")
)

// ValidationError reports a block rejected by a stage. The pipeline unwinds
// every stage to the block's parent. Permanent failures are those of the block
// itself, whatever peer served it; only those blocks are remembered as bad.
type ValidationError struct {
	Stage     StageID
	Block     uint64
	Hash      common.Hash
	Err       error
	Permanent bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stage %s rejected block #%d [%x…]: %v", e.Stage, e.Block, e.Hash[:4], e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// LastGood returns the highest block that is still trusted. This is the
// parent of the rejected block, not the checkpoint of the failing stage: the
// blocks of the aborted batch below it were valid but are fetched again.
func (e *ValidationError) LastGood() uint64 {
	if e.Block == 0 {
		return 0
	}
	return e.Block - 1
}

// ReorgError is returned by the headers stage when the canonical tip is on a
// different branch than the local chain. The pipeline unwinds every stage to
// the common ancestor and syncs the new branch.
type ReorgError struct {
	Ancestor uint64
	Hash     common.Hash
}

func (e *ReorgError) Error() string {
	return fmt.Sprintf("chain reorganisation below local head, common ancestor #%d [%x…]", e.Ancestor, e.Hash[:4])
}

// StoreError reports a failure of the persistent store. It is never retried.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// UnwindError reports a failed rollback. The store may be left between
// checkpoints, the pipeline stops.
type UnwindError struct {
	Stage    StageID
	UnwindTo uint64
	Err      error
}

func (e *UnwindError) Error() string {
	return fmt.Sprintf("unwind of stage %s to #%d failed: %v", e.Stage, e.UnwindTo, e.Err)
}

func (e *UnwindError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a collaborator failure that is worth
// retrying without touching stored data.
func IsTransient(err error) bool {
	var fetchErr *downloader.FetchError
	return errors.As(err, &fetchErr) || errors.Is(err, ErrTipMismatch)
}
