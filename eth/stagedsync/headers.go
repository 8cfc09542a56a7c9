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
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/celo-org/celo-stagesync/consensus"
	"github.com/celo-org/celo-stagesync/core/rawdb"
	"github.com/celo-org/celo-stagesync/eth/downloader"
	"github.com/celo-org/celo-stagesync/ethdb"
)

// logInterval is the minimum time between two progress logs of a long
// running stage call.
const logInterval = 8 * time.Second

// headerRef is what the ascending canonicalisation pass needs of a header.
type headerRef struct {
	number     uint64
	hash       common.Hash
	difficulty *big.Int
}

// HeaderStage downloads headers from the canonical tip downwards until it
// meets the local canonical chain, validating each header against its
// parent, and then makes the new segment canonical.
type HeaderStage struct {
	validator consensus.Validator
	dl        *downloader.Downloader
	bad       *BadBlocks
	log       log.Logger
}

// NewHeaderStage creates the headers stage. Headers in bad are rejected
// without validation.
func NewHeaderStage(validator consensus.Validator, dl *downloader.Downloader, bad *BadBlocks) *HeaderStage {
	return &HeaderStage{
		validator: validator,
		dl:        dl,
		bad:       bad,
		log:       log.New("stage", Headers),
	}
}

// ID implements Stage.
func (s *HeaderStage) ID() StageID { return Headers }

// Execute implements Stage. The target is ignored, the stage always syncs to
// the tip reported by the validator.
func (s *HeaderStage) Execute(ctx context.Context, tx ethdb.RwTx, in ExecInput) (ExecOutput, error) {
	tipHash, tipNumber, err := s.validator.CurrentTip(ctx)
	if errors.Is(err, consensus.ErrNoTip) {
		return finished(in.Checkpoint), nil
	}
	if err != nil {
		return ExecOutput{}, err
	}
	canonical, err := rawdb.ReadCanonicalHash(tx, tipNumber)
	if err != nil {
		return ExecOutput{}, &StoreError{Op: "read canonical hash", Err: err}
	}
	if canonical == tipHash && tipNumber <= in.Checkpoint {
		return finished(in.Checkpoint), nil
	}
	if s.bad.Contains(tipHash) {
		return ExecOutput{}, &ValidationError{Stage: Headers, Block: tipNumber, Hash: tipHash, Err: ErrKnownBad}
	}

	stream := s.dl.Headers(ctx, tipHash)
	defer stream.Close()

	var (
		refs     []headerRef // new headers, descending
		child    *types.Header
		ancestor *types.Header
		logged   = time.Now()
	)
	for ancestor == nil {
		header, err := stream.Next(ctx)
		if err == io.EOF {
			return ExecOutput{}, fmt.Errorf("%w: walked down from #%d [%x…]", ErrUnknownAncestor, tipNumber, tipHash[:4])
		}
		if err != nil {
			return ExecOutput{}, err
		}
		var (
			hash   = header.Hash()
			number = header.Number.Uint64()
		)
		if child == nil && number != tipNumber {
			return ExecOutput{}, fmt.Errorf("%w: tip [%x…] reported as #%d, header is #%d", ErrTipMismatch, tipHash[:4], tipNumber, number)
		}
		if child != nil {
			childNumber := child.Number.Uint64()
			// A header not linking to its child may still be valid on
			// another branch, it is not remembered.
			if child.ParentHash != hash || childNumber != number+1 {
				return ExecOutput{}, &ValidationError{Stage: Headers, Block: childNumber - 1, Hash: hash, Err: ErrLinkage}
			}
			if err := s.validator.ValidateHeader(child, header); err != nil {
				return ExecOutput{}, &ValidationError{Stage: Headers, Block: childNumber, Hash: child.Hash(), Err: err, Permanent: true}
			}
		}
		local, err := rawdb.ReadCanonicalHash(tx, number)
		if err != nil {
			return ExecOutput{}, &StoreError{Op: "read canonical hash", Err: err}
		}
		if local == hash {
			ancestor = header
			break
		}
		if s.bad.Contains(hash) {
			return ExecOutput{}, &ValidationError{Stage: Headers, Block: number, Hash: hash, Err: ErrKnownBad}
		}
		if err := rawdb.WriteHeader(tx, header); err != nil {
			return ExecOutput{}, &StoreError{Op: "write header", Err: err}
		}
		refs = append(refs, headerRef{number: number, hash: hash, difficulty: header.Difficulty})
		child = header

		if time.Since(logged) > logInterval {
			s.log.Info("Downloading headers", "number", number, "tip", tipNumber, "downloaded", len(refs))
			logged = time.Now()
		}
	}
	ancestorNumber := ancestor.Number.Uint64()
	if ancestorNumber < in.Checkpoint {
		return ExecOutput{}, &ReorgError{Ancestor: ancestorNumber, Hash: ancestor.Hash()}
	}

	td, err := rawdb.ReadTd(tx, ancestor.Hash(), ancestorNumber)
	if err != nil {
		return ExecOutput{}, &StoreError{Op: "read total difficulty", Err: err}
	}
	if td == nil {
		return ExecOutput{}, &StoreError{Op: "read total difficulty", Err: fmt.Errorf("missing total difficulty of #%d", ancestorNumber)}
	}
	for i := len(refs) - 1; i >= 0; i-- {
		ref := refs[i]
		td = new(big.Int).Add(td, ref.difficulty)
		if err := rawdb.WriteTd(tx, ref.hash, ref.number, td); err != nil {
			return ExecOutput{}, &StoreError{Op: "write total difficulty", Err: err}
		}
		if err := rawdb.WriteCanonicalHash(tx, ref.hash, ref.number); err != nil {
			return ExecOutput{}, &StoreError{Op: "write canonical hash", Err: err}
		}
	}
	if len(refs) > 0 {
		s.log.Info("Imported new headers", "count", len(refs), "number", tipNumber, "hash", tipHash, "ancestor", ancestorNumber, "td", td)
	}
	return finished(tipNumber), nil
}

// Unwind implements Stage. Canonical headers above the target are removed
// together with their total difficulty.
func (s *HeaderStage) Unwind(ctx context.Context, tx ethdb.RwTx, in UnwindInput) (UnwindOutput, error) {
	for n := in.Checkpoint; n > in.UnwindTo; n-- {
		if err := ctx.Err(); err != nil {
			return UnwindOutput{}, err
		}
		hash, err := rawdb.ReadCanonicalHash(tx, n)
		if err != nil {
			return UnwindOutput{}, &StoreError{Op: "read canonical hash", Err: err}
		}
		if hash == (common.Hash{}) {
			continue
		}
		if err := rawdb.DeleteTd(tx, hash, n); err != nil {
			return UnwindOutput{}, &StoreError{Op: "delete total difficulty", Err: err}
		}
		if err := rawdb.DeleteHeader(tx, hash, n); err != nil {
			return UnwindOutput{}, &StoreError{Op: "delete header", Err: err}
		}
		if err := rawdb.DeleteCanonicalHash(tx, n); err != nil {
			return UnwindOutput{}, &StoreError{Op: "delete canonical hash", Err: err}
		}
	}
	return UnwindOutput{Checkpoint: in.UnwindTo}, nil
}
