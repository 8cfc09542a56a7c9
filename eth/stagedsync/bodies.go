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
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/celo-org/celo-stagesync/core/rawdb"
	"github.com/celo-org/celo-stagesync/eth/downloader"
	"github.com/celo-org/celo-stagesync/ethdb"
)

// BodyStage downloads the bodies of canonical headers in ascending order and
// stores their ommers and transactions.
type BodyStage struct {
	dl    *downloader.Downloader
	batch uint64
	log   log.Logger
}

// NewBodyStage creates the bodies stage handling at most batch blocks per
// call.
func NewBodyStage(dl *downloader.Downloader, batch uint64) *BodyStage {
	return &BodyStage{dl: dl, batch: batch, log: log.New("stage", Bodies)}
}

// ID implements Stage.
func (s *BodyStage) ID() StageID { return Bodies }

// emptyBody reports whether the header commits to no ommers and no
// transactions, in which case there is nothing to download.
func emptyBody(header *types.Header) bool {
	return header.UncleHash == types.EmptyUncleHash && header.TxHash == types.EmptyRootHash
}

// verifyBody checks a body against the commitments of its header.
func verifyBody(header *types.Header, body *types.Body) error {
	if hash := types.CalcUncleHash(body.Uncles); hash != header.UncleHash {
		return fmt.Errorf("%w: ommers hash %x, header %x", ErrBodyMismatch, hash, header.UncleHash)
	}
	if hash := types.DeriveSha(types.Transactions(body.Transactions), trie.NewStackTrie(nil)); hash != header.TxHash {
		return fmt.Errorf("%w: transactions root %x, header %x", ErrBodyMismatch, hash, header.TxHash)
	}
	return nil
}

// Execute implements Stage.
func (s *BodyStage) Execute(ctx context.Context, tx ethdb.RwTx, in ExecInput) (ExecOutput, error) {
	if in.TargetReached() {
		return finished(in.Checkpoint), nil
	}
	from, to := in.Range(s.batch)

	prev, err := rawdb.ReadBodyIndex(tx, in.Checkpoint)
	if err != nil {
		return ExecOutput{}, &StoreError{Op: "read body index", Err: err}
	}
	if prev == nil {
		return ExecOutput{}, &StoreError{Op: "read body index", Err: fmt.Errorf("missing body of #%d", in.Checkpoint)}
	}
	var (
		headers = make([]*types.Header, 0, to-from+1)
		hashes  []common.Hash
	)
	for n := from; n <= to; n++ {
		header, err := rawdb.ReadCanonicalHeader(tx, n)
		if err != nil {
			return ExecOutput{}, &StoreError{Op: "read header", Err: err}
		}
		if header == nil {
			return ExecOutput{}, &StoreError{Op: "read header", Err: fmt.Errorf("missing canonical header #%d", n)}
		}
		headers = append(headers, header)
		if !emptyBody(header) {
			hashes = append(hashes, header.Hash())
		}
	}
	var stream *downloader.BodyStream
	if len(hashes) > 0 {
		stream = s.dl.Bodies(ctx, hashes)
		defer stream.Close()
	}

	var (
		nextID = prev.NextTxID()
		txs    int
	)
	for _, header := range headers {
		number := header.Number.Uint64()
		body := new(types.Body)
		if !emptyBody(header) {
			body, err = stream.Next(ctx)
			if err == io.EOF {
				return ExecOutput{}, fmt.Errorf("body stream ended before #%d", number)
			}
			if err != nil {
				return ExecOutput{}, err
			}
			if err := verifyBody(header, body); err != nil {
				return ExecOutput{}, &ValidationError{Stage: Bodies, Block: number, Hash: header.Hash(), Err: err}
			}
		}
		if err := rawdb.WriteOmmers(tx, number, body.Uncles); err != nil {
			return ExecOutput{}, &StoreError{Op: "write ommers", Err: err}
		}
		index := &rawdb.BodyIndex{StartTxID: nextID, TxCount: uint64(len(body.Transactions))}
		for _, t := range body.Transactions {
			if err := rawdb.WriteTransaction(tx, nextID, t); err != nil {
				return ExecOutput{}, &StoreError{Op: "write transaction", Err: err}
			}
			nextID++
		}
		if err := rawdb.WriteBodyIndex(tx, number, index); err != nil {
			return ExecOutput{}, &StoreError{Op: "write body index", Err: err}
		}
		txs += len(body.Transactions)
	}
	s.log.Debug("Stored block bodies", "from", from, "to", to, "downloaded", len(hashes), "txs", txs)
	return progressed(in, to), nil
}

// Unwind implements Stage. Transactions, ommers and body indexes above the
// target are removed.
func (s *BodyStage) Unwind(ctx context.Context, tx ethdb.RwTx, in UnwindInput) (UnwindOutput, error) {
	for n := in.Checkpoint; n > in.UnwindTo; n-- {
		if err := ctx.Err(); err != nil {
			return UnwindOutput{}, err
		}
		index, err := rawdb.ReadBodyIndex(tx, n)
		if err != nil {
			return UnwindOutput{}, &StoreError{Op: "read body index", Err: err}
		}
		if index == nil {
			continue
		}
		for id := index.StartTxID; id < index.NextTxID(); id++ {
			if err := rawdb.DeleteTransaction(tx, id); err != nil {
				return UnwindOutput{}, &StoreError{Op: "delete transaction", Err: err}
			}
		}
		if err := rawdb.DeleteOmmers(tx, n); err != nil {
			return UnwindOutput{}, &StoreError{Op: "delete ommers", Err: err}
		}
		if err := rawdb.DeleteBodyIndex(tx, n); err != nil {
			return UnwindOutput{}, &StoreError{Op: "delete body index", Err: err}
		}
	}
	return UnwindOutput{Checkpoint: in.UnwindTo}, nil
}
