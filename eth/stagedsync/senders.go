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
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/celo-org/celo-stagesync/core/rawdb"
	"github.com/celo-org/celo-stagesync/ethdb"
)

// SenderStage recovers the signer of every stored transaction.
type SenderStage struct {
	config  *params.ChainConfig
	batch   uint64
	workers int
	log     log.Logger
}

// NewSenderStage creates the senders stage handling at most batch blocks per
// call with the given number of concurrent recoveries.
func NewSenderStage(config *params.ChainConfig, batch uint64, workers int) *SenderStage {
	if workers <= 0 {
		workers = 1
	}
	return &SenderStage{config: config, batch: batch, workers: workers, log: log.New("stage", Senders)}
}

// ID implements Stage.
func (s *SenderStage) ID() StageID { return Senders }

// recovery is one signature to recover.
type recovery struct {
	id     uint64
	number *big.Int
	hash   common.Hash // block hash
	tx     *types.Transaction

	sender common.Address
	err    error
}

// Execute implements Stage.
func (s *SenderStage) Execute(ctx context.Context, tx ethdb.RwTx, in ExecInput) (ExecOutput, error) {
	if in.TargetReached() {
		return finished(in.Checkpoint), nil
	}
	from, to := in.Range(s.batch)

	var jobs []*recovery
	for n := from; n <= to; n++ {
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
		txs, err := rawdb.ReadTransactions(tx, index)
		if err != nil {
			return ExecOutput{}, &StoreError{Op: "read transactions", Err: err}
		}
		hash := header.Hash()
		for i, t := range txs {
			jobs = append(jobs, &recovery{id: index.StartTxID + uint64(i), number: header.Number, hash: hash, tx: t})
		}
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			break
		}
		job := job
		g.Go(func() error {
			job.sender, job.err = recoverSender(s.config, job.number, job.tx)
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return ExecOutput{}, err
	}

	// Jobs are in block order, so the first failure is the lowest bad block.
	for _, job := range jobs {
		if job.err != nil {
			// The transactions are committed by the header, the block
			// itself is invalid.
			return ExecOutput{}, &ValidationError{
				Stage:     Senders,
				Block:     job.number.Uint64(),
				Hash:      job.hash,
				Err:       fmt.Errorf("%w: tx %x: %v", ErrInvalidSignature, job.tx.Hash(), job.err),
				Permanent: true,
			}
		}
		if err := rawdb.WriteSender(tx, job.id, job.sender); err != nil {
			return ExecOutput{}, &StoreError{Op: "write sender", Err: err}
		}
	}
	txRecoverMeter.Mark(int64(len(jobs)))
	s.log.Debug("Recovered senders", "from", from, "to", to, "txs", len(jobs))
	return progressed(in, to), nil
}

// Unwind implements Stage.
func (s *SenderStage) Unwind(ctx context.Context, tx ethdb.RwTx, in UnwindInput) (UnwindOutput, error) {
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
			if err := rawdb.DeleteSender(tx, id); err != nil {
				return UnwindOutput{}, &StoreError{Op: "delete sender", Err: err}
			}
		}
	}
	return UnwindOutput{Checkpoint: in.UnwindTo}, nil
}

// recoverSender derives the address that signed tx in block number.
func recoverSender(config *params.ChainConfig, number *big.Int, tx *types.Transaction) (common.Address, error) {
	var (
		v, r, s = tx.RawSignatureValues()
		recid   *big.Int
		signer  types.Signer
	)
	if config.ChainID == nil && tx.Protected() {
		return common.Address{}, types.ErrInvalidChainId
	}
	switch {
	case tx.Type() != types.LegacyTxType:
		switch tx.Type() {
		case types.AccessListTxType:
			if !config.IsBerlin(number) {
				return common.Address{}, types.ErrTxTypeNotSupported
			}
		case types.DynamicFeeTxType:
			if !config.IsLondon(number) {
				return common.Address{}, types.ErrTxTypeNotSupported
			}
		default:
			return common.Address{}, types.ErrTxTypeNotSupported
		}
		if tx.ChainId().Cmp(config.ChainID) != 0 {
			return common.Address{}, types.ErrInvalidChainId
		}
		signer = types.NewLondonSigner(config.ChainID)
		recid = v

	case tx.Protected():
		if !config.IsEIP155(number) {
			return common.Address{}, types.ErrInvalidChainId
		}
		if tx.ChainId().Cmp(config.ChainID) != 0 {
			return common.Address{}, types.ErrInvalidChainId
		}
		signer = types.NewEIP155Signer(config.ChainID)
		recid = new(big.Int).Sub(v, new(big.Int).Lsh(config.ChainID, 1))
		recid.Sub(recid, big.NewInt(35))

	default:
		signer = types.HomesteadSigner{}
		recid = new(big.Int).Sub(v, big.NewInt(27))
	}
	if !recid.IsUint64() || recid.Uint64() > 1 {
		return common.Address{}, types.ErrInvalidSig
	}
	if !crypto.ValidateSignatureValues(byte(recid.Uint64()), r, s, config.IsHomestead(number)) {
		return common.Address{}, types.ErrInvalidSig
	}
	hash := signer.Hash(tx)

	sig := make([]byte, crypto.SignatureLength)
	sig[0] = 27 + byte(recid.Uint64())
	r.FillBytes(sig[1:33])
	s.FillBytes(sig[33:65])
	pub, _, err := ecdsa.RecoverCompact(sig, hash[:])
	if err != nil {
		return common.Address{}, err
	}
	enc := pub.SerializeUncompressed()

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(enc[1:])
	var addr common.Address
	copy(addr[:], hasher.Sum(nil)[12:])
	return addr, nil
}
