// Copyright 2018 The go-ethereum Authors
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

package rawdb

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/golang/snappy"

	"github.com/celo-org/celo-stagesync/ethdb"
)

// ReadCanonicalHash retrieves the hash assigned to a canonical block number.
// The zero hash is returned if no canonical block is known at that height.
func ReadCanonicalHash(db ethdb.Getter, number uint64) (common.Hash, error) {
	data, err := db.Get(ethdb.CanonicalHeaders, EncodeBlockNumber(number))
	if err != nil || len(data) == 0 {
		return common.Hash{}, err
	}
	return common.BytesToHash(data), nil
}

// WriteCanonicalHash stores the hash assigned to a canonical block number.
func WriteCanonicalHash(db ethdb.Putter, hash common.Hash, number uint64) error {
	return db.Put(ethdb.CanonicalHeaders, EncodeBlockNumber(number), hash.Bytes())
}

// DeleteCanonicalHash removes the number to hash canonical mapping.
func DeleteCanonicalHash(db ethdb.Deleter, number uint64) error {
	return db.Delete(ethdb.CanonicalHeaders, EncodeBlockNumber(number))
}

// ReadHeaderNumber returns the header number assigned to a hash.
func ReadHeaderNumber(db ethdb.Getter, hash common.Hash) (*uint64, error) {
	data, err := db.Get(ethdb.HeaderNumbers, hash.Bytes())
	if err != nil || len(data) != numberLength {
		return nil, err
	}
	number := DecodeBlockNumber(data)
	return &number, nil
}

// ReadHeaderRLP retrieves a block header in its raw RLP database encoding.
func ReadHeaderRLP(db ethdb.Getter, hash common.Hash, number uint64) (rlp.RawValue, error) {
	return db.Get(ethdb.Headers, headerKey(number, hash))
}

// HasHeader verifies the existence of a block header corresponding to the hash.
func HasHeader(db ethdb.Getter, hash common.Hash, number uint64) (bool, error) {
	return db.Has(ethdb.Headers, headerKey(number, hash))
}

// ReadHeader retrieves the block header corresponding to the hash, or nil if
// it is not stored.
func ReadHeader(db ethdb.Getter, hash common.Hash, number uint64) (*types.Header, error) {
	data, err := ReadHeaderRLP(db, hash, number)
	if err != nil || len(data) == 0 {
		return nil, err
	}
	header := new(types.Header)
	if err := rlp.DecodeBytes(data, header); err != nil {
		return nil, fmt.Errorf("invalid block header RLP for %x: %w", hash, err)
	}
	return header, nil
}

// ReadCanonicalHeader retrieves the canonical header at the given height.
func ReadCanonicalHeader(db ethdb.Getter, number uint64) (*types.Header, error) {
	hash, err := ReadCanonicalHash(db, number)
	if err != nil || hash == (common.Hash{}) {
		return nil, err
	}
	return ReadHeader(db, hash, number)
}

// WriteHeader stores a block header into the database and also stores the hash-
// to-number mapping.
func WriteHeader(db ethdb.Putter, header *types.Header) error {
	var (
		hash   = header.Hash()
		number = header.Number.Uint64()
	)
	if err := db.Put(ethdb.HeaderNumbers, hash.Bytes(), EncodeBlockNumber(number)); err != nil {
		return err
	}
	data, err := rlp.EncodeToBytes(header)
	if err != nil {
		return fmt.Errorf("failed to RLP encode header: %w", err)
	}
	return db.Put(ethdb.Headers, headerKey(number, hash), data)
}

// DeleteHeader removes all block header data associated with a hash.
func DeleteHeader(db ethdb.Deleter, hash common.Hash, number uint64) error {
	if err := db.Delete(ethdb.Headers, headerKey(number, hash)); err != nil {
		return err
	}
	return db.Delete(ethdb.HeaderNumbers, hash.Bytes())
}

// ReadTd retrieves a block's total difficulty corresponding to the hash.
func ReadTd(db ethdb.Getter, hash common.Hash, number uint64) (*big.Int, error) {
	data, err := db.Get(ethdb.HeadersTotalDifficulty, headerKey(number, hash))
	if err != nil || len(data) == 0 {
		return nil, err
	}
	td := new(big.Int)
	if err := rlp.DecodeBytes(data, td); err != nil {
		return nil, fmt.Errorf("invalid block total difficulty RLP for %x: %w", hash, err)
	}
	return td, nil
}

// WriteTd stores the total difficulty of a block into the database.
func WriteTd(db ethdb.Putter, hash common.Hash, number uint64, td *big.Int) error {
	data, err := rlp.EncodeToBytes(td)
	if err != nil {
		return fmt.Errorf("failed to RLP encode block total difficulty: %w", err)
	}
	return db.Put(ethdb.HeadersTotalDifficulty, headerKey(number, hash), data)
}

// DeleteTd removes all block total difficulty data associated with a hash.
func DeleteTd(db ethdb.Deleter, hash common.Hash, number uint64) error {
	return db.Delete(ethdb.HeadersTotalDifficulty, headerKey(number, hash))
}

// BodyIndex locates the transactions of a block in the Transactions table.
type BodyIndex struct {
	StartTxID uint64
	TxCount   uint64
}

// NextTxID returns the first transaction id following the body.
func (b *BodyIndex) NextTxID() uint64 {
	return b.StartTxID + b.TxCount
}

// ReadBodyIndex retrieves the transaction range of a canonical block.
func ReadBodyIndex(db ethdb.Getter, number uint64) (*BodyIndex, error) {
	data, err := db.Get(ethdb.BlockBodies, EncodeBlockNumber(number))
	if err != nil || len(data) == 0 {
		return nil, err
	}
	body := new(BodyIndex)
	if err := rlp.DecodeBytes(data, body); err != nil {
		return nil, fmt.Errorf("invalid block body index RLP for #%d: %w", number, err)
	}
	return body, nil
}

// WriteBodyIndex stores the transaction range of a canonical block.
func WriteBodyIndex(db ethdb.Putter, number uint64, body *BodyIndex) error {
	data, err := rlp.EncodeToBytes(body)
	if err != nil {
		return fmt.Errorf("failed to RLP encode body index: %w", err)
	}
	return db.Put(ethdb.BlockBodies, EncodeBlockNumber(number), data)
}

// DeleteBodyIndex removes the transaction range of a block.
func DeleteBodyIndex(db ethdb.Deleter, number uint64) error {
	return db.Delete(ethdb.BlockBodies, EncodeBlockNumber(number))
}

// ReadOmmers retrieves the ommer headers of a canonical block.
func ReadOmmers(db ethdb.Getter, number uint64) ([]*types.Header, error) {
	data, err := db.Get(ethdb.BlockOmmers, EncodeBlockNumber(number))
	if err != nil || len(data) == 0 {
		return nil, err
	}
	var ommers []*types.Header
	if err := rlp.DecodeBytes(data, &ommers); err != nil {
		return nil, fmt.Errorf("invalid ommers RLP for #%d: %w", number, err)
	}
	return ommers, nil
}

// WriteOmmers stores the ommer headers of a canonical block. Nothing is
// stored for blocks without ommers.
func WriteOmmers(db ethdb.Putter, number uint64, ommers []*types.Header) error {
	if len(ommers) == 0 {
		return nil
	}
	data, err := rlp.EncodeToBytes(ommers)
	if err != nil {
		return fmt.Errorf("failed to RLP encode ommers: %w", err)
	}
	return db.Put(ethdb.BlockOmmers, EncodeBlockNumber(number), data)
}

// DeleteOmmers removes the ommer headers of a block.
func DeleteOmmers(db ethdb.Deleter, number uint64) error {
	return db.Delete(ethdb.BlockOmmers, EncodeBlockNumber(number))
}

// ReadTransaction retrieves a transaction by its id.
func ReadTransaction(db ethdb.Getter, id uint64) (*types.Transaction, error) {
	data, err := db.Get(ethdb.Transactions, txKey(id))
	if err != nil || len(data) == 0 {
		return nil, err
	}
	enc, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("corrupted transaction %d: %w", id, err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(enc); err != nil {
		return nil, fmt.Errorf("invalid transaction %d: %w", id, err)
	}
	return tx, nil
}

// ReadTransactions retrieves the transactions of a block body in order.
func ReadTransactions(db ethdb.Getter, body *BodyIndex) (types.Transactions, error) {
	txs := make(types.Transactions, 0, body.TxCount)
	for id := body.StartTxID; id < body.NextTxID(); id++ {
		tx, err := ReadTransaction(db, id)
		if err != nil {
			return nil, err
		}
		if tx == nil {
			return nil, fmt.Errorf("missing transaction %d", id)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// WriteTransaction stores a transaction under the given id.
func WriteTransaction(db ethdb.Putter, id uint64, tx *types.Transaction) error {
	enc, err := tx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	return db.Put(ethdb.Transactions, txKey(id), snappy.Encode(nil, enc))
}

// DeleteTransaction removes the transaction with the given id.
func DeleteTransaction(db ethdb.Deleter, id uint64) error {
	return db.Delete(ethdb.Transactions, txKey(id))
}

// ReadSenders retrieves the recovered senders of a block body in order.
func ReadSenders(db ethdb.Getter, body *BodyIndex) ([]common.Address, error) {
	senders := make([]common.Address, 0, body.TxCount)
	for id := body.StartTxID; id < body.NextTxID(); id++ {
		data, err := db.Get(ethdb.TxSenders, txKey(id))
		if err != nil {
			return nil, err
		}
		if len(data) != common.AddressLength {
			return nil, fmt.Errorf("missing sender of transaction %d", id)
		}
		senders = append(senders, common.BytesToAddress(data))
	}
	return senders, nil
}

// WriteSender stores the recovered sender of a transaction.
func WriteSender(db ethdb.Putter, id uint64, sender common.Address) error {
	return db.Put(ethdb.TxSenders, txKey(id), sender.Bytes())
}

// DeleteSender removes the recovered sender of a transaction.
func DeleteSender(db ethdb.Deleter, id uint64) error {
	return db.Delete(ethdb.TxSenders, txKey(id))
}

// ReadRawReceipts retrieves the receipts of a canonical block. Only the
// consensus fields are restored, the type and the derived fields are not.
func ReadRawReceipts(db ethdb.Getter, number uint64) (types.Receipts, error) {
	data, err := db.Get(ethdb.Receipts, EncodeBlockNumber(number))
	if err != nil || len(data) == 0 {
		return nil, err
	}
	var stored []*types.ReceiptForStorage
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("invalid receipt array RLP for #%d: %w", number, err)
	}
	receipts := make(types.Receipts, len(stored))
	for i, r := range stored {
		receipts[i] = (*types.Receipt)(r)
	}
	return receipts, nil
}

// ReadReceipts retrieves the receipts of a canonical block with the fields
// derived from the block and its transactions filled in.
func ReadReceipts(db ethdb.Getter, hash common.Hash, number uint64, config *params.ChainConfig) (types.Receipts, error) {
	receipts, err := ReadRawReceipts(db, number)
	if err != nil || receipts == nil {
		return nil, err
	}
	body, err := ReadBodyIndex(db, number)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("missing body of #%d", number)
	}
	txs, err := ReadTransactions(db, body)
	if err != nil {
		return nil, err
	}
	if err := receipts.DeriveFields(config, hash, number, txs); err != nil {
		return nil, fmt.Errorf("failed to derive receipt fields of #%d: %w", number, err)
	}
	return receipts, nil
}

// WriteReceipts stores the receipts of a canonical block.
func WriteReceipts(db ethdb.Putter, number uint64, receipts types.Receipts) error {
	stored := make([]*types.ReceiptForStorage, len(receipts))
	for i, r := range receipts {
		stored[i] = (*types.ReceiptForStorage)(r)
	}
	data, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("failed to RLP encode receipts: %w", err)
	}
	return db.Put(ethdb.Receipts, EncodeBlockNumber(number), data)
}

// DeleteReceipts removes the receipts of a block.
func DeleteReceipts(db ethdb.Deleter, number uint64) error {
	return db.Delete(ethdb.Receipts, EncodeBlockNumber(number))
}
