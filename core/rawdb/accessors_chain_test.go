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
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/celo-org/celo-stagesync/ethdb"
	"github.com/celo-org/celo-stagesync/ethdb/leveldb"
)

func newTestTx(t *testing.T) ethdb.RwTx {
	db, err := leveldb.NewInMemory()
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	tx, err := db.BeginRW(context.Background())
	if err != nil {
		t.Fatalf("failed to open transaction: %v", err)
	}
	t.Cleanup(func() {
		tx.Rollback()
		db.Close()
	})
	return tx
}

func newHasher() *trie.StackTrie { return trie.NewStackTrie(nil) }

// Tests block header storage and retrieval operations.
func TestHeaderStorage(t *testing.T) {
	db := newTestTx(t)

	header := &types.Header{Number: big.NewInt(42), Extra: []byte("test header")}
	if entry, _ := ReadHeader(db, header.Hash(), header.Number.Uint64()); entry != nil {
		t.Fatalf("Non existent header returned: %v", entry)
	}
	if err := WriteHeader(db, header); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}
	if entry, err := ReadHeader(db, header.Hash(), header.Number.Uint64()); err != nil || entry == nil {
		t.Fatalf("Stored header not found: %v", err)
	} else if entry.Hash() != header.Hash() {
		t.Fatalf("Retrieved header mismatch: have %v, want %v", entry, header)
	}
	if number, _ := ReadHeaderNumber(db, header.Hash()); number == nil || *number != 42 {
		t.Fatalf("Header number mismatch: have %v, want %v", number, 42)
	}
	if err := DeleteHeader(db, header.Hash(), header.Number.Uint64()); err != nil {
		t.Fatalf("Failed to delete header: %v", err)
	}
	if entry, _ := ReadHeader(db, header.Hash(), header.Number.Uint64()); entry != nil {
		t.Fatalf("Deleted header returned: %v", entry)
	}
	if number, _ := ReadHeaderNumber(db, header.Hash()); number != nil {
		t.Fatalf("Deleted header number returned: %v", *number)
	}
}

// Tests that canonical numbers can be mapped to hashes and retrieved.
func TestCanonicalMappingStorage(t *testing.T) {
	db := newTestTx(t)

	hash, number := common.Hash{0: 0xff}, uint64(314)
	if entry, _ := ReadCanonicalHash(db, number); entry != (common.Hash{}) {
		t.Fatalf("Non existent canonical mapping returned: %v", entry)
	}
	if err := WriteCanonicalHash(db, hash, number); err != nil {
		t.Fatalf("Failed to write canonical hash: %v", err)
	}
	if entry, _ := ReadCanonicalHash(db, number); entry != hash {
		t.Fatalf("Retrieved canonical mapping mismatch: have %v, want %v", entry, hash)
	}
	DeleteCanonicalHash(db, number)
	if entry, _ := ReadCanonicalHash(db, number); entry != (common.Hash{}) {
		t.Fatalf("Deleted canonical mapping returned: %v", entry)
	}
}

// Tests block total difficulty storage and retrieval operations.
func TestTdStorage(t *testing.T) {
	db := newTestTx(t)

	hash, td := common.Hash{}, big.NewInt(314)
	if entry, _ := ReadTd(db, hash, 0); entry != nil {
		t.Fatalf("Non existent TD returned: %v", entry)
	}
	if err := WriteTd(db, hash, 0, td); err != nil {
		t.Fatalf("Failed to write TD: %v", err)
	}
	if entry, _ := ReadTd(db, hash, 0); entry == nil || entry.Cmp(td) != 0 {
		t.Fatalf("Retrieved TD mismatch: have %v, want %v", entry, td)
	}
}

// Tests that transactions are stored compressed under sequential ids and read
// back in body order together with their senders.
func TestBodyStorage(t *testing.T) {
	db := newTestTx(t)

	key, _ := crypto.GenerateKey()
	signer := types.LatestSigner(params.TestChainConfig)
	var txs types.Transactions
	for i := uint64(0); i < 3; i++ {
		tx := types.MustSignNewTx(key, signer, &types.DynamicFeeTx{
			ChainID:   params.TestChainConfig.ChainID,
			Nonce:     i,
			Gas:       21000,
			GasFeeCap: big.NewInt(1),
			GasTipCap: big.NewInt(1),
			Value:     big.NewInt(int64(i)),
		})
		txs = append(txs, tx)
	}
	body := &BodyIndex{StartTxID: 7, TxCount: uint64(len(txs))}
	if err := WriteBodyIndex(db, 5, body); err != nil {
		t.Fatalf("Failed to write body index: %v", err)
	}
	for i, tx := range txs {
		if err := WriteTransaction(db, body.StartTxID+uint64(i), tx); err != nil {
			t.Fatalf("Failed to write transaction: %v", err)
		}
		if err := WriteSender(db, body.StartTxID+uint64(i), crypto.PubkeyToAddress(key.PublicKey)); err != nil {
			t.Fatalf("Failed to write sender: %v", err)
		}
	}
	stored, err := ReadBodyIndex(db, 5)
	if err != nil || stored == nil {
		t.Fatalf("Stored body index not found: %v", err)
	}
	if *stored != *body {
		t.Fatalf("Body index mismatch: have %+v, want %+v", stored, body)
	}
	if stored.NextTxID() != 10 {
		t.Fatalf("Next tx id mismatch: have %d, want %d", stored.NextTxID(), 10)
	}
	have, err := ReadTransactions(db, stored)
	if err != nil {
		t.Fatalf("Failed to read transactions: %v", err)
	}
	if types.DeriveSha(have, newHasher()) != types.DeriveSha(txs, newHasher()) {
		t.Fatalf("Transactions mismatch")
	}
	senders, err := ReadSenders(db, stored)
	if err != nil {
		t.Fatalf("Failed to read senders: %v", err)
	}
	for i, sender := range senders {
		if sender != crypto.PubkeyToAddress(key.PublicKey) {
			t.Fatalf("sender %d mismatch: have %x", i, sender)
		}
	}
	if err := DeleteTransaction(db, 8); err != nil {
		t.Fatalf("Failed to delete transaction: %v", err)
	}
	if _, err := ReadTransactions(db, stored); err == nil {
		t.Fatalf("Body with missing transaction read successfully")
	}
}

// Tests that receipts of typed transactions read back with their type and
// derived fields, so that they hash to the receipt root of the header.
func TestReceiptStorage(t *testing.T) {
	db := newTestTx(t)

	key, _ := crypto.GenerateKey()
	signer := types.LatestSigner(params.TestChainConfig)
	txs := types.Transactions{
		types.MustSignNewTx(key, signer, &types.LegacyTx{Nonce: 0, Gas: 21000, GasPrice: big.NewInt(1)}),
		types.MustSignNewTx(key, signer, &types.DynamicFeeTx{
			ChainID:   params.TestChainConfig.ChainID,
			Nonce:     1,
			Gas:       60000,
			GasFeeCap: big.NewInt(1),
			GasTipCap: big.NewInt(1),
		}),
	}
	receipts := types.Receipts{
		{Type: types.LegacyTxType, Status: types.ReceiptStatusSuccessful, CumulativeGasUsed: 21000, Logs: []*types.Log{}},
		{Type: types.DynamicFeeTxType, Status: types.ReceiptStatusSuccessful, CumulativeGasUsed: 74000, Logs: []*types.Log{
			{Address: common.Address{0x11}, Topics: []common.Hash{{0x22}}, Data: []byte{0x33}},
		}},
	}
	for _, r := range receipts {
		r.Bloom = types.CreateBloom(types.Receipts{r})
	}
	want := types.DeriveSha(receipts, newHasher())

	var (
		number = uint64(9)
		hash   = common.Hash{0x09}
		body   = &BodyIndex{StartTxID: 3, TxCount: uint64(len(txs))}
	)
	if err := WriteBodyIndex(db, number, body); err != nil {
		t.Fatalf("Failed to write body index: %v", err)
	}
	for i, tx := range txs {
		if err := WriteTransaction(db, body.StartTxID+uint64(i), tx); err != nil {
			t.Fatalf("Failed to write transaction: %v", err)
		}
	}
	if err := WriteReceipts(db, number, receipts); err != nil {
		t.Fatalf("Failed to write receipts: %v", err)
	}
	have, err := ReadReceipts(db, hash, number, params.TestChainConfig)
	if err != nil {
		t.Fatalf("Failed to read receipts: %v", err)
	}
	if root := types.DeriveSha(have, newHasher()); root != want {
		t.Fatalf("Receipt root mismatch: have %x, want %x", root, want)
	}
	for i, r := range have {
		if r.Type != txs[i].Type() {
			t.Fatalf("receipt %d type mismatch: have %d, want %d", i, r.Type, txs[i].Type())
		}
		if r.TxHash != txs[i].Hash() || r.BlockHash != hash || r.BlockNumber.Uint64() != number {
			t.Fatalf("receipt %d derived fields mismatch: %+v", i, r)
		}
	}
	if have[1].GasUsed != 53000 || have[1].Logs[0].TxIndex != 1 {
		t.Fatalf("Derived gas or log index mismatch: gas %d, log tx index %d", have[1].GasUsed, have[1].Logs[0].TxIndex)
	}
	if err := DeleteReceipts(db, number); err != nil {
		t.Fatalf("Failed to delete receipts: %v", err)
	}
	if entry, _ := ReadReceipts(db, hash, number, params.TestChainConfig); entry != nil {
		t.Fatalf("Deleted receipts returned: %v", entry)
	}
}

// Tests that checkpoints of unknown stages read as zero.
func TestStageCheckpointStorage(t *testing.T) {
	db := newTestTx(t)

	if n, err := ReadStageCheckpoint(db, "Headers"); err != nil || n != 0 {
		t.Fatalf("Unexpected checkpoint: have %d (%v), want 0", n, err)
	}
	if err := WriteStageCheckpoint(db, "Headers", 120); err != nil {
		t.Fatalf("Failed to write checkpoint: %v", err)
	}
	if n, _ := ReadStageCheckpoint(db, "Headers"); n != 120 {
		t.Fatalf("Checkpoint mismatch: have %d, want %d", n, 120)
	}
	if n, _ := ReadStageCheckpoint(db, "Bodies"); n != 0 {
		t.Fatalf("Checkpoint of unrelated stage changed: %d", n)
	}
}

func TestStorageZeroValueDeletes(t *testing.T) {
	db := newTestTx(t)

	addr, slot := common.Address{1}, common.Hash{2}
	if err := WriteStorage(db, addr, slot, common.HexToHash("0x2a")); err != nil {
		t.Fatalf("Failed to write storage: %v", err)
	}
	if v, _ := ReadStorage(db, addr, slot); v != common.HexToHash("0x2a") {
		t.Fatalf("Storage mismatch: have %x", v)
	}
	if err := WriteStorage(db, addr, slot, common.Hash{}); err != nil {
		t.Fatalf("Failed to clear storage: %v", err)
	}
	if ok, _ := db.Has(ethdb.PlainStorageState, StorageKey(addr, slot)); ok {
		t.Fatalf("Zero slot still stored")
	}
}
