// Copyright 2016 The go-ethereum Authors
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

package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// StateDB must satisfy the EVM's state interface.
var _ vm.StateDB = (*StateDB)(nil)

// memReader is an in-memory Reader.
type memReader struct {
	accounts map[common.Address]*Account
	storage  map[common.Address]Storage
	code     map[common.Hash][]byte
}

func newMemReader() *memReader {
	return &memReader{
		accounts: make(map[common.Address]*Account),
		storage:  make(map[common.Address]Storage),
		code:     make(map[common.Hash][]byte),
	}
}

func (r *memReader) ReadAccount(addr common.Address) (*Account, error) {
	if acc, ok := r.accounts[addr]; ok {
		return acc.Copy(), nil
	}
	return nil, nil
}

func (r *memReader) ReadStorage(addr common.Address, slot common.Hash) (common.Hash, error) {
	return r.storage[addr][slot], nil
}

func (r *memReader) ReadCode(hash common.Hash) ([]byte, error) {
	return r.code[hash], nil
}

func TestSnapshotRevert(t *testing.T) {
	var (
		addr  = common.Address{1}
		key   = common.Hash{1}
		state = New(newMemReader())
	)
	state.SetBalance(addr, big.NewInt(42))
	state.SetNonce(addr, 43)
	state.SetState(addr, key, common.Hash{0x44})

	snap := state.Snapshot()
	state.SetBalance(addr, big.NewInt(1))
	state.SetNonce(addr, 2)
	state.SetState(addr, key, common.Hash{3})
	state.SetCode(addr, []byte{0x60})
	state.RevertToSnapshot(snap)

	if have := state.GetBalance(addr); have.Cmp(big.NewInt(42)) != 0 {
		t.Errorf("balance mismatch: have %v, want %v", have, 42)
	}
	if have := state.GetNonce(addr); have != 43 {
		t.Errorf("nonce mismatch: have %v, want %v", have, 43)
	}
	if have := state.GetState(addr, key); have != (common.Hash{0x44}) {
		t.Errorf("storage mismatch: have %x, want %x", have, common.Hash{0x44})
	}
	if have := state.GetCodeSize(addr); have != 0 {
		t.Errorf("code size mismatch: have %d, want 0", have)
	}
}

func TestSnapshotEmpty(t *testing.T) {
	state := New(newMemReader())
	state.RevertToSnapshot(state.Snapshot())
}

// Tests that the committed value of a slot is the value at the start of the
// transaction, both for slots read from the store and for slots written by
// earlier transactions of the block.
func TestCommittedState(t *testing.T) {
	var (
		addr   = common.Address{1}
		slot   = common.Hash{1}
		reader = newMemReader()
	)
	// A non-empty account, Finalise would delete an empty one.
	acc := NewAccount()
	acc.Nonce = 1
	reader.accounts[addr] = acc
	reader.storage[addr] = Storage{slot: {0x01}}

	state := New(reader)
	state.SetState(addr, slot, common.Hash{0x02})
	if have := state.GetCommittedState(addr, slot); have != (common.Hash{0x01}) {
		t.Fatalf("committed value mismatch: have %x, want %x", have, common.Hash{0x01})
	}
	state.Finalise(true)
	state.SetState(addr, slot, common.Hash{0x03})
	if have := state.GetCommittedState(addr, slot); have != (common.Hash{0x02}) {
		t.Fatalf("committed value mismatch after finalise: have %x, want %x", have, common.Hash{0x02})
	}
	if !state.Exist(addr) {
		t.Fatalf("account deleted by finalise")
	}
}

// Tests that touched empty accounts are deleted under EIP-158 and that
// suicided accounts produce deletions in the diff.
func TestFinaliseDeletes(t *testing.T) {
	var (
		empty    = common.Address{1}
		suicider = common.Address{2}
		rich     = common.Address{3}
		reader   = newMemReader()
	)
	reader.accounts[empty] = NewAccount()
	reader.accounts[suicider] = &Account{Nonce: 1, Balance: uint256.NewInt(5), CodeHash: crypto.Keccak256Hash([]byte{1})}
	reader.storage[suicider] = Storage{{1}: {1}}

	state := New(reader)
	state.AddBalance(empty, new(big.Int)) // touch
	state.Suicide(suicider)
	state.AddBalance(rich, big.NewInt(7))
	state.Finalise(true)

	diff := state.Diff()
	if ad := diff.Accounts[empty]; ad == nil || !ad.Deleted {
		t.Errorf("touched empty account not deleted: %+v", ad)
	}
	if ad := diff.Accounts[suicider]; ad == nil || !ad.Deleted {
		t.Errorf("suicided account not deleted: %+v", ad)
	}
	ad := diff.Accounts[rich]
	if ad == nil || ad.Deleted {
		t.Fatalf("credited account missing from diff: %+v", ad)
	}
	if ad.Account.Balance.Uint64() != 7 {
		t.Errorf("balance mismatch: have %v, want 7", ad.Account.Balance)
	}
	if !ad.StorageWiped {
		t.Errorf("new account must not inherit stored slots")
	}
	if state.Exist(suicider) {
		t.Errorf("suicided account still exists after finalise")
	}
}

// Tests that reverting a call that touched the ripemd precompile keeps the
// precompile dirty.
func TestRipemdTouchSurvivesRevert(t *testing.T) {
	state := New(newMemReader())
	state.CreateAccount(ripemd)
	state.Finalise(false)

	snap := state.Snapshot()
	state.AddBalance(ripemd, new(big.Int))
	state.RevertToSnapshot(snap)
	if _, ok := state.journal.dirties[ripemd]; !ok {
		t.Fatalf("ripemd not dirty after revert")
	}
}

func TestAccessListRevert(t *testing.T) {
	var (
		addr  = common.Address{1}
		slot  = common.Hash{1}
		state = New(newMemReader())
	)
	state.PrepareAccessList(common.Address{9}, nil, nil, nil)
	snap := state.Snapshot()
	state.AddSlotToAccessList(addr, slot)
	if ok, slotOk := state.SlotInAccessList(addr, slot); !ok || !slotOk {
		t.Fatalf("slot not added")
	}
	state.RevertToSnapshot(snap)
	if state.AddressInAccessList(addr) {
		t.Fatalf("address still in access list after revert")
	}
	if !state.AddressInAccessList(common.Address{9}) {
		t.Fatalf("sender dropped from access list")
	}
}

func TestLogsRevert(t *testing.T) {
	state := New(newMemReader())
	thash := common.Hash{1}
	state.Prepare(thash, 0)
	state.AddLog(new(types.Log))
	snap := state.Snapshot()
	state.AddLog(new(types.Log))
	state.RevertToSnapshot(snap)

	logs := state.GetLogs(thash, 1, common.Hash{2})
	if len(logs) != 1 {
		t.Fatalf("log count mismatch: have %d, want 1", len(logs))
	}
	if logs[0].BlockHash != (common.Hash{2}) || logs[0].TxHash != thash {
		t.Fatalf("log not stamped: %+v", logs[0])
	}
}

func TestAccountEncoding(t *testing.T) {
	acc := &Account{Nonce: 3, Balance: uint256.NewInt(1e18), CodeHash: common.Hash{7}}
	dec, err := DecodeAccount(acc.Encode())
	if err != nil {
		t.Fatalf("failed to decode account: %v", err)
	}
	if dec.Nonce != acc.Nonce || !dec.Balance.Eq(acc.Balance) || dec.CodeHash != acc.CodeHash {
		t.Fatalf("account mismatch: have %+v, want %+v", dec, acc)
	}
	if _, err := DecodeAccount([]byte{1, 2}); err == nil {
		t.Fatalf("short encoding accepted")
	}
}
