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

package state

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/celo-org/celo-stagesync/core/rawdb"
	"github.com/celo-org/celo-stagesync/ethdb"
	"github.com/celo-org/celo-stagesync/ethdb/leveldb"
)

func newTestTx(t *testing.T) ethdb.RwTx {
	db, err := leveldb.NewInMemory()
	require.NoError(t, err)
	tx, err := db.BeginRW(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		tx.Rollback()
		db.Close()
	})
	return tx
}

// dump collects the plain state tables for comparison.
func dump(t *testing.T, tx ethdb.Tx) map[string]string {
	out := make(map[string]string)
	for _, table := range []string{ethdb.PlainAccountState, ethdb.PlainStorageState} {
		c, err := tx.Cursor(table)
		require.NoError(t, err)
		for k, v, err := c.First(); k != nil; k, v, err = c.Next() {
			require.NoError(t, err)
			out[table+string(k)] = string(v)
		}
		c.Close()
	}
	return out
}

func TestWriteDiffAndUnwind(t *testing.T) {
	var (
		tx       = newTestTx(t)
		contract = common.Address{0xc0}
		user     = common.Address{0xaa}
		slotA    = common.Hash{0x0a}
		slotB    = common.Hash{0x0b}
	)
	// Block 0: genesis state.
	require.NoError(t, rawdb.WriteAccountData(tx, user, (&Account{Balance: uint256.NewInt(100), CodeHash: emptyCodeHash}).Encode()))
	require.NoError(t, rawdb.WriteAccountData(tx, contract, (&Account{Nonce: 1, Balance: new(uint256.Int), CodeHash: common.Hash{1}}).Encode()))
	require.NoError(t, rawdb.WriteStorage(tx, contract, slotA, common.Hash{0x01}))
	genesis := dump(t, tx)

	// Block 1 moves funds and rewrites storage.
	s := New(NewPlainStateReader(tx, nil))
	s.SubBalance(user, big.NewInt(10))
	s.SetNonce(user, 1)
	s.AddBalance(contract, big.NewInt(10))
	s.SetState(contract, slotA, common.Hash{})
	s.SetState(contract, slotB, common.Hash{0x02})
	s.Finalise(true)
	require.NoError(t, WriteDiff(tx, 1, s.Diff()))
	afterOne := dump(t, tx)

	// Block 2 destroys the contract and pays a reward to a fresh account.
	s = New(NewPlainStateReader(tx, nil))
	s.Suicide(contract)
	s.Finalise(true)
	diff := s.Diff()
	require.NoError(t, diff.AddBalance(NewPlainStateReader(tx, nil), common.Address{0xee}, uint256.NewInt(2)))
	require.NoError(t, WriteDiff(tx, 2, diff))

	data, err := rawdb.ReadAccountData(tx, contract)
	require.NoError(t, err)
	require.Nil(t, data)
	v, err := rawdb.ReadStorage(tx, contract, slotB)
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, v)

	require.NoError(t, Unwind(tx, 1))
	require.Equal(t, afterOne, dump(t, tx))

	require.NoError(t, Unwind(tx, 0))
	require.Equal(t, genesis, dump(t, tx))

	// Change sets are consumed by the unwind.
	for _, table := range []string{ethdb.AccountChangeSet, ethdb.StorageChangeSet} {
		c, err := tx.Cursor(table)
		require.NoError(t, err)
		k, _, err := c.First()
		require.NoError(t, err)
		require.Nil(t, k, "leftover entries in %s", table)
		c.Close()
	}
}

func TestRewardOnDeletedAccount(t *testing.T) {
	addr := common.Address{1}
	diff := NewStateDiff()
	diff.Accounts[addr] = &AccountDiff{Deleted: true}

	require.NoError(t, diff.AddBalance(newMemReader(), addr, uint256.NewInt(5)))
	ad := diff.Accounts[addr]
	require.False(t, ad.Deleted)
	require.True(t, ad.StorageWiped)
	require.Equal(t, uint64(5), ad.Account.Balance.Uint64())
}
