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
	"bytes"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celo-org/celo-stagesync/core/rawdb"
	"github.com/celo-org/celo-stagesync/ethdb"
)

// WriteDiff applies the diff of block number to the plain state, recording
// every overwritten value in the change sets of that block.
func WriteDiff(tx ethdb.RwTx, number uint64, diff *StateDiff) error {
	for _, addr := range diff.Addresses() {
		ad := diff.Accounts[addr]

		prev, err := rawdb.ReadAccountData(tx, addr)
		if err != nil {
			return err
		}
		if err := rawdb.WriteAccountChange(tx, number, addr, prev); err != nil {
			return err
		}
		recorded := make(map[common.Hash]struct{})
		if ad.Deleted || ad.StorageWiped {
			if err := wipeStorage(tx, number, addr, recorded); err != nil {
				return err
			}
		}
		if ad.Deleted {
			if err := rawdb.DeleteAccountData(tx, addr); err != nil {
				return err
			}
			continue
		}
		if len(ad.Code) > 0 {
			if err := rawdb.WriteCode(tx, ad.Account.CodeHash, ad.Code); err != nil {
				return err
			}
		}
		for slot, value := range ad.Storage {
			if _, ok := recorded[slot]; !ok {
				old, err := rawdb.ReadStorage(tx, addr, slot)
				if err != nil {
					return err
				}
				if old == value {
					continue
				}
				if err := rawdb.WriteStorageChange(tx, number, addr, slot, old); err != nil {
					return err
				}
			}
			if err := rawdb.WriteStorage(tx, addr, slot, value); err != nil {
				return err
			}
		}
		if err := rawdb.WriteAccountData(tx, addr, ad.Account.Encode()); err != nil {
			return err
		}
	}
	return nil
}

// wipeStorage removes every stored slot of addr, recording the old values.
func wipeStorage(tx ethdb.RwTx, number uint64, addr common.Address, recorded map[common.Hash]struct{}) error {
	c, err := tx.Cursor(ethdb.PlainStorageState)
	if err != nil {
		return err
	}
	var (
		slots  []common.Hash
		values []common.Hash
	)
	for k, v, err := c.Seek(addr.Bytes()); k != nil || err != nil; k, v, err = c.Next() {
		if err != nil {
			c.Close()
			return err
		}
		if !bytes.HasPrefix(k, addr.Bytes()) {
			break
		}
		slots = append(slots, common.BytesToHash(k[common.AddressLength:]))
		values = append(values, common.BytesToHash(v))
	}
	c.Close()

	for i, slot := range slots {
		if err := rawdb.WriteStorageChange(tx, number, addr, slot, values[i]); err != nil {
			return err
		}
		if err := rawdb.WriteStorage(tx, addr, slot, common.Hash{}); err != nil {
			return err
		}
		recorded[slot] = struct{}{}
	}
	return nil
}

type change struct {
	key, value []byte
}

// collectChanges returns the change set entries of the blocks above number,
// in key order.
func collectChanges(tx ethdb.Tx, table string, number uint64) ([]change, error) {
	c, err := tx.Cursor(table)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var changes []change
	for k, v, err := c.Seek(rawdb.EncodeBlockNumber(number + 1)); k != nil || err != nil; k, v, err = c.Next() {
		if err != nil {
			return nil, err
		}
		changes = append(changes, change{k, v})
	}
	return changes, nil
}

// Unwind restores the plain state as of the end of block number from the
// change sets of the later blocks and removes those change sets.
func Unwind(tx ethdb.RwTx, number uint64) error {
	accounts, err := collectChanges(tx, ethdb.AccountChangeSet, number)
	if err != nil {
		return err
	}
	// Newest first, so the oldest recorded value is the one left in place.
	for i := len(accounts) - 1; i >= 0; i-- {
		_, addr := rawdb.SplitAccountChangeKey(accounts[i].key)
		if len(accounts[i].value) == 0 {
			err = rawdb.DeleteAccountData(tx, addr)
		} else {
			err = rawdb.WriteAccountData(tx, addr, accounts[i].value)
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(ethdb.AccountChangeSet, accounts[i].key); err != nil {
			return err
		}
	}
	slots, err := collectChanges(tx, ethdb.StorageChangeSet, number)
	if err != nil {
		return err
	}
	for i := len(slots) - 1; i >= 0; i-- {
		_, addr, slot := rawdb.SplitStorageChangeKey(slots[i].key)
		if err := rawdb.WriteStorage(tx, addr, slot, common.BytesToHash(slots[i].value)); err != nil {
			return err
		}
		if err := tx.Delete(ethdb.StorageChangeSet, slots[i].key); err != nil {
			return err
		}
	}
	return nil
}
