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
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AccountDiff is the post-block state of one modified account.
type AccountDiff struct {
	// Deleted is set for accounts that self-destructed or were cleared as
	// empty. Their storage is removed as well.
	Deleted bool

	Account *Account

	// Code is the newly deployed code, keyed by Account.CodeHash.
	Code []byte

	// StorageWiped drops every slot held in the store before Storage is
	// applied, for accounts (re)created during the block.
	StorageWiped bool

	// Storage holds the post-block value of every written slot. Zero values
	// delete the slot.
	Storage Storage
}

// StateDiff is the set of account, storage and code mutations of one block.
type StateDiff struct {
	Accounts map[common.Address]*AccountDiff
}

// NewStateDiff returns an empty diff.
func NewStateDiff() *StateDiff {
	return &StateDiff{Accounts: make(map[common.Address]*AccountDiff)}
}

// AddBalance credits amount to addr on top of the diff, reading the
// pre-block account from r if the diff does not touch it yet.
func (d *StateDiff) AddBalance(r Reader, addr common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	ad := d.Accounts[addr]
	switch {
	case ad == nil:
		acc, err := r.ReadAccount(addr)
		if err != nil {
			return err
		}
		if acc == nil {
			acc = NewAccount()
		}
		ad = &AccountDiff{Account: acc, Storage: make(Storage)}
		d.Accounts[addr] = ad
	case ad.Deleted:
		*ad = AccountDiff{Account: NewAccount(), StorageWiped: true, Storage: make(Storage)}
	}
	ad.Account.Balance = new(uint256.Int).Add(ad.Account.Balance, amount)
	return nil
}

// Addresses returns the modified addresses in ascending order.
func (d *StateDiff) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(d.Accounts))
	for addr := range d.Accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
	return addrs
}
