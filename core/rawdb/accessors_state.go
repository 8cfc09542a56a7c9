// Copyright 2020 The go-ethereum Authors
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
	"github.com/ethereum/go-ethereum/common"

	"github.com/celo-org/celo-stagesync/ethdb"
)

// ReadAccountData retrieves the encoded plain state of an account, nil if the
// account does not exist.
func ReadAccountData(db ethdb.Getter, addr common.Address) ([]byte, error) {
	return db.Get(ethdb.PlainAccountState, addr.Bytes())
}

// WriteAccountData stores the encoded plain state of an account.
func WriteAccountData(db ethdb.Putter, addr common.Address, data []byte) error {
	return db.Put(ethdb.PlainAccountState, addr.Bytes(), data)
}

// DeleteAccountData removes the plain state of an account.
func DeleteAccountData(db ethdb.Deleter, addr common.Address) error {
	return db.Delete(ethdb.PlainAccountState, addr.Bytes())
}

// ReadStorage retrieves a storage slot of an account. Missing slots read as
// the zero hash.
func ReadStorage(db ethdb.Getter, addr common.Address, slot common.Hash) (common.Hash, error) {
	data, err := db.Get(ethdb.PlainStorageState, StorageKey(addr, slot))
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(data), nil
}

// WriteStorage stores a storage slot. Zero values are deleted rather than
// stored so that the table only ever holds live slots.
func WriteStorage(db interface {
	ethdb.Putter
	ethdb.Deleter
}, addr common.Address, slot common.Hash, value common.Hash) error {
	if value == (common.Hash{}) {
		return db.Delete(ethdb.PlainStorageState, StorageKey(addr, slot))
	}
	return db.Put(ethdb.PlainStorageState, StorageKey(addr, slot), common.TrimLeftZeroes(value.Bytes()))
}

// ReadCode retrieves the contract code of the provided code hash.
func ReadCode(db ethdb.Getter, hash common.Hash) ([]byte, error) {
	return db.Get(ethdb.Bytecodes, hash.Bytes())
}

// WriteCode writes the provided contract code into the database.
func WriteCode(db ethdb.Putter, hash common.Hash, code []byte) error {
	return db.Put(ethdb.Bytecodes, hash.Bytes(), code)
}

// WriteAccountChange records the value an account had before the given block
// modified it. An empty value records that the account did not exist.
func WriteAccountChange(db ethdb.Putter, number uint64, addr common.Address, prev []byte) error {
	if prev == nil {
		prev = []byte{}
	}
	return db.Put(ethdb.AccountChangeSet, AccountChangeKey(number, addr), prev)
}

// WriteStorageChange records the value a storage slot had before the given
// block modified it, trimmed of leading zeroes.
func WriteStorageChange(db ethdb.Putter, number uint64, addr common.Address, slot common.Hash, prev common.Hash) error {
	return db.Put(ethdb.StorageChangeSet, StorageChangeKey(number, addr, slot), common.TrimLeftZeroes(prev.Bytes()))
}
