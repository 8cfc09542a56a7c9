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
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

const (
	numberLength = 8

	// AccountChangeKeyLength is the length of an AccountChangeSet key.
	AccountChangeKeyLength = numberLength + common.AddressLength

	// StorageChangeKeyLength is the length of a StorageChangeSet key.
	StorageChangeKeyLength = numberLength + common.AddressLength + common.HashLength
)

// EncodeBlockNumber encodes a block number as big endian uint64.
func EncodeBlockNumber(number uint64) []byte {
	enc := make([]byte, numberLength)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

// DecodeBlockNumber is the inverse of EncodeBlockNumber.
func DecodeBlockNumber(enc []byte) uint64 {
	return binary.BigEndian.Uint64(enc[:numberLength])
}

// headerKey = num (uint64 big endian) + hash
func headerKey(number uint64, hash common.Hash) []byte {
	return append(EncodeBlockNumber(number), hash.Bytes()...)
}

// txKey = id (uint64 big endian)
func txKey(id uint64) []byte {
	return EncodeBlockNumber(id)
}

// StorageKey = address + slot
func StorageKey(addr common.Address, slot common.Hash) []byte {
	k := make([]byte, 0, common.AddressLength+common.HashLength)
	k = append(k, addr.Bytes()...)
	return append(k, slot.Bytes()...)
}

// AccountChangeKey = num (uint64 big endian) + address
func AccountChangeKey(number uint64, addr common.Address) []byte {
	return append(EncodeBlockNumber(number), addr.Bytes()...)
}

// SplitAccountChangeKey is the inverse of AccountChangeKey.
func SplitAccountChangeKey(k []byte) (uint64, common.Address) {
	return DecodeBlockNumber(k), common.BytesToAddress(k[numberLength:AccountChangeKeyLength])
}

// StorageChangeKey = num (uint64 big endian) + address + slot
func StorageChangeKey(number uint64, addr common.Address, slot common.Hash) []byte {
	k := make([]byte, 0, StorageChangeKeyLength)
	k = append(k, EncodeBlockNumber(number)...)
	k = append(k, addr.Bytes()...)
	return append(k, slot.Bytes()...)
}

// SplitStorageChangeKey is the inverse of StorageChangeKey.
func SplitStorageChangeKey(k []byte) (uint64, common.Address, common.Hash) {
	return DecodeBlockNumber(k),
		common.BytesToAddress(k[numberLength:AccountChangeKeyLength]),
		common.BytesToHash(k[AccountChangeKeyLength:StorageChangeKeyLength])
}
