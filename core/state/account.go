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
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// accountLength is the size of an encoded Account.
const accountLength = 8 + 32 + common.HashLength

var (
	emptyCodeHash = crypto.Keccak256Hash(nil)

	errAccountEncoding = errors.New("invalid account encoding")
)

// Account is the flat-state representation of an Ethereum account. Storage
// is kept in its own table, so no storage root is tracked.
type Account struct {
	Nonce    uint64
	Balance  *uint256.Int
	CodeHash common.Hash
}

// NewAccount returns an account with no nonce, balance or code.
func NewAccount() *Account {
	return &Account{Balance: new(uint256.Int), CodeHash: emptyCodeHash}
}

// Copy returns a deep copy of the account.
func (a *Account) Copy() *Account {
	return &Account{Nonce: a.Nonce, Balance: new(uint256.Int).Set(a.Balance), CodeHash: a.CodeHash}
}

// Empty reports whether the account is empty as defined by EIP-161.
func (a *Account) Empty() bool {
	return a.Nonce == 0 && a.Balance.IsZero() && a.CodeHash == emptyCodeHash
}

// HasCode reports whether the account carries contract code.
func (a *Account) HasCode() bool {
	return a.CodeHash != emptyCodeHash && a.CodeHash != (common.Hash{})
}

// Encode returns the fixed width encoding nonce || balance || code hash.
func (a *Account) Encode() []byte {
	enc := make([]byte, accountLength)
	binary.BigEndian.PutUint64(enc[:8], a.Nonce)
	balance := a.Balance.Bytes32()
	copy(enc[8:40], balance[:])
	copy(enc[40:], a.CodeHash.Bytes())
	return enc
}

// DecodeAccount is the inverse of Account.Encode.
func DecodeAccount(enc []byte) (*Account, error) {
	if len(enc) != accountLength {
		return nil, errAccountEncoding
	}
	return &Account{
		Nonce:    binary.BigEndian.Uint64(enc[:8]),
		Balance:  new(uint256.Int).SetBytes(enc[8:40]),
		CodeHash: common.BytesToHash(enc[40:]),
	}, nil
}

// EmptyCodeHash returns the hash of empty contract code.
func EmptyCodeHash() common.Hash {
	return emptyCodeHash
}
