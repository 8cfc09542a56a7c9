// Copyright 2014 The go-ethereum Authors
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

package core

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNoGenesis is returned when there is no Genesis Block.
	ErrNoGenesis = errors.New("genesis not found in chain")

	// ErrUnsupportedFork is returned for blocks whose receipts commit to an
	// intermediate state root, which flat state execution cannot produce.
	ErrUnsupportedFork = errors.New("pre-Byzantium blocks are not supported")

	// ErrSenderCount is returned when the number of recovered senders does
	// not match the number of transactions of a block.
	ErrSenderCount = errors.New("sender count mismatch")

	errGenesisNoConfig = errors.New("genesis has no chain configuration")
)

// ExecutionError is returned when a transaction of a block cannot be applied.
// The block is invalid.
type ExecutionError struct {
	Number  uint64
	Hash    common.Hash
	TxIndex int
	TxHash  common.Hash
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("could not apply tx %d [%v] of block #%d [%x…]: %v", e.TxIndex, e.TxHash.Hex(), e.Number, e.Hash[:4], e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// GenesisMismatchError is raised when trying to overwrite an existing
// genesis block with an incompatible one.
type GenesisMismatchError struct {
	Stored, New common.Hash
}

func (e *GenesisMismatchError) Error() string {
	return fmt.Sprintf("database contains incompatible genesis (have %x, new %x)", e.Stored, e.New)
}
