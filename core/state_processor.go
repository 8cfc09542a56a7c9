// Copyright 2015 The go-ethereum Authors
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
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"

	"github.com/celo-org/celo-stagesync/core/state"
)

// Executor runs the transactions of a block on top of the state left by its
// parent.
type Executor interface {
	// ExecuteBlock applies txs, signed by senders, and returns the resulting
	// state mutations and receipts. Invalid transactions yield an
	// *ExecutionError.
	ExecuteBlock(chain gethcore.ChainContext, reader state.Reader, header *types.Header, txs types.Transactions, senders []common.Address) (*state.StateDiff, types.Receipts, error)
}

// StateProcessor is a basic Processor, which takes care of transitioning
// state from one point to another.
//
// StateProcessor implements Executor.
type StateProcessor struct {
	config   *params.ChainConfig // Chain configuration options
	vmConfig vm.Config
}

// NewStateProcessor initialises a new StateProcessor.
func NewStateProcessor(config *params.ChainConfig, vmConfig vm.Config) *StateProcessor {
	return &StateProcessor{
		config:   config,
		vmConfig: vmConfig,
	}
}

// ExecuteBlock processes the state changes according to the Ethereum rules by
// running the transaction messages using the state.
//
// Block rewards are not part of the returned diff, they are credited by the
// caller from the consensus rules.
func (p *StateProcessor) ExecuteBlock(chain gethcore.ChainContext, reader state.Reader, header *types.Header, txs types.Transactions, senders []common.Address) (*state.StateDiff, types.Receipts, error) {
	if len(senders) != len(txs) {
		return nil, nil, fmt.Errorf("%w: have %d, want %d", ErrSenderCount, len(senders), len(txs))
	}
	if !p.config.IsByzantium(header.Number) {
		return nil, nil, ErrUnsupportedFork
	}
	var (
		receipts    = make(types.Receipts, 0, len(txs))
		usedGas     = new(uint64)
		blockHash   = header.Hash()
		blockNumber = header.Number
		gp          = new(gethcore.GasPool).AddGas(header.GasLimit)
		statedb     = state.New(reader)
	)
	blockContext := gethcore.NewEVMBlockContext(header, chain, &header.Coinbase)
	vmenv := vm.NewEVM(blockContext, vm.TxContext{}, statedb, p.config, p.vmConfig)
	// Iterate over and process the individual transactions
	for i, tx := range txs {
		msg := asMessage(tx, senders[i], header.BaseFee)
		statedb.Prepare(tx.Hash(), i)
		receipt, err := applyTransaction(msg, gp, statedb, blockNumber, blockHash, tx, usedGas, vmenv)
		// Store failures are not the block's fault, report them as such.
		if dbErr := statedb.Error(); dbErr != nil {
			return nil, nil, fmt.Errorf("state access failed at tx %d of block #%d: %w", i, blockNumber, dbErr)
		}
		if err != nil {
			return nil, nil, &ExecutionError{
				Number:  blockNumber.Uint64(),
				Hash:    blockHash,
				TxIndex: i,
				TxHash:  tx.Hash(),
				Err:     err,
			}
		}
		receipts = append(receipts, receipt)
	}
	return statedb.Diff(), receipts, nil
}

func applyTransaction(msg types.Message, gp *gethcore.GasPool, statedb *state.StateDB, blockNumber *big.Int, blockHash common.Hash, tx *types.Transaction, usedGas *uint64, evm *vm.EVM) (*types.Receipt, error) {
	// Create a new context to be used in the EVM environment.
	txContext := gethcore.NewEVMTxContext(msg)
	evm.Reset(txContext, statedb)

	// Apply the transaction to the current state (included in the env).
	result, err := gethcore.ApplyMessage(evm, msg, gp)
	if err != nil {
		return nil, err
	}

	// Update the state with pending changes.
	statedb.Finalise(true)
	*usedGas += result.UsedGas

	// Create a new receipt for the transaction, storing the gas used by the tx.
	receipt := &types.Receipt{Type: tx.Type(), CumulativeGasUsed: *usedGas}
	if result.Failed() {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		receipt.Status = types.ReceiptStatusSuccessful
	}
	receipt.TxHash = tx.Hash()
	receipt.GasUsed = result.UsedGas

	// If the transaction created a contract, store the creation address in the receipt.
	if msg.To() == nil {
		receipt.ContractAddress = crypto.CreateAddress(evm.TxContext.Origin, tx.Nonce())
	}

	// Set the receipt logs and create the bloom filter.
	receipt.Logs = statedb.GetLogs(tx.Hash(), blockNumber.Uint64(), blockHash)
	receipt.Bloom = types.CreateBloom(types.Receipts{receipt})
	receipt.BlockHash = blockHash
	receipt.BlockNumber = blockNumber
	receipt.TransactionIndex = uint(statedb.TxIndex())
	return receipt, nil
}

// asMessage converts a transaction with an already recovered sender into a
// message, applying the EIP-1559 effective gas price when a base fee is set.
func asMessage(tx *types.Transaction, from common.Address, baseFee *big.Int) types.Message {
	gasPrice := new(big.Int).Set(tx.GasPrice())
	if baseFee != nil {
		gasPrice = math.BigMin(gasPrice.Add(tx.GasTipCap(), baseFee), tx.GasFeeCap())
	}
	return types.NewMessage(
		from,
		tx.To(),
		tx.Nonce(),
		tx.Value(),
		tx.Gas(),
		gasPrice,
		new(big.Int).Set(tx.GasFeeCap()),
		new(big.Int).Set(tx.GasTipCap()),
		tx.Data(),
		tx.AccessList(),
		false,
	)
}
