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

// Package chaintest generates small valid chains for tests, together with
// the reference post-state computed by go-ethereum.
package chaintest

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/consensus/ethash"
	gethcore "github.com/ethereum/go-ethereum/core"
	gethrawdb "github.com/ethereum/go-ethereum/core/rawdb"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	gethdb "github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/params"
)

var (
	Key1, _ = crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	Key2, _ = crypto.HexToECDSA("8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a")
	Addr1   = crypto.PubkeyToAddress(Key1.PublicKey)
	Addr2   = crypto.PubkeyToAddress(Key2.PublicKey)

	// CounterCode stores 42 in slot 0 on deployment. Every call increments
	// slot 0 and emits an empty log.
	CounterCode = hexutil.MustDecode("0x602a600055600f6011600039600f6000f360005460010160005560006000a000")

	// Counter is the address of the counter deployed by Addr1 in block 1.
	Counter = crypto.CreateAddress(Addr1, 0)

	funds = new(big.Int).Mul(big.NewInt(1000), big.NewInt(params.Ether))
)

// Chain is a generated chain segment.
type Chain struct {
	Config  *params.ChainConfig
	Genesis *gethcore.Genesis
	Blocks  []*types.Block // Blocks[0] is the genesis block

	db gethdb.Database
}

// New generates n blocks on top of a genesis funding Addr1 and Addr2. The
// gen callback may add transactions and uncles to every block.
func New(n int, gen func(i int, b *gethcore.BlockGen)) *Chain {
	var (
		config = params.TestChainConfig
		db     = gethrawdb.NewMemoryDatabase()
		gspec  = &gethcore.Genesis{
			Config: config,
			Alloc: gethcore.GenesisAlloc{
				Addr1: {Balance: funds},
				Addr2: {Balance: funds},
			},
		}
		genesis = gspec.MustCommit(db)
	)
	blocks, _ := gethcore.GenerateChain(config, genesis, ethash.NewFaker(), db, n, gen)
	return &Chain{
		Config:  config,
		Genesis: gspec,
		Blocks:  append([]*types.Block{genesis}, blocks...),
		db:      db,
	}
}

// Default generates n blocks exercising transfers, a contract deployment,
// contract calls, coinbase rewards and empty blocks. Every third block
// carries no transactions.
func Default(n int) *Chain {
	return New(n, func(i int, b *gethcore.BlockGen) {
		b.SetCoinbase(common.Address{0xc0, byte(i)})
		if i%3 == 2 {
			return
		}
		signer := types.LatestSigner(params.TestChainConfig)
		gasPrice := new(big.Int).Mul(b.BaseFee(), big.NewInt(2))
		if i == 0 {
			b.AddTx(mustSign(types.NewContractCreation(b.TxNonce(Addr1), nil, 200000, gasPrice, CounterCode), signer, Key1))
		}
		b.AddTx(mustSign(types.NewTransaction(b.TxNonce(Addr1), Addr2, big.NewInt(1000), params.TxGas, gasPrice, nil), signer, Key1))
		if i > 0 {
			b.AddTx(mustSign(types.NewTx(&types.DynamicFeeTx{
				ChainID:   params.TestChainConfig.ChainID,
				Nonce:     b.TxNonce(Addr2),
				To:        &Counter,
				Gas:       100000,
				GasFeeCap: gasPrice,
				GasTipCap: big.NewInt(1),
			}), signer, Key2))
		}
	})
}

func mustSign(tx *types.Transaction, signer types.Signer, key *ecdsa.PrivateKey) *types.Transaction {
	signed, err := types.SignTx(tx, signer, key)
	if err != nil {
		panic(err)
	}
	return signed
}

// Head returns the last block of the chain.
func (c *Chain) Head() *types.Block {
	return c.Blocks[len(c.Blocks)-1]
}

// Headers returns the headers of blocks from..to, inclusive.
func (c *Chain) Headers(from, to uint64) []*types.Header {
	headers := make([]*types.Header, 0, to-from+1)
	for n := from; n <= to; n++ {
		headers = append(headers, c.Blocks[n].Header())
	}
	return headers
}

// State returns go-ethereum's state after block number.
func (c *Chain) State(number uint64) (*gethstate.StateDB, error) {
	return gethstate.New(c.Blocks[number].Root(), gethstate.NewDatabase(c.db), nil)
}

// Accounts lists the addresses the default chain touches.
func (c *Chain) Accounts() []common.Address {
	addrs := []common.Address{Addr1, Addr2, Counter}
	for i := range c.Blocks {
		addrs = append(addrs, common.Address{0xc0, byte(i)})
	}
	return addrs
}

// Fork generates n blocks on top of block number, sharing the chain's
// database so their state can be inspected with StateOf.
func (c *Chain) Fork(number uint64, n int, gen func(i int, b *gethcore.BlockGen)) []*types.Block {
	blocks, _ := gethcore.GenerateChain(c.Config, c.Blocks[number], ethash.NewFaker(), c.db, n, gen)
	return blocks
}

// StateOf returns go-ethereum's state after the given block, which may be
// part of a fork.
func (c *Chain) StateOf(block *types.Block) (*gethstate.StateDB, error) {
	return gethstate.New(block.Root(), gethstate.NewDatabase(c.db), nil)
}
