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
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethcore "github.com/ethereum/go-ethereum/core"
	gethrawdb "github.com/ethereum/go-ethereum/core/rawdb"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"

	"github.com/celo-org/celo-stagesync/core/rawdb"
	"github.com/celo-org/celo-stagesync/core/state"
	"github.com/celo-org/celo-stagesync/ethdb"
)

// GenesisBlock creates the genesis block of a genesis specification. The
// state root is computed with a throwaway in-memory trie.
func GenesisBlock(g *gethcore.Genesis) (*types.Block, error) {
	statedb, err := gethstate.New(common.Hash{}, gethstate.NewDatabase(gethrawdb.NewMemoryDatabase()), nil)
	if err != nil {
		return nil, err
	}
	for addr, account := range g.Alloc {
		if account.Balance != nil {
			statedb.AddBalance(addr, account.Balance)
		}
		statedb.SetCode(addr, account.Code)
		statedb.SetNonce(addr, account.Nonce)
		for key, value := range account.Storage {
			statedb.SetState(addr, key, value)
		}
	}
	root := statedb.IntermediateRoot(false)
	head := &types.Header{
		Number:     new(big.Int).SetUint64(g.Number),
		Nonce:      types.EncodeNonce(g.Nonce),
		Time:       g.Timestamp,
		ParentHash: g.ParentHash,
		Extra:      g.ExtraData,
		GasLimit:   g.GasLimit,
		GasUsed:    g.GasUsed,
		BaseFee:    g.BaseFee,
		Difficulty: g.Difficulty,
		MixDigest:  g.Mixhash,
		Coinbase:   g.Coinbase,
		Root:       root,
	}
	if g.GasLimit == 0 {
		head.GasLimit = params.GenesisGasLimit
	}
	if g.Difficulty == nil && g.Mixhash == (common.Hash{}) {
		head.Difficulty = params.GenesisDifficulty
	}
	if g.Config != nil && g.Config.IsLondon(common.Big0) {
		if g.BaseFee != nil {
			head.BaseFee = g.BaseFee
		} else {
			head.BaseFee = new(big.Int).SetUint64(params.InitialBaseFee)
		}
	}
	return types.NewBlock(head, nil, nil, nil, trie.NewStackTrie(nil)), nil
}

// WriteGenesis stores the genesis block, its state and the chain
// configuration as the canonical start of the chain.
func WriteGenesis(tx ethdb.RwTx, block *types.Block, alloc gethcore.GenesisAlloc, config *params.ChainConfig) error {
	if block.NumberU64() != 0 {
		return fmt.Errorf("can't commit genesis block with number > 0")
	}
	if config == nil {
		return errGenesisNoConfig
	}
	if err := config.CheckConfigForkOrder(); err != nil {
		return err
	}
	var (
		header = block.Header()
		hash   = block.Hash()
	)
	if err := rawdb.WriteHeader(tx, header); err != nil {
		return err
	}
	td := header.Difficulty
	if td == nil {
		td = new(big.Int)
	}
	if err := rawdb.WriteTd(tx, hash, 0, td); err != nil {
		return err
	}
	if err := rawdb.WriteCanonicalHash(tx, hash, 0); err != nil {
		return err
	}
	if err := rawdb.WriteBodyIndex(tx, 0, &rawdb.BodyIndex{}); err != nil {
		return err
	}
	if err := rawdb.WriteReceipts(tx, 0, nil); err != nil {
		return err
	}
	for addr, account := range alloc {
		acc := state.NewAccount()
		acc.Nonce = account.Nonce
		if account.Balance != nil {
			acc.Balance, _ = uint256.FromBig(account.Balance)
		}
		if len(account.Code) > 0 {
			acc.CodeHash = crypto.Keccak256Hash(account.Code)
			if err := rawdb.WriteCode(tx, acc.CodeHash, account.Code); err != nil {
				return err
			}
		}
		if err := rawdb.WriteAccountData(tx, addr, acc.Encode()); err != nil {
			return err
		}
		for key, value := range account.Storage {
			if err := rawdb.WriteStorage(tx, addr, key, value); err != nil {
				return err
			}
		}
	}
	return rawdb.WriteChainConfig(tx, hash, config)
}

// SetupGenesisBlock writes or verifies the genesis block in db.
//
//	                     genesis == nil       genesis != nil
//	                  +------------------------------------------
//	db has no genesis |  main-net default  |  genesis
//	db has genesis    |  from DB           |  genesis (if compatible)
//
// The returned chain configuration is never nil on success.
func SetupGenesisBlock(ctx context.Context, db ethdb.Database, genesis *gethcore.Genesis) (*params.ChainConfig, common.Hash, error) {
	if genesis != nil && genesis.Config == nil {
		return nil, common.Hash{}, errGenesisNoConfig
	}
	var (
		config *params.ChainConfig
		hash   common.Hash
	)
	err := ethdb.Update(ctx, db, func(tx ethdb.RwTx) error {
		stored, err := rawdb.ReadCanonicalHash(tx, 0)
		if err != nil {
			return err
		}
		if stored == (common.Hash{}) {
			if genesis == nil {
				log.Info("Writing default main-net genesis block")
				genesis = gethcore.DefaultGenesisBlock()
			} else {
				log.Info("Writing custom genesis block")
			}
			block, err := GenesisBlock(genesis)
			if err != nil {
				return err
			}
			config, hash = genesis.Config, block.Hash()
			return WriteGenesis(tx, block, genesis.Alloc, genesis.Config)
		}
		if genesis != nil {
			block, err := GenesisBlock(genesis)
			if err != nil {
				return err
			}
			if block.Hash() != stored {
				return &GenesisMismatchError{Stored: stored, New: block.Hash()}
			}
		}
		config, err = rawdb.ReadChainConfig(tx, stored)
		if err != nil {
			return err
		}
		if config == nil {
			if genesis == nil {
				return fmt.Errorf("found genesis block %x without chain config", stored)
			}
			log.Warn("Found genesis block without chain config")
			config = genesis.Config
			if err := rawdb.WriteChainConfig(tx, stored, config); err != nil {
				return err
			}
		}
		hash = stored
		return nil
	})
	if err != nil {
		return nil, common.Hash{}, err
	}
	return config, hash, nil
}

// ReadChainConfig returns the chain configuration stored next to the genesis
// block.
func ReadChainConfig(db ethdb.Getter) (*params.ChainConfig, common.Hash, error) {
	stored, err := rawdb.ReadCanonicalHash(db, 0)
	if err != nil {
		return nil, common.Hash{}, err
	}
	if stored == (common.Hash{}) {
		return nil, common.Hash{}, ErrNoGenesis
	}
	config, err := rawdb.ReadChainConfig(db, stored)
	if err != nil {
		return nil, stored, err
	}
	if config == nil {
		return nil, stored, fmt.Errorf("missing chain config for genesis %x", stored)
	}
	return config, stored, nil
}
