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

// Package blocktest runs Ethereum blockchain test fixtures through the staged
// sync and checks the resulting plain state.
package blocktest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/consensus/ethash"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/tests"

	"github.com/celo-org/celo-stagesync/consensus"
	"github.com/celo-org/celo-stagesync/core"
	"github.com/celo-org/celo-stagesync/core/rawdb"
	"github.com/celo-org/celo-stagesync/core/state"
	"github.com/celo-org/celo-stagesync/eth/downloader"
	"github.com/celo-org/celo-stagesync/eth/downloader/downloadertest"
	"github.com/celo-org/celo-stagesync/eth/stagedsync"
	"github.com/celo-org/celo-stagesync/ethdb"
	"github.com/celo-org/celo-stagesync/ethdb/leveldb"
)

// UnsupportedForkError is returned for fixtures whose rule set the staged
// sync does not execute.
type UnsupportedForkError struct {
	Name   string
	Reason string
}

func (e *UnsupportedForkError) Error() string {
	return fmt.Sprintf("unsupported fork %q: %s", e.Name, e.Reason)
}

// Test is a single blockchain test.
type Test struct {
	json btJSON
}

type btJSON struct {
	Blocks     []btBlock             `json:"blocks"`
	GenesisRLP hexutil.Bytes         `json:"genesisRLP"`
	Pre        gethcore.GenesisAlloc `json:"pre"`
	Post       gethcore.GenesisAlloc `json:"postState"`
	BestBlock  common.UnprefixedHash `json:"lastblockhash"`
	Network    string                `json:"network"`
	SealEngine string                `json:"sealEngine"`
}

type btBlock struct {
	RLP             string `json:"rlp"`
	ExpectException string `json:"expectException,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Test) UnmarshalJSON(in []byte) error {
	return json.Unmarshal(in, &t.json)
}

// MarshalJSON implements json.Marshaler.
func (t *Test) MarshalJSON() ([]byte, error) {
	return json.Marshal(&t.json)
}

// Network returns the name of the rule set the test runs under.
func (t *Test) Network() string { return t.json.Network }

// LoadFile reads all tests of a fixture file.
func LoadFile(path string) (map[string]*Test, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tests := make(map[string]*Test)
	if err := json.Unmarshal(data, &tests); err != nil {
		return nil, fmt.Errorf("invalid fixture %s: %w", path, err)
	}
	return tests, nil
}

// Names returns the test names of a fixture file in a stable order.
func Names(tests map[string]*Test) []string {
	names := make([]string, 0, len(tests))
	for name := range tests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// config returns the chain configuration of the test. Rule sets before
// Byzantium commit to intermediate state roots in their receipts and merged
// rule sets take the head from a beacon client, neither is synced.
func (t *Test) config() (*params.ChainConfig, error) {
	config, ok := tests.Forks[t.json.Network]
	if !ok {
		return nil, &UnsupportedForkError{Name: t.json.Network, Reason: "unknown rule set"}
	}
	if !config.IsByzantium(common.Big0) {
		return nil, &UnsupportedForkError{Name: t.json.Network, Reason: "pre-Byzantium receipts"}
	}
	if config.TerminalTotalDifficulty != nil {
		return nil, &UnsupportedForkError{Name: t.json.Network, Reason: "proof-of-stake"}
	}
	return config, nil
}

// Run syncs the valid blocks of the test into a fresh in-memory store and
// compares the resulting state with the expected post-state.
func (t *Test) Run(ctx context.Context, cfg stagedsync.Config) error {
	config, err := t.config()
	if err != nil {
		return err
	}
	genesis := new(types.Block)
	if err := rlp.DecodeBytes(t.json.GenesisRLP, genesis); err != nil {
		return fmt.Errorf("invalid genesis RLP: %w", err)
	}
	blocks, err := t.validBlocks()
	if err != nil {
		return err
	}
	db, err := leveldb.NewInMemory()
	if err != nil {
		return err
	}
	defer db.Close()

	err = ethdb.Update(ctx, db, func(tx ethdb.RwTx) error {
		return core.WriteGenesis(tx, genesis, t.json.Pre, config)
	})
	if err != nil {
		return fmt.Errorf("genesis setup failed: %w", err)
	}

	head := genesis
	for _, block := range blocks {
		if block.Hash() == common.Hash(t.json.BestBlock) {
			head = block
		}
	}
	if head.Hash() != common.Hash(t.json.BestBlock) {
		return fmt.Errorf("last block %x not among the valid blocks", t.json.BestBlock[:])
	}

	tips := consensus.NewTipTracker()
	defer tips.Close()
	tips.Announce(head.Hash(), head.NumberU64())

	var (
		client    = downloadertest.NewChainClient(append([]*types.Block{genesis}, blocks...))
		dl        = downloader.New(client, downloader.DefaultConfig)
		validator = consensus.NewEngineValidator(config, ethash.NewFaker(), tips)
		executor  = core.NewStateProcessor(config, vm.Config{})
	)
	pipeline, err := stagedsync.NewPipeline(db, downloader.FullSync, config, dl, validator, executor, cfg)
	if err != nil {
		return err
	}
	if err := pipeline.Sync(ctx); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return ethdb.View(ctx, db, func(tx ethdb.Tx) error {
		hash, err := rawdb.ReadCanonicalHash(tx, head.NumberU64())
		if err != nil {
			return err
		}
		if hash != head.Hash() {
			return fmt.Errorf("canonical hash #%d mismatch: have %x, want %x", head.NumberU64(), hash, head.Hash())
		}
		return t.validatePostState(state.NewPlainStateReader(tx, nil))
	})
}

// validBlocks decodes the blocks the test expects to be importable.
func (t *Test) validBlocks() ([]*types.Block, error) {
	var blocks []*types.Block
	for i, b := range t.json.Blocks {
		if b.ExpectException != "" {
			log.Debug("Skipping invalid fixture block", "index", i, "exception", b.ExpectException)
			continue
		}
		enc, err := hexutil.Decode(b.RLP)
		if err != nil {
			return nil, fmt.Errorf("block %d: invalid hex: %w", i, err)
		}
		block := new(types.Block)
		if err := rlp.DecodeBytes(enc, block); err != nil {
			return nil, fmt.Errorf("block %d: invalid RLP: %w", i, err)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func (t *Test) validatePostState(reader *state.PlainStateReader) error {
	for addr, want := range t.json.Post {
		acc, err := reader.ReadAccount(addr)
		if err != nil {
			return err
		}
		if acc == nil {
			return fmt.Errorf("account %x missing", addr)
		}
		if want.Balance != nil && acc.Balance.ToBig().Cmp(want.Balance) != 0 {
			return fmt.Errorf("account %x balance mismatch: have %v, want %v", addr, acc.Balance, want.Balance)
		}
		if acc.Nonce != want.Nonce {
			return fmt.Errorf("account %x nonce mismatch: have %d, want %d", addr, acc.Nonce, want.Nonce)
		}
		code, err := reader.ReadCode(acc.CodeHash)
		if err != nil {
			return err
		}
		if !bytes.Equal(code, want.Code) {
			return fmt.Errorf("account %x code mismatch: have %x, want %x", addr, code, want.Code)
		}
		for slot, value := range want.Storage {
			have, err := reader.ReadStorage(addr, slot)
			if err != nil {
				return err
			}
			if have != value {
				return fmt.Errorf("account %x storage %x mismatch: have %x, want %x", addr, slot, have, value)
			}
		}
	}
	return nil
}
