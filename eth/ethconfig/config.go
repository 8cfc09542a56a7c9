// Copyright 2017 The go-ethereum Authors
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

// Package ethconfig contains the configuration of the staged sync.
package ethconfig

import (
	"errors"
	"time"

	gethconsensus "github.com/ethereum/go-ethereum/consensus"
	"github.com/ethereum/go-ethereum/consensus/ethash"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"

	"github.com/celo-org/celo-stagesync/consensus"
	"github.com/celo-org/celo-stagesync/eth/downloader"
	"github.com/celo-org/celo-stagesync/eth/stagedsync"
)

// ErrUnsupportedEngine is returned for chains sealed by an engine that can
// not check headers against their parent alone.
var ErrUnsupportedEngine = errors.New("unsupported consensus engine")

// Defaults contains default settings for syncing from a local node.
var Defaults = Config{
	SyncMode:        downloader.FullSync,
	RPCEndpoint:     "http://127.0.0.1:8545",
	TipPollInterval: 4 * time.Second,
	DatabaseCache:   512,
	DatabaseHandles: 512,
	Downloader:      downloader.DefaultConfig,
	Sync:            stagedsync.DefaultConfig,
}

// Config contains configuration options of the staged sync.
type Config struct {
	// The genesis block, which is inserted if the database is empty.
	Genesis *gethcore.Genesis `toml:",omitempty"`

	SyncMode downloader.SyncMode

	// RPCEndpoint is the node blocks are downloaded from.
	RPCEndpoint string
	// TipPollInterval is how often the remote node is asked for its head.
	TipPollInterval time.Duration

	// Whether to check proof-of-work seals. Verifying seals needs the full
	// ethash datasets.
	VerifySeal bool   `toml:",omitempty"`
	EthashDir  string `toml:",omitempty"`

	// Database options
	DatabaseHandles int `toml:"-"`
	DatabaseCache   int

	Downloader downloader.Config
	Sync       stagedsync.Config

	// MetricsCSV is the file stage batches are recorded to, if set.
	MetricsCSV string `toml:",omitempty"`
}

// CreateConsensusEngine creates the go-ethereum engine checking the headers of
// a chain.
func CreateConsensusEngine(chainConfig *params.ChainConfig, config *Config) (gethconsensus.Engine, error) {
	if chainConfig.Clique != nil {
		// Clique needs the signer snapshot of the local chain.
		return nil, ErrUnsupportedEngine
	}
	if !config.VerifySeal {
		log.Debug("Skipping proof-of-work seal verification")
		return ethash.NewFaker(), nil
	}
	return ethash.New(ethash.Config{
		PowMode:        ethash.ModeNormal,
		CacheDir:       config.EthashDir,
		CachesInMem:    2,
		CachesOnDisk:   3,
		DatasetsInMem:  1,
		DatasetsOnDisk: 2,
	}, nil, false), nil
}

// CreateValidator creates the validator used by the sync stages.
func CreateValidator(chainConfig *params.ChainConfig, config *Config, tips consensus.TipSource) (*consensus.EngineValidator, error) {
	engine, err := CreateConsensusEngine(chainConfig, config)
	if err != nil {
		return nil, err
	}
	return consensus.NewEngineValidator(chainConfig, engine, tips), nil
}
