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
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/celo-org/celo-stagesync/ethdb"
)

// ReadChainConfig retrieves the consensus settings based on the given genesis hash.
func ReadChainConfig(db ethdb.Getter, hash common.Hash) (*params.ChainConfig, error) {
	data, err := db.Get(ethdb.Config, hash.Bytes())
	if err != nil || len(data) == 0 {
		return nil, err
	}
	var config params.ChainConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("invalid chain config JSON for %x: %w", hash, err)
	}
	return &config, nil
}

// WriteChainConfig writes the chain config settings to the database.
func WriteChainConfig(db ethdb.Putter, hash common.Hash, cfg *params.ChainConfig) error {
	if cfg == nil {
		return nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to JSON encode chain config: %w", err)
	}
	return db.Put(ethdb.Config, hash.Bytes(), data)
}

// ReadStageCheckpoint retrieves the highest block a sync stage has fully
// processed. Stages that never ran report zero.
func ReadStageCheckpoint(db ethdb.Getter, stage string) (uint64, error) {
	data, err := db.Get(ethdb.SyncStage, []byte(stage))
	if err != nil || len(data) == 0 {
		return 0, err
	}
	if len(data) != numberLength {
		return 0, fmt.Errorf("invalid checkpoint of stage %s: %x", stage, data)
	}
	return DecodeBlockNumber(data), nil
}

// WriteStageCheckpoint stores the checkpoint of a sync stage.
func WriteStageCheckpoint(db ethdb.Putter, stage string, number uint64) error {
	return db.Put(ethdb.SyncStage, []byte(stage), EncodeBlockNumber(number))
}
