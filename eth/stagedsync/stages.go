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

package stagedsync

import (
	"fmt"

	"github.com/ethereum/go-ethereum/params"

	"github.com/celo-org/celo-stagesync/consensus"
	"github.com/celo-org/celo-stagesync/core"
	"github.com/celo-org/celo-stagesync/eth/downloader"
	"github.com/celo-org/celo-stagesync/ethdb"
)

// NewStages returns the stage sequence of a sync mode. Light sync only
// follows headers, full sync also downloads and executes every block.
func NewStages(mode downloader.SyncMode, config *params.ChainConfig, dl *downloader.Downloader, validator consensus.Validator, executor core.Executor, bad *BadBlocks, cfg Config) ([]Stage, error) {
	cfg = cfg.sanitize()
	headers := NewHeaderStage(validator, dl, bad)
	switch mode {
	case downloader.LightSync:
		return []Stage{headers}, nil
	case downloader.FullSync:
		return []Stage{
			headers,
			NewBodyStage(dl, cfg.BodiesBatch),
			NewSenderStage(config, cfg.SendersBatch, cfg.SenderWorkers),
			NewExecutionStage(config, executor, validator, cfg),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported sync mode %v", mode)
	}
}

// NewPipeline assembles the pipeline of a sync mode.
func NewPipeline(db ethdb.Database, mode downloader.SyncMode, config *params.ChainConfig, dl *downloader.Downloader, validator consensus.Validator, executor core.Executor, cfg Config) (*Pipeline, error) {
	bad := NewBadBlocks(cfg.sanitize().BadBlockCache)
	stages, err := NewStages(mode, config, dl, validator, executor, bad, cfg)
	if err != nil {
		return nil, err
	}
	return New(db, stages, validator, bad, cfg), nil
}
