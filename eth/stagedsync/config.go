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
	"runtime"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Config are the tunables of the pipeline and its stages.
type Config struct {
	// MaxRetries bounds the consecutive failed passes before the pipeline
	// gives up. A negative value retries forever.
	MaxRetries    int
	RetryDelay    time.Duration // Delay after the first failure, doubled on every further one
	MaxRetryDelay time.Duration // Upper bound of the retry delay

	BodiesBatch    uint64 // Blocks per bodies transaction, zero for no limit
	SendersBatch   uint64 // Blocks per senders transaction, zero for no limit
	ExecutionBatch uint64 // Blocks per execution transaction, zero for no limit
	SenderWorkers  int    // Concurrent signature recoveries

	BadBlockCache   int // Remembered bad blocks
	HeaderCacheSize int // Headers cached for the EVM's BLOCKHASH lookups
	CodeCacheSize   int // Bytes of contract code cached between blocks
}

// DefaultConfig contains the default pipeline settings.
var DefaultConfig = Config{
	MaxRetries:      5,
	RetryDelay:      time.Second,
	MaxRetryDelay:   30 * time.Second,
	BodiesBatch:     1024,
	SendersBatch:    1024,
	ExecutionBatch:  256,
	SenderWorkers:   runtime.NumCPU(),
	BadBlockCache:   128,
	HeaderCacheSize: 512,
	CodeCacheSize:   16 * 1024 * 1024,
}

// sanitize replaces unusable settings by their defaults.
func (c Config) sanitize() Config {
	if c.SenderWorkers <= 0 {
		log.Warn("Sanitizing invalid sender workers", "provided", c.SenderWorkers, "updated", 1)
		c.SenderWorkers = 1
	}
	if c.BadBlockCache <= 0 {
		c.BadBlockCache = DefaultConfig.BadBlockCache
	}
	if c.HeaderCacheSize <= 0 {
		c.HeaderCacheSize = DefaultConfig.HeaderCacheSize
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = c.RetryDelay
	}
	return c
}
