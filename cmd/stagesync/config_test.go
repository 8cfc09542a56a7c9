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

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/celo-org/celo-stagesync/core/state"
	"github.com/celo-org/celo-stagesync/eth/downloader"
	"github.com/celo-org/celo-stagesync/eth/ethconfig"
	"github.com/celo-org/celo-stagesync/eth/stagedsync"
)

func testConfigMarshal(t *testing.T, cfg stagesyncConfig) {
	// 1. Marshal cfg, get cfgMarshal.
	var cfgMarshal bytes.Buffer
	require.NoError(t, writeConfig(&cfgMarshal, &cfg))

	// 2. Unmarshal cfgMarshal, get outCfg. Then marshal outCfg, get outCfgMarshal.
	var outCfg stagesyncConfig
	require.NoError(t, tomlSettings.NewDecoder(bytes.NewReader(cfgMarshal.Bytes())).Decode(&outCfg))
	var outCfgMarshal bytes.Buffer
	require.NoError(t, writeConfig(&outCfgMarshal, &outCfg))

	// 3. Compare cfgMarshal & outCfgMarshal
	require.Equal(t, cfgMarshal.String(), outCfgMarshal.String())
}

func TestConfigMarshal(t *testing.T) {
	testCases := []struct {
		name   string
		config func() stagesyncConfig
	}{
		{
			name: "defaultConfig",
			config: func() stagesyncConfig {
				return stagesyncConfig{Eth: ethconfig.Defaults}
			},
		},
		{
			name: "lightSync",
			config: func() stagesyncConfig {
				cfg := stagesyncConfig{Eth: ethconfig.Defaults}
				cfg.Eth.SyncMode = downloader.LightSync
				cfg.Eth.MetricsCSV = "stages.csv"
				cfg.Eth.Sync.MaxRetries = -1
				return cfg
			},
		},
	}
	for _, c := range testCases {
		t.Run(c.name, func(t *testing.T) {
			testConfigMarshal(t, c.config())
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[Eth]
SyncMode = "light"
RPCEndpoint = "http://10.0.0.1:8545"

[Eth.Sync]
ExecutionBatch = 64
SenderWorkers = 2
RetryDelay = 2000000000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg := stagesyncConfig{Eth: ethconfig.Defaults}
	require.NoError(t, loadConfig(path, &cfg))
	require.Equal(t, downloader.LightSync, cfg.Eth.SyncMode)
	require.Equal(t, "http://10.0.0.1:8545", cfg.Eth.RPCEndpoint)
	require.Equal(t, uint64(64), cfg.Eth.Sync.ExecutionBatch)
	require.Equal(t, 2, cfg.Eth.Sync.SenderWorkers)
	require.Equal(t, 2*time.Second, cfg.Eth.Sync.RetryDelay)

	// Unset fields keep their defaults.
	require.Equal(t, ethconfig.Defaults.Sync.BodiesBatch, cfg.Eth.Sync.BodiesBatch)
	require.Equal(t, ethconfig.Defaults.Downloader, cfg.Eth.Downloader)
}

func TestLoadConfigUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[Eth]\nNetworkId = 1\n"), 0600))

	cfg := stagesyncConfig{Eth: ethconfig.Defaults}
	err := loadConfig(path, &cfg)
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), path), "error lacks file name: %v", err)
	require.Contains(t, err.Error(), "NetworkId")
}

func TestPrintStages(t *testing.T) {
	var out bytes.Buffer
	printStages(&out, []stagedsync.StageProgress{
		{ID: stagedsync.Headers, Checkpoint: 120},
		{ID: stagedsync.Bodies, Checkpoint: 120},
		{ID: stagedsync.Senders, Checkpoint: 105},
		{ID: stagedsync.Execution, Checkpoint: 100},
	})
	for _, want := range []string{"STAGE", "BEHIND", "Senders", "105", "15", "20"} {
		require.Contains(t, out.String(), want)
	}
}

func TestFixtureSummary(t *testing.T) {
	var (
		out     bytes.Buffer
		summary fixtureSummary
	)
	summary.report(&out, "ok", nil)
	summary.report(&out, "broken", errors.New("balance mismatch"))
	require.Equal(t, fixtureSummary{passed: 1, failed: 1}, summary)
	require.Contains(t, out.String(), "PASS")
	require.Contains(t, out.String(), "balance mismatch")
}

func TestPrintAccount(t *testing.T) {
	var (
		out bytes.Buffer
		acc = &state.Account{Nonce: 7, Balance: uint256.NewInt(1500000000000000000), CodeHash: state.EmptyCodeHash()}
	)
	printAccount(&out, common.Address{0x01}, acc, 0)
	require.Contains(t, out.String(), "1.5 ETH")
	require.Contains(t, out.String(), "7")
	require.NotContains(t, out.String(), "Code")
}
