// Copyright 2015 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

// Package utils contains internal helper functions for the stagesync commands.
package utils

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"

	"github.com/ethereum/go-ethereum/common/fdlimit"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/celo-org/celo-stagesync/eth/downloader"
	"github.com/celo-org/celo-stagesync/eth/ethconfig"
	"github.com/celo-org/celo-stagesync/ethdb/leveldb"
)

// These are all the command line flags we support.
// If you add to this list, please remember to include the
// flag in the appropriate command definition.
//
// The flags are defined here so their names and help texts
// are the same for all commands.

var (
	// General settings
	DataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the database",
		Value: DefaultDataDir(),
	}
	SyncModeFlag = cli.StringFlag{
		Name:  "syncmode",
		Usage: `Blockchain sync mode ("full" or "light")`,
		Value: ethconfig.Defaults.SyncMode.String(),
	}
	RPCEndpointFlag = cli.StringFlag{
		Name:  "rpc",
		Usage: "JSON-RPC endpoint of the node blocks are downloaded from",
		Value: ethconfig.Defaults.RPCEndpoint,
	}
	TipPollIntervalFlag = cli.DurationFlag{
		Name:  "tip.interval",
		Usage: "Interval between queries for the canonical tip",
		Value: ethconfig.Defaults.TipPollInterval,
	}
	CacheFlag = cli.IntFlag{
		Name:  "cache",
		Usage: "Megabytes of memory allocated to the database",
		Value: ethconfig.Defaults.DatabaseCache,
	}

	// Ethash settings
	VerifySealFlag = cli.BoolFlag{
		Name:  "ethash.verifyseal",
		Usage: "Verify proof-of-work seals (generates the full ethash datasets)",
	}
	EthashDirFlag = cli.StringFlag{
		Name:  "ethash.dir",
		Usage: "Directory to store the ethash caches (default = inside the datadir)",
	}

	// Downloader settings
	DownloaderParallelismFlag = cli.IntFlag{
		Name:  "downloader.parallelism",
		Usage: "Maximum number of concurrent body requests",
		Value: ethconfig.Defaults.Downloader.Parallelism,
	}
	DownloaderRateFlag = cli.Float64Flag{
		Name:  "downloader.rate",
		Usage: "Maximum number of requests per second sent to the node (0 = unlimited)",
		Value: ethconfig.Defaults.Downloader.RequestRate,
	}

	// Staged sync settings
	SyncBodiesBatchFlag = cli.Uint64Flag{
		Name:  "sync.bodies",
		Usage: "Number of blocks whose bodies are stored per database transaction",
		Value: ethconfig.Defaults.Sync.BodiesBatch,
	}
	SyncSendersBatchFlag = cli.Uint64Flag{
		Name:  "sync.senders",
		Usage: "Number of blocks whose senders are recovered per database transaction",
		Value: ethconfig.Defaults.Sync.SendersBatch,
	}
	SyncExecutionBatchFlag = cli.Uint64Flag{
		Name:  "sync.execution",
		Usage: "Number of blocks executed per database transaction",
		Value: ethconfig.Defaults.Sync.ExecutionBatch,
	}
	SyncSenderWorkersFlag = cli.IntFlag{
		Name:  "sync.senderworkers",
		Usage: "Number of concurrent signature recoveries",
		Value: ethconfig.Defaults.Sync.SenderWorkers,
	}
	SyncMaxRetriesFlag = cli.IntFlag{
		Name:  "sync.maxretries",
		Usage: "Consecutive failed sync passes before giving up (negative = retry forever)",
		Value: ethconfig.Defaults.Sync.MaxRetries,
	}

	// Metrics settings
	MetricsEnabledFlag = cli.BoolFlag{
		Name:  "metrics",
		Usage: "Enable metrics collection and reporting",
	}
	MetricsCSVFlag = cli.StringFlag{
		Name:  "metrics.csv",
		Usage: "Record every stage batch to the given CSV file",
	}
)

// SyncFlags are the flags configuring a sync.
var SyncFlags = []cli.Flag{
	SyncModeFlag,
	RPCEndpointFlag,
	TipPollIntervalFlag,
	CacheFlag,
	VerifySealFlag,
	EthashDirFlag,
	DownloaderParallelismFlag,
	DownloaderRateFlag,
	SyncBodiesBatchFlag,
	SyncSendersBatchFlag,
	SyncExecutionBatchFlag,
	SyncSenderWorkersFlag,
	SyncMaxRetriesFlag,
	MetricsCSVFlag,
}

// DefaultDataDir is the default data directory to use for the databases.
func DefaultDataDir() string {
	home := homeDir()
	if home == "" {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "StageSync")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "StageSync")
	default:
		return filepath.Join(home, ".stagesync")
	}
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// MakeDataDir retrieves the currently requested data directory, terminating
// if none (or the empty string) is specified.
func MakeDataDir(ctx *cli.Context) string {
	if path := ctx.GlobalString(DataDirFlag.Name); path != "" {
		return path
	}
	Fatalf("Cannot determine default data directory, please set manually (--datadir)")
	return ""
}

// makeDatabaseHandles raises out the number of allowed file handles per process
// and returns half of the allowance to assign to the database.
func makeDatabaseHandles() int {
	limit, err := fdlimit.Maximum()
	if err != nil {
		Fatalf("Failed to retrieve file descriptor allowance: %v", err)
	}
	raised, err := fdlimit.Raise(uint64(limit))
	if err != nil {
		log.Warn(fmt.Sprintf("Failed to raise file descriptor allowance: %v", err))
		current, err := fdlimit.Current()
		if err != nil {
			Fatalf("Failed to retrieve current file descriptor limit: %v", err)
		}
		return current / 2
	}
	return int(raised / 2)
}

// SetSyncConfig applies sync related command line flags to the config.
func SetSyncConfig(ctx *cli.Context, cfg *ethconfig.Config) {
	if ctx.GlobalIsSet(SyncModeFlag.Name) {
		mode, err := downloader.FromString(ctx.GlobalString(SyncModeFlag.Name))
		if err != nil {
			Fatalf("Option %q: %v", SyncModeFlag.Name, err)
		}
		cfg.SyncMode = mode
	}
	if ctx.GlobalIsSet(RPCEndpointFlag.Name) {
		cfg.RPCEndpoint = ctx.GlobalString(RPCEndpointFlag.Name)
	}
	if ctx.GlobalIsSet(TipPollIntervalFlag.Name) {
		cfg.TipPollInterval = ctx.GlobalDuration(TipPollIntervalFlag.Name)
	}
	if ctx.GlobalIsSet(CacheFlag.Name) {
		cfg.DatabaseCache = ctx.GlobalInt(CacheFlag.Name)
	}
	cfg.DatabaseHandles = makeDatabaseHandles()

	if ctx.GlobalIsSet(VerifySealFlag.Name) {
		cfg.VerifySeal = ctx.GlobalBool(VerifySealFlag.Name)
	}
	if ctx.GlobalIsSet(EthashDirFlag.Name) {
		cfg.EthashDir = ctx.GlobalString(EthashDirFlag.Name)
	}
	if cfg.VerifySeal && cfg.EthashDir == "" {
		cfg.EthashDir = filepath.Join(MakeDataDir(ctx), "ethash")
	}

	if ctx.GlobalIsSet(DownloaderParallelismFlag.Name) {
		cfg.Downloader.Parallelism = ctx.GlobalInt(DownloaderParallelismFlag.Name)
	}
	if ctx.GlobalIsSet(DownloaderRateFlag.Name) {
		cfg.Downloader.RequestRate = ctx.GlobalFloat64(DownloaderRateFlag.Name)
	}

	if ctx.GlobalIsSet(SyncBodiesBatchFlag.Name) {
		cfg.Sync.BodiesBatch = ctx.GlobalUint64(SyncBodiesBatchFlag.Name)
	}
	if ctx.GlobalIsSet(SyncSendersBatchFlag.Name) {
		cfg.Sync.SendersBatch = ctx.GlobalUint64(SyncSendersBatchFlag.Name)
	}
	if ctx.GlobalIsSet(SyncExecutionBatchFlag.Name) {
		cfg.Sync.ExecutionBatch = ctx.GlobalUint64(SyncExecutionBatchFlag.Name)
	}
	if ctx.GlobalIsSet(SyncSenderWorkersFlag.Name) {
		cfg.Sync.SenderWorkers = ctx.GlobalInt(SyncSenderWorkersFlag.Name)
	}
	if ctx.GlobalIsSet(SyncMaxRetriesFlag.Name) {
		cfg.Sync.MaxRetries = ctx.GlobalInt(SyncMaxRetriesFlag.Name)
	}
	if ctx.GlobalIsSet(MetricsCSVFlag.Name) {
		cfg.MetricsCSV = ctx.GlobalString(MetricsCSVFlag.Name)
	}
}

// SetupMetrics reports whether metrics collection is on. Meters are created
// at package initialisation, so go-ethereum's metrics package enables itself
// from the raw command line.
func SetupMetrics(ctx *cli.Context) {
	if metrics.Enabled {
		log.Info("Enabling metrics collection")
	} else if ctx.GlobalBool(MetricsEnabledFlag.Name) {
		log.Warn("Metrics requested too late, pass --metrics before the command")
	}
}

// MakeChainDatabase opens the database in the data directory.
func MakeChainDatabase(ctx *cli.Context, cfg *ethconfig.Config) *leveldb.Database {
	path := filepath.Join(MakeDataDir(ctx), "chaindata")
	db, err := leveldb.New(path, cfg.DatabaseCache, cfg.DatabaseHandles)
	if err != nil {
		Fatalf("Could not open database: %v", err)
	}
	return db
}
