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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/celo-org/celo-stagesync/cmd/utils"
	"github.com/celo-org/celo-stagesync/common/decimal"
	"github.com/celo-org/celo-stagesync/consensus"
	"github.com/celo-org/celo-stagesync/core"
	"github.com/celo-org/celo-stagesync/core/state"
	"github.com/celo-org/celo-stagesync/eth/downloader"
	"github.com/celo-org/celo-stagesync/eth/ethconfig"
	"github.com/celo-org/celo-stagesync/eth/stagedsync"
	"github.com/celo-org/celo-stagesync/ethdb"
	"github.com/celo-org/celo-stagesync/metrics"
)

var (
	exitWhenSyncedFlag = cli.BoolFlag{
		Name:  "exitwhensynced",
		Usage: "Exits after the current tip has been reached",
	}

	initCommand = cli.Command{
		Action:    utils.MigrateFlags(initGenesis),
		Name:      "init",
		Usage:     "Bootstrap and initialize a new genesis block",
		ArgsUsage: "<genesisPath>",
		Flags:     []cli.Flag{utils.DataDirFlag},
		Category:  "BLOCKCHAIN COMMANDS",
		Description: `
The init command initializes a new genesis block and definition for the network.
This is a destructive action and changes the network in which you will be
participating.

It expects the genesis file as argument.`,
	}
	syncCommand = cli.Command{
		Action:    utils.MigrateFlags(syncChain),
		Name:      "sync",
		Usage:     "Synchronise the chain from a node",
		ArgsUsage: " ",
		Flags:     []cli.Flag{utils.DataDirFlag, exitWhenSyncedFlag},
		Category:  "BLOCKCHAIN COMMANDS",
		Description: `
The sync command downloads headers from the canonical tip of the node given by
--rpc down to the local chain, then bodies, recovers senders and executes the
new blocks. Without --exitwhensynced it keeps following the tip.`,
	}
	stagesCommand = cli.Command{
		Action:    utils.MigrateFlags(showStages),
		Name:      "stages",
		Usage:     "Show the checkpoint of every stage",
		ArgsUsage: " ",
		Flags:     []cli.Flag{utils.DataDirFlag, utils.SyncModeFlag},
		Category:  "BLOCKCHAIN COMMANDS",
	}
	unwindCommand = cli.Command{
		Action:    utils.MigrateFlags(unwindChain),
		Name:      "unwind",
		Usage:     "Roll every stage back to a block",
		ArgsUsage: "<number>",
		Flags:     []cli.Flag{utils.DataDirFlag, utils.SyncModeFlag},
		Category:  "BLOCKCHAIN COMMANDS",
		Description: `
The unwind command rolls back all stages, last stage first, so that no data
above the given block remains.`,
	}
	accountCommand = cli.Command{
		Action:    utils.MigrateFlags(showAccount),
		Name:      "account",
		Usage:     "Show an account of the synced state",
		ArgsUsage: "<address>",
		Flags:     []cli.Flag{utils.DataDirFlag},
		Category:  "BLOCKCHAIN COMMANDS",
	}
)

// initGenesis will initialise the given JSON format genesis file and writes it
// as the zero'd block (i.e. genesis) or will fail hard if it can't succeed.
func initGenesis(ctx *cli.Context) error {
	genesisPath := ctx.Args().First()
	if len(genesisPath) == 0 {
		utils.Fatalf("Must supply path to genesis JSON file")
	}
	file, err := os.Open(genesisPath)
	if err != nil {
		utils.Fatalf("Failed to read genesis file: %v", err)
	}
	defer file.Close()

	genesis := new(gethcore.Genesis)
	if err := json.NewDecoder(file).Decode(genesis); err != nil {
		utils.Fatalf("invalid genesis file: %v", err)
	}
	cfg := makeConfig(ctx)
	db := utils.MakeChainDatabase(ctx, &cfg.Eth)
	defer db.Close()

	_, hash, err := core.SetupGenesisBlock(context.Background(), db, genesis)
	if err != nil {
		utils.Fatalf("Failed to write genesis block: %v", err)
	}
	log.Info("Successfully wrote genesis state", "hash", hash)
	return nil
}

// newPipeline assembles the pipeline of the configured sync mode. The client
// may be nil for commands that only unwind or inspect.
func newPipeline(cfg *ethconfig.Config, db ethdb.Database, chainConfig *params.ChainConfig, client downloader.Client, tips consensus.TipSource) (*stagedsync.Pipeline, error) {
	validator, err := ethconfig.CreateValidator(chainConfig, cfg, tips)
	if err != nil {
		return nil, err
	}
	return stagedsync.NewPipeline(db, cfg.SyncMode, chainConfig, downloader.New(client, cfg.Downloader), validator,
		core.NewStateProcessor(chainConfig, vm.Config{}), cfg.Sync)
}

func syncChain(ctx *cli.Context) error {
	cfg := makeConfig(ctx)
	db := utils.MakeChainDatabase(ctx, &cfg.Eth)
	defer db.Close()

	sigctx, cancel := utils.SignalContext(context.Background())
	defer cancel()

	chainConfig, genesis, err := core.SetupGenesisBlock(sigctx, db, cfg.Eth.Genesis)
	if err != nil {
		utils.Fatalf("Failed to set up genesis: %v", err)
	}
	log.Info("Loaded chain configuration", "genesis", genesis, "config", chainConfig)

	client, err := downloader.DialRPC(sigctx, cfg.Eth.RPCEndpoint)
	if err != nil {
		utils.Fatalf("Failed to connect to %s: %v", cfg.Eth.RPCEndpoint, err)
	}
	defer client.Close()

	tips := consensus.NewTipTracker()
	defer tips.Close()
	stop := consensus.PollTips(sigctx, client, tips, cfg.Eth.TipPollInterval)
	defer stop()

	pipeline, err := newPipeline(&cfg.Eth, db, chainConfig, client, tips)
	if err != nil {
		return err
	}
	if cfg.Eth.MetricsCSV != "" {
		recorder, err := metrics.OpenStageRecorder(cfg.Eth.MetricsCSV)
		if err != nil {
			utils.Fatalf("Failed to open metrics file: %v", err)
		}
		defer recorder.Close()
		pipeline.SetRecorder(recorder)
	}

	if ctx.Bool(exitWhenSyncedFlag.Name) {
		err = pipeline.Sync(sigctx)
	} else {
		err = pipeline.Run(sigctx, tips)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openChain opens the database of an initialised data directory.
func openChain(ctx *cli.Context) (stagesyncConfig, ethdb.Database, *params.ChainConfig) {
	cfg := makeConfig(ctx)
	db := utils.MakeChainDatabase(ctx, &cfg.Eth)

	var chainConfig *params.ChainConfig
	err := ethdb.View(context.Background(), db, func(tx ethdb.Tx) error {
		var err error
		chainConfig, _, err = core.ReadChainConfig(tx)
		return err
	})
	if err != nil {
		db.Close()
		utils.Fatalf("Failed to read chain configuration: %v", err)
	}
	return cfg, db, chainConfig
}

func showStages(ctx *cli.Context) error {
	cfg, db, chainConfig := openChain(ctx)
	defer db.Close()

	pipeline, err := newPipeline(&cfg.Eth, db, chainConfig, nil, consensus.NewTipTracker())
	if err != nil {
		return err
	}
	progress, err := pipeline.Progress(context.Background())
	if err != nil {
		return err
	}
	printStages(os.Stdout, progress)
	return nil
}

// printStages renders the stage checkpoints as a table. Stages behind the
// first one are highlighted.
func printStages(w io.Writer, progress []stagedsync.StageProgress) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Stage", "Checkpoint", "Behind"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	behind := color.New(color.FgYellow).SprintFunc()
	for _, p := range progress {
		lag := progress[0].Checkpoint - p.Checkpoint
		row := []string{string(p.ID), strconv.FormatUint(p.Checkpoint, 10), strconv.FormatUint(lag, 10)}
		if lag > 0 {
			row[2] = behind(row[2])
		}
		table.Append(row)
	}
	table.Render()
}

func unwindChain(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		utils.Fatalf("This command requires an argument.")
	}
	number, err := strconv.ParseUint(ctx.Args().First(), 10, 64)
	if err != nil {
		utils.Fatalf("Invalid block number: %v", err)
	}
	cfg, db, chainConfig := openChain(ctx)
	defer db.Close()

	pipeline, err := newPipeline(&cfg.Eth, db, chainConfig, nil, consensus.NewTipTracker())
	if err != nil {
		return err
	}
	sigctx, cancel := utils.SignalContext(context.Background())
	defer cancel()
	if err := pipeline.Unwind(sigctx, number); err != nil {
		return err
	}
	progress, err := pipeline.Progress(sigctx)
	if err != nil {
		return err
	}
	printStages(os.Stdout, progress)
	return nil
}

func showAccount(ctx *cli.Context) error {
	if ctx.NArg() != 1 || !common.IsHexAddress(ctx.Args().First()) {
		utils.Fatalf("This command requires an address argument.")
	}
	addr := common.HexToAddress(ctx.Args().First())

	_, db, _ := openChain(ctx)
	defer db.Close()

	return ethdb.View(context.Background(), db, func(tx ethdb.Tx) error {
		reader := state.NewPlainStateReader(tx, nil)
		acc, err := reader.ReadAccount(addr)
		if err != nil {
			return err
		}
		if acc == nil {
			fmt.Printf("Account %s does not exist\n", addr.Hex())
			return nil
		}
		code, err := reader.ReadCode(acc.CodeHash)
		if err != nil {
			return err
		}
		printAccount(os.Stdout, addr, acc, len(code))
		return nil
	})
}

func printAccount(w io.Writer, addr common.Address, acc *state.Account, codeSize int) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(w, "%s %s\n", bold("Address: "), addr.Hex())
	fmt.Fprintf(w, "%s %d\n", bold("Nonce:   "), acc.Nonce)
	fmt.Fprintf(w, "%s %s ETH\n", bold("Balance: "), decimal.String(acc.Balance.ToBig(), decimal.Ether))
	if acc.HasCode() {
		fmt.Fprintf(w, "%s %x (%d bytes)\n", bold("Code:    "), acc.CodeHash, codeSize)
	}
}
