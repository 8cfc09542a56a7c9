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
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/celo-org/celo-stagesync/cmd/utils"
	"github.com/celo-org/celo-stagesync/internal/blocktest"
)

var (
	runFlag = cli.StringFlag{
		Name:  "run",
		Usage: "Comma separated names of the tests to run (default = all)",
	}

	fixtureCommand = cli.Command{
		Action:    utils.MigrateFlags(runFixtures),
		Name:      "fixture",
		Usage:     "Run blockchain test fixtures through the staged sync",
		ArgsUsage: "<fixture.json> [<fixture.json>...]",
		Flags:     []cli.Flag{runFlag},
		Category:  "MISCELLANEOUS COMMANDS",
		Description: `
The fixture command syncs the blocks of Ethereum blockchain tests into an
in-memory database and compares the state with the expected post-state. Tests
for rule sets before Byzantium or after the merge are skipped.`,
	}
)

type fixtureSummary struct {
	passed, failed, skipped int
}

func runFixtures(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		utils.Fatalf("This command requires at least one fixture file.")
	}
	var (
		cfg     = makeConfig(ctx)
		filter  = make(map[string]bool)
		summary fixtureSummary
	)
	for _, name := range utils.SplitAndTrim(ctx.String(runFlag.Name)) {
		filter[name] = true
	}
	// Fixture blocks are valid, a failing pass is not retried.
	syncCfg := cfg.Eth.Sync
	syncCfg.MaxRetries = 0

	sigctx, cancel := utils.SignalContext(context.Background())
	defer cancel()

	for _, path := range ctx.Args() {
		tests, err := blocktest.LoadFile(path)
		if err != nil {
			return err
		}
		for _, name := range blocktest.Names(tests) {
			if len(filter) > 0 && !filter[name] {
				continue
			}
			err := tests[name].Run(sigctx, syncCfg)
			if errors.Is(err, context.Canceled) {
				return err
			}
			summary.report(os.Stdout, name, err)
		}
	}
	fmt.Printf("%d passed, %d failed, %d skipped\n", summary.passed, summary.failed, summary.skipped)
	if summary.failed > 0 {
		return fmt.Errorf("%d fixtures failed", summary.failed)
	}
	return nil
}

func (s *fixtureSummary) report(w io.Writer, name string, err error) {
	var unsupported *blocktest.UnsupportedForkError
	switch {
	case err == nil:
		s.passed++
		fmt.Fprintf(w, "%s %s\n", color.GreenString("PASS"), name)
	case errors.As(err, &unsupported):
		s.skipped++
		fmt.Fprintf(w, "%s %s (%s)\n", color.YellowString("SKIP"), name, unsupported.Reason)
	default:
		s.failed++
		fmt.Fprintf(w, "%s %s\n     %s\n", color.RedString("FAIL"), name, strings.ReplaceAll(err.Error(), "\n", "\n     "))
	}
}
