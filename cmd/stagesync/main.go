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

// stagesync synchronises a chain from another node in stages: headers,
// bodies, senders and execution.
package main

import (
	"fmt"
	"os"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/celo-org/celo-stagesync/cmd/utils"
	"github.com/celo-org/celo-stagesync/internal/debug"
)

var (
	// Git SHA1 commit hash of the release (set via linker flags)
	gitCommit = ""
	gitDate   = ""

	app = utils.NewApp(gitCommit, gitDate, "the staged sync command line interface")
)

func init() {
	app.Flags = []cli.Flag{
		configFileFlag,
		utils.DataDirFlag,
		utils.MetricsEnabledFlag,
	}
	app.Flags = append(app.Flags, utils.SyncFlags...)
	app.Flags = append(app.Flags, debug.Flags...)
	app.Commands = []cli.Command{
		initCommand,
		syncCommand,
		stagesCommand,
		unwindCommand,
		accountCommand,
		fixtureCommand,
		dumpConfigCommand,
	}
	app.Before = func(ctx *cli.Context) error {
		if err := debug.Setup(ctx); err != nil {
			return err
		}
		utils.SetupMetrics(ctx)
		return nil
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
