// Copyright 2016 The go-ethereum Authors
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

// Package debug sets up logging and profiling from command line flags.
package debug

import (
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof" // #nosec
	"os"
	"runtime/pprof"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/exp"
	colorable "github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/urfave/cli.v1"
)

var (
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
	vmoduleFlag = cli.StringFlag{
		Name:  "vmodule",
		Usage: "Per-module verbosity: comma-separated list of <pattern>=<level> (e.g. eth/stagedsync/*=5)",
		Value: "",
	}
	backtraceAtFlag = cli.StringFlag{
		Name:  "backtrace",
		Usage: "Request a stack trace at a specific logging statement (e.g. \"headers.go:120\")",
		Value: "",
	}
	debugFlag = cli.BoolFlag{
		Name:  "debug",
		Usage: "Prepends log messages with call-site location (file and line number)",
	}
	pprofFlag = cli.BoolFlag{
		Name:  "pprof",
		Usage: "Enable the pprof HTTP server",
	}
	pprofAddrFlag = cli.StringFlag{
		Name:  "pprof.addr",
		Usage: "pprof HTTP server listening address",
		Value: "127.0.0.1:6060",
	}
	cpuprofileFlag = cli.StringFlag{
		Name:  "pprof.cpuprofile",
		Usage: "Write CPU profile to the given file",
	}
	consoleFormatFlag = cli.StringFlag{
		Name:  "consoleformat",
		Usage: "Write console logs as 'json' or 'term'",
	}
	consoleOutputFlag = cli.StringFlag{
		Name: "consoleoutput",
		Usage: "(stderr|stdout|split) By default, console output goes to stderr. " +
			"In split mode, warnings and errors go to stderr and everything else to stdout",
	}
)

// Flags holds all command-line flags required for debugging.
var Flags = []cli.Flag{
	verbosityFlag, vmoduleFlag, backtraceAtFlag, debugFlag,
	pprofFlag, pprofAddrFlag, cpuprofileFlag,
	consoleFormatFlag, consoleOutputFlag,
}

var (
	profileMu   sync.Mutex
	profileFile *os.File
)

// SplitHandler sends warnings and errors to one handler and all other
// records to another.
type SplitHandler struct {
	Out log.Handler
	Err log.Handler
}

// Log implements log.Handler.
func (h SplitHandler) Log(r *log.Record) error {
	if r.Lvl <= log.LvlWarn {
		return h.Err.Log(r)
	}
	return h.Out.Log(r)
}

// Setup initializes profiling and logging based on the CLI flags.
// It should be called as early as possible in the program.
func Setup(ctx *cli.Context) error {
	ostream, err := CreateStreamHandler(ctx.GlobalString(consoleFormatFlag.Name), ctx.GlobalString(consoleOutputFlag.Name))
	if err != nil {
		return err
	}
	glogger := log.NewGlogHandler(ostream)

	log.PrintOrigins(ctx.GlobalBool(debugFlag.Name))
	glogger.Verbosity(log.Lvl(ctx.GlobalInt(verbosityFlag.Name)))
	if err := glogger.Vmodule(ctx.GlobalString(vmoduleFlag.Name)); err != nil {
		return fmt.Errorf("invalid --%s: %w", vmoduleFlag.Name, err)
	}
	if err := glogger.BacktraceAt(ctx.GlobalString(backtraceAtFlag.Name)); err != nil {
		return fmt.Errorf("invalid --%s: %w", backtraceAtFlag.Name, err)
	}
	log.Root().SetHandler(glogger)

	if cpuFile := ctx.GlobalString(cpuprofileFlag.Name); cpuFile != "" {
		if err := startCPUProfile(cpuFile); err != nil {
			return err
		}
	}
	if ctx.GlobalBool(pprofFlag.Name) {
		StartPProf(ctx.GlobalString(pprofAddrFlag.Name))
	}
	return nil
}

// CreateStreamHandler returns the console handler for the given format and
// output mode. Colour is used when the output is a terminal.
func CreateStreamHandler(consoleFormat string, consoleOutputMode string) (log.Handler, error) {
	switch consoleOutputMode {
	case "stdout":
		return streamHandler(os.Stdout, consoleFormat)
	case "stderr", "":
		return streamHandler(os.Stderr, consoleFormat)
	case "split":
		out, err := streamHandler(os.Stdout, consoleFormat)
		if err != nil {
			return nil, err
		}
		errs, err := streamHandler(os.Stderr, consoleFormat)
		if err != nil {
			return nil, err
		}
		return SplitHandler{Out: out, Err: errs}, nil
	}
	return nil, fmt.Errorf("unexpected value for %q flag: %q", consoleOutputFlag.Name, consoleOutputMode)
}

func streamHandler(file *os.File, consoleFormat string) (log.Handler, error) {
	var (
		usecolor = useColor(file)
		output   = io.Writer(file)
	)
	if usecolor {
		output = colorable.NewColorable(file)
	}
	format, err := consoleLogFormat(consoleFormat, usecolor)
	if err != nil {
		return nil, err
	}
	return log.StreamHandler(output, format), nil
}

func useColor(file *os.File) bool {
	return (isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())) && os.Getenv("TERM") != "dumb"
}

func consoleLogFormat(consoleFormat string, usecolor bool) (log.Format, error) {
	switch consoleFormat {
	case "json":
		return log.JSONFormat(), nil
	case "term", "":
		return log.TerminalFormat(usecolor), nil
	}
	return nil, fmt.Errorf("unexpected value for %q flag: %q", consoleFormatFlag.Name, consoleFormat)
}

// StartPProf serves pprof and the metrics registry on address.
func StartPProf(address string) {
	exp.Exp(metrics.DefaultRegistry)
	log.Info("Starting pprof server", "addr", fmt.Sprintf("http://%s/debug/pprof", address))
	go func() {
		if err := http.ListenAndServe(address, nil); err != nil {
			log.Error("Failure in running pprof server", "err", err)
		}
	}()
}

func startCPUProfile(file string) error {
	profileMu.Lock()
	defer profileMu.Unlock()
	if profileFile != nil {
		return fmt.Errorf("CPU profiling already in progress")
	}
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return err
	}
	profileFile = f
	log.Info("CPU profiling started", "dump", file)
	return nil
}

// Exit stops all running profiles, flushing their output to the
// respective file.
func Exit() {
	profileMu.Lock()
	defer profileMu.Unlock()
	if profileFile == nil {
		return
	}
	pprof.StopCPUProfile()
	profileFile.Close()
	log.Info("Done writing CPU profile", "dump", profileFile.Name())
	profileFile = nil
}
