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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/celo-org/celo-stagesync/consensus"
	"github.com/celo-org/celo-stagesync/core/rawdb"
	"github.com/celo-org/celo-stagesync/ethdb"
	"github.com/celo-org/celo-stagesync/metrics"
)

// TipNotifier announces new canonical tips.
type TipNotifier interface {
	SubscribeNewTip(ch chan<- consensus.NewTipEvent) event.Subscription
}

// StageProgress is the persisted checkpoint of one stage.
type StageProgress struct {
	ID         StageID
	Checkpoint uint64
}

// Pipeline drives a fixed sequence of stages towards the canonical tip. Every
// stage runs in its own writable transaction which also persists the stage's
// checkpoint, so the pipeline can be stopped and resumed at any point.
type Pipeline struct {
	db     ethdb.Database
	stages []Stage
	tips   consensus.TipSource
	bad    *BadBlocks
	cfg    Config

	recorder *metrics.CSVRecorder
	metrics  map[StageID]*stageMetrics
	log      log.Logger
}

// New creates a pipeline running stages in the given order. The target of the
// first stage is the tip reported by tips. A nil bad block set is replaced by
// a fresh one.
func New(db ethdb.Database, stages []Stage, tips consensus.TipSource, bad *BadBlocks, cfg Config) *Pipeline {
	cfg = cfg.sanitize()
	if bad == nil {
		bad = NewBadBlocks(cfg.BadBlockCache)
	}
	p := &Pipeline{
		db:      db,
		stages:  stages,
		tips:    tips,
		bad:     bad,
		cfg:     cfg,
		metrics: make(map[StageID]*stageMetrics, len(stages)),
		log:     log.New("module", "stagedsync"),
	}
	for _, stage := range stages {
		p.metrics[stage.ID()] = newStageMetrics(stage.ID())
	}
	return p
}

// SetRecorder makes the pipeline write one CSV row per stage batch and unwind.
func (p *Pipeline) SetRecorder(r *metrics.CSVRecorder) {
	p.recorder = r
}

// BadBlocks returns the set of blocks rejected so far.
func (p *Pipeline) BadBlocks() *BadBlocks {
	return p.bad
}

// Stages returns the stage sequence.
func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// Progress returns the persisted checkpoint of every stage.
func (p *Pipeline) Progress(ctx context.Context) ([]StageProgress, error) {
	progress := make([]StageProgress, 0, len(p.stages))
	err := ethdb.View(ctx, p.db, func(tx ethdb.Tx) error {
		for _, stage := range p.stages {
			cp, err := rawdb.ReadStageCheckpoint(tx, string(stage.ID()))
			if err != nil {
				return &StoreError{Op: "read checkpoint", Err: err}
			}
			progress = append(progress, StageProgress{ID: stage.ID(), Checkpoint: cp})
		}
		return nil
	})
	return progress, err
}

// Run keeps the local chain at the canonical tip until ctx is cancelled. After
// every successful sync it idles until a new tip is announced.
func (p *Pipeline) Run(ctx context.Context, notifier TipNotifier) error {
	tipCh := make(chan consensus.NewTipEvent, 16)
	sub := notifier.SubscribeNewTip(tipCh)
	defer sub.Unsubscribe()

	for {
		if err := p.Sync(ctx); err != nil {
			return err
		}
		select {
		case ev := <-tipCh:
			p.log.Debug("New tip announced", "number", ev.Number, "hash", ev.Hash)
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Sync runs the stages until every one of them reached the current tip. Failed
// passes are retried with backoff, unwinding first when a block was rejected.
// A missing tip is not an error, there is simply nothing to do.
func (p *Pipeline) Sync(ctx context.Context) error {
	if err := p.heal(ctx); err != nil {
		return err
	}
	failures := 0
	for {
		progressed, err := p.pass(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var (
			reorg     *ReorgError
			invalid   *ValidationError
			unwindErr *UnwindError
		)
		switch {
		case errors.As(err, &unwindErr):
			return err

		case errors.As(err, &reorg):
			reorgMeter.Mark(1)
			p.log.Warn("Canonical chain reorganised", "ancestor", reorg.Ancestor, "hash", reorg.Hash)
			if err := p.unwindTo(ctx, reorg.Ancestor); err != nil {
				return err
			}
			continue

		case errors.As(err, &invalid):
			if invalid.Permanent {
				badBlockMeter.Mark(1)
				p.bad.Add(invalid.Hash, invalid.Block)
			}
			p.log.Warn("Rejected invalid block", "stage", invalid.Stage, "number", invalid.Block, "hash", invalid.Hash, "err", invalid.Err)
			if err := p.unwindTo(ctx, invalid.LastGood()); err != nil {
				return err
			}

		case IsTransient(err):
			p.log.Warn("Sync pass failed", "err", err)

		default:
			p.log.Error("Sync aborted", "err", err)
			return err
		}
		if progressed {
			failures = 0
		}
		failures++
		failureMeter.Mark(1)
		if p.cfg.MaxRetries >= 0 && failures > p.cfg.MaxRetries {
			return &retriesExhaustedError{failures: failures, err: err}
		}
		if err := p.backoff(ctx, failures); err != nil {
			return err
		}
	}
}

// Unwind rolls every stage back to the given block.
func (p *Pipeline) Unwind(ctx context.Context, unwindTo uint64) error {
	return p.unwindTo(ctx, unwindTo)
}

// pass runs every stage once towards the tip. It reports whether any
// checkpoint advanced.
func (p *Pipeline) pass(ctx context.Context) (bool, error) {
	_, target, err := p.tips.CurrentTip(ctx)
	if errors.Is(err, consensus.ErrNoTip) {
		p.log.Debug("No canonical tip known, skipping sync")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var progressed bool
	for i, stage := range p.stages {
		cp, advanced, err := p.runStage(ctx, stage, target, i == 0)
		progressed = progressed || advanced
		if err != nil {
			return progressed, err
		}
		target = cp
	}
	return progressed, nil
}

// runStage calls a stage until it reports done, committing every batch
// together with its checkpoint. It returns the final checkpoint.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, target uint64, first bool) (uint64, bool, error) {
	var (
		id       = stage.ID()
		m        = p.metrics[id]
		advanced bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return 0, advanced, err
		}
		tx, err := p.db.BeginRW(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, advanced, ctxErr
			}
			return 0, advanced, &StoreError{Op: "begin", Err: err}
		}
		cp, err := rawdb.ReadStageCheckpoint(tx, string(id))
		if err != nil {
			tx.Rollback()
			return 0, advanced, &StoreError{Op: "read checkpoint", Err: err}
		}
		in := ExecInput{Checkpoint: cp, Target: target}
		start := time.Now()
		out, err := stage.Execute(ctx, tx, in)
		if err != nil {
			tx.Rollback()
			p.recorder.RecordStage(string(id), "execute", cp, cp, time.Since(start), err)
			return cp, advanced, err
		}
		// Only the first stage may move beyond its predecessor.
		if !first && out.Checkpoint > target {
			tx.Rollback()
			return cp, advanced, fmt.Errorf("stage %s advanced to #%d beyond target #%d", id, out.Checkpoint, target)
		}
		if out.Checkpoint != cp {
			if err := rawdb.WriteStageCheckpoint(tx, string(id), out.Checkpoint); err != nil {
				tx.Rollback()
				return cp, advanced, &StoreError{Op: "write checkpoint", Err: err}
			}
		}
		if err := tx.Commit(); err != nil {
			return cp, advanced, &StoreError{Op: "commit", Err: err}
		}
		elapsed := time.Since(start)
		m.execute.Update(elapsed)
		m.checkpoint.Update(int64(out.Checkpoint))
		p.recorder.RecordStage(string(id), "execute", cp, out.Checkpoint, elapsed, nil)

		if out.Checkpoint > cp {
			advanced = true
			p.log.Info("Stage progressed", "stage", id, "from", cp, "to", out.Checkpoint, "target", target, "elapsed", common.PrettyDuration(elapsed))
		}
		if out.Done {
			return out.Checkpoint, advanced, nil
		}
	}
}

// unwindTo rolls back, in reverse order, every stage above the given block.
// Each rollback is committed on its own.
func (p *Pipeline) unwindTo(ctx context.Context, unwindTo uint64) error {
	for i := len(p.stages) - 1; i >= 0; i-- {
		if err := p.unwindStage(ctx, p.stages[i], unwindTo); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) unwindStage(ctx context.Context, stage Stage, unwindTo uint64) error {
	id := stage.ID()
	fail := func(err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		p.log.Error("Stage unwind failed, store needs repair", "stage", id, "target", unwindTo, "err", err)
		return &UnwindError{Stage: id, UnwindTo: unwindTo, Err: err}
	}
	tx, err := p.db.BeginRW(ctx)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback()

	cp, err := rawdb.ReadStageCheckpoint(tx, string(id))
	if err != nil {
		return fail(err)
	}
	if cp <= unwindTo {
		return nil
	}
	start := time.Now()
	out, err := stage.Unwind(ctx, tx, UnwindInput{Checkpoint: cp, UnwindTo: unwindTo})
	if err != nil {
		p.recorder.RecordStage(string(id), "unwind", cp, cp, time.Since(start), err)
		return fail(err)
	}
	if err := rawdb.WriteStageCheckpoint(tx, string(id), out.Checkpoint); err != nil {
		return fail(err)
	}
	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	m := p.metrics[id]
	m.unwinds.Mark(1)
	m.checkpoint.Update(int64(out.Checkpoint))
	p.recorder.RecordStage(string(id), "unwind", cp, out.Checkpoint, time.Since(start), nil)
	p.log.Info("Stage unwound", "stage", id, "from", cp, "to", out.Checkpoint)
	return nil
}

// heal restores the checkpoint ordering after an interrupted unwind: no stage
// may be ahead of any stage before it.
func (p *Pipeline) heal(ctx context.Context) error {
	progress, err := p.Progress(ctx)
	if err != nil {
		return err
	}
	bounds := make([]uint64, len(progress))
	for i := range progress {
		bounds[i] = progress[i].Checkpoint
		if i > 0 && bounds[i-1] < bounds[i] {
			bounds[i] = bounds[i-1]
		}
	}
	for i := len(p.stages) - 1; i > 0; i-- {
		if progress[i].Checkpoint > bounds[i] {
			p.log.Warn("Stage ahead of its predecessor", "stage", progress[i].ID, "checkpoint", progress[i].Checkpoint, "bound", bounds[i])
			if err := p.unwindStage(ctx, p.stages[i], bounds[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// backoff waits before the next attempt, doubling the delay on every
// consecutive failure.
func (p *Pipeline) backoff(ctx context.Context, failures int) error {
	delay := p.cfg.RetryDelay
	for i := 1; i < failures && delay < p.cfg.MaxRetryDelay; i++ {
		delay *= 2
	}
	if delay > p.cfg.MaxRetryDelay {
		delay = p.cfg.MaxRetryDelay
	}
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retriesExhaustedError is ErrRetriesExhausted carrying the last failure.
type retriesExhaustedError struct {
	failures int
	err      error
}

func (e *retriesExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d failed passes: %v", ErrRetriesExhausted, e.failures, e.err)
}

func (e *retriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

func (e *retriesExhaustedError) Unwrap() error {
	return e.err
}
