// Copyright 2015 The go-ethereum Authors
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

package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"
)

var (
	// ErrEmptyResponse is returned by a fetch attempt that delivered nothing.
	ErrEmptyResponse = errors.New("empty response")

	errUnrequested = errors.New("response does not match request")
)

// Client is a remote source of chain data.
type Client interface {
	// HeadersBackward returns up to max headers, starting with the one with
	// the given hash and following parent hashes, in descending order.
	HeadersBackward(ctx context.Context, hash common.Hash, max int) ([]*types.Header, error)

	// BodiesByHash returns the bodies of the requested blocks in request
	// order. The response may be a prefix of the request.
	BodiesByHash(ctx context.Context, hashes []common.Hash) ([]*types.Body, error)
}

// Config are the tunables of the downloader.
type Config struct {
	HeaderBatch   int           // Headers requested per round trip
	BodyBatch     int           // Bodies requested per round trip
	Parallelism   int           // Concurrent body requests
	MaxAttempts   int           // Attempts per request before failing with a FetchError
	RetryDelay    time.Duration // Delay before the first retry, doubled on every attempt
	MaxRetryDelay time.Duration // Upper bound of the retry delay
	RequestRate   float64       // Requests per second, zero for no limit
	RequestBurst  int           // Requests allowed above the rate in a burst
}

// DefaultConfig contains the default downloader settings.
var DefaultConfig = Config{
	HeaderBatch:   192,
	BodyBatch:     128,
	Parallelism:   4,
	MaxAttempts:   5,
	RetryDelay:    500 * time.Millisecond,
	MaxRetryDelay: 10 * time.Second,
}

// sanitize replaces unusable settings by their defaults.
func (c Config) sanitize() Config {
	if c.HeaderBatch <= 0 {
		log.Warn("Sanitizing invalid downloader header batch", "provided", c.HeaderBatch, "updated", DefaultConfig.HeaderBatch)
		c.HeaderBatch = DefaultConfig.HeaderBatch
	}
	if c.BodyBatch <= 0 {
		log.Warn("Sanitizing invalid downloader body batch", "provided", c.BodyBatch, "updated", DefaultConfig.BodyBatch)
		c.BodyBatch = DefaultConfig.BodyBatch
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = c.RetryDelay
	}
	return c
}

// FetchError is returned when a request kept failing after all attempts. It
// signals a transient problem of the data source, not bad data.
type FetchError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Downloader opens header and body streams on a Client.
type Downloader struct {
	client  Client
	cfg     Config
	limiter *rate.Limiter
}

// New creates a downloader for client.
func New(client Client, cfg Config) *Downloader {
	cfg = cfg.sanitize()
	limit := rate.Inf
	if cfg.RequestRate > 0 {
		limit = rate.Limit(cfg.RequestRate)
	}
	burst := cfg.RequestBurst
	if burst <= 0 {
		burst = cfg.Parallelism
	}
	return &Downloader{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Config returns the sanitized settings of the downloader.
func (d *Downloader) Config() Config {
	return d.cfg
}

// retry runs fetch until it succeeds, the context is done or the attempts
// are exhausted. Every attempt waits for the rate limiter.
func (d *Downloader) retry(ctx context.Context, op string, fetch func(context.Context) error) error {
	var (
		delay = d.cfg.RetryDelay
		err   error
	)
	for attempt := 1; ; attempt++ {
		if err = d.limiter.Wait(ctx); err != nil {
			return err
		}
		if err = fetch(ctx); err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt >= d.cfg.MaxAttempts {
			return &FetchError{Op: op, Attempts: attempt, Err: err}
		}
		retryMeter.Mark(1)
		log.Debug("Retrying request", "op", op, "attempt", attempt, "delay", delay, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if delay *= 2; delay > d.cfg.MaxRetryDelay {
			delay = d.cfg.MaxRetryDelay
		}
	}
}
