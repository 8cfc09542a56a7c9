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

package downloader

import (
	"context"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
)

type bodyBatch struct {
	bodies []*types.Body
	err    error
}

// BodyStream yields the bodies of a list of blocks in list order. Batches
// are fetched concurrently by a bounded number of workers.
type BodyStream struct {
	results    []chan bodyBatch
	cancel     context.CancelFunc
	group      *errgroup.Group
	dispatched chan struct{}

	batch int
	cur   []*types.Body
	pos   int
	err   error
}

// Bodies opens a stream over the bodies of the given blocks. The stream must
// be closed by the caller.
func (d *Downloader) Bodies(ctx context.Context, hashes []common.Hash) *BodyStream {
	ctx, cancel := context.WithCancel(ctx)

	var chunks [][]common.Hash
	for start := 0; start < len(hashes); start += d.cfg.BodyBatch {
		end := start + d.cfg.BodyBatch
		if end > len(hashes) {
			end = len(hashes)
		}
		chunks = append(chunks, hashes[start:end])
	}
	s := &BodyStream{
		results:    make([]chan bodyBatch, len(chunks)),
		cancel:     cancel,
		group:      new(errgroup.Group),
		dispatched: make(chan struct{}),
	}
	for i := range s.results {
		s.results[i] = make(chan bodyBatch, 1)
	}
	s.group.SetLimit(d.cfg.Parallelism)
	go func() {
		defer close(s.dispatched)
		for i, chunk := range chunks {
			i, chunk := i, chunk
			if ctx.Err() != nil {
				return
			}
			// Go blocks while the worker limit is reached.
			s.group.Go(func() error {
				bodies, err := d.fetchBodies(ctx, chunk)
				s.results[i] <- bodyBatch{bodies: bodies, err: err}
				return nil
			})
		}
	}()
	return s
}

// fetchBodies retrieves the bodies of hashes, re-requesting the remainder
// after partial responses.
func (d *Downloader) fetchBodies(ctx context.Context, hashes []common.Hash) ([]*types.Body, error) {
	bodies := make([]*types.Body, 0, len(hashes))
	for len(bodies) < len(hashes) {
		err := d.retry(ctx, "body fetch", func(ctx context.Context) error {
			start := time.Now()
			res, err := d.client.BodiesByHash(ctx, hashes[len(bodies):])
			bodyReqTimer.UpdateSince(start)
			if err != nil {
				return err
			}
			if len(res) == 0 {
				return ErrEmptyResponse
			}
			if len(res) > len(hashes)-len(bodies) {
				return errUnrequested
			}
			for _, body := range res {
				if body == nil {
					return errUnrequested
				}
			}
			bodyInMeter.Mark(int64(len(res)))
			bodies = append(bodies, res...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return bodies, nil
}

// Next returns the next body. It returns io.EOF once all requested bodies
// have been delivered.
func (s *BodyStream) Next(ctx context.Context) (*types.Body, error) {
	if s.err != nil {
		return nil, s.err
	}
	for s.pos == len(s.cur) {
		if s.batch == len(s.results) {
			s.err = io.EOF
			return nil, s.err
		}
		select {
		case res := <-s.results[s.batch]:
			if res.err != nil {
				s.err = res.err
				return nil, s.err
			}
			s.cur, s.pos = res.bodies, 0
			s.batch++
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	body := s.cur[s.pos]
	s.pos++
	return body, nil
}

// Close aborts outstanding requests and waits for the workers to exit.
func (s *BodyStream) Close() {
	s.cancel()
	<-s.dispatched
	s.group.Wait()
}
