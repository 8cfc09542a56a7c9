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
)

type headerBatch struct {
	headers []*types.Header
	err     error
}

// HeaderStream yields headers in descending order, starting at a given hash
// and following parent hashes. The next batch is fetched while the consumer
// works through the current one.
type HeaderStream struct {
	batches <-chan headerBatch
	cancel  context.CancelFunc
	done    chan struct{}

	cur []*types.Header
	pos int
	err error
}

// Headers opens a descending header stream starting at hash. The stream must
// be closed by the caller.
func (d *Downloader) Headers(ctx context.Context, hash common.Hash) *HeaderStream {
	ctx, cancel := context.WithCancel(ctx)
	var (
		batches = make(chan headerBatch, 1)
		done    = make(chan struct{})
	)
	go d.fetchHeaders(ctx, hash, batches, done)
	return &HeaderStream{batches: batches, cancel: cancel, done: done}
}

// fetchHeaders keeps one batch of headers ready ahead of the consumer.
func (d *Downloader) fetchHeaders(ctx context.Context, next common.Hash, batches chan<- headerBatch, done chan struct{}) {
	defer close(done)
	defer close(batches)

	for {
		var headers []*types.Header
		err := d.retry(ctx, "header fetch", func(ctx context.Context) error {
			start := time.Now()
			res, err := d.client.HeadersBackward(ctx, next, d.cfg.HeaderBatch)
			headerReqTimer.UpdateSince(start)
			if err != nil {
				return err
			}
			if len(res) == 0 {
				return ErrEmptyResponse
			}
			if res[0].Hash() != next {
				return errUnrequested
			}
			headers = res
			return nil
		})
		if err != nil {
			select {
			case batches <- headerBatch{err: err}:
			case <-ctx.Done():
			}
			return
		}
		headerInMeter.Mark(int64(len(headers)))
		select {
		case batches <- headerBatch{headers: headers}:
		case <-ctx.Done():
			return
		}
		last := headers[len(headers)-1]
		if last.Number.Sign() == 0 {
			return
		}
		next = last.ParentHash
	}
}

// Next returns the next header. It returns io.EOF after the genesis header
// has been delivered.
func (s *HeaderStream) Next(ctx context.Context) (*types.Header, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.pos == len(s.cur) {
		select {
		case batch, ok := <-s.batches:
			if !ok {
				// The fetcher also exits without a result when cancelled.
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				s.err = io.EOF
				return nil, s.err
			}
			if batch.err != nil {
				s.err = batch.err
				return nil, s.err
			}
			s.cur, s.pos = batch.headers, 0
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	header := s.cur[s.pos]
	s.pos++
	return header, nil
}

// Close stops prefetching and waits for the fetcher to exit.
func (s *HeaderStream) Close() {
	s.cancel()
	<-s.done
}
