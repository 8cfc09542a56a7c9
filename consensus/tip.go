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

package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/celo-org/celo-stagesync/common/task"
)

// NewTipEvent is posted when a new canonical tip is announced.
type NewTipEvent struct {
	Hash   common.Hash
	Number uint64
}

// TipTracker remembers the latest announced canonical tip and notifies
// subscribers when it changes.
type TipTracker struct {
	mu     sync.RWMutex
	hash   common.Hash
	number uint64

	feed  event.Feed
	scope event.SubscriptionScope
}

// NewTipTracker creates a tracker with no known tip.
func NewTipTracker() *TipTracker {
	return new(TipTracker)
}

// Announce records a tip. Subscribers are notified only if the hash differs
// from the previously known tip, a lower number is accepted since it
// signals a reorg.
func (t *TipTracker) Announce(hash common.Hash, number uint64) bool {
	t.mu.Lock()
	if t.hash == hash {
		t.mu.Unlock()
		return false
	}
	t.hash, t.number = hash, number
	t.mu.Unlock()

	t.feed.Send(NewTipEvent{Hash: hash, Number: number})
	return true
}

// CurrentTip implements TipSource.
func (t *TipTracker) CurrentTip(ctx context.Context) (common.Hash, uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.hash == (common.Hash{}) {
		return common.Hash{}, 0, ErrNoTip
	}
	return t.hash, t.number, nil
}

// SubscribeNewTip registers a subscription of NewTipEvent.
func (t *TipTracker) SubscribeNewTip(ch chan<- NewTipEvent) event.Subscription {
	return t.scope.Track(t.feed.Subscribe(ch))
}

// Close terminates all subscriptions.
func (t *TipTracker) Close() {
	t.scope.Close()
}

// PollTips queries src on every period and announces its tip to tracker.
// Failed queries are logged and retried on the next tick.
func PollTips(ctx context.Context, src TipSource, tracker *TipTracker, period time.Duration) task.StopFn {
	poll := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, period)
		defer cancel()

		hash, number, err := src.CurrentTip(ctx)
		if err != nil {
			log.Warn("Failed to query canonical tip", "err", err)
			return
		}
		if tracker.Announce(hash, number) {
			log.Debug("New canonical tip", "number", number, "hash", hash)
		}
	}
	poll(ctx)
	return task.RunTaskRepeateadly(ctx, poll, task.NewDefaultTicker(period))
}
