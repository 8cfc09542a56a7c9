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
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	failureMeter   = metrics.NewRegisteredMeter("stagedsync/failures", nil)
	badBlockMeter  = metrics.NewRegisteredMeter("stagedsync/badblocks", nil)
	reorgMeter     = metrics.NewRegisteredMeter("stagedsync/reorgs", nil)
	blockExecTimer = metrics.NewRegisteredTimer("stagedsync/execution/block", nil)
	txRecoverMeter = metrics.NewRegisteredMeter("stagedsync/senders/recovered", nil)
)

// stageMetrics are the per stage instruments.
type stageMetrics struct {
	checkpoint metrics.Gauge
	execute    metrics.Timer
	unwinds    metrics.Meter
}

func newStageMetrics(id StageID) *stageMetrics {
	prefix := "stagedsync/" + string(id) + "/"
	return &stageMetrics{
		checkpoint: metrics.GetOrRegisterGauge(prefix+"checkpoint", nil),
		execute:    metrics.GetOrRegisterTimer(prefix+"execute", nil),
		unwinds:    metrics.GetOrRegisterMeter(prefix+"unwinds", nil),
	}
}
