// Copyright 2021 The Celo Authors
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

package metrics

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func TestCSVRecorder(t *testing.T) {
	buf := new(bufferCloser)
	rec := NewCSVRecorder(buf, StageFields...)
	rec.RecordStage("Bodies", "execute", 10, 20, 1500*time.Millisecond, nil)
	rec.RecordStage("Bodies", "unwind", 20, 15, 0, errors.New("boom"))
	require.NoError(t, rec.Close())
	require.True(t, buf.closed)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, strings.Join(StageFields, ","), lines[0])
	require.True(t, strings.HasSuffix(lines[1], ",Bodies,execute,10,20,1500,"))
	require.True(t, strings.HasSuffix(lines[2], ",Bodies,unwind,20,15,0,boom"))
}

func TestNilCSVRecorder(t *testing.T) {
	var rec *CSVRecorder
	rec.RecordStage("Headers", "execute", 0, 1, time.Second, nil)
	require.NoError(t, rec.Close())
}
