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

import "fmt"

// SyncMode represents the synchronisation mode of the staged sync.
type SyncMode uint32

const (
	FullSync  SyncMode = iota // Download full blocks, recover senders and execute them
	LightSync                 // Download and validate headers only
)

func FromString(syncModeStr string) (SyncMode, error) {
	var mode SyncMode
	err := mode.UnmarshalText([]byte(syncModeStr))
	return mode, err
}

func (mode SyncMode) IsValid() bool {
	return mode >= FullSync && mode <= LightSync
}

// String implements the stringer interface.
func (mode SyncMode) String() string {
	switch mode {
	case FullSync:
		return "full"
	case LightSync:
		return "light"
	default:
		return "unknown"
	}
}

func (mode SyncMode) MarshalText() ([]byte, error) {
	switch mode {
	case FullSync:
		return []byte("full"), nil
	case LightSync:
		return []byte("light"), nil
	default:
		return nil, fmt.Errorf("unknown sync mode %d", mode)
	}
}

func (mode *SyncMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "full":
		*mode = FullSync
	case "light":
		*mode = LightSync
	default:
		return fmt.Errorf(`unknown sync mode %q, want "full" or "light"`, text)
	}
	return nil
}

// SyncFullBlockChain returns true if bodies are downloaded and executed, not
// just headers.
func (mode SyncMode) SyncFullBlockChain() bool {
	switch mode {
	case FullSync:
		return true
	case LightSync:
		return false
	default:
		panic(fmt.Errorf("unknown sync mode %d", mode))
	}
}
