// Copyright 2020 The go-ethereum Authors
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

package state

import (
	"github.com/ethereum/go-ethereum/common"
)

// accessList tracks the EIP-2929 warm addresses and storage slots of the
// current transaction. An address present with a nil slot set is warm without
// any warm slots.
type accessList struct {
	addresses map[common.Address]map[common.Hash]struct{}
}

func newAccessList() *accessList {
	return &accessList{addresses: make(map[common.Address]map[common.Hash]struct{})}
}

// ContainsAddress returns true if the address is in the access list.
func (al *accessList) ContainsAddress(address common.Address) bool {
	_, ok := al.addresses[address]
	return ok
}

// Contains checks if a slot within an account is present in the access list,
// returning separate flags for the presence of the account and the slot
// respectively.
func (al *accessList) Contains(address common.Address, slot common.Hash) (addressPresent bool, slotPresent bool) {
	slots, ok := al.addresses[address]
	if !ok {
		return false, false
	}
	_, slotPresent = slots[slot]
	return true, slotPresent
}

// AddAddress adds an address to the access list, and returns 'true' if the
// operation caused a change (addr was not previously in the list).
func (al *accessList) AddAddress(address common.Address) bool {
	if _, present := al.addresses[address]; present {
		return false
	}
	al.addresses[address] = nil
	return true
}

// AddSlot adds the specified (addr, slot) combo to the access list.
// Return values are:
// - address added
// - slot added
// For any 'true' value returned, a corresponding journal entry must be made.
func (al *accessList) AddSlot(address common.Address, slot common.Hash) (addrChange bool, slotChange bool) {
	slots, addrPresent := al.addresses[address]
	if slots == nil {
		slots = make(map[common.Hash]struct{})
		al.addresses[address] = slots
	}
	if _, ok := slots[slot]; ok {
		return !addrPresent, false
	}
	slots[slot] = struct{}{}
	return !addrPresent, true
}

// DeleteSlot removes an (address, slot)-tuple from the access list.
// This operation needs to be performed in the same order as the addition
// happened. This method is meant to be used by the journal, which maintains
// ordering.
func (al *accessList) DeleteSlot(address common.Address, slot common.Hash) {
	slots, ok := al.addresses[address]
	if !ok {
		panic("reverting slot change, address not present in list")
	}
	delete(slots, slot)
}

// DeleteAddress removes an address from the access list. This operation
// needs to be performed in the same order as the addition happened.
// This method is meant to be used by the journal, which maintains ordering.
func (al *accessList) DeleteAddress(address common.Address) {
	delete(al.addresses, address)
}
