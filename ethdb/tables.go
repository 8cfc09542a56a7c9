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

package ethdb

// Table names. The schema of each table is documented in core/rawdb.
const (
	Headers                = "Headers"
	HeaderNumbers          = "HeaderNumbers"
	CanonicalHeaders       = "CanonicalHeaders"
	HeadersTotalDifficulty = "HeadersTotalDifficulty"
	BlockBodies            = "BlockBodies"
	BlockOmmers            = "BlockOmmers"
	Transactions           = "Transactions"
	TxSenders              = "TxSenders"
	Receipts               = "Receipts"
	PlainAccountState      = "PlainAccountState"
	PlainStorageState      = "PlainStorageState"
	Bytecodes              = "Bytecodes"
	AccountChangeSet       = "AccountChangeSet"
	StorageChangeSet       = "StorageChangeSet"
	SyncStage              = "SyncStage"
	Config                 = "Config"
)

// Tables lists every table known to the store.
var Tables = []string{
	Headers,
	HeaderNumbers,
	CanonicalHeaders,
	HeadersTotalDifficulty,
	BlockBodies,
	BlockOmmers,
	Transactions,
	TxSenders,
	Receipts,
	PlainAccountState,
	PlainStorageState,
	Bytecodes,
	AccountChangeSet,
	StorageChangeSet,
	SyncStage,
	Config,
}
