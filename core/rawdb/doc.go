/*
Package rawdb contains a collection of low level database accessors.

The rawdb serves as a typed wrapper around the tables of an ethdb.Database.
Every accessor takes the narrowest store interface it needs (ethdb.Getter,
ethdb.Putter or ethdb.Deleter) so that the same code runs against read-only
snapshots and against the single writable transaction.

Block numbers are encoded as 8 byte big endian integers so that the natural
key order of every number keyed table is the chain order. The tables are:

* Headers, keyed by number and hash, holding RLP encoded headers
* HeaderNumbers, mapping a header hash to its number
* CanonicalHeaders, mapping a number to the canonical hash
* HeadersTotalDifficulty, keyed like Headers
* BlockBodies, mapping a number to the id range of its transactions
* BlockOmmers, mapping a number to the RLP list of its ommer headers
* Transactions, keyed by a global sequential id, snappy compressed
* TxSenders, keyed by transaction id, holding the recovered address
* Receipts, mapping a number to the consensus receipts of the block
* PlainAccountState, PlainStorageState and Bytecodes, the flat world state
* AccountChangeSet and StorageChangeSet, the pre-block values of every
  account and storage slot a block modified, keyed by block number first
* SyncStage, the checkpoint of every sync stage

Transaction ids are allocated in block order: the body of block n owns the
ids [StartTxID, StartTxID+TxCount). The genesis body owns no ids, so the
first transaction of the chain has id 0.
*/
package rawdb
