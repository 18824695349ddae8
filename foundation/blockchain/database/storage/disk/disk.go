// Package disk implements the ability to read and write blocks to a leveldb
// database on disk. Trie nodes are kept in a second leveldb database next to
// the blocks.
package disk

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	ethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/omahs/ganache/foundation/blockchain/database"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Tuning for the trie node database.
const (
	nodeCache   = 16
	nodeHandles = 16
)

// blockPrefix is the key prefix of the serialized blocks. The block number
// follows in big endian so keys iterate in chain order.
var blockPrefix = []byte("b")

// Disk represents the serialization implementation for reading and storing
// blocks in a leveldb database. This implements the database.Serializer
// interface.
type Disk struct {
	blocks *leveldb.DB
	nodes  ethdb.Database
}

// New constructs a Disk value for use. The folder is created if it doesn't
// exist.
func New(dbPath string) (*Disk, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, errors.Wrap(err, "create database folder")
	}

	blocks, err := leveldb.OpenFile(filepath.Join(dbPath, "chain"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "open chain database")
	}

	kv, err := ethleveldb.New(filepath.Join(dbPath, "state"), nodeCache, nodeHandles, "ganache/state/", false)
	if err != nil {
		blocks.Close()
		return nil, errors.Wrap(err, "open state database")
	}

	disk := Disk{
		blocks: blocks,
		nodes:  rawdb.NewDatabase(kv),
	}

	return &disk, nil
}

// Close closes both databases.
func (d *Disk) Close() error {
	if err := d.nodes.Close(); err != nil {
		d.blocks.Close()
		return errors.Wrap(err, "close state database")
	}
	return errors.Wrap(d.blocks.Close(), "close chain database")
}

// NodeDB returns the key value store for the trie nodes.
func (d *Disk) NodeDB() ethdb.Database {
	return d.nodes
}

// Persistent reports that blocks and state survive a restart.
func (d *Disk) Persistent() bool {
	return true
}

// Write takes the specified database block and stores it under its number.
func (d *Disk) Write(blockData database.BlockData) error {
	data, err := json.Marshal(blockData)
	if err != nil {
		return errors.Wrapf(err, "marshal block %d", blockData.Number)
	}

	if err := d.blocks.Put(blockKey(blockData.Number), data, nil); err != nil {
		return errors.Wrapf(err, "write block %d", blockData.Number)
	}

	return nil
}

// GetBlock locates and returns the contents of the specified block by number.
func (d *Disk) GetBlock(num uint64) (database.BlockData, error) {
	data, err := d.blocks.Get(blockKey(num), nil)
	if err != nil {
		return database.BlockData{}, errors.Wrapf(err, "read block %d", num)
	}

	return decode(num, data)
}

// Truncate removes every block above the specified number.
func (d *Disk) Truncate(num uint64) error {
	it := d.blocks.NewIterator(&util.Range{Start: blockKey(num + 1), Limit: util.BytesPrefix(blockPrefix).Limit}, nil)
	defer it.Release()

	batch := new(leveldb.Batch)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	if err := it.Error(); err != nil {
		return errors.Wrap(err, "iterate blocks")
	}

	return errors.Wrap(d.blocks.Write(batch, nil), "truncate blocks")
}

// ForEach returns an iterator to walk through all the blocks
// starting with block number 0.
func (d *Disk) ForEach() database.Iterator {
	return &diskIterator{it: d.blocks.NewIterator(util.BytesPrefix(blockPrefix), nil)}
}

// =============================================================================

// diskIterator represents the iteration implementation for walking
// through and reading blocks on disk. This implements the database
// Iterator interface.
type diskIterator struct {
	it interface {
		Next() bool
		Key() []byte
		Value() []byte
		Error() error
		Release()
	}
	eoc bool // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block from disk.
func (di *diskIterator) Next() (database.BlockData, error) {
	if di.eoc {
		return database.BlockData{}, database.ErrEndOfChain
	}

	if !di.it.Next() {
		di.eoc = true
		err := di.it.Error()
		di.it.Release()
		if err != nil {
			return database.BlockData{}, errors.Wrap(err, "iterate blocks")
		}
		return database.BlockData{}, database.ErrEndOfChain
	}

	num := binary.BigEndian.Uint64(di.it.Key()[len(blockPrefix):])
	return decode(num, di.it.Value())
}

// Done returns the end of chain value.
func (di *diskIterator) Done() bool {
	return di.eoc
}

// =============================================================================

func blockKey(num uint64) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], num)
	return key
}

func decode(num uint64, data []byte) (database.BlockData, error) {
	var blockData database.BlockData
	if err := json.Unmarshal(data, &blockData); err != nil {
		return database.BlockData{}, errors.Wrapf(err, "unmarshal block %d", num)
	}
	return blockData, nil
}
