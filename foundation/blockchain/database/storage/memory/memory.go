// Package memory implements the ability to read and write blocks to memory
// using a slice.
package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/omahs/ganache/foundation/blockchain/database"
)

// Memory represents the serialization implementation for reading and storing
// blocks in memory using a slice. Trie nodes are kept in an in-memory key
// value store. This implements the database.Serializer interface.
type Memory struct {
	mu     sync.RWMutex
	blocks []database.BlockData
	nodes  ethdb.Database
}

// New constructs an Memory value for use.
func New() (*Memory, error) {
	return &Memory{nodes: rawdb.NewMemoryDatabase()}, nil
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// NodeDB returns the key value store for the trie nodes.
func (m *Memory) NodeDB() ethdb.Database {
	return m.nodes
}

// Persistent reports that nothing survives a restart.
func (m *Memory) Persistent() bool {
	return false
}

// Write takes the specified database blocks and stores it in memory.
func (m *Memory) Write(blockData database.BlockData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := len(m.blocks)
	if l != int(blockData.Number) {
		return fmt.Errorf("block is out of order, got %d, exp %d", blockData.Number, l)
	}

	m.blocks = append(m.blocks, blockData)

	return nil
}

// GetBlock searches the blockchain to locate and return the contents of
// the specified block by number.
func (m *Memory) GetBlock(num uint64) (database.BlockData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l := uint64(len(m.blocks))
	if l == 0 || num >= l {
		return database.BlockData{}, errors.New("block does not exist")
	}

	return m.blocks[num], nil
}

// Truncate removes every block above the specified number.
func (m *Memory) Truncate(num uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if num >= uint64(len(m.blocks)) {
		return errors.New("block does not exist")
	}

	clear(m.blocks[num+1:])
	m.blocks = m.blocks[:num+1]

	return nil
}

// ForEach returns an iterator to walk through all the blocks
// starting with block number 0.
func (m *Memory) ForEach() database.Iterator {
	return &memoryIterator{storage: m}
}

// =============================================================================

// memoryIterator represents the iteration implementation for walking
// through and reading blocks in memory. This implements the database
// Iterator interface.
type memoryIterator struct {
	storage *Memory // Access to the storage API.
	current uint64  // Current block number being iterated over.
	eoc     bool    // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block from memory.
func (mi *memoryIterator) Next() (database.BlockData, error) {
	if mi.eoc {
		return database.BlockData{}, database.ErrEndOfChain
	}

	mi.storage.mu.RLock()
	length := uint64(len(mi.storage.blocks))
	mi.storage.mu.RUnlock()

	if mi.current >= length {
		mi.eoc = true
		return database.BlockData{}, database.ErrEndOfChain
	}

	blockData, err := mi.storage.GetBlock(mi.current)
	mi.current++

	return blockData, err
}

// Done returns the end of chain value.
func (mi *memoryIterator) Done() bool {
	return mi.eoc
}
