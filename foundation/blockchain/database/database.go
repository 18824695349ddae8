// Package database handles all the lower level support for maintaining the
// blockchain: the versioned state trie and the chain of committed blocks
// with their receipts.
package database

import (
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/omahs/ganache/foundation/blockchain/genesis"
)

// ErrNotFound is returned when a block or transaction isn't in the chain.
var ErrNotFound = errors.New("not found")

// ErrEndOfChain is returned by an Iterator once every block was read. Any
// other error from Next means the stored chain could not be read.
var ErrEndOfChain = errors.New("end of chain")

// Serializer interface represents the behavior required to be implemented by any
// package providing support for storing and reading the blockchain.
type Serializer interface {
	Write(blockData BlockData) error
	GetBlock(num uint64) (BlockData, error)
	ForEach() Iterator
	Truncate(num uint64) error
	NodeDB() ethdb.Database
	Persistent() bool
	Close() error
}

// Iterator interface represents the behavior required to be implemented by any
// package providing support to iterate over the blocks.
type Iterator interface {
	Next() (BlockData, error)
	Done() bool
}

// =============================================================================

// entry is one committed block with everything recorded next to it.
type entry struct {
	block    *types.Block
	receipts []*types.Receipt
	outcomes []Outcome
	td       *big.Int
}

// Database manages the chain of committed blocks and the state trie store
// their roots point into.
type Database struct {
	mu sync.RWMutex

	genesis genesis.Genesis
	store   *Store
	chain   []entry
	byHash  map[common.Hash]uint64
	txs     map[common.Hash]TxLookup

	serializer Serializer
}

// New constructs a new database. If the serializer holds a chain it is
// reloaded and validated, otherwise the genesis block is built with the
// specified balances and written.
func New(gen genesis.Genesis, alloc map[common.Address]*uint256.Int, serializer Serializer, evHandler func(v string, args ...any)) (*Database, error) {
	db := Database{
		genesis:    gen,
		store:      NewStore(serializer.NodeDB(), serializer.Persistent()),
		byHash:     make(map[common.Hash]uint64),
		txs:        make(map[common.Hash]TxLookup),
		serializer: serializer,
	}

	iter := serializer.ForEach()
	for {
		blockData, err := iter.Next()
		if errors.Is(err, ErrEndOfChain) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("loading chain: %w", err)
		}

		block, err := ToBlock(blockData)
		if err != nil {
			return nil, err
		}

		if len(db.chain) == 0 {
			if block.NumberU64() != 0 {
				return nil, fmt.Errorf("%w: first stored block is %d", ErrChainBroken, block.NumberU64())
			}
		} else {
			if err := ValidateBlock(block, db.chain[len(db.chain)-1].block, blockData.Receipts, evHandler); err != nil {
				return nil, err
			}
		}

		if !db.store.Has(block.Root()) {
			return nil, &StateNotFoundError{Root: block.Root(), Err: fmt.Errorf("block %d", block.NumberU64())}
		}

		db.append(block, blockData.Receipts, blockData.Outcomes, blockData.TotalDifficulty.ToInt())
	}

	if len(db.chain) > 0 {
		evHandler("database: New: reloaded chain: blocks[%d]", len(db.chain))
		return &db, nil
	}

	if err := db.writeGenesis(alloc); err != nil {
		return nil, err
	}

	evHandler("database: New: genesis: blk[%s]", db.chain[0].block.Hash())

	return &db, nil
}

// writeGenesis commits the genesis balances and writes block zero.
func (db *Database) writeGenesis(alloc map[common.Address]*uint256.Int) error {
	view, err := db.store.Open(emptyRoot)
	if err != nil {
		return err
	}

	for addr, balance := range alloc {
		view.AddBalance(addr, balance, tracing.BalanceIncreaseGenesisBalance)
	}

	root, err := db.store.Commit(view, 0)
	if err != nil {
		return err
	}

	header := types.Header{
		ParentHash: common.Hash{},
		Coinbase:   db.genesis.CoinbaseAddress(),
		Root:       root,
		Difficulty: big.NewInt(1),
		Number:     big.NewInt(0),
		GasLimit:   db.genesis.GasLimit,
		Time:       uint64(db.genesis.Date.Unix()),
		Extra:      db.genesis.Extra(),
		BaseFee:    big.NewInt(params.InitialBaseFee),
	}

	block := NewBlock(&header, nil, nil)

	return db.Write(block, nil, nil)
}

// Close closes the serializer and the trie store.
func (db *Database) Close() error {
	if err := db.store.Close(); err != nil {
		return err
	}
	return db.serializer.Close()
}

// Store returns the state trie store.
func (db *Database) Store() *Store {
	return db.store
}

// =============================================================================

// Write appends a new block to the chain. The block must be the child of
// the latest block.
func (db *Database) Write(block *types.Block, receipts []*types.Receipt, outcomes []Outcome) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	td := new(big.Int).Set(block.Difficulty())
	if n := len(db.chain); n > 0 {
		latest := db.chain[n-1]
		if block.NumberU64() != latest.block.NumberU64()+1 || block.ParentHash() != latest.block.Hash() {
			return fmt.Errorf("%w: block %d does not extend head %d", ErrChainBroken, block.NumberU64(), latest.block.NumberU64())
		}
		td.Add(td, latest.td)
	}

	blockData, err := NewBlockData(block, receipts, outcomes, td)
	if err != nil {
		return err
	}

	if err := db.serializer.Write(blockData); err != nil {
		return err
	}

	db.append(block, receipts, outcomes, td)

	return nil
}

func (db *Database) append(block *types.Block, receipts []*types.Receipt, outcomes []Outcome, td *big.Int) {
	number := block.NumberU64()

	db.chain = append(db.chain, entry{block: block, receipts: receipts, outcomes: outcomes, td: td})
	db.byHash[block.Hash()] = number

	for i, tx := range block.Transactions() {
		db.txs[tx.Hash()] = TxLookup{BlockHash: block.Hash(), BlockNumber: number, Index: uint64(i)}
	}
}

// Truncate removes every block above the specified number. Used to revert
// the chain to a snapshot.
func (db *Database) Truncate(num uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if num >= uint64(len(db.chain)) {
		return fmt.Errorf("block %d: %w", num, ErrNotFound)
	}

	if err := db.serializer.Truncate(num); err != nil {
		return err
	}

	for _, e := range db.chain[num+1:] {
		delete(db.byHash, e.block.Hash())
		for _, tx := range e.block.Transactions() {
			delete(db.txs, tx.Hash())
		}
	}

	clear(db.chain[num+1:])
	db.chain = db.chain[:num+1]

	return nil
}

// =============================================================================

// LatestBlock returns the latest block.
func (db *Database) LatestBlock() *types.Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.chain[len(db.chain)-1].block
}

// GenesisBlock returns block zero.
func (db *Database) GenesisBlock() *types.Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.chain[0].block
}

// BlockByNumber returns the block with the specified number.
func (db *Database) BlockByNumber(num uint64) (*types.Block, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if num >= uint64(len(db.chain)) {
		return nil, fmt.Errorf("block %d: %w", num, ErrNotFound)
	}

	return db.chain[num].block, nil
}

// BlockByHash returns the block with the specified hash.
func (db *Database) BlockByHash(hash common.Hash) (*types.Block, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	num, exists := db.byHash[hash]
	if !exists {
		return nil, fmt.Errorf("block %s: %w", hash, ErrNotFound)
	}

	return db.chain[num].block, nil
}

// Receipts returns the receipts of the block with the specified number.
func (db *Database) Receipts(num uint64) ([]*types.Receipt, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if num >= uint64(len(db.chain)) {
		return nil, fmt.Errorf("block %d: %w", num, ErrNotFound)
	}

	return db.chain[num].receipts, nil
}

// TotalDifficulty returns the sum of difficulties up to the block.
func (db *Database) TotalDifficulty(num uint64) (*big.Int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if num >= uint64(len(db.chain)) {
		return nil, fmt.Errorf("block %d: %w", num, ErrNotFound)
	}

	return new(big.Int).Set(db.chain[num].td), nil
}

// Transaction returns a mined transaction with its receipt and outcome.
func (db *Database) Transaction(hash common.Hash) (MinedTx, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	lookup, exists := db.txs[hash]
	if !exists {
		return MinedTx{}, fmt.Errorf("transaction %s: %w", hash, ErrNotFound)
	}

	e := db.chain[lookup.BlockNumber]

	mined := MinedTx{
		Tx:      e.block.Transactions()[lookup.Index],
		Lookup:  lookup,
		Receipt: e.receipts[lookup.Index],
	}
	if int(lookup.Index) < len(e.outcomes) {
		mined.Outcome = e.outcomes[lookup.Index]
	}

	return mined, nil
}

// Receipt returns the receipt of a mined transaction.
func (db *Database) Receipt(hash common.Hash) (*types.Receipt, error) {
	mined, err := db.Transaction(hash)
	if err != nil {
		return nil, err
	}
	return mined.Receipt, nil
}

// Outcome returns the execution outcome of a mined transaction.
func (db *Database) Outcome(hash common.Hash) (Outcome, error) {
	mined, err := db.Transaction(hash)
	if err != nil {
		return Outcome{}, err
	}
	return mined.Outcome, nil
}

// GetHash returns the hash of the block with the specified number or the
// zero hash if there is no such block. It backs the BLOCKHASH opcode.
func (db *Database) GetHash(num uint64) common.Hash {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if num >= uint64(len(db.chain)) {
		return common.Hash{}
	}
	return db.chain[num].block.Hash()
}

// ForEach calls the function for every block from from to to inclusive
// together with its receipts. Iteration stops at the first error.
func (db *Database) ForEach(from uint64, to uint64, fn func(block *types.Block, receipts []*types.Receipt) error) error {
	db.mu.RLock()
	if to >= uint64(len(db.chain)) {
		to = uint64(len(db.chain)) - 1
	}
	var entries []entry
	if from <= to {
		entries = slices.Clone(db.chain[from : to+1])
	}
	db.mu.RUnlock()

	for _, e := range entries {
		if err := fn(e.block, e.receipts); err != nil {
			return err
		}
	}

	return nil
}
