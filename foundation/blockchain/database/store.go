package database

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
)

// StateNotFoundError is returned when a state root can't be resolved by the
// trie store.
type StateNotFoundError struct {
	Root common.Hash
	Err  error
}

// Error implements the error interface.
func (e *StateNotFoundError) Error() string {
	return fmt.Sprintf("state %s not found: %v", e.Root, e.Err)
}

// Unwrap returns the underlying trie error.
func (e *StateNotFoundError) Unwrap() error {
	return e.Err
}

// =============================================================================

// Store is the versioned world state. Trie nodes live in a single arena
// addressed by their content hash, so every committed root stays a valid
// read handle and opening a view only resolves the root node.
type Store struct {
	diskdb  ethdb.Database
	triedb  *triedb.Database
	statedb state.Database
	persist bool
}

// NewStore constructs a trie store over the key/value database. When
// persist is true every committed root is flushed to the database.
func NewStore(diskdb ethdb.Database, persist bool) *Store {
	tdb := triedb.NewDatabase(diskdb, &triedb.Config{Preimages: true})

	return &Store{
		diskdb:  diskdb,
		triedb:  tdb,
		statedb: state.NewDatabase(tdb, nil),
		persist: persist,
	}
}

// Close releases the trie database.
func (s *Store) Close() error {
	return s.triedb.Close()
}

// Open returns an independent mutable view of the state at the root. The
// view belongs to the caller and must not be shared.
func (s *Store) Open(root common.Hash) (*state.StateDB, error) {
	view, err := state.New(root, s.statedb)
	if err != nil {
		return nil, &StateNotFoundError{Root: root, Err: err}
	}

	return view, nil
}

// Has reports whether the root can be opened.
func (s *Store) Has(root common.Hash) bool {
	_, err := s.Open(root)
	return err == nil
}

// Commit writes the dirty nodes of the view into the arena and returns the
// new root. The view must not be used after the call.
func (s *Store) Commit(view *state.StateDB, number uint64) (common.Hash, error) {
	return s.commit(view, number, s.persist)
}

func (s *Store) commit(view *state.StateDB, number uint64, flush bool) (common.Hash, error) {
	root, err := view.Commit(number, true, false)
	if err != nil {
		return common.Hash{}, fmt.Errorf("commit state: %w", err)
	}

	if flush {
		if err := s.triedb.Commit(root, false); err != nil {
			return common.Hash{}, fmt.Errorf("flush state: %w", err)
		}
	}

	return root, nil
}

// =============================================================================

// Account returns the account record for the address at the root. Missing
// accounts are returned with zero values.
func (s *Store) Account(root common.Hash, addr common.Address) (Account, error) {
	view, err := s.Open(root)
	if err != nil {
		return Account{}, err
	}

	return AccountOf(view, addr), nil
}

// Code returns the contract code for the address at the root.
func (s *Store) Code(root common.Hash, addr common.Address) ([]byte, error) {
	view, err := s.Open(root)
	if err != nil {
		return nil, err
	}

	return view.GetCode(addr), nil
}

// StorageAt returns the storage word for the slot at the root.
func (s *Store) StorageAt(root common.Hash, addr common.Address, slot common.Hash) (common.Hash, error) {
	view, err := s.Open(root)
	if err != nil {
		return common.Hash{}, err
	}

	return view.GetState(addr, slot), nil
}

// =============================================================================

// StorageEntry is one slot of an account's storage. Key is the preimage of
// the hashed slot when it was recorded.
type StorageEntry struct {
	Key   *common.Hash `json:"key"`
	Value common.Hash  `json:"value"`
}

// StorageRangeResult is a page of an account's storage ordered by hashed
// slot, plus the hashed slot the next page starts at.
type StorageRangeResult struct {
	Storage map[common.Hash]StorageEntry `json:"storage"`
	NextKey *common.Hash                 `json:"nextKey"`
}

// StorageRange walks the storage trie of the account at the root starting
// from the hashed key start and returns at most max entries.
func (s *Store) StorageRange(root common.Hash, addr common.Address, start []byte, max int) (StorageRangeResult, error) {
	view, err := s.Open(root)
	if err != nil {
		return StorageRangeResult{}, err
	}

	return s.storageRange(root, view.GetStorageRoot(addr), addr, start, max)
}

// StorageRangeView is StorageRange for a view that has not been committed
// through the chain. The view is committed into the arena first so the
// storage trie nodes can be iterated. Nothing is flushed and the chain
// head is not touched. When the view's root was not already in the arena
// its nodes are released again once the page is read.
func (s *Store) StorageRangeView(view *state.StateDB, number uint64, addr common.Address, start []byte, max int) (StorageRangeResult, error) {
	known := s.Has(view.IntermediateRoot(true))

	root, err := s.commit(view, number, false)
	if err != nil {
		return StorageRangeResult{}, err
	}

	if !known {
		defer s.triedb.Dereference(root)
	}

	return s.StorageRange(root, addr, start, max)
}

func (s *Store) storageRange(stateRoot common.Hash, storageRoot common.Hash, addr common.Address, start []byte, max int) (StorageRangeResult, error) {
	id := trie.StorageTrieID(stateRoot, crypto.Keccak256Hash(addr.Bytes()), storageRoot)

	tr, err := trie.NewStateTrie(id, s.triedb)
	if err != nil {
		return StorageRangeResult{}, &StateNotFoundError{Root: storageRoot, Err: err}
	}

	nodeIter, err := tr.NodeIterator(start)
	if err != nil {
		return StorageRangeResult{}, err
	}
	it := trie.NewIterator(nodeIter)

	result := StorageRangeResult{
		Storage: make(map[common.Hash]StorageEntry),
	}

	for i := 0; i < max && it.Next(); i++ {
		_, content, _, err := rlp.Split(it.Value)
		if err != nil {
			return StorageRangeResult{}, fmt.Errorf("decode storage value: %w", err)
		}

		entry := StorageEntry{Value: common.BytesToHash(content)}
		if preimage := tr.GetKey(it.Key); preimage != nil {
			key := common.BytesToHash(preimage)
			entry.Key = &key
		}
		result.Storage[common.BytesToHash(it.Key)] = entry
	}

	if it.Next() {
		next := common.BytesToHash(it.Key)
		result.NextKey = &next
	}

	if it.Err != nil {
		return StorageRangeResult{}, it.Err
	}

	return result, nil
}

// =============================================================================

// emptyRoot is the root of a state with no accounts.
var emptyRoot = types.EmptyRootHash
