package database_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/omahs/ganache/foundation/blockchain/database"
	"github.com/omahs/ganache/foundation/blockchain/database/storage/disk"
	"github.com/omahs/ganache/foundation/blockchain/database/storage/memory"
	"github.com/omahs/ganache/foundation/blockchain/genesis"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

var (
	alice = common.HexToAddress("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	bob   = common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
)

func evHandler(v string, args ...any) {}

func newDatabase(t *testing.T, serializer database.Serializer) *database.Database {
	gen := genesis.Default()
	gen.Date = time.Unix(1_700_000_000, 0)

	alloc := map[common.Address]*uint256.Int{
		alice: uint256.NewInt(1000),
	}

	db, err := database.New(gen, alloc, serializer, evHandler)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open database: %v", failed, err)
	}

	return db
}

// child builds an empty block on top of the latest block with the
// specified state root.
func child(db *database.Database, root common.Hash) *types.Block {
	parent := db.LatestBlock()

	header := types.Header{
		ParentHash: parent.Hash(),
		Root:       root,
		Difficulty: big.NewInt(1),
		Number:     new(big.Int).Add(parent.Number(), big.NewInt(1)),
		GasLimit:   parent.GasLimit(),
		Time:       parent.Time() + 1,
		BaseFee:    parent.BaseFee(),
	}

	return database.NewBlock(&header, nil, nil)
}

// =============================================================================

func Test_Store(t *testing.T) {
	t.Log("Given the need to keep historical state roots readable.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen committing a change on top of genesis.", testID)
		{
			mem, _ := memory.New()
			db := newDatabase(t, mem)
			store := db.Store()

			genesisRoot := db.LatestBlock().Root()

			view, err := store.Open(genesisRoot)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to open the genesis root: %v", failed, testID, err)
			}

			view.SubBalance(alice, uint256.NewInt(100), tracing.BalanceChangeTransfer)
			view.AddBalance(bob, uint256.NewInt(100), tracing.BalanceChangeTransfer)
			view.SetState(bob, common.Hash{1}, common.Hash{2})

			root, err := store.Commit(view, 1)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to commit: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to commit.", success, testID)

			old, err := store.Account(genesisRoot, alice)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to read the old root: %v", failed, testID, err)
			}
			if old.Balance.Uint64() != 1000 {
				t.Fatalf("\t%s\tTest %d:\tShould see the old balance at the old root, got %d.", failed, testID, old.Balance.Uint64())
			}
			t.Logf("\t%s\tTest %d:\tShould see the old balance at the old root.", success, testID)

			acct, _ := store.Account(root, bob)
			if acct.Balance.Uint64() != 100 {
				t.Fatalf("\t%s\tTest %d:\tShould see the new balance at the new root, got %d.", failed, testID, acct.Balance.Uint64())
			}

			word, _ := store.StorageAt(root, bob, common.Hash{1})
			if word != (common.Hash{2}) {
				t.Fatalf("\t%s\tTest %d:\tShould see the storage word at the new root, got %s.", failed, testID, word)
			}
			t.Logf("\t%s\tTest %d:\tShould see the new values at the new root.", success, testID)

			rng, err := store.StorageRange(root, bob, nil, 10)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to range the storage: %v", failed, testID, err)
			}
			if len(rng.Storage) != 1 || rng.NextKey != nil {
				t.Fatalf("\t%s\tTest %d:\tShould get one entry and no next key: %+v", failed, testID, rng)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to range the storage.", success, testID)

			var notFound *database.StateNotFoundError
			if _, err := store.Open(common.Hash{0xde, 0xad}); !errors.As(err, &notFound) {
				t.Fatalf("\t%s\tTest %d:\tShould get a state not found error: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould get a state not found error for an unknown root.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen ranging the storage of a view that was never committed.", testID)
		{
			mem, _ := memory.New()
			db := newDatabase(t, mem)
			store := db.Store()

			genesisRoot := db.LatestBlock().Root()

			change := func() *state.StateDB {
				view, err := store.Open(genesisRoot)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to open the genesis root: %v", failed, testID, err)
				}
				view.AddBalance(bob, uint256.NewInt(1), tracing.BalanceChangeTransfer)
				view.SetState(bob, common.Hash{3}, common.Hash{4})
				return view
			}

			viewRoot := change().IntermediateRoot(true)

			rng, err := store.StorageRangeView(change(), 1, bob, nil, 10)
			if err != nil || len(rng.Storage) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould get the storage of the view: %v %+v", failed, testID, err, rng)
			}
			t.Logf("\t%s\tTest %d:\tShould get the storage of the view.", success, testID)

			if store.Has(viewRoot) {
				t.Fatalf("\t%s\tTest %d:\tShould release the nodes of the view.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould release the nodes of the view.", success, testID)

			if !store.Has(genesisRoot) {
				t.Fatalf("\t%s\tTest %d:\tShould keep the committed root readable.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the committed root readable.", success, testID)
		}
	}
}

func Test_AccountEncoding(t *testing.T) {
	t.Log("Given the need to encode accounts as trie values.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen encoding an account without code.", testID)
		{
			acct := database.Account{Address: alice, Nonce: 7, Balance: uint256.NewInt(42)}

			data, err := database.EncodeAccount(acct)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to encode: %v", failed, testID, err)
			}

			got, err := database.DecodeAccount(alice, data)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to decode: %v", failed, testID, err)
			}

			if got.Nonce != 7 || got.Balance.Uint64() != 42 || got.StorageRoot != types.EmptyRootHash || got.CodeHash != types.EmptyCodeHash {
				t.Fatalf("\t%s\tTest %d:\tShould get the empty roots filled in: %+v", failed, testID, got)
			}
			if got.IsContract() {
				t.Fatalf("\t%s\tTest %d:\tShould not be a contract.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould get the 4-tuple back with empty roots.", success, testID)
		}
	}
}

func Test_Chain(t *testing.T) {
	t.Log("Given the need to append and truncate blocks.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen writing three blocks and truncating to one.", testID)
		{
			mem, _ := memory.New()
			db := newDatabase(t, mem)
			root := db.LatestBlock().Root()

			var blocks []*types.Block
			for range 3 {
				block := child(db, root)
				if err := db.Write(block, nil, nil); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to write a block: %v", failed, testID, err)
				}
				blocks = append(blocks, block)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to write blocks.", success, testID)

			if db.LatestBlock().NumberU64() != 3 {
				t.Fatalf("\t%s\tTest %d:\tShould have block 3 as head, got %d.", failed, testID, db.LatestBlock().NumberU64())
			}

			td, _ := db.TotalDifficulty(3)
			if td.Uint64() != 4 {
				t.Fatalf("\t%s\tTest %d:\tShould accumulate total difficulty, got %d.", failed, testID, td.Uint64())
			}
			t.Logf("\t%s\tTest %d:\tShould accumulate total difficulty.", success, testID)

			if err := db.Write(blocks[1], nil, nil); !errors.Is(err, database.ErrChainBroken) {
				t.Fatalf("\t%s\tTest %d:\tShould not accept a block that doesn't extend the head: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not accept a block that doesn't extend the head.", success, testID)

			if err := db.Truncate(1); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to truncate: %v", failed, testID, err)
			}

			if db.LatestBlock().Hash() != blocks[0].Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould have block 1 as head.", failed, testID)
			}
			if _, err := db.BlockByHash(blocks[2].Hash()); !errors.Is(err, database.ErrNotFound) {
				t.Fatalf("\t%s\tTest %d:\tShould not find a truncated block: %v", failed, testID, err)
			}
			if db.GetHash(2) != (common.Hash{}) {
				t.Fatalf("\t%s\tTest %d:\tShould not return a hash for a truncated number.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould drop the truncated blocks.", success, testID)

			if err := db.Write(child(db, root), nil, nil); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to write after truncating: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to write after truncating.", success, testID)
		}
	}
}

func Test_DiskReload(t *testing.T) {
	t.Log("Given the need to reload a chain from disk.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen reopening a database with two blocks.", testID)
		{
			dir := t.TempDir()

			d, err := disk.New(dir)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to open the disk: %v", failed, testID, err)
			}
			db := newDatabase(t, d)

			view, _ := db.Store().Open(db.LatestBlock().Root())
			view.AddBalance(bob, uint256.NewInt(5), tracing.BalanceChangeTransfer)
			root, err := db.Store().Commit(view, 1)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to commit: %v", failed, testID, err)
			}

			head := child(db, root)
			if err := db.Write(head, nil, nil); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to write: %v", failed, testID, err)
			}
			if err := db.Close(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to close: %v", failed, testID, err)
			}

			d, err = disk.New(dir)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to reopen the disk: %v", failed, testID, err)
			}
			db = newDatabase(t, d)
			defer db.Close()

			if db.LatestBlock().Hash() != head.Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould reload the head block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reload the head block.", success, testID)

			acct, err := db.Store().Account(db.LatestBlock().Root(), bob)
			if err != nil || acct.Balance.Uint64() != 5 {
				t.Fatalf("\t%s\tTest %d:\tShould read the state of the head block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould read the state of the head block.", success, testID)
		}
	}
}

// brokenStorage is a memory serializer whose stored chain can't be read.
type brokenStorage struct {
	*memory.Memory
	writes int
}

func (b *brokenStorage) ForEach() database.Iterator {
	return brokenIterator{}
}

func (b *brokenStorage) Write(blockData database.BlockData) error {
	b.writes++
	return b.Memory.Write(blockData)
}

type brokenIterator struct{}

func (brokenIterator) Next() (database.BlockData, error) {
	return database.BlockData{}, errors.New("corrupted block index")
}

func (brokenIterator) Done() bool {
	return false
}

func Test_LoadError(t *testing.T) {
	t.Log("Given the need to keep a stored chain that can't be read.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the first stored block fails to load.", testID)
		{
			mem, _ := memory.New()
			storage := brokenStorage{Memory: mem}

			_, err := database.New(genesis.Default(), nil, &storage, evHandler)
			if err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould return the load error.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould return the load error.", success, testID)

			if storage.writes != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not write a genesis block over the chain, got %d writes.", failed, testID, storage.writes)
			}
			t.Logf("\t%s\tTest %d:\tShould not write a genesis block over the chain.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the chain is read to its end.", testID)
		{
			mem, _ := memory.New()
			newDatabase(t, mem)

			iter := mem.ForEach()
			if _, err := iter.Next(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould read the genesis block: %v", failed, testID, err)
			}
			if _, err := iter.Next(); !errors.Is(err, database.ErrEndOfChain) || !iter.Done() {
				t.Fatalf("\t%s\tTest %d:\tShould report the end of the chain, got %v.", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould report the end of the chain.", success, testID)
		}
	}
}
