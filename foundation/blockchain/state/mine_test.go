package state_test

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/omahs/ganache/foundation/blockchain/database"
	"github.com/omahs/ganache/foundation/blockchain/database/storage/memory"
	"github.com/omahs/ganache/foundation/blockchain/state"
)

var errStorage = errors.New("storage unavailable")

// faultyStorage is a memory storage whose writes and truncations can be
// made to fail.
type faultyStorage struct {
	*memory.Memory
	failWrite    atomic.Bool
	failTruncate atomic.Bool
}

func (fs *faultyStorage) Write(blockData database.BlockData) error {
	if fs.failWrite.Load() {
		return errStorage
	}
	return fs.Memory.Write(blockData)
}

func (fs *faultyStorage) Truncate(num uint64) error {
	if fs.failTruncate.Load() {
		return errStorage
	}
	return fs.Memory.Truncate(num)
}

func withFaultyStorage(t *testing.T) (*faultyStorage, func(*state.Config)) {
	mem, err := memory.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create the memory storage: %v", failed, err)
	}

	fs := faultyStorage{Memory: mem}
	return &fs, func(cfg *state.Config) { cfg.Storage = &fs }
}

// =============================================================================

func Test_MineCount(t *testing.T) {
	t.Log("Given the need to mine a number of blocks on request.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen asking for zero blocks.", testID)
		{
			n := newNode(t, false, false)

			if _, err := n.st.SubmitTransaction(context.Background(), n.sign(t, 0, &n.to, 1)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to submit: %v", failed, testID, err)
			}

			mined, err := n.st.Mine(0, 0)
			if err != nil || mined != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould mine nothing: %d %v", failed, testID, mined, err)
			}
			if got := n.st.RetrieveLatestBlock().NumberU64(); got != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould stay at the genesis block, got %d.", failed, testID, got)
			}
			if got := n.st.QueryMempoolLength(); got != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the pool, got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould mine nothing and keep the pool.", success, testID)
		}
	}
}

func Test_MinerStop(t *testing.T) {
	t.Log("Given the need to pause automatic mining.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen submitting a transaction with mining stopped.", testID)
		{
			n := newNode(t, true, false)

			n.st.MinerStop()
			if n.st.IsMiningAllowed() {
				t.Fatalf("\t%s\tTest %d:\tShould report mining as stopped.", failed, testID)
			}

			hash, err := n.st.SubmitTransaction(context.Background(), n.sign(t, 0, &n.to, 1))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to submit: %v", failed, testID, err)
			}
			if got := n.st.RetrieveLatestBlock().NumberU64(); got != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not mine, got block %d.", failed, testID, got)
			}
			if got := n.st.QueryMempoolLength(); got != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the transaction in the pool, got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the transaction in the pool.", success, testID)

			mined, err := n.st.Mine(1, 0)
			if err != nil || mined != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould still mine on request: %d %v", failed, testID, mined, err)
			}

			info, err := n.st.QueryTransaction(hash)
			if err != nil || info.Lookup == nil || info.Lookup.BlockNumber != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould include the transaction in block 1: %v", failed, testID, err)
			}
			if got := n.st.QueryMempoolLength(); got != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould empty the pool, got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould still mine on request.", success, testID)
		}
	}
}

func Test_ReturnToPool(t *testing.T) {
	t.Log("Given the need to keep transactions a block can't include.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a transaction can't be paid for after the one before it.", testID)
		{
			n := newNode(t, false, false)
			ctx := context.Background()

			fee := new(big.Int).Mul(big.NewInt(int64(params.TxGas)), big.NewInt(2*params.GWei))
			value := new(big.Int).Sub(balance(t, n.st, n.from, state.Latest).ToBig(), fee)
			value.Sub(value, big.NewInt(1))

			tx0 := n.signAs(t, n.from, 0, &n.to, value, params.TxGas)
			tx1 := n.signAs(t, n.from, 1, &n.to, big.NewInt(params.Ether), params.TxGas)

			for _, tx := range []*types.Transaction{tx0, tx1} {
				if _, err := n.st.SubmitTransaction(ctx, tx); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to submit: %v", failed, testID, err)
				}
			}

			if _, err := n.st.Mine(1, 0); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine: %v", failed, testID, err)
			}

			block := n.st.RetrieveLatestBlock()
			if txs := block.Transactions(); len(txs) != 1 || txs[0].Hash() != tx0.Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould include only the first transaction, got %d.", failed, testID, len(txs))
			}
			t.Logf("\t%s\tTest %d:\tShould include only the first transaction.", success, testID)

			if got := balance(t, n.st, n.from, state.Latest); got.Uint64() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould leave one wei, got %s.", failed, testID, got)
			}

			if got := n.st.QueryMempoolLength(); got != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould return the second transaction to the pool, got %d.", failed, testID, got)
			}
			info, err := n.st.QueryTransaction(tx1.Hash())
			if err != nil || info.Lookup != nil {
				t.Fatalf("\t%s\tTest %d:\tShould find the second transaction pending: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould return the second transaction to the pool.", success, testID)
		}
	}
}

func Test_MiningFailure(t *testing.T) {
	t.Log("Given the need to survive a block that can't be stored.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the storage rejects the block.", testID)
		{
			fs, option := withFaultyStorage(t)
			n := newNode(t, false, false, option)

			hash, err := n.st.SubmitTransaction(context.Background(), n.sign(t, 0, &n.to, 1))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to submit: %v", failed, testID, err)
			}
			genesisHash := n.st.RetrieveLatestBlock().Hash()

			fs.failWrite.Store(true)

			mined, err := n.st.Mine(1, 0)
			if !errors.Is(err, errStorage) || mined != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould get the storage error: %d %v", failed, testID, mined, err)
			}
			t.Logf("\t%s\tTest %d:\tShould get the storage error.", success, testID)

			if got := n.st.RetrieveLatestBlock().Hash(); got != genesisHash {
				t.Fatalf("\t%s\tTest %d:\tShould keep the head at the genesis block.", failed, testID)
			}
			if got := n.st.QueryMempoolLength(); got != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould restore the pool, got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the head and restore the pool.", success, testID)

			fs.failWrite.Store(false)

			if _, err := n.st.Mine(1, 0); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine once the storage recovers: %v", failed, testID, err)
			}
			info, err := n.st.QueryTransaction(hash)
			if err != nil || info.Lookup == nil || info.Lookup.BlockNumber != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould include the transaction in block 1: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould mine the transaction once the storage recovers.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the storage can't truncate on revert.", testID)
		{
			fs, option := withFaultyStorage(t)
			n := newNode(t, false, false, option)

			id := n.st.Snapshot()
			if _, err := n.st.Mine(1, 0); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine: %v", failed, testID, err)
			}

			fs.failTruncate.Store(true)

			ok, err := n.st.Revert(id)
			if ok || !errors.Is(err, errStorage) || state.IsSnapshotError(err) {
				t.Fatalf("\t%s\tTest %d:\tShould get the storage error: %v", failed, testID, err)
			}
			if got := n.st.RetrieveLatestBlock().NumberU64(); got != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the chain, got block %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the chain when the revert fails.", success, testID)

			fs.failTruncate.Store(false)

			ok, err = n.st.Revert(id)
			if err != nil || !ok {
				t.Fatalf("\t%s\tTest %d:\tShould keep the snapshot for another attempt: %v", failed, testID, err)
			}
			if got := n.st.RetrieveLatestBlock().NumberU64(); got != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould be back at the genesis block, got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the snapshot for another attempt.", success, testID)
		}
	}
}

func Test_StrictAggregation(t *testing.T) {
	t.Log("Given the need to report every failed transaction of a mined block.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen pooled transactions revert in the block mined for another one.", testID)
		{
			n := newNode(t, true, true)
			ctx := context.Background()

			contract := n.deploy(t, testID, revertCode)
			other := n.ks.Accounts()[2]

			n.st.MinerStop()

			first, err := n.st.SendTransaction(ctx, state.SendArgs{From: n.from, To: &contract, Gas: 100_000})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould queue the first failing transaction: %v", failed, testID, err)
			}
			second, err := n.st.SubmitTransaction(ctx, n.signAs(t, other, 0, &contract, new(big.Int), 100_000))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould queue the second failing transaction: %v", failed, testID, err)
			}

			n.st.MinerStart()

			good, err := n.st.SubmitTransaction(ctx, n.signAs(t, n.to, 0, &other, big.NewInt(1), params.TxGas))

			var fte *state.FailedTransactionsError
			if !errors.As(err, &fte) || len(fte.Failures) != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould get both failures: %v", failed, testID, err)
			}
			got := map[common.Hash]bool{fte.Failures[0].Hash: true, fte.Failures[1].Hash: true}
			if !got[first] || !got[second] || got[good] {
				t.Fatalf("\t%s\tTest %d:\tShould list the failing hashes only: %v", failed, testID, err)
			}
			if len(fte.Unwrap()) != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould unwrap into one error per failure: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould list every failed transaction.", success, testID)

			for _, hash := range []common.Hash{first, second} {
				receipt, err := n.st.QueryReceipt(hash)
				if err != nil || receipt.Status != types.ReceiptStatusFailed || receipt.BlockNumber.Uint64() != 2 {
					t.Fatalf("\t%s\tTest %d:\tShould mine the failing transaction %s in block 2: %v", failed, testID, hash, err)
				}
			}
			receipt, err := n.st.QueryReceipt(good)
			if err != nil || receipt.Status != types.ReceiptStatusSuccessful || receipt.BlockNumber.Uint64() != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould mine the good transaction in block 2: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould mine all three transactions in block 2.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the request context is canceled.", testID)
		{
			n := newNode(t, true, true)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			hash, err := n.st.SubmitTransaction(ctx, n.sign(t, 0, &n.to, 1))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould not get an error: %v", failed, testID, err)
			}

			receipt, err := n.st.QueryReceipt(hash)
			if err != nil || receipt.BlockNumber.Uint64() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould still mine the transaction in block 1: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould still mine the transaction.", success, testID)
		}
	}
}
