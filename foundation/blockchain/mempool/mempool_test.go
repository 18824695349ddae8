package mempool_test

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/omahs/ganache/foundation/blockchain/mempool"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pavelKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	billKey  = "9f332e3700d8fc2446eaf6d15034cf96e0c2745e40353deef032a5dbf1dfed93"
)

var (
	signer = types.LatestSignerForChainID(big.NewInt(1337))
	to     = common.HexToAddress("0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76")
)

// accounts is a fake of the committed state.
type accounts map[common.Address]struct {
	nonce   uint64
	balance uint64
}

func (a accounts) GetNonce(addr common.Address) uint64 {
	return a[addr].nonce
}

func (a accounts) GetBalance(addr common.Address) *uint256.Int {
	return uint256.NewInt(a[addr].balance)
}

func (a accounts) nonces(addr common.Address) uint64 {
	return a[addr].nonce
}

func key(t *testing.T, hexKey string) (*ecdsa.PrivateKey, common.Address) {
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load the private key: %v", failed, err)
	}
	return pk, crypto.PubkeyToAddress(pk.PublicKey)
}

func sign(t *testing.T, pk *ecdsa.PrivateKey, nonce uint64, gas uint64, price int64) *types.Transaction {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(100),
		Gas:      gas,
		GasPrice: big.NewInt(price),
	})

	signed, err := types.SignTx(tx, signer, pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the transaction: %v", failed, err)
	}
	return signed
}

func newPool(t *testing.T) *mempool.Mempool {
	mp, err := mempool.New(signer, mempool.Limits{BlockGasLimit: 30_000_000, MinGasPrice: big.NewInt(1)})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the mempool: %v", failed, err)
	}
	return mp
}

// =============================================================================

func TestValidation(t *testing.T) {
	pavel, pavelAddr := key(t, pavelKey)

	state := accounts{
		pavelAddr: {nonce: 2, balance: 1_000_000},
	}

	type table struct {
		name   string
		tx     *types.Transaction
		reason string
	}

	tt := []table{
		{"nonce too low", sign(t, pavel, 1, 21000, 10), mempool.ReasonNonceTooLow},
		{"gas limit exceeded", sign(t, pavel, 2, 31_000_000, 10), mempool.ReasonGasLimitExceeded},
		{"intrinsic gas", sign(t, pavel, 2, 20_000, 10), mempool.ReasonIntrinsicGas},
		{"underpriced", sign(t, pavel, 2, 21000, 0), mempool.ReasonUnderpriced},
		{"insufficient funds", sign(t, pavel, 2, 21000, 1000), mempool.ReasonInsufficientFunds},
	}

	t.Log("Given the need to reject transactions that can't enter the pool.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling %s.", testID, tst.name)
			{
				f := func(t *testing.T) {
					mp := newPool(t)

					_, err := mp.Upsert(tst.tx, state)
					if !mempool.IsReject(err, tst.reason) {
						t.Fatalf("\t%s\tTest %d:\tShould be rejected with %s: %v", failed, testID, tst.reason, err)
					}
					if mp.Count() != 0 {
						t.Fatalf("\t%s\tTest %d:\tShould not enter the pool.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould be rejected with %s.", success, testID, tst.reason)
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func TestNonceGap(t *testing.T) {
	pavel, pavelAddr := key(t, pavelKey)

	state := accounts{
		pavelAddr: {nonce: 0, balance: 1_000_000_000},
	}

	t.Log("Given the need to queue transactions behind a nonce gap.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen nonce 1 arrives before nonce 0.", testID)
		{
			mp := newPool(t)

			tx1 := sign(t, pavel, 1, 21000, 10)
			executable, err := mp.Upsert(tx1, state)
			if err != nil || executable {
				t.Fatalf("\t%s\tTest %d:\tShould accept nonce 1 as queued: %v %v", failed, testID, executable, err)
			}
			t.Logf("\t%s\tTest %d:\tShould accept nonce 1 as queued.", success, testID)

			if txs := mp.Drain(-1, state.nonces); len(txs) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould drain nothing while the gap is open, got %d.", failed, testID, len(txs))
			}
			if len(mp.Queued(state.nonces)) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould report one queued transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould drain nothing while the gap is open.", success, testID)

			tx0 := sign(t, pavel, 0, 21000, 10)
			executable, err = mp.Upsert(tx0, state)
			if err != nil || !executable {
				t.Fatalf("\t%s\tTest %d:\tShould accept nonce 0 as executable: %v %v", failed, testID, executable, err)
			}

			if n := mp.NextNonce(pavelAddr, 0); n != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould report next nonce 2, got %d.", failed, testID, n)
			}

			txs := mp.Drain(-1, state.nonces)
			if len(txs) != 2 || txs[0].Hash() != tx0.Hash() || txs[1].Hash() != tx1.Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould drain both in nonce order, got %d.", failed, testID, len(txs))
			}
			if mp.Count() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould empty the pool.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould drain both in nonce order once the gap closes.", success, testID)
		}
	}
}

func TestReplacement(t *testing.T) {
	pavel, pavelAddr := key(t, pavelKey)

	state := accounts{
		pavelAddr: {nonce: 0, balance: 1_000_000_000},
	}

	t.Log("Given the need to replace a pooled transaction.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the same account and nonce is submitted again.", testID)
		{
			mp := newPool(t)

			first := sign(t, pavel, 0, 21000, 10)
			if _, err := mp.Upsert(first, state); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept the first transaction: %v", failed, testID, err)
			}

			if _, err := mp.Upsert(first, state); !mempool.IsReject(err, mempool.ReasonAlreadyKnown) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a known transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a known transaction.", success, testID)

			if _, err := mp.Upsert(sign(t, pavel, 0, 22000, 10), state); !mempool.IsReject(err, mempool.ReasonReplacementUnderpriced) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a replacement at the same price: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a replacement at the same price.", success, testID)

			better := sign(t, pavel, 0, 21000, 11)
			if _, err := mp.Upsert(better, state); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept a better priced replacement: %v", failed, testID, err)
			}

			if _, found := mp.Find(first.Hash()); found {
				t.Fatalf("\t%s\tTest %d:\tShould not find the replaced transaction.", failed, testID)
			}
			if _, found := mp.Find(better.Hash()); !found || mp.Count() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould hold only the replacement.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould hold only the replacement.", success, testID)
		}
	}
}

func TestRestoreAndReplace(t *testing.T) {
	pavel, pavelAddr := key(t, pavelKey)
	bill, billAddr := key(t, billKey)

	state := accounts{
		pavelAddr: {nonce: 0, balance: 1_000_000_000},
		billAddr:  {nonce: 0, balance: 1_000_000_000},
	}

	t.Log("Given the need to return transactions to the pool.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen restoring drained transactions.", testID)
		{
			mp := newPool(t)

			p0 := sign(t, pavel, 0, 21000, 10)
			mp.Upsert(p0, state)

			drained := mp.Drain(-1, state.nonces)

			b0 := sign(t, bill, 0, 21000, 10)
			mp.Upsert(b0, state)

			mp.Restore(drained)

			txs := mp.Drain(-1, state.nonces)
			if len(txs) != 2 || txs[0].Hash() != p0.Hash() || txs[1].Hash() != b0.Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould drain the restored transaction first.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould drain the restored transaction first.", success, testID)

			mp.Replace([]*types.Transaction{b0, p0})
			cpy := mp.Copy()
			if len(cpy) != 2 || cpy[0].Hash() != b0.Hash() || cpy[1].Hash() != p0.Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould copy the replaced contents in order.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould copy the replaced contents in order.", success, testID)

			if !mp.Remove(b0.Hash()) || mp.Remove(b0.Hash()) {
				t.Fatalf("\t%s\tTest %d:\tShould remove a transaction once.", failed, testID)
			}
			mp.Truncate()
			if mp.Count() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould truncate the pool.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould remove and truncate.", success, testID)
		}
	}
}
