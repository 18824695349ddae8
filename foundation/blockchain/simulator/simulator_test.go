package simulator_test

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/omahs/ganache/foundation/blockchain/database"
	"github.com/omahs/ganache/foundation/blockchain/database/storage/memory"
	"github.com/omahs/ganache/foundation/blockchain/genesis"
	"github.com/omahs/ganache/foundation/blockchain/simulator"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// storeCode deploys a contract that stores the first calldata word in slot
// zero and returns the stored word.
var storeCode = hexutil.MustDecode("0x6011600c60003960116000f3" + "600035600055600054600052602060" + "00f3")

// revertCode deploys a contract that always reverts with no data.
var revertCode = hexutil.MustDecode("0x6005600c60003960056000f3" + "60006000fd")

type harness struct {
	db     *database.Database
	sim    *simulator.Simulator
	gen    genesis.Genesis
	signer types.Signer
	key    *ecdsa.PrivateKey
	from   common.Address
}

func newHarness(t *testing.T) *harness {
	key, err := crypto.HexToECDSA("fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959")
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load the private key: %v", failed, err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	gen := genesis.Default()
	gen.Date = time.Unix(1_700_000_000, 0)

	mem, _ := memory.New()
	db, err := database.New(gen, map[common.Address]*uint256.Int{from: gen.DefaultBalanceWei()}, mem, func(string, ...any) {})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open the database: %v", failed, err)
	}

	config := gen.ChainConfig()

	return &harness{
		db:     db,
		sim:    simulator.New(config, db, 0),
		gen:    gen,
		signer: types.LatestSigner(config),
		key:    key,
		from:   from,
	}
}

func (h *harness) header() *types.Header {
	parent := h.db.LatestBlock()

	return &types.Header{
		ParentHash: parent.Hash(),
		Coinbase:   h.gen.CoinbaseAddress(),
		Difficulty: big.NewInt(1),
		Number:     new(big.Int).Add(parent.Number(), big.NewInt(1)),
		GasLimit:   parent.GasLimit(),
		Time:       parent.Time() + 1,
		BaseFee:    parent.BaseFee(),
	}
}

func (h *harness) view(t *testing.T) *state.StateDB {
	view, err := h.db.Store().Open(h.db.LatestBlock().Root())
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open the latest state: %v", failed, err)
	}
	return view
}

func (h *harness) tx(t *testing.T, nonce uint64, to *common.Address, gas uint64, data []byte) *types.Transaction {
	tx, err := types.SignNewTx(h.key, h.signer, &types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Gas:      gas,
		GasPrice: big.NewInt(2 * params.GWei),
		Data:     data,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the transaction: %v", failed, err)
	}
	return tx
}

// mine applies the transactions on top of the latest block and writes the
// resulting block.
func (h *harness) mine(t *testing.T, txs ...*types.Transaction) *types.Block {
	header := h.header()
	view := h.view(t)
	gp := new(core.GasPool).AddGas(header.GasLimit)

	var usedGas uint64
	var receipts []*types.Receipt
	var outcomes []database.Outcome
	for i, tx := range txs {
		receipt, outcome, err := h.sim.Apply(view, header, tx, i, gp, &usedGas, nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to apply tx %d: %v", failed, i, err)
		}
		receipts = append(receipts, receipt)
		outcomes = append(outcomes, outcome)
	}

	root, err := h.db.Store().Commit(view, header.Number.Uint64())
	if err != nil {
		t.Fatalf("\t%s\tShould be able to commit the state: %v", failed, err)
	}
	header.Root = root
	header.GasUsed = usedGas

	block := database.NewBlock(header, txs, receipts)
	if err := h.db.Write(block, receipts, outcomes); err != nil {
		t.Fatalf("\t%s\tShould be able to write the block: %v", failed, err)
	}

	return block
}

// =============================================================================

func Test_Apply(t *testing.T) {
	t.Log("Given the need to execute transactions into a block.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen deploying a contract and sending a bad nonce.", testID)
		{
			h := newHarness(t)
			header := h.header()
			view := h.view(t)
			gp := new(core.GasPool).AddGas(header.GasLimit)

			var usedGas uint64
			receipt, outcome, err := h.sim.Apply(view, header, h.tx(t, 0, nil, 200_000, storeCode), 0, gp, &usedGas, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to deploy: %v", failed, testID, err)
			}
			if receipt.Status != types.ReceiptStatusSuccessful || outcome.Failed() {
				t.Fatalf("\t%s\tTest %d:\tShould get a successful receipt: %+v", failed, testID, outcome)
			}
			if receipt.ContractAddress != crypto.CreateAddress(h.from, 0) {
				t.Fatalf("\t%s\tTest %d:\tShould get the contract address, got %s.", failed, testID, receipt.ContractAddress)
			}
			if len(view.GetCode(receipt.ContractAddress)) != 17 {
				t.Fatalf("\t%s\tTest %d:\tShould find the runtime code on the view.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to deploy the contract.", success, testID)

			gas := gp.Gas()
			used := usedGas

			_, _, err = h.sim.Apply(view, header, h.tx(t, 5, &h.from, 21_000, nil), 1, gp, &usedGas, nil)
			if !errors.Is(err, core.ErrNonceTooHigh) {
				t.Fatalf("\t%s\tTest %d:\tShould get a nonce error: %v", failed, testID, err)
			}
			if gp.Gas() != gas || usedGas != used || view.GetNonce(h.from) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould leave the view and the gas pool untouched.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a bad nonce without side effects.", success, testID)
		}
	}
}

func Test_CallAndEstimate(t *testing.T) {
	t.Log("Given the need to run calls that leave no trace.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen calling the storage contract.", testID)
		{
			h := newHarness(t)
			block := h.mine(t, h.tx(t, 0, nil, 200_000, storeCode), h.tx(t, 1, nil, 200_000, revertCode))

			store := crypto.CreateAddress(h.from, 0)
			reverter := crypto.CreateAddress(h.from, 1)
			word := common.BigToHash(big.NewInt(42))
			ctx := context.Background()

			view := h.view(t)
			ret, err := h.sim.Call(ctx, view.Copy(), h.header(), simulator.CallArgs{From: h.from, To: &store, Data: word.Bytes()})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to call: %v", failed, testID, err)
			}
			if common.BytesToHash(ret) != word {
				t.Fatalf("\t%s\tTest %d:\tShould get the stored word back, got %x.", failed, testID, ret)
			}
			t.Logf("\t%s\tTest %d:\tShould get the stored word back.", success, testID)

			if v, _ := h.db.Store().StorageAt(block.Root(), store, common.Hash{}); v != (common.Hash{}) {
				t.Fatalf("\t%s\tTest %d:\tShould not change committed storage, got %s.", failed, testID, v)
			}
			t.Logf("\t%s\tTest %d:\tShould not change committed storage.", success, testID)

			_, err = h.sim.Call(ctx, view.Copy(), h.header(), simulator.CallArgs{From: h.from, To: &reverter})
			if !simulator.IsRevert(err) {
				t.Fatalf("\t%s\tTest %d:\tShould get a revert: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould get a revert from the reverting contract.", success, testID)

			args := simulator.CallArgs{From: h.from, To: &store, Data: word.Bytes()}
			gas, err := h.sim.EstimateGas(ctx, view, h.header(), args)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to estimate: %v", failed, testID, err)
			}
			if gas <= params.TxGas {
				t.Fatalf("\t%s\tTest %d:\tShould estimate more than a transfer, got %d.", failed, testID, gas)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to estimate: %d.", success, testID, gas)

			args.Gas = gas
			if _, err := h.sim.Call(ctx, view.Copy(), h.header(), args); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould succeed with the estimate: %v", failed, testID, err)
			}
			args.Gas = gas - 1
			if _, err := h.sim.Call(ctx, view.Copy(), h.header(), args); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould fail with one gas less than the estimate.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould get the minimal gas limit.", success, testID)

			if v := view.GetState(store, common.Hash{}); v != (common.Hash{}) {
				t.Fatalf("\t%s\tTest %d:\tShould leave the estimate view untouched, got %s.", failed, testID, v)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the estimate view untouched.", success, testID)

			_, err = h.sim.EstimateGas(ctx, view, h.header(), simulator.CallArgs{From: h.from, To: &reverter})
			if !simulator.IsRevert(err) {
				t.Fatalf("\t%s\tTest %d:\tShould get a revert from the estimate: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould surface a revert from the estimate.", success, testID)

			args.Gas = params.TxGas + 100
			_, err = h.sim.EstimateGas(ctx, view, h.header(), args)
			if !errors.Is(err, simulator.ErrGasCapExceeded) {
				t.Fatalf("\t%s\tTest %d:\tShould exceed a low allowance: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould report a gas cap error for a low allowance.", success, testID)
		}
	}
}

func Test_TraceAndStorageRange(t *testing.T) {
	t.Log("Given the need to replay mined transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen tracing a storage write.", testID)
		{
			h := newHarness(t)
			h.mine(t, h.tx(t, 0, nil, 200_000, storeCode))

			store := crypto.CreateAddress(h.from, 0)
			word := common.BigToHash(big.NewInt(7))
			write := h.tx(t, 1, &store, 100_000, word.Bytes())
			block := h.mine(t, write)
			ctx := context.Background()

			raw, err := h.sim.Trace(ctx, write.Hash(), simulator.TraceConfig{})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to trace: %v", failed, testID, err)
			}

			var result struct {
				Gas        uint64            `json:"gas"`
				Failed     bool              `json:"failed"`
				StructLogs []json.RawMessage `json:"structLogs"`
			}
			if err := json.Unmarshal(raw, &result); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to decode the trace: %v", failed, testID, err)
			}
			if result.Failed || len(result.StructLogs) != 11 {
				t.Fatalf("\t%s\tTest %d:\tShould see one step per opcode, got %d.", failed, testID, len(result.StructLogs))
			}
			receipt, _ := h.db.Receipt(write.Hash())
			if result.Gas != receipt.GasUsed {
				t.Fatalf("\t%s\tTest %d:\tShould report the receipt gas, got %d exp %d.", failed, testID, result.Gas, receipt.GasUsed)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to trace the transaction.", success, testID)

			if _, err := h.sim.Trace(ctx, common.Hash{1}, simulator.TraceConfig{}); !errors.Is(err, simulator.ErrBlockOrTransactionNotFound) {
				t.Fatalf("\t%s\tTest %d:\tShould not find an unknown transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not find an unknown transaction.", success, testID)

			rng, err := h.sim.StorageRange(ctx, block.Hash(), 0, store, nil, 10)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to range the storage: %v", failed, testID, err)
			}
			key := crypto.Keccak256Hash(common.Hash{}.Bytes())
			entry, exists := rng.Storage[key]
			if !exists || entry.Value != word {
				t.Fatalf("\t%s\tTest %d:\tShould see the written word: %+v", failed, testID, rng)
			}
			t.Logf("\t%s\tTest %d:\tShould see the storage after the transaction.", success, testID)

			if _, err := h.sim.StorageRange(ctx, common.Hash{1}, 0, store, nil, 10); !errors.Is(err, simulator.ErrBlockOrTransactionNotFound) {
				t.Fatalf("\t%s\tTest %d:\tShould not find an unknown block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not find an unknown block.", success, testID)
		}
	}
}
