// Package simulator executes transactions and calls against world state
// views. It is the only package that drives the EVM.
package simulator

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/eth/tracers/logger"
	"github.com/ethereum/go-ethereum/params"
	"github.com/omahs/ganache/foundation/blockchain/database"
)

// Set of errors returned by the simulator.
var (
	ErrBlockOrTransactionNotFound = errors.New("block or transaction not found")
	ErrGasCapExceeded             = errors.New("gas required exceeds allowance")
)

// ExecutionError is returned when a call fails inside the EVM.
type ExecutionError struct {
	Kind   string
	Reason string
	Data   []byte
}

// Error implements the error interface.
func (ee *ExecutionError) Error() string {
	switch ee.Kind {
	case database.OutcomeRevert:
		if ee.Reason != "" {
			return "execution reverted: " + ee.Reason
		}
		return "execution reverted"
	case database.OutcomeOutOfGas:
		return "out of gas"
	}
	return ee.Reason
}

// IsRevert reports whether the error is an EVM revert.
func IsRevert(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee) && ee.Kind == database.OutcomeRevert
}

// =============================================================================

// Chain is the read access the simulator needs into the chain store.
type Chain interface {
	GetHash(num uint64) common.Hash
	BlockByHash(hash common.Hash) (*types.Block, error)
	BlockByNumber(num uint64) (*types.Block, error)
	Transaction(hash common.Hash) (database.MinedTx, error)
	Store() *database.Store
}

// Simulator executes transactions under one chain configuration.
type Simulator struct {
	config *params.ChainConfig
	signer types.Signer
	chain  Chain
	gasCap uint64
}

// New constructs a simulator. A gasCap of zero means calls and estimates
// are limited by the block gas limit only.
func New(config *params.ChainConfig, chain Chain, gasCap uint64) *Simulator {
	return &Simulator{
		config: config,
		signer: types.LatestSigner(config),
		chain:  chain,
		gasCap: gasCap,
	}
}

// Signer returns the signer transactions are recovered with.
func (s *Simulator) Signer() types.Signer {
	return s.signer
}

// Config returns the chain configuration.
func (s *Simulator) Config() *params.ChainConfig {
	return s.config
}

// =============================================================================

// Apply executes a signed transaction against the view as part of the block
// described by the header. A validation error (bad nonce, insufficient funds
// for gas, block gas exhausted) leaves the view and the gas pool untouched.
// A transaction failing inside the EVM still produces a receipt.
func (s *Simulator) Apply(view *state.StateDB, header *types.Header, tx *types.Transaction, index int, gp *core.GasPool, usedGas *uint64, hooks *tracing.Hooks) (*types.Receipt, database.Outcome, error) {
	msg, err := core.TransactionToMessage(tx, s.signer, header.BaseFee)
	if err != nil {
		return nil, database.Outcome{}, err
	}

	evm := vm.NewEVM(s.blockContext(header), view, s.config, vm.Config{Tracer: hooks})
	evm.SetTxContext(core.NewEVMTxContext(msg))

	snapshot := view.Snapshot()
	gas := gp.Gas()

	view.SetTxContext(tx.Hash(), index)

	if hooks != nil && hooks.OnTxStart != nil {
		hooks.OnTxStart(evm.GetVMContext(), tx, msg.From)
	}

	result, err := core.ApplyMessage(evm, msg, gp)
	if err != nil {
		view.RevertToSnapshot(snapshot)
		gp.SetGas(gas)
		return nil, database.Outcome{}, err
	}
	view.Finalise(true)

	*usedGas += result.UsedGas

	receipt := types.Receipt{
		Type:              tx.Type(),
		CumulativeGasUsed: *usedGas,
		TxHash:            tx.Hash(),
		GasUsed:           result.UsedGas,
		EffectiveGasPrice: new(big.Int).Set(msg.GasPrice),
		BlockNumber:       new(big.Int).Set(header.Number),
		TransactionIndex:  uint(index),
		Status:            types.ReceiptStatusSuccessful,
	}
	if result.Failed() {
		receipt.Status = types.ReceiptStatusFailed
	}
	if msg.To == nil {
		receipt.ContractAddress = crypto.CreateAddress(msg.From, tx.Nonce())
	}
	receipt.Logs = txLogs(view, tx.Hash())
	receipt.Bloom = database.Bloom(receipt.Logs)

	if hooks != nil && hooks.OnTxEnd != nil {
		hooks.OnTxEnd(&receipt, nil)
	}

	return &receipt, outcome(result), nil
}

// =============================================================================

// CallArgs describes a message executed without a signature.
type CallArgs struct {
	From       common.Address
	To         *common.Address
	Gas        uint64
	GasPrice   *big.Int
	Value      *big.Int
	Data       []byte
	AccessList types.AccessList
}

// Call executes the message on the view and returns the return data. The
// view should be private to the call; its changes are never committed.
func (s *Simulator) Call(ctx context.Context, view *state.StateDB, header *types.Header, args CallArgs) ([]byte, error) {
	gas := args.Gas
	if gas == 0 {
		gas = s.cap(header)
	}

	result, err := s.execute(ctx, view, header, args, gas)
	if err != nil {
		return nil, err
	}

	if result.Failed() {
		return result.Revert(), executionError(result)
	}

	return result.Return(), nil
}

// EstimateGas returns the smallest gas limit the message succeeds with. The
// base view is never modified, every probe runs on its own copy.
func (s *Simulator) EstimateGas(ctx context.Context, view *state.StateDB, header *types.Header, args CallArgs) (uint64, error) {
	hi := s.cap(header)
	if args.Gas >= params.TxGas && args.Gas < hi {
		hi = args.Gas
	}

	failed, result, err := s.probe(ctx, view, header, args, hi)
	if err != nil {
		return 0, err
	}
	if failed {
		if result != nil && !errors.Is(result.Err, vm.ErrOutOfGas) {
			return 0, executionError(result)
		}
		return 0, fmt.Errorf("%w (%d)", ErrGasCapExceeded, hi)
	}

	// Anything below the gas used at the cap fails for sure.
	lo := params.TxGas - 1
	if result.UsedGas > lo+1 {
		lo = result.UsedGas - 1
	}

	for lo+1 < hi {
		mid := lo + (hi-lo)/2

		failed, _, err := s.probe(ctx, view, header, args, mid)
		if err != nil {
			return 0, err
		}

		if failed {
			lo = mid
			continue
		}
		hi = mid
	}

	return hi, nil
}

// probe runs the message with the gas limit on a copy of the view. A
// transaction rejected for too little intrinsic gas counts as failed.
func (s *Simulator) probe(ctx context.Context, view *state.StateDB, header *types.Header, args CallArgs, gas uint64) (bool, *core.ExecutionResult, error) {
	result, err := s.execute(ctx, view.Copy(), header, args, gas)
	if err != nil {
		if errors.Is(err, core.ErrIntrinsicGas) {
			return true, nil, nil
		}
		return false, nil, err
	}

	return result.Failed(), result, nil
}

func (s *Simulator) execute(ctx context.Context, view *state.StateDB, header *types.Header, args CallArgs, gas uint64) (*core.ExecutionResult, error) {
	msg := args.message(view.GetNonce(args.From), gas)

	evm := vm.NewEVM(s.blockContext(header), view, s.config, vm.Config{NoBaseFee: true})
	evm.SetTxContext(core.NewEVMTxContext(msg))

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			evm.Cancel()
		case <-done:
		}
	}()

	result, err := core.ApplyMessage(evm, msg, new(core.GasPool).AddGas(math.MaxUint64))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Simulator) cap(header *types.Header) uint64 {
	if s.gasCap != 0 && s.gasCap < header.GasLimit {
		return s.gasCap
	}
	return header.GasLimit
}

func (args CallArgs) message(nonce uint64, gas uint64) *core.Message {
	price := new(big.Int)
	if args.GasPrice != nil {
		price.Set(args.GasPrice)
	}

	value := new(big.Int)
	if args.Value != nil {
		value.Set(args.Value)
	}

	return &core.Message{
		From:       args.From,
		To:         args.To,
		Nonce:      nonce,
		Value:      value,
		GasLimit:   gas,
		GasPrice:   price,
		GasFeeCap:  price,
		GasTipCap:  price,
		Data:       args.Data,
		AccessList: args.AccessList,
	}
}

// =============================================================================

// TraceConfig selects what the struct logger records.
type TraceConfig struct {
	DisableStack     bool `json:"disableStack"`
	DisableStorage   bool `json:"disableStorage"`
	EnableMemory     bool `json:"enableMemory"`
	EnableReturnData bool `json:"enableReturnData"`
	Limit            int  `json:"limit"`
}

// Trace re-executes a mined transaction with the struct logger attached and
// returns the JSON encoded result.
func (s *Simulator) Trace(ctx context.Context, txHash common.Hash, cfg TraceConfig) (json.RawMessage, error) {
	mined, err := s.chain.Transaction(txHash)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction %s", ErrBlockOrTransactionNotFound, txHash)
	}

	block, err := s.chain.BlockByHash(mined.Lookup.BlockHash)
	if err != nil {
		return nil, fmt.Errorf("%w: block %s", ErrBlockOrTransactionNotFound, mined.Lookup.BlockHash)
	}

	index := int(mined.Lookup.Index)

	view, gp, usedGas, err := s.replay(ctx, block, index)
	if err != nil {
		return nil, err
	}

	tracer := logger.NewStructLogger(&logger.Config{
		EnableMemory:     cfg.EnableMemory,
		DisableStack:     cfg.DisableStack,
		DisableStorage:   cfg.DisableStorage,
		EnableReturnData: cfg.EnableReturnData,
		Limit:            cfg.Limit,
	})

	if _, _, err := s.Apply(view, block.Header(), block.Transactions()[index], index, gp, &usedGas, tracer.Hooks()); err != nil {
		return nil, fmt.Errorf("trace %s: %w", txHash, err)
	}

	return tracer.GetResult()
}

// StorageRange returns the storage of the account as it was after the
// transaction at txIndex executed in the block. An index past the last
// transaction gives the storage at the end of the block.
func (s *Simulator) StorageRange(ctx context.Context, blockHash common.Hash, txIndex int, addr common.Address, start []byte, max int) (database.StorageRangeResult, error) {
	block, err := s.chain.BlockByHash(blockHash)
	if err != nil {
		return database.StorageRangeResult{}, fmt.Errorf("%w: block %s", ErrBlockOrTransactionNotFound, blockHash)
	}

	count := min(txIndex+1, block.Transactions().Len())
	if txIndex < 0 {
		count = 0
	}

	view, _, _, err := s.replay(ctx, block, count)
	if err != nil {
		return database.StorageRangeResult{}, err
	}

	return s.chain.Store().StorageRangeView(view, block.NumberU64(), addr, start, max)
}

// replay opens the parent state of the block and executes the first count
// transactions of the block on it.
func (s *Simulator) replay(ctx context.Context, block *types.Block, count int) (*state.StateDB, *core.GasPool, uint64, error) {
	if block.NumberU64() == 0 {
		view, err := s.chain.Store().Open(block.Root())
		return view, new(core.GasPool).AddGas(block.GasLimit()), 0, err
	}

	parent, err := s.chain.BlockByNumber(block.NumberU64() - 1)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: parent of block %d", ErrBlockOrTransactionNotFound, block.NumberU64())
	}

	view, err := s.chain.Store().Open(parent.Root())
	if err != nil {
		return nil, nil, 0, err
	}

	gp := new(core.GasPool).AddGas(block.GasLimit())
	var usedGas uint64
	header := block.Header()

	for i, tx := range block.Transactions()[:count] {
		if err := ctx.Err(); err != nil {
			return nil, nil, 0, err
		}

		if _, _, err := s.Apply(view, header, tx, i, gp, &usedGas, nil); err != nil {
			return nil, nil, 0, fmt.Errorf("replay tx %d of block %d: %w", i, block.NumberU64(), err)
		}
	}

	return view, gp, usedGas, nil
}

// =============================================================================

func (s *Simulator) blockContext(header *types.Header) vm.BlockContext {
	return vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     s.chain.GetHash,
		Coinbase:    header.Coinbase,
		GasLimit:    header.GasLimit,
		BlockNumber: new(big.Int).Set(header.Number),
		Time:        header.Time,
		Difficulty:  new(big.Int).Set(header.Difficulty),
		BaseFee:     header.BaseFee,
	}
}

// txLogs returns the logs the transaction emitted in log index order. The
// slice is never nil so receipts encode an empty list.
func txLogs(view *state.StateDB, txHash common.Hash) []*types.Log {
	logs := []*types.Log{}
	for _, log := range view.Logs() {
		if log.TxHash == txHash {
			logs = append(logs, log)
		}
	}

	slices.SortFunc(logs, func(a, b *types.Log) int {
		return cmp.Compare(a.Index, b.Index)
	})

	return logs
}

func outcome(result *core.ExecutionResult) database.Outcome {
	switch {
	case result.Err == nil:
		return database.Outcome{Kind: database.OutcomeSuccess}

	case errors.Is(result.Err, vm.ErrExecutionReverted):
		data := result.Revert()
		reason, _ := abi.UnpackRevert(data)
		return database.Outcome{Kind: database.OutcomeRevert, Reason: reason, ReturnData: data}

	case errors.Is(result.Err, vm.ErrOutOfGas), errors.Is(result.Err, vm.ErrCodeStoreOutOfGas):
		return database.Outcome{Kind: database.OutcomeOutOfGas, Reason: result.Err.Error()}
	}

	return database.Outcome{Kind: database.OutcomeError, Reason: result.Err.Error()}
}

func executionError(result *core.ExecutionResult) error {
	o := outcome(result)
	return &ExecutionError{Kind: o.Kind, Reason: o.Reason, Data: o.ReturnData}
}
