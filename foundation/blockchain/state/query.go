package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/omahs/ganache/foundation/blockchain/database"
	"github.com/omahs/ganache/foundation/blockchain/simulator"
)

// resolve opens a private view of the state at the referenced block and
// returns it with the block.
func (s *State) resolve(ref BlockRef) (*types.Block, *ethstate.StateDB, error) {
	if ref.IsPending() {
		return s.pendingBlock()
	}

	block, err := s.QueryBlockByNumber(ref)
	if err != nil {
		return nil, nil, err
	}

	view, err := s.db.Store().Open(block.Root())
	if err != nil {
		return nil, nil, err
	}

	return block, view, nil
}

// =============================================================================

// QueryAccount returns the account at the referenced block.
func (s *State) QueryAccount(addr common.Address, ref BlockRef) (database.Account, error) {
	_, view, err := s.resolve(ref)
	if err != nil {
		return database.Account{}, err
	}

	return database.AccountOf(view, addr), nil
}

// QueryCode returns the code deployed at the account.
func (s *State) QueryCode(addr common.Address, ref BlockRef) ([]byte, error) {
	_, view, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	return view.GetCode(addr), nil
}

// QueryStorageAt returns one storage word of the account.
func (s *State) QueryStorageAt(addr common.Address, slot common.Hash, ref BlockRef) (common.Hash, error) {
	_, view, err := s.resolve(ref)
	if err != nil {
		return common.Hash{}, err
	}

	return view.GetState(addr, slot), nil
}

// QueryBlockByNumber returns the referenced block. The pending block is
// built from the mempool and never written.
func (s *State) QueryBlockByNumber(ref BlockRef) (*types.Block, error) {
	switch ref.kind {
	case refPending:
		block, _, err := s.pendingBlock()
		return block, err

	case refEarliest:
		return s.db.GenesisBlock(), nil

	case refNumber:
		block, err := s.db.BlockByNumber(ref.number)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", ref.number, ErrNotFound)
		}
		return block, nil
	}

	return s.db.LatestBlock(), nil
}

// QueryBlockByHash returns the block with the hash.
func (s *State) QueryBlockByHash(hash common.Hash) (*types.Block, error) {
	block, err := s.db.BlockByHash(hash)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", hash, ErrNotFound)
	}
	return block, nil
}

// QueryTotalDifficulty returns the total difficulty at the block.
func (s *State) QueryTotalDifficulty(number uint64) (*big.Int, error) {
	td, err := s.db.TotalDifficulty(number)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", number, ErrNotFound)
	}
	return td, nil
}

// QueryReceipt returns the receipt of a mined transaction.
func (s *State) QueryReceipt(hash common.Hash) (*types.Receipt, error) {
	receipt, err := s.db.Receipt(hash)
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", hash, ErrNotFound)
	}
	return receipt, nil
}

// TxInfo is a transaction and where it is. Lookup is nil while the
// transaction waits in the mempool.
type TxInfo struct {
	Tx      *types.Transaction
	From    common.Address
	Lookup  *database.TxLookup
	Outcome *database.Outcome
}

// QueryTransaction returns a mined or pooled transaction.
func (s *State) QueryTransaction(hash common.Hash) (TxInfo, error) {
	mined, err := s.db.Transaction(hash)
	if err == nil {
		from, _ := types.Sender(s.signer, mined.Tx)
		return TxInfo{Tx: mined.Tx, From: from, Lookup: &mined.Lookup, Outcome: &mined.Outcome}, nil
	}

	if tx, exists := s.mempool.Find(hash); exists {
		from, _ := types.Sender(s.signer, tx)
		return TxInfo{Tx: tx, From: from}, nil
	}

	return TxInfo{}, fmt.Errorf("transaction %s: %w", hash, ErrNotFound)
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// QueryPendingCount returns the number of executable transactions in the
// mempool.
func (s *State) QueryPendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	view, err := s.db.Store().Open(s.db.LatestBlock().Root())
	if err != nil {
		return 0
	}

	return len(s.mempool.Pending(view.GetNonce))
}

// =============================================================================

// Call executes the message against the referenced block. Nothing is
// written.
func (s *State) Call(ctx context.Context, args simulator.CallArgs, ref BlockRef) ([]byte, error) {
	block, view, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	return s.sim.Call(ctx, view, block.Header(), args)
}

// EstimateGas returns the smallest gas limit the message succeeds with at
// the referenced block.
func (s *State) EstimateGas(ctx context.Context, args simulator.CallArgs, ref BlockRef) (uint64, error) {
	block, view, err := s.resolve(ref)
	if err != nil {
		return 0, err
	}

	return s.sim.EstimateGas(ctx, view, block.Header(), args)
}

// TraceTransaction replays a mined transaction with the struct logger.
func (s *State) TraceTransaction(ctx context.Context, hash common.Hash, cfg simulator.TraceConfig) (json.RawMessage, error) {
	return s.sim.Trace(ctx, hash, cfg)
}

// StorageRangeAt returns a page of the account storage as it was after the
// transaction at txIndex in the block.
func (s *State) StorageRangeAt(ctx context.Context, blockHash common.Hash, txIndex int, addr common.Address, start []byte, max int) (database.StorageRangeResult, error) {
	return s.sim.StorageRange(ctx, blockHash, txIndex, addr, start, max)
}

// IsNotFound reports whether the error means the thing asked for is
// unknown.
func IsNotFound(err error) bool {
	var snf *database.StateNotFoundError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, database.ErrNotFound) ||
		errors.Is(err, simulator.ErrBlockOrTransactionNotFound) ||
		errors.As(err, &snf)
}
