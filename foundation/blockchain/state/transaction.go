package state

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/omahs/ganache/foundation/blockchain/accounts"
	"github.com/omahs/ganache/foundation/blockchain/mempool"
	"github.com/omahs/ganache/foundation/blockchain/simulator"
	"github.com/omahs/ganache/foundation/events"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError is returned when a request can't be turned into a
// transaction.
type ValidationError struct {
	Reason string
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	return "validation failed: " + ve.Reason
}

// Is makes errors.Is match ErrValidation.
func (ve *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// =============================================================================

// SubmitRawTransaction decodes a signed transaction in its binary encoding
// and submits it.
func (s *State) SubmitRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, &ValidationError{Reason: fmt.Sprintf("decode transaction: %s", err)}
	}

	return s.SubmitTransaction(ctx, &tx)
}

// SubmitTransaction accepts a signed transaction into the mempool. With
// instamine the transaction is mined right away when it is executable. With
// strict failure reporting that happens before returning, and a
// *FailedTransactionsError lists every transaction that failed in the
// blocks mined for it.
func (s *State) SubmitTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	s.mu.Lock()

	executable, err := s.upsert(tx)
	if err != nil {
		s.mu.Unlock()
		return common.Hash{}, err
	}

	if !executable || !s.instamine || !s.IsMiningAllowed() {
		s.mu.Unlock()
		return tx.Hash(), nil
	}

	if !s.strict && s.Worker != nil {
		s.mu.Unlock()
		s.Worker.SignalStartMining()
		return tx.Hash(), nil
	}

	defer s.mu.Unlock()

	// Keep mining while transactions are left behind for lack of block gas.
	var failures []TxFailure
	for {
		mined, err := s.mineBlock(0, true)
		if err != nil {
			return tx.Hash(), err
		}
		failures = append(failures, mined.failures...)

		if mined.block == nil || !mined.full {
			break
		}
	}

	if s.strict {
		return tx.Hash(), newFailedTransactionsError(failures)
	}

	return tx.Hash(), nil
}

// upsert validates the transaction against the latest state and adds it to
// the mempool. Must be called with the lock held.
func (s *State) upsert(tx *types.Transaction) (bool, error) {
	view, err := s.db.Store().Open(s.db.LatestBlock().Root())
	if err != nil {
		return false, err
	}

	executable, err := s.mempool.Upsert(tx, view)
	if err != nil {
		var re *mempool.RejectError
		if errors.As(err, &re) {
			metricTxsRejected.WithLabelValues(re.Reason).Inc()
		}
		s.evHandler("state: SubmitTransaction: tx[%s] rejected: %s", tx.Hash(), err)
		return false, err
	}

	metricMempoolSize.Set(float64(s.mempool.Count()))
	s.evts.Send(events.Event{Kind: events.KindPendingTransaction, Data: tx.Hash()})

	s.evHandler("state: SubmitTransaction: tx[%s] nonce[%d] executable[%t]", tx.Hash(), tx.Nonce(), executable)

	return executable, nil
}

// =============================================================================

// SendArgs describes a transaction to be signed by an unlocked account.
// Missing values are filled in: the nonce from the pool, the gas from an
// estimate and the gas price from the genesis.
type SendArgs struct {
	From     common.Address
	To       *common.Address
	Nonce    *uint64
	Gas      uint64
	GasPrice *big.Int
	Value    *big.Int
	Data     []byte
}

// SendTransaction signs the transaction with the key of the sender and
// submits it.
func (s *State) SendTransaction(ctx context.Context, args SendArgs) (common.Hash, error) {
	if _, unlocked := s.keystore.Unlocked(args.From); !unlocked {
		return common.Hash{}, fmt.Errorf("sender %s: %w", args.From, accounts.ErrLocked)
	}

	if args.To == nil && len(args.Data) == 0 {
		return common.Hash{}, &ValidationError{Reason: "contract creation without data"}
	}

	price := args.GasPrice
	if price == nil {
		price = new(big.Int).SetUint64(s.genesis.GasPrice)
	}

	nonce := s.NextNonce(args.From)
	if args.Nonce != nil {
		nonce = *args.Nonce
	}

	gas := args.Gas
	if gas == 0 {
		estimate, err := s.EstimateGas(ctx, simulator.CallArgs{
			From:     args.From,
			To:       args.To,
			GasPrice: price,
			Value:    args.Value,
			Data:     args.Data,
		}, Pending)
		if err != nil {
			return common.Hash{}, err
		}
		gas = estimate
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       args.To,
		Gas:      gas,
		GasPrice: price,
		Value:    args.Value,
		Data:     args.Data,
	})

	signed, err := s.keystore.SignTx(args.From, tx, s.signer)
	if err != nil {
		return common.Hash{}, err
	}

	return s.SubmitTransaction(ctx, signed)
}

// NextNonce returns the nonce the account's next transaction should use.
func (s *State) NextNonce(addr common.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	view, err := s.db.Store().Open(s.db.LatestBlock().Root())
	if err != nil {
		return 0
	}

	return s.mempool.NextNonce(addr, view.GetNonce(addr))
}
