// Package mempool maintains the mempool for the blockchain.
package mempool

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/omahs/ganache/foundation/blockchain/mempool/selector"
	"github.com/omahs/ganache/foundation/blockchain/signature"
)

// Set of reasons a transaction is rejected by the pool.
const (
	ReasonInvalidSignature       = "invalid-signature"
	ReasonGasLimitExceeded       = "gas-limit-exceeded"
	ReasonIntrinsicGas           = "intrinsic-gas"
	ReasonUnderpriced            = "underpriced"
	ReasonNonceTooLow            = "nonce-too-low"
	ReasonInsufficientFunds      = "insufficient-funds"
	ReasonReplacementUnderpriced = "replacement-underpriced"
	ReasonAlreadyKnown           = "already-known"
)

// RejectError is returned when a transaction never enters the pool.
type RejectError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (re *RejectError) Error() string {
	return fmt.Sprintf("%s: %v", re.Reason, re.Err)
}

// Unwrap returns the underlying error.
func (re *RejectError) Unwrap() error {
	return re.Err
}

// IsReject reports whether the error is a pool rejection for the reason.
func IsReject(err error, reason string) bool {
	var re *RejectError
	return errors.As(err, &re) && re.Reason == reason
}

func reject(reason string, format string, args ...any) error {
	return &RejectError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// =============================================================================

// StateReader provides the committed account values the pool validates
// against.
type StateReader interface {
	GetNonce(addr common.Address) uint64
	GetBalance(addr common.Address) *uint256.Int
}

// Limits are the pool acceptance rules that come from configuration.
type Limits struct {
	BlockGasLimit uint64
	MinGasPrice   *big.Int
}

// Mempool represents a cache of transactions organized by account:nonce
// with a second key on the transaction hash.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[string]selector.Tx
	byHash   map[common.Hash]string
	arrival  int64
	front    int64
	selectFn selector.Func
	signer   types.Signer
	limits   Limits
}

// New constructs a new mempool using the default select strategy.
func New(signer types.Signer, limits Limits) (*Mempool, error) {
	return NewWithStrategy(signer, limits, selector.StrategyFIFO)
}

// NewWithStrategy constructs a new mempool with specified select strategy.
func NewWithStrategy(signer types.Signer, limits Limits, strategy string) (*Mempool, error) {
	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	mp := Mempool{
		pool:     make(map[string]selector.Tx),
		byHash:   make(map[common.Hash]string),
		selectFn: selectFn,
		signer:   signer,
		limits:   limits,
	}

	return &mp, nil
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Upsert validates the transaction against the committed state and adds it
// to the pool, replacing a transaction with the same account and nonce if
// the new one pays a strictly higher price. It reports whether the
// transaction is executable now or queued behind a nonce gap.
func (mp *Mempool) Upsert(tx *types.Transaction, state StateReader) (bool, error) {
	from, err := signature.FromAddress(tx, mp.signer)
	if err != nil {
		return false, &RejectError{Reason: ReasonInvalidSignature, Err: err}
	}

	if mp.limits.BlockGasLimit > 0 && tx.Gas() > mp.limits.BlockGasLimit {
		return false, reject(ReasonGasLimitExceeded, "gas %d exceeds block gas limit %d", tx.Gas(), mp.limits.BlockGasLimit)
	}

	if floor := IntrinsicGas(tx); tx.Gas() < floor {
		return false, reject(ReasonIntrinsicGas, "gas %d below intrinsic gas %d", tx.Gas(), floor)
	}

	if mp.limits.MinGasPrice != nil && tx.GasPrice().Cmp(mp.limits.MinGasPrice) < 0 {
		return false, reject(ReasonUnderpriced, "gas price %s below minimum %s", tx.GasPrice(), mp.limits.MinGasPrice)
	}

	stateNonce := state.GetNonce(from)
	if tx.Nonce() < stateNonce {
		return false, reject(ReasonNonceTooLow, "nonce %d, account %s is at %d", tx.Nonce(), from, stateNonce)
	}

	balance := state.GetBalance(from).ToBig()
	if cost := tx.Cost(); balance.Cmp(cost) < 0 {
		return false, reject(ReasonInsufficientFunds, "balance %s, cost %s", balance, cost)
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, known := mp.byHash[tx.Hash()]; known {
		return false, reject(ReasonAlreadyKnown, "transaction %s", tx.Hash())
	}

	key := mapKey(from, tx.Nonce())
	if old, exists := mp.pool[key]; exists {
		if tx.GasPrice().Cmp(old.GasPrice()) <= 0 {
			return false, reject(ReasonReplacementUnderpriced, "gas price %s does not beat %s", tx.GasPrice(), old.GasPrice())
		}
		delete(mp.byHash, old.Hash())
	}

	mp.insert(key, selector.Tx{Transaction: tx, From: from, Arrival: mp.arrival})
	mp.arrival++

	return mp.nextNonce(from, stateNonce) > tx.Nonce(), nil
}

// Find returns the pooled transaction with the specified hash.
func (mp *Mempool) Find(hash common.Hash) (*types.Transaction, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	key, exists := mp.byHash[hash]
	if !exists {
		return nil, false
	}
	return mp.pool[key].Transaction, true
}

// Remove deletes the transaction with the specified hash from the pool.
func (mp *Mempool) Remove(hash common.Hash) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	key, exists := mp.byHash[hash]
	if !exists {
		return false
	}

	delete(mp.pool, key)
	delete(mp.byHash, hash)

	return true
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]selector.Tx)
	mp.byHash = make(map[common.Hash]string)
}

// NextNonce returns the nonce the account's next transaction should use,
// counting the executable transactions already in the pool.
func (mp *Mempool) NextNonce(from common.Address, stateNonce uint64) uint64 {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.nextNonce(from, stateNonce)
}

// =============================================================================

// Drain removes and returns up to howMany executable transactions in the
// configured strategy order. Pass -1 for all of them. The nonces function
// returns each account's committed nonce.
func (mp *Mempool) Drain(howMany int, nonces func(common.Address) uint64) []*types.Transaction {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	best := mp.selectFn(mp.executables(nonces), howMany)

	txs := make([]*types.Transaction, len(best))
	for i, tx := range best {
		delete(mp.pool, mapKey(tx.From, tx.Nonce()))
		delete(mp.byHash, tx.Hash())
		txs[i] = tx.Transaction
	}

	return txs
}

// Pending returns the executable transactions in strategy order without
// removing them.
func (mp *Mempool) Pending(nonces func(common.Address) uint64) []*types.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	best := mp.selectFn(mp.executables(nonces), -1)

	txs := make([]*types.Transaction, len(best))
	for i, tx := range best {
		txs[i] = tx.Transaction
	}

	return txs
}

// Queued returns the transactions waiting behind a nonce gap ordered by
// account and nonce.
func (mp *Mempool) Queued(nonces func(common.Address) uint64) []*types.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	executable := make(map[common.Hash]bool)
	for _, txs := range mp.executables(nonces) {
		for _, tx := range txs {
			executable[tx.Hash()] = true
		}
	}

	var queued []selector.Tx
	for _, tx := range mp.pool {
		if !executable[tx.Hash()] {
			queued = append(queued, tx)
		}
	}

	sort.Slice(queued, func(i, j int) bool {
		if queued[i].From != queued[j].From {
			return queued[i].From.Cmp(queued[j].From) < 0
		}
		return queued[i].Nonce() < queued[j].Nonce()
	})

	txs := make([]*types.Transaction, len(queued))
	for i, tx := range queued {
		txs[i] = tx.Transaction
	}

	return txs
}

// Restore puts drained transactions back in front of everything else,
// keeping their relative order. A pooled transaction with the same account
// and nonce wins over the restored one.
func (mp *Mempool) Restore(txs []*types.Transaction) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for i := len(txs) - 1; i >= 0; i-- {
		from, err := types.Sender(mp.signer, txs[i])
		if err != nil {
			continue
		}

		key := mapKey(from, txs[i].Nonce())
		if _, exists := mp.pool[key]; exists {
			continue
		}

		mp.front--
		mp.insert(key, selector.Tx{Transaction: txs[i], From: from, Arrival: mp.front})
	}
}

// Copy returns the pooled transactions in arrival order.
func (mp *Mempool) Copy() []*types.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	all := make([]selector.Tx, 0, len(mp.pool))
	for _, tx := range mp.pool {
		all = append(all, tx)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Arrival < all[j].Arrival })

	txs := make([]*types.Transaction, len(all))
	for i, tx := range all {
		txs[i] = tx.Transaction
	}

	return txs
}

// Replace swaps the pool contents for the transactions, which are taken to
// be in arrival order. No validation is performed.
func (mp *Mempool) Replace(txs []*types.Transaction) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]selector.Tx)
	mp.byHash = make(map[common.Hash]string)

	for _, tx := range txs {
		from, err := types.Sender(mp.signer, tx)
		if err != nil {
			continue
		}

		mp.insert(mapKey(from, tx.Nonce()), selector.Tx{Transaction: tx, From: from, Arrival: mp.arrival})
		mp.arrival++
	}
}

// =============================================================================

func (mp *Mempool) insert(key string, tx selector.Tx) {
	mp.pool[key] = tx
	mp.byHash[tx.Hash()] = key
}

// nextNonce walks the account's pooled nonces up from the committed nonce.
func (mp *Mempool) nextNonce(from common.Address, nonce uint64) uint64 {
	for {
		if _, exists := mp.pool[mapKey(from, nonce)]; !exists {
			return nonce
		}
		nonce++
	}
}

// executables groups the pool by account keeping only the nonce contiguous
// run that starts at each account's committed nonce.
func (mp *Mempool) executables(nonces func(common.Address) uint64) map[common.Address][]selector.Tx {
	accounts := make(map[common.Address]bool)
	for _, tx := range mp.pool {
		accounts[tx.From] = true
	}

	m := make(map[common.Address][]selector.Tx)
	for from := range accounts {
		for nonce := nonces(from); ; nonce++ {
			tx, exists := mp.pool[mapKey(from, nonce)]
			if !exists {
				break
			}
			m[from] = append(m[from], tx)
		}
	}

	return m
}

// mapKey is used to generate the map key.
func mapKey(from common.Address, nonce uint64) string {
	return fmt.Sprintf("%s:%d", from, nonce)
}

// IntrinsicGas returns the gas a transaction pays before any execution.
func IntrinsicGas(tx *types.Transaction) uint64 {
	gas := params.TxGas
	if tx.To() == nil {
		gas = params.TxGasContractCreation
	}

	for _, b := range tx.Data() {
		if b == 0 {
			gas += params.TxDataZeroGas
			continue
		}
		gas += params.TxDataNonZeroGasEIP2028
	}

	for _, tuple := range tx.AccessList() {
		gas += params.TxAccessListAddressGas
		gas += uint64(len(tuple.StorageKeys)) * params.TxAccessListStorageKeyGas
	}

	return gas
}
