// Package selector provides different transaction selecting algorithms.
package selector

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// List of different select strategies.
const (
	StrategyFIFO = "fifo"
	StrategyTip  = "tip"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFIFO: fifoSelect,
	StrategyTip:  tipSelect,
}

// Tx is a pool transaction with what a strategy needs to order it.
type Tx struct {
	*types.Transaction
	From    common.Address
	Arrival int64
}

// Func defines a function that takes a mempool of transactions grouped by
// address and selects howMany of them in an order based on the functions
// strategy. All selector functions MUST respect nonce ordering. Receiving -1
// for howMany must return all the transactions in the strategies ordering.
type Func func(transactions map[common.Address][]Tx, howMany int) []Tx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// byNonce provides sorting support by the transaction nonce value.
type byNonce []Tx

// Len returns the number of transactions in the list.
func (bn byNonce) Len() int {
	return len(bn)
}

// Less helps to sort the list by nonce in ascending order to keep the
// transactions in the right order of processing.
func (bn byNonce) Less(i, j int) bool {
	return bn[i].Nonce() < bn[j].Nonce()
}

// Swap moves transactions in the order of the nonce value.
func (bn byNonce) Swap(i, j int) {
	bn[i], bn[j] = bn[j], bn[i]
}

// =============================================================================

// heads is a heap holding the next transaction of every account. Only the
// head of an account can be picked, which keeps each account in nonce order.
type heads struct {
	txs  []Tx
	less func(a, b Tx) bool
}

func (h *heads) Len() int           { return len(h.txs) }
func (h *heads) Less(i, j int) bool { return h.less(h.txs[i], h.txs[j]) }
func (h *heads) Swap(i, j int)      { h.txs[i], h.txs[j] = h.txs[j], h.txs[i] }
func (h *heads) Push(x any)         { h.txs = append(h.txs, x.(Tx)) }

func (h *heads) Pop() any {
	old := h.txs
	n := len(old)
	tx := old[n-1]
	h.txs = old[:n-1]
	return tx
}

// merge repeatedly takes the best account head according to less until
// howMany transactions are selected or the accounts are exhausted.
func merge(m map[common.Address][]Tx, howMany int, less func(a, b Tx) bool) []Tx {
	total := 0
	for from := range m {
		if len(m[from]) > 1 {
			sort.Sort(byNonce(m[from]))
		}
		total += len(m[from])
	}

	if howMany < 0 || howMany > total {
		howMany = total
	}

	h := heads{less: less}
	for from := range m {
		if len(m[from]) > 0 {
			h.txs = append(h.txs, m[from][0])
			m[from] = m[from][1:]
		}
	}
	heap.Init(&h)

	final := make([]Tx, 0, howMany)
	for len(final) < howMany && h.Len() > 0 {
		tx := heap.Pop(&h).(Tx)
		final = append(final, tx)

		if rest := m[tx.From]; len(rest) > 0 {
			heap.Push(&h, rest[0])
			m[tx.From] = rest[1:]
		}
	}

	return final
}
