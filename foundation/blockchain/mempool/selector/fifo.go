package selector

import "github.com/ethereum/go-ethereum/common"

// fifoSelect returns transactions in the order they arrived while respecting
// the nonce for each account. An account's later transaction that arrived
// before its earlier one waits for the earlier one.
var fifoSelect = func(m map[common.Address][]Tx, howMany int) []Tx {
	return merge(m, howMany, func(a, b Tx) bool {
		return a.Arrival < b.Arrival
	})
}
