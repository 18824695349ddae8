package selector

import "github.com/ethereum/go-ethereum/common"

// tipSelect returns transactions with the best gas price first while
// respecting the nonce for each account. Equal prices keep arrival order.
var tipSelect = func(m map[common.Address][]Tx, howMany int) []Tx {
	return merge(m, howMany, func(a, b Tx) bool {
		if c := a.GasPrice().Cmp(b.GasPrice()); c != 0 {
			return c > 0
		}
		return a.Arrival < b.Arrival
	})
}
