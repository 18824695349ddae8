package selector_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/omahs/ganache/foundation/blockchain/mempool/selector"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

var (
	pavel = common.HexToAddress("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	bill  = common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
	ed    = common.HexToAddress("0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76")
)

type want struct {
	from  common.Address
	nonce uint64
}

func tran(from common.Address, nonce uint64, price int64, arrival int64) selector.Tx {
	tx := types.NewTx(&types.LegacyTx{Nonce: nonce, Gas: 21000, GasPrice: big.NewInt(price)})
	return selector.Tx{Transaction: tx, From: from, Arrival: arrival}
}

func group(txs ...selector.Tx) map[common.Address][]selector.Tx {
	m := make(map[common.Address][]selector.Tx)
	for _, tx := range txs {
		m[tx.From] = append(m[tx.From], tx)
	}
	return m
}

func TestSelect(t *testing.T) {
	type test struct {
		name     string
		strategy string
		txs      []selector.Tx
		howMany  int
		best     []want
	}

	tt := []test{
		{
			name:     "fifo arrival order",
			strategy: selector.StrategyFIFO,
			txs: []selector.Tx{
				tran(pavel, 0, 25, 1),
				tran(bill, 0, 75, 2),
				tran(pavel, 1, 10, 3),
				tran(ed, 0, 99, 4),
			},
			howMany: -1,
			best:    []want{{pavel, 0}, {bill, 0}, {pavel, 1}, {ed, 0}},
		},
		{
			name:     "fifo nonce before arrival",
			strategy: selector.StrategyFIFO,
			txs: []selector.Tx{
				tran(pavel, 1, 25, 1),
				tran(bill, 0, 75, 2),
				tran(pavel, 0, 10, 3),
			},
			howMany: -1,
			best:    []want{{bill, 0}, {pavel, 0}, {pavel, 1}},
		},
		{
			name:     "tip best price first",
			strategy: selector.StrategyTip,
			txs: []selector.Tx{
				tran(pavel, 0, 25, 1),
				tran(pavel, 1, 75, 2),
				tran(bill, 0, 50, 3),
				tran(ed, 0, 50, 4),
			},
			howMany: 3,
			best:    []want{{bill, 0}, {ed, 0}, {pavel, 0}},
		},
	}

	t.Log("Given the need to select transactions in strategy order.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling %s.", testID, tst.name)
			{
				f := func(t *testing.T) {
					fn, err := selector.Retrieve(tst.strategy)
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to retrieve the strategy: %v", failed, testID, err)
					}

					got := fn(group(tst.txs...), tst.howMany)
					if len(got) != len(tst.best) {
						t.Fatalf("\t%s\tTest %d:\tShould get %d transactions, got %d.", failed, testID, len(tst.best), len(got))
					}

					for i, tx := range got {
						if tx.From != tst.best[i].from || tx.Nonce() != tst.best[i].nonce {
							t.Logf("\t\tTest %d:\tgot: %s:%d", testID, tx.From, tx.Nonce())
							t.Logf("\t\tTest %d:\texp: %s:%d", testID, tst.best[i].from, tst.best[i].nonce)
							t.Fatalf("\t%s\tTest %d:\tShould get the right transaction at %d.", failed, testID, i)
						}
					}
					t.Logf("\t%s\tTest %d:\tShould get the transactions in order.", success, testID)
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func TestRetrieveUnknown(t *testing.T) {
	if _, err := selector.Retrieve("lottery"); err == nil {
		t.Fatalf("\t%s\tShould not retrieve an unknown strategy.", failed)
	}
	t.Logf("\t%s\tShould not retrieve an unknown strategy.", success)
}
