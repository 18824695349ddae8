package commands

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/omahs/ganache/foundation/blockchain/database"
	"github.com/omahs/ganache/foundation/blockchain/genesis"
)

// Transactions prints every mined transaction, or the ones an account sent
// or received.
func Transactions(args []string, db *database.Database, gen genesis.Genesis) error {
	var only *common.Address
	if len(args) == 4 {
		if !common.IsHexAddress(args[3]) {
			return fmt.Errorf("invalid account %q", args[3])
		}
		addr := common.HexToAddress(args[3])
		only = &addr
	}

	signer := types.LatestSigner(gen.ChainConfig())

	fn := func(block *types.Block, receipts []*types.Receipt) error {
		for i, tx := range block.Transactions() {
			from, err := types.Sender(signer, tx)
			if err != nil {
				return err
			}

			if only != nil && from != *only && (tx.To() == nil || *tx.To() != *only) {
				continue
			}

			to := "create"
			if tx.To() != nil {
				to = tx.To().Hex()
			}

			status := "success"
			if receipts[i].Status == types.ReceiptStatusFailed {
				status = "failed"
			}

			fmt.Printf("Block: %d  Hash: %s  From: %s  To: %s  Value: %s  Gas: %d  Status: %s\n",
				block.NumberU64(), tx.Hash(), from, to, tx.Value(), receipts[i].GasUsed, status)
		}
		return nil
	}

	return db.ForEach(0, math.MaxUint64, fn)
}
