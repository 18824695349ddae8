// Package commands contains the functionality for the admin tool.
package commands

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/omahs/ganache/foundation/blockchain/accounts"
	"github.com/omahs/ganache/foundation/blockchain/database"
	"github.com/omahs/ganache/foundation/blockchain/genesis"
)

// Balances prints the balance of one account, or of every development
// account, at the latest block.
func Balances(args []string, db *database.Database, gen genesis.Genesis) error {
	latest := db.LatestBlock()

	fmt.Printf("LatestBlock: %d  Hash: %s\n\n", latest.NumberU64(), latest.Hash())

	var addrs []common.Address
	switch {
	case len(args) == 4:
		if !common.IsHexAddress(args[3]) {
			return fmt.Errorf("invalid account %q", args[3])
		}
		addrs = append(addrs, common.HexToAddress(args[3]))

	default:
		ks, err := accounts.New(gen.Seed, gen.Accounts)
		if err != nil {
			return err
		}
		addrs = ks.Accounts()
	}

	for _, addr := range addrs {
		act, err := db.Store().Account(latest.Root(), addr)
		if err != nil {
			return err
		}
		fmt.Printf("Account: %s  Balance: %s  Nonce: %d\n", addr, act.Balance, act.Nonce)
	}

	return nil
}
