package commands

import (
	"fmt"

	"github.com/omahs/ganache/foundation/blockchain/genesis"
)

// Genesis writes a genesis file holding the default values.
func Genesis(path string) error {
	if err := genesis.Save(path, genesis.Default()); err != nil {
		return err
	}

	fmt.Println("Genesis file written:", path)
	return nil
}
