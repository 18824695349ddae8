// This program performs administrative tasks against a node's chain
// database while the node is stopped.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/omahs/ganache/app/tooling/admin/commands"
	"github.com/omahs/ganache/foundation/blockchain/database"
	"github.com/omahs/ganache/foundation/blockchain/database/storage/disk"
	"github.com/omahs/ganache/foundation/blockchain/genesis"
	"github.com/omahs/ganache/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

const usage = `usage:
  admin genesis <file>                write a default genesis file
  admin bals <dbpath> [account]       balances at the latest block
  admin trans <dbpath> [account]      mined transactions`

func main() {

	// Construct the application logger.
	log, err := logger.New("ADMIN")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	if len(os.Args) < 3 {
		fmt.Println(usage)
		return nil
	}

	log.Infow("startup", "version", build, "command", os.Args[1])

	if os.Args[1] == "genesis" {
		return commands.Genesis(os.Args[2])
	}

	// The genesis file only matters for the development accounts listed by
	// bals. The chain itself is reloaded from the database.
	gen := genesis.Default()
	if path := os.Getenv("ADMIN_GENESIS_FILE"); path != "" {
		var err error
		if gen, err = genesis.Load(path); err != nil {
			return err
		}
	}

	if _, err := os.Stat(os.Args[2]); err != nil {
		return fmt.Errorf("database %s: %w", os.Args[2], err)
	}

	storage, err := disk.New(os.Args[2])
	if err != nil {
		return err
	}

	ev := func(v string, args ...any) {
		log.Infow(fmt.Sprintf(v, args...))
	}

	db, err := database.New(gen, nil, storage, ev)
	if err != nil {
		return err
	}
	defer db.Close()

	return processCommands(os.Args, db, gen)
}

// processCommands handles the execution of the commands specified on
// the command line.
func processCommands(args []string, db *database.Database, gen genesis.Genesis) error {
	switch args[1] {
	case "bals":
		if err := commands.Balances(args, db, gen); err != nil {
			return fmt.Errorf("getting balances: %w", err)
		}
	case "trans":
		if err := commands.Transactions(args, db, gen); err != nil {
			return fmt.Errorf("getting transactions: %w", err)
		}
	default:
		return errors.New(usage)
	}

	return nil
}
