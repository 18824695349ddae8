package cmd

import (
	"fmt"
	"log"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

type account struct {
	Address string         `json:"address"`
	Name    string         `json:"name"`
	Balance *hexutil.Big   `json:"balance"`
	Nonce   hexutil.Uint64 `json:"nonce"`
}

var balanceBlock string

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance.",
	Run:   balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().StringVarP(&balanceBlock, "block", "b", "latest", "Block to read the balance at.")
}

func balanceRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	addr := crypto.PubkeyToAddress(privateKey.PublicKey)
	fmt.Println("For Account:", addr)

	var act account
	url := fmt.Sprintf("%s/v1/accounts/%s?block=%s", nodeURL, addr, balanceBlock)
	if err := call(http.MethodGet, url, nil, &act); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Balance:", act.Balance.ToInt())
	fmt.Println("Nonce:", uint64(act.Nonce))
}
