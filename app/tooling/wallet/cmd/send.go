package cmd

import (
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	to    string
	value string
	gas   uint64
	data  []byte
)

type chainInfo struct {
	ChainID  *hexutil.Big `json:"chain_id"`
	GasPrice *hexutil.Big `json:"gas_price"`
}

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign a transaction with your key and submit it.",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		sendWithDetails(privateKey)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Account to send to, empty to create a contract.")
	sendCmd.Flags().StringVarP(&value, "value", "v", "0", "Value to send in wei.")
	sendCmd.Flags().Uint64VarP(&gas, "gas", "g", 21_000, "Gas limit of the transaction.")
	sendCmd.Flags().BytesHexVarP(&data, "data", "d", nil, "Data to send.")
}

func sendWithDetails(privateKey *ecdsa.PrivateKey) {
	from := crypto.PubkeyToAddress(privateKey.PublicKey)

	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		log.Fatalf("invalid value %q", value)
	}

	var ci chainInfo
	if err := call(http.MethodGet, nodeURL+"/v1/chain", nil, &ci); err != nil {
		log.Fatal(err)
	}

	// The pending block counts the transactions already waiting in the pool.
	var act account
	if err := call(http.MethodGet, fmt.Sprintf("%s/v1/accounts/%s?block=pending", nodeURL, from), nil, &act); err != nil {
		log.Fatal(err)
	}

	inner := types.LegacyTx{
		Nonce:    uint64(act.Nonce),
		Gas:      gas,
		GasPrice: ci.GasPrice.ToInt(),
		Value:    amount,
		Data:     data,
	}
	if to != "" {
		if !common.IsHexAddress(to) {
			log.Fatalf("invalid account %q", to)
		}
		addr := common.HexToAddress(to)
		inner.To = &addr
	}

	signer := types.LatestSignerForChainID(ci.ChainID.ToInt())
	tx, err := types.SignNewTx(privateKey, signer, &inner)
	if err != nil {
		log.Fatal(err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		log.Fatal(err)
	}

	req := struct {
		Raw string `json:"raw"`
	}{
		Raw: hexutil.Encode(raw),
	}

	var resp struct {
		Hash common.Hash `json:"hash"`
	}
	if err := call(http.MethodPost, nodeURL+"/v1/tx/submit", req, &resp); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Transaction:", resp.Hash)
}
