package cmd

import (
	"fmt"
	"log"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

var (
	mineCount     int
	mineTimestamp uint64
)

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Ask the node to mine blocks.",
	Run: func(cmd *cobra.Command, args []string) {
		req := struct {
			Count     int    `json:"count"`
			Timestamp uint64 `json:"timestamp"`
		}{
			Count:     mineCount,
			Timestamp: mineTimestamp,
		}

		var resp struct {
			Mined       int            `json:"mined"`
			LatestBlock hexutil.Uint64 `json:"latest_block"`
		}
		if err := call(http.MethodPost, privateURL+"/v1/node/mine", req, &resp); err != nil {
			log.Fatal(err)
		}

		fmt.Printf("Mined %d blocks, latest block %d\n", resp.Mined, uint64(resp.LatestBlock))
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take a snapshot of the chain.",
	Run: func(cmd *cobra.Command, args []string) {
		var resp struct {
			ID hexutil.Uint64 `json:"id"`
		}
		if err := call(http.MethodPost, privateURL+"/v1/node/snapshot", nil, &resp); err != nil {
			log.Fatal(err)
		}

		fmt.Println("Snapshot:", resp.ID)
	},
}

var revertCmd = &cobra.Command{
	Use:   "revert <id>",
	Short: "Revert the chain to a snapshot.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var resp struct {
			Reverted bool `json:"reverted"`
		}
		if err := call(http.MethodPost, privateURL+"/v1/node/revert/"+args[0], nil, &resp); err != nil {
			log.Fatal(err)
		}

		fmt.Println("Reverted:", resp.Reverted)
	},
}

func init() {
	rootCmd.AddCommand(mineCmd, snapshotCmd, revertCmd)
	mineCmd.Flags().IntVarP(&mineCount, "count", "c", 1, "Number of blocks to mine.")
	mineCmd.Flags().Uint64VarP(&mineTimestamp, "timestamp", "s", 0, "Timestamp of the first block.")
}
