package database

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Set of outcome kinds recorded for a mined transaction.
const (
	OutcomeSuccess  = "success"
	OutcomeRevert   = "revert"
	OutcomeOutOfGas = "out-of-gas"
	OutcomeError    = "error"
)

// Outcome is the execution result kept next to the receipt of a mined
// transaction. It carries what the receipt can't: why a transaction failed.
type Outcome struct {
	Kind       string        `json:"kind"`
	Reason     string        `json:"reason,omitempty"`
	ReturnData hexutil.Bytes `json:"return_data,omitempty"`
}

// Failed reports whether the transaction failed inside the EVM.
func (o Outcome) Failed() bool {
	return o.Kind != OutcomeSuccess
}

// =============================================================================

// TxLookup locates a mined transaction in the chain.
type TxLookup struct {
	BlockHash   common.Hash
	BlockNumber uint64
	Index       uint64
}

// MinedTx is a mined transaction with its location and outcome.
type MinedTx struct {
	Tx      *types.Transaction
	Lookup  TxLookup
	Receipt *types.Receipt
	Outcome Outcome
}
