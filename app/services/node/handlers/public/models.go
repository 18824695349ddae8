package public

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/omahs/ganache/foundation/blockchain/database"
	"github.com/omahs/ganache/foundation/blockchain/state"
)

type chainInfo struct {
	ChainID     *hexutil.Big   `json:"chain_id"`
	LatestBlock hexutil.Uint64 `json:"latest_block"`
	LatestHash  common.Hash    `json:"latest_hash"`
	GasPrice    *hexutil.Big   `json:"gas_price"`
	Instamine   bool           `json:"instamine"`
	Mining      bool           `json:"mining"`
	Time        int64          `json:"time"`
}

type account struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name,omitempty"`
	Balance     *hexutil.Big   `json:"balance"`
	Nonce       hexutil.Uint64 `json:"nonce"`
	StorageRoot common.Hash    `json:"storage_root"`
	CodeHash    common.Hash    `json:"code_hash"`
}

func toAccount(act database.Account, name string) account {
	return account{
		Address:     act.Address,
		Name:        name,
		Balance:     (*hexutil.Big)(act.Balance.ToBig()),
		Nonce:       hexutil.Uint64(act.Nonce),
		StorageRoot: act.StorageRoot,
		CodeHash:    act.CodeHash,
	}
}

type block struct {
	Number          hexutil.Uint64 `json:"number"`
	Hash            common.Hash    `json:"hash"`
	ParentHash      common.Hash    `json:"parent_hash"`
	StateRoot       common.Hash    `json:"state_root"`
	TxRoot          common.Hash    `json:"transactions_root"`
	ReceiptRoot     common.Hash    `json:"receipts_root"`
	LogsBloom       types.Bloom    `json:"logs_bloom"`
	Miner           common.Address `json:"miner"`
	Difficulty      *hexutil.Big   `json:"difficulty"`
	TotalDifficulty *hexutil.Big   `json:"total_difficulty,omitempty"`
	GasLimit        hexutil.Uint64 `json:"gas_limit"`
	GasUsed         hexutil.Uint64 `json:"gas_used"`
	Timestamp       hexutil.Uint64 `json:"timestamp"`
	BaseFee         *hexutil.Big   `json:"base_fee,omitempty"`
	ExtraData       hexutil.Bytes  `json:"extra_data"`
	Size            hexutil.Uint64 `json:"size"`
	Transactions    []any          `json:"transactions"`
}

// toBlock builds the block view. With full set the transactions are
// returned as objects, otherwise as hashes.
func toBlock(blk *types.Block, td *big.Int, full bool, signer types.Signer, st *state.State) block {
	txs := make([]any, len(blk.Transactions()))
	for i, t := range blk.Transactions() {
		if !full {
			txs[i] = t.Hash()
			continue
		}

		lookup := database.TxLookup{BlockHash: blk.Hash(), BlockNumber: blk.NumberU64(), Index: uint64(i)}
		from, _ := types.Sender(signer, t)
		txs[i] = toTx(state.TxInfo{Tx: t, From: from, Lookup: &lookup}, st)
	}

	b := block{
		Number:       hexutil.Uint64(blk.NumberU64()),
		Hash:         blk.Hash(),
		ParentHash:   blk.ParentHash(),
		StateRoot:    blk.Root(),
		TxRoot:       blk.TxHash(),
		ReceiptRoot:  blk.ReceiptHash(),
		LogsBloom:    blk.Bloom(),
		Miner:        blk.Coinbase(),
		Difficulty:   (*hexutil.Big)(blk.Difficulty()),
		GasLimit:     hexutil.Uint64(blk.GasLimit()),
		GasUsed:      hexutil.Uint64(blk.GasUsed()),
		Timestamp:    hexutil.Uint64(blk.Time()),
		ExtraData:    blk.Extra(),
		Size:         hexutil.Uint64(blk.Size()),
		Transactions: txs,
	}
	if td != nil {
		b.TotalDifficulty = (*hexutil.Big)(td)
	}
	if blk.BaseFee() != nil {
		b.BaseFee = (*hexutil.Big)(blk.BaseFee())
	}

	return b
}

type tx struct {
	Hash             common.Hash       `json:"hash"`
	From             common.Address    `json:"from"`
	FromName         string            `json:"from_name,omitempty"`
	To               *common.Address   `json:"to"`
	ToName           string            `json:"to_name,omitempty"`
	Nonce            hexutil.Uint64    `json:"nonce"`
	Gas              hexutil.Uint64    `json:"gas"`
	GasPrice         *hexutil.Big      `json:"gas_price"`
	Value            *hexutil.Big      `json:"value"`
	Input            hexutil.Bytes     `json:"input"`
	Type             hexutil.Uint64    `json:"type"`
	BlockHash        *common.Hash      `json:"block_hash"`
	BlockNumber      *hexutil.Uint64   `json:"block_number"`
	TransactionIndex *hexutil.Uint64   `json:"transaction_index"`
	Outcome          *database.Outcome `json:"outcome,omitempty"`
}

func toTx(info state.TxInfo, st *state.State) tx {
	t := tx{
		Hash:     info.Tx.Hash(),
		From:     info.From,
		FromName: st.AccountName(info.From),
		To:       info.Tx.To(),
		Nonce:    hexutil.Uint64(info.Tx.Nonce()),
		Gas:      hexutil.Uint64(info.Tx.Gas()),
		GasPrice: (*hexutil.Big)(info.Tx.GasPrice()),
		Value:    (*hexutil.Big)(info.Tx.Value()),
		Input:    info.Tx.Data(),
		Type:     hexutil.Uint64(info.Tx.Type()),
		Outcome:  info.Outcome,
	}

	if to := info.Tx.To(); to != nil {
		t.ToName = st.AccountName(*to)
	}

	if info.Lookup != nil {
		hash := info.Lookup.BlockHash
		number := hexutil.Uint64(info.Lookup.BlockNumber)
		index := hexutil.Uint64(info.Lookup.Index)
		t.BlockHash = &hash
		t.BlockNumber = &number
		t.TransactionIndex = &index
	}

	return t
}

type pool struct {
	Pending []tx `json:"pending"`
	Queued  []tx `json:"queued"`
}

// =============================================================================

type submitRequest struct {
	Raw string `json:"raw" validate:"required,hexadecimal"`
}

type sendRequest struct {
	From     string          `json:"from" validate:"required,eth_addr"`
	To       string          `json:"to" validate:"omitempty,eth_addr"`
	Nonce    *hexutil.Uint64 `json:"nonce"`
	Gas      hexutil.Uint64  `json:"gas"`
	GasPrice *hexutil.Big    `json:"gas_price"`
	Value    *hexutil.Big    `json:"value"`
	Data     hexutil.Bytes   `json:"data"`
}

type callRequest struct {
	From     string         `json:"from" validate:"omitempty,eth_addr"`
	To       string         `json:"to" validate:"omitempty,eth_addr"`
	Gas      hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big   `json:"gas_price"`
	Value    *hexutil.Big   `json:"value"`
	Data     hexutil.Bytes  `json:"data"`
	Block    string         `json:"block" validate:"omitempty,blockref"`
}

type criteriaRequest struct {
	BlockHash *common.Hash     `json:"block_hash"`
	FromBlock string           `json:"from_block" validate:"omitempty,blockref"`
	ToBlock   string           `json:"to_block" validate:"omitempty,blockref"`
	Addresses []common.Address `json:"addresses"`
	Topics    [][]common.Hash  `json:"topics"`
}

type filterRequest struct {
	Type     string          `json:"type" validate:"required,oneof=logs newHeads block newPendingTransactions pendingTransactions"`
	Criteria criteriaRequest `json:"criteria"`
}

type storageRangeRequest struct {
	BlockHash common.Hash   `json:"block_hash"`
	TxIndex   int           `json:"tx_index" validate:"gte=0"`
	Address   string        `json:"address" validate:"required,eth_addr"`
	Start     hexutil.Bytes `json:"start"`
	Max       int           `json:"max" validate:"gte=1,lte=1024"`
}
