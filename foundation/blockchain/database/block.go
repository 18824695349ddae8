package database

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
)

// ErrChainBroken is returned when a stored chain doesn't link up.
var ErrChainBroken = errors.New("stored chain is broken")

// BlockData represents what is serialized by a Serializer. The block itself
// is kept in its canonical RLP encoding (header, transactions, uncles).
type BlockData struct {
	Number          uint64           `json:"number"`
	Hash            common.Hash      `json:"hash"`
	Block           hexutil.Bytes    `json:"block"`
	Receipts        []*types.Receipt `json:"receipts"`
	Outcomes        []Outcome        `json:"outcomes"`
	TotalDifficulty *hexutil.Big     `json:"total_difficulty"`
}

// NewBlockData constructs the value to serialize.
func NewBlockData(block *types.Block, receipts []*types.Receipt, outcomes []Outcome, td *big.Int) (BlockData, error) {
	enc, err := rlp.EncodeToBytes(block)
	if err != nil {
		return BlockData{}, fmt.Errorf("encode block %d: %w", block.NumberU64(), err)
	}

	if receipts == nil {
		receipts = []*types.Receipt{}
	}
	if outcomes == nil {
		outcomes = []Outcome{}
	}

	blockData := BlockData{
		Number:          block.NumberU64(),
		Hash:            block.Hash(),
		Block:           enc,
		Receipts:        receipts,
		Outcomes:        outcomes,
		TotalDifficulty: (*hexutil.Big)(new(big.Int).Set(td)),
	}

	return blockData, nil
}

// ToBlock decodes the block held by the block data.
func ToBlock(blockData BlockData) (*types.Block, error) {
	block := new(types.Block)
	if err := rlp.DecodeBytes(blockData.Block, block); err != nil {
		return nil, fmt.Errorf("decode block %d: %w", blockData.Number, err)
	}

	if block.Hash() != blockData.Hash {
		return nil, fmt.Errorf("%w: block %d hash mismatch, got %s, exp %s", ErrChainBroken, blockData.Number, block.Hash(), blockData.Hash)
	}

	return block, nil
}

// ValidateBlock checks a stored block links to its parent and matches its
// own header commitments.
func ValidateBlock(block *types.Block, parent *types.Block, receipts []*types.Receipt, evHandler func(v string, args ...any)) error {
	number := block.NumberU64()

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block number is the next number", number)

	if number != parent.NumberU64()+1 {
		return fmt.Errorf("%w: this block is not the next number, got %d, exp %d", ErrChainBroken, number, parent.NumberU64()+1)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: parent hash does match parent block", number)

	if block.ParentHash() != parent.Hash() {
		return fmt.Errorf("%w: parent block hash doesn't match, got %s, exp %s", ErrChainBroken, block.ParentHash(), parent.Hash())
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block's timestamp is greater than parent block's timestamp", number)

	if block.Time() <= parent.Time() {
		return fmt.Errorf("%w: block timestamp %d is not after parent %d", ErrChainBroken, block.Time(), parent.Time())
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: transaction root does match transactions", number)

	if root := types.DeriveSha(block.Transactions(), trie.NewStackTrie(nil)); root != block.TxHash() {
		return fmt.Errorf("%w: transaction root does not match, got %s, exp %s", ErrChainBroken, root, block.TxHash())
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: receipt root does match receipts", number)

	if root := types.DeriveSha(types.Receipts(receipts), trie.NewStackTrie(nil)); root != block.ReceiptHash() {
		return fmt.Errorf("%w: receipt root does not match, got %s, exp %s", ErrChainBroken, root, block.ReceiptHash())
	}

	return nil
}

// =============================================================================

// Bloom returns the bloom filter for the logs.
func Bloom(logs []*types.Log) types.Bloom {
	var bloom types.Bloom
	for _, log := range logs {
		bloom.Add(log.Address.Bytes())
		for _, topic := range log.Topics {
			bloom.Add(topic.Bytes())
		}
	}
	return bloom
}

// NewBlock assembles a block from the header, the transactions and their
// receipts. It fills in the transaction root, receipt root, bloom and uncle
// hash, then back-fills the block references of receipts and logs.
func NewBlock(header *types.Header, txs []*types.Transaction, receipts []*types.Receipt) *types.Block {
	block := types.NewBlock(header, &types.Body{Transactions: txs}, receipts, trie.NewStackTrie(nil))

	hash := block.Hash()
	for i, receipt := range receipts {
		receipt.BlockHash = hash
		receipt.BlockNumber = new(big.Int).Set(block.Number())
		receipt.TransactionIndex = uint(i)
		for _, log := range receipt.Logs {
			log.BlockHash = hash
			log.BlockNumber = block.NumberU64()
			log.TxIndex = uint(i)
		}
	}

	return block
}
