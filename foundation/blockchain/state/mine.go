package state

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/misc/eip1559"
	"github.com/ethereum/go-ethereum/core"
	ethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/omahs/ganache/foundation/blockchain/database"
	"github.com/omahs/ganache/foundation/blockchain/simulator"
	"github.com/omahs/ganache/foundation/events"
	"go.uber.org/multierr"
)

// TxFailure names a mined transaction that failed inside the EVM.
type TxFailure struct {
	Hash    common.Hash
	Outcome database.Outcome
}

// FailedTransactionsError is returned with strict failure reporting when a
// mined block holds transactions that failed. The block is still part of
// the chain.
type FailedTransactionsError struct {
	Failures []TxFailure
	err      error
}

func newFailedTransactionsError(failures []TxFailure) error {
	if len(failures) == 0 {
		return nil
	}

	var err error
	for _, f := range failures {
		ee := simulator.ExecutionError{
			Kind:   f.Outcome.Kind,
			Reason: f.Outcome.Reason,
			Data:   f.Outcome.ReturnData,
		}
		err = multierr.Append(err, fmt.Errorf("transaction %s: %w", f.Hash, &ee))
	}

	return &FailedTransactionsError{Failures: failures, err: err}
}

// Error implements the error interface.
func (fe *FailedTransactionsError) Error() string {
	return fe.err.Error()
}

// Unwrap returns one error per failed transaction.
func (fe *FailedTransactionsError) Unwrap() []error {
	return multierr.Errors(fe.err)
}

// =============================================================================

// MineNewBlock drains the executable transactions from the mempool and
// writes them in a new block, even if there are none. Failed transactions
// are only logged; strict failure reporting applies to Mine and to
// submissions.
func (s *State) MineNewBlock() (*types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mined, err := s.mineBlock(0, false)
	return mined.block, err
}

// MinePending writes the executable transactions of the mempool in a new
// block. No block is written when none of them can be included, and the
// returned block is nil. The bool reports that transactions were left in
// the mempool because the block ran out of gas.
func (s *State) MinePending() (*types.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mined, err := s.mineBlock(0, true)
	return mined.block, mined.full, err
}

// Mine writes count blocks and returns how many were written. A count
// below one mines nothing. A timestamp other than zero is used for the
// first block and moves the clock to it. With strict failure reporting a
// *FailedTransactionsError lists every failed transaction once all the
// blocks are written.
func (s *State) Mine(count int, timestamp uint64) (int, error) {
	if count < 1 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if timestamp != 0 {
		s.offset = time.Unix(int64(timestamp), 0).Sub(s.now())
	}

	var failures []TxFailure
	for i := range count {
		ts := uint64(0)
		if i == 0 {
			ts = timestamp
		}

		mined, err := s.mineBlock(ts, false)
		if err != nil {
			return i, err
		}
		failures = append(failures, mined.failures...)
	}

	if s.strict {
		return count, newFailedTransactionsError(failures)
	}

	return count, nil
}

// =============================================================================

// MinerStart allows automatic mining again.
func (s *State) MinerStart() {
	if s.miningAllowed.Swap(true) {
		return
	}

	s.evHandler("state: MinerStart: mining allowed")

	if s.Worker != nil {
		s.Worker.SignalStartMining()
	}
}

// MinerStop stops automatic mining. A block being mined is completed.
func (s *State) MinerStop() {
	s.miningAllowed.Store(false)
	s.evHandler("state: MinerStop: mining paused")
}

// IsMiningAllowed reports whether automatic mining is on.
func (s *State) IsMiningAllowed() bool {
	return s.miningAllowed.Load()
}

// =============================================================================

// minedBlock is what mining one block produced. The block is nil when
// nothing was written.
type minedBlock struct {
	block    *types.Block
	failures []TxFailure
	full     bool
}

// mineBlock builds, writes and publishes the next block. A transaction that
// can't be included is returned to the pool. With skipEmpty no block is
// written when no transaction could be included. On error nothing changes.
// A started block is never abandoned. Must be called with the lock held.
func (s *State) mineBlock(timestamp uint64, skipEmpty bool) (minedBlock, error) {
	parent := s.db.LatestBlock()

	view, err := s.db.Store().Open(parent.Root())
	if err != nil {
		return minedBlock{}, err
	}

	txs := s.mempool.Drain(-1, view.GetNonce)
	s.evHandler("state: mineBlock: MINING: drained txs[%d]", len(txs))

	header := s.nextHeader(parent, timestamp)

	block, receipts, outcomes, retry, full := s.execute(view, header, txs)

	if skipEmpty && len(receipts) == 0 {
		s.mempool.Restore(txs)
		s.evHandler("state: mineBlock: MINING: nothing to include: returned[%d]", len(txs))
		return minedBlock{}, nil
	}

	root, err := s.db.Store().Commit(view, header.Number.Uint64())
	if err != nil {
		s.mempool.Restore(txs)
		return minedBlock{}, err
	}
	header = block.Header()
	header.Root = root
	block = database.NewBlock(header, block.Transactions(), receipts)

	if err := s.db.Write(block, receipts, outcomes); err != nil {
		s.mempool.Restore(txs)
		return minedBlock{}, err
	}

	s.mempool.Restore(retry)
	metricMempoolSize.Set(float64(s.mempool.Count()))

	var failures []TxFailure
	logs := []*types.Log{}
	for i, receipt := range receipts {
		logs = append(logs, receipt.Logs...)
		if outcomes[i].Failed() {
			failures = append(failures, TxFailure{Hash: receipt.TxHash, Outcome: outcomes[i]})
			s.evHandler("state: mineBlock: MINING: tx[%s] failed: %s %s", receipt.TxHash, outcomes[i].Kind, outcomes[i].Reason)
		}
	}

	s.evts.Send(events.Event{Kind: events.KindBlock, Data: block})
	s.evts.Send(events.Event{Kind: events.KindBlockLogs, Data: logs})

	metricBlocksMined.Inc()
	metricTxsMined.Add(float64(len(receipts)))
	metricTxsFailed.Add(float64(len(failures)))

	s.evHandler("state: mineBlock: MINING: blk[%d] hash[%s] txs[%d] failed[%d] returned[%d]", block.NumberU64(), block.Hash(), len(receipts), len(failures), len(retry))

	return minedBlock{block: block, failures: failures, full: full && len(receipts) > 0}, nil
}

// execute applies the transactions to the view under the header. The
// returned block carries no state root. Transactions that fail validation
// are returned separately and left out of the block. The bool reports that
// one of them was left out because the block ran out of gas.
func (s *State) execute(view *ethstate.StateDB, header *types.Header, txs []*types.Transaction) (*types.Block, []*types.Receipt, []database.Outcome, []*types.Transaction, bool) {
	gp := new(core.GasPool).AddGas(header.GasLimit)

	var usedGas uint64
	var included []*types.Transaction
	var receipts []*types.Receipt
	var outcomes []database.Outcome
	var retry []*types.Transaction
	var full bool

	for _, tx := range txs {
		receipt, outcome, err := s.sim.Apply(view, header, tx, len(included), gp, &usedGas, nil)
		if err != nil {
			s.evHandler("state: execute: tx[%s] not included: %s", tx.Hash(), err)
			if errors.Is(err, core.ErrGasLimitReached) {
				full = true
			}
			retry = append(retry, tx)
			continue
		}

		included = append(included, tx)
		receipts = append(receipts, receipt)
		outcomes = append(outcomes, outcome)
	}

	header.GasUsed = usedGas

	return database.NewBlock(header, included, receipts), receipts, outcomes, retry, full
}

// nextHeader returns the header of the block after parent without its state
// root. A zero timestamp means the current clock.
func (s *State) nextHeader(parent *types.Block, timestamp uint64) *types.Header {
	if timestamp == 0 {
		timestamp = uint64(s.clock().Unix())
	}

	return &types.Header{
		ParentHash: parent.Hash(),
		Coinbase:   s.genesis.CoinbaseAddress(),
		Difficulty: big.NewInt(1),
		Number:     new(big.Int).Add(parent.Number(), big.NewInt(1)),
		GasLimit:   s.genesis.GasLimit,
		Time:       max(timestamp, parent.Time()+1),
		BaseFee:    eip1559.CalcBaseFee(s.config, parent.Header()),
	}
}

// pendingBlock executes the executable pool contents on top of the latest
// block without writing anything. The view holds the resulting state.
func (s *State) pendingBlock() (*types.Block, *ethstate.StateDB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := s.db.LatestBlock()

	view, err := s.db.Store().Open(parent.Root())
	if err != nil {
		return nil, nil, err
	}

	txs := s.mempool.Pending(view.GetNonce)
	header := s.nextHeader(parent, 0)

	block, receipts, _, _, _ := s.execute(view, header, txs)

	header = block.Header()
	header.Root = view.IntermediateRoot(true)

	return database.NewBlock(header, block.Transactions(), receipts), view, nil
}
