package worker

import (
	"time"
)

// miningOperations handles mining on demand.
func (w *Worker) miningOperations() {
	w.evHandler("worker: miningOperations: G started")
	defer w.evHandler("worker: miningOperations: G completed")

	for {
		select {
		case <-w.startMining:
			if !w.isShutdown() {
				w.runMiningOperation()
			}
		case <-w.shut:
			w.evHandler("worker: miningOperations: received shut signal")
			return
		}
	}
}

// runMiningOperation takes the executable transactions from the mempool and
// writes a new block to the database.
func (w *Worker) runMiningOperation() {
	w.evHandler("worker: runMiningOperation: MINING: started")
	defer w.evHandler("worker: runMiningOperation: MINING: completed")

	if !w.state.IsMiningAllowed() {
		w.evHandler("worker: runMiningOperation: MINING: turned off")
		return
	}

	// Make sure there are transactions to mine.
	length := w.state.QueryPendingCount()
	if length == 0 {
		w.evHandler("worker: runMiningOperation: MINING: no transactions to mine: Txs[%d]", length)
		return
	}

	t := time.Now()
	block, more, err := w.state.MinePending()
	duration := time.Since(t)

	w.evHandler("worker: runMiningOperation: MINING: mining duration[%v]", duration)

	if err != nil {
		w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)
		return
	}

	if block == nil {
		w.evHandler("worker: runMiningOperation: MINING: no transaction could be included: Txs[%d]", length)
		return
	}

	// Transactions left out for lack of block gas need another block. The
	// ones left out for other reasons wait for the next submission.
	if more {
		w.evHandler("worker: runMiningOperation: MINING: signal new mining operation: Txs[%d]", w.state.QueryPendingCount())
		w.SignalStartMining()
	}
}

// intervalOperations mines a block every block time, with or without
// transactions.
func (w *Worker) intervalOperations() {
	w.evHandler("worker: intervalOperations: G started")
	defer w.evHandler("worker: intervalOperations: G completed")

	ticker := time.NewTicker(w.state.BlockTime())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if w.isShutdown() || !w.state.IsMiningAllowed() {
				continue
			}

			block, err := w.state.MineNewBlock()
			if err != nil {
				w.evHandler("worker: intervalOperations: MINING: ERROR: %s", err)
				continue
			}
			w.evHandler("worker: intervalOperations: MINING: blk[%d] txs[%d]", block.NumberU64(), len(block.Transactions()))

		case <-w.shut:
			w.evHandler("worker: intervalOperations: received shut signal")
			return
		}
	}
}
