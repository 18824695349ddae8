package state

import (
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/omahs/ganache/foundation/blockchain/genesis"
)

// RetrieveGenesis returns a copy of the genesis information.
func (s *State) RetrieveGenesis() genesis.Genesis {
	return s.genesis
}

// RetrieveGenesisBlock returns block zero.
func (s *State) RetrieveGenesisBlock() *types.Block {
	return s.db.GenesisBlock()
}

// RetrieveLatestBlock returns the current latest block.
func (s *State) RetrieveLatestBlock() *types.Block {
	return s.db.LatestBlock()
}

// RetrieveMempool returns the pooled transactions in arrival order.
func (s *State) RetrieveMempool() []*types.Transaction {
	return s.mempool.Copy()
}

// RetrievePending returns the executable and the queued transactions of
// the mempool.
func (s *State) RetrievePending() (pending []*types.Transaction, queued []*types.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view, err := s.db.Store().Open(s.db.LatestBlock().Root())
	if err != nil {
		return nil, nil
	}

	return s.mempool.Pending(view.GetNonce), s.mempool.Queued(view.GetNonce)
}
