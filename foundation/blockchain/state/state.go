// Package state is the core API for the blockchain and implements all the
// business rules and processing.
package state

import (
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/omahs/ganache/foundation/blockchain/accounts"
	"github.com/omahs/ganache/foundation/blockchain/database"
	"github.com/omahs/ganache/foundation/blockchain/filters"
	"github.com/omahs/ganache/foundation/blockchain/genesis"
	"github.com/omahs/ganache/foundation/blockchain/mempool"
	"github.com/omahs/ganache/foundation/blockchain/mempool/selector"
	"github.com/omahs/ganache/foundation/blockchain/simulator"
	"github.com/omahs/ganache/foundation/blockchain/snapshot"
	"github.com/omahs/ganache/foundation/events"
)

// ErrNotFound is returned when a block, transaction or receipt is unknown.
var ErrNotFound = errors.New("not found")

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining.
type Worker interface {
	Shutdown()
	SignalStartMining()
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	Genesis        genesis.Genesis
	Storage        database.Serializer
	Keystore       *accounts.Keystore
	SelectStrategy string
	Instamine      bool
	BlockTime      time.Duration
	StrictFailures bool
	GasCap         uint64
	FilterTimeout  time.Duration
	Events         *events.Events
	Now            func() time.Time
	EvHandler      EventHandler
}

// State manages the blockchain database.
type State struct {
	mu sync.Mutex

	evHandler EventHandler
	now       func() time.Time
	offset    time.Duration

	instamine     bool
	blockTime     time.Duration
	strict        bool
	miningAllowed atomic.Bool

	genesis   genesis.Genesis
	config    *params.ChainConfig
	signer    types.Signer
	db        *database.Database
	mempool   *mempool.Mempool
	sim       *simulator.Simulator
	snapshots *snapshot.Manager
	evts      *events.Events
	filters   *filters.System
	keystore  *accounts.Keystore

	Worker Worker
}

// New constructs a new blockchain for data management.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if err := cfg.Genesis.Validate(); err != nil {
		return nil, err
	}

	// The development accounts are funded in the genesis block unless the
	// genesis balances say otherwise.
	keystore := cfg.Keystore
	if keystore == nil {
		ks, err := accounts.New(cfg.Genesis.Seed, cfg.Genesis.Accounts)
		if err != nil {
			return nil, err
		}
		keystore = ks
	}

	alloc, err := cfg.Genesis.Alloc()
	if err != nil {
		return nil, err
	}
	for _, addr := range keystore.Accounts() {
		if _, exists := alloc[addr]; !exists {
			alloc[addr] = cfg.Genesis.DefaultBalanceWei()
		}
	}

	db, err := database.New(cfg.Genesis, alloc, cfg.Storage, ev)
	if err != nil {
		return nil, err
	}

	config := cfg.Genesis.ChainConfig()
	signer := types.LatestSigner(config)

	limits := mempool.Limits{
		BlockGasLimit: cfg.Genesis.GasLimit,
		MinGasPrice:   new(big.Int).SetUint64(cfg.Genesis.MinGasPrice),
	}

	strategy := cfg.SelectStrategy
	if strategy == "" {
		strategy = selector.StrategyFIFO
	}

	mp, err := mempool.NewWithStrategy(signer, limits, strategy)
	if err != nil {
		db.Close()
		return nil, err
	}

	evts := cfg.Events
	if evts == nil {
		evts = events.New()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	state := State{
		evHandler: ev,
		now:       now,
		instamine: cfg.Instamine,
		blockTime: cfg.BlockTime,
		strict:    cfg.StrictFailures,
		genesis:   cfg.Genesis,
		config:    config,
		signer:    signer,
		db:        db,
		mempool:   mp,
		sim:       simulator.New(config, db, cfg.GasCap),
		snapshots: snapshot.New(),
		evts:      evts,
		filters:   filters.New(evts, db, cfg.FilterTimeout),
		keystore:  keystore,
	}
	state.miningAllowed.Store(true)

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	s.filters.Shutdown()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}

// =============================================================================

// Instamine reports whether a block is mined for every executable
// transaction.
func (s *State) Instamine() bool {
	return s.instamine
}

// BlockTime returns the interval between blocks when mining on a timer.
func (s *State) BlockTime() time.Duration {
	return s.blockTime
}

// Signer returns the signer used to recover transaction senders.
func (s *State) Signer() types.Signer {
	return s.signer
}

// ChainID returns the chain id.
func (s *State) ChainID() *big.Int {
	return new(big.Int).Set(s.config.ChainID)
}

// Accounts returns the unlocked accounts.
func (s *State) Accounts() []common.Address {
	return s.keystore.Accounts()
}

// AccountName returns the name of an unlocked account.
func (s *State) AccountName(addr common.Address) string {
	return s.keystore.Lookup(addr)
}
