// Package filters implements polled filters and pushed subscriptions over
// the node events.
package filters

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/omahs/ganache/foundation/events"
)

// Type is the kind of filter or subscription.
type Type byte

// Set of filter types.
const (
	TypeUnknown Type = iota
	TypeLog
	TypeBlock
	TypePendingTransaction
)

// ParseType maps the subscription names used by clients to a type.
func ParseType(name string) (Type, error) {
	switch name {
	case "logs":
		return TypeLog, nil
	case "newHeads", "block":
		return TypeBlock, nil
	case "newPendingTransactions", "pendingTransactions":
		return TypePendingTransaction, nil
	}
	return TypeUnknown, fmt.Errorf("unknown filter type %q", name)
}

// ErrFilterNotFound is returned for an unknown or expired filter id.
var ErrFilterNotFound = errors.New("filter not found")

// DefaultTimeout is how long a filter lives without being polled.
const DefaultTimeout = 5 * time.Minute

// Chain is the read access needed for historical log queries.
type Chain interface {
	LatestBlock() *types.Block
	BlockByHash(hash common.Hash) (*types.Block, error)
	Receipts(num uint64) ([]*types.Receipt, error)
	ForEach(from uint64, to uint64, fn func(block *types.Block, receipts []*types.Receipt) error) error
}

type filter struct {
	typ      Type
	crit     Criteria
	match    matcher
	deadline *time.Timer
	hashes   []common.Hash
	logs     []*types.Log
}

// =============================================================================

// System keeps the installed filters and subscriptions and feeds them from
// the events. Payloads are expected to be *types.Block for block events,
// []*types.Log for block log events and common.Hash for pending
// transaction events.
type System struct {
	mu      sync.Mutex
	evts    *events.Events
	chain   Chain
	timeout time.Duration
	nextID  uint64
	filters map[string]*filter
	subs    map[string]*Subscription
}

// busID is the id the system registers with on the events.
const busID = "filters"

// New constructs a filter system and registers it for events.
func New(evts *events.Events, chain Chain, timeout time.Duration) *System {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	sys := System{
		evts:    evts,
		chain:   chain,
		timeout: timeout,
		filters: make(map[string]*filter),
		subs:    make(map[string]*Subscription),
	}

	evts.AcquireFunc(busID, sys.handle, events.KindBlock, events.KindBlockLogs, events.KindPendingTransaction)

	return &sys
}

// Shutdown unregisters from the events and drops every filter and
// subscription.
func (sys *System) Shutdown() {
	sys.evts.Release(busID)

	sys.mu.Lock()
	defer sys.mu.Unlock()

	for id, f := range sys.filters {
		f.deadline.Stop()
		delete(sys.filters, id)
	}

	for id, sub := range sys.subs {
		sub.close()
		delete(sys.subs, id)
	}
}

// newID returns the next id. Must be called with the lock held.
func (sys *System) newID() string {
	sys.nextID++
	return hexutil.EncodeUint64(sys.nextID)
}

// =============================================================================

// NewFilter installs a polled filter and returns its id.
func (sys *System) NewFilter(typ Type, crit Criteria) (string, error) {
	if typ == TypeUnknown {
		return "", errors.New("unknown filter type")
	}

	sys.mu.Lock()
	defer sys.mu.Unlock()

	id := sys.newID()

	sys.filters[id] = &filter{
		typ:   typ,
		crit:  crit,
		match: newMatcher(crit),
		deadline: time.AfterFunc(sys.timeout, func() {
			sys.Uninstall(id)
		}),
	}

	return id, nil
}

// Changes returns what the filter collected since the last call and
// empties it. Block and pending transaction filters return []common.Hash,
// log filters return []*types.Log.
func (sys *System) Changes(id string) (any, error) {
	sys.mu.Lock()
	defer sys.mu.Unlock()

	f, exists := sys.filters[id]
	if !exists {
		return nil, ErrFilterNotFound
	}

	f.deadline.Reset(sys.timeout)

	if f.typ == TypeLog {
		logs := f.logs
		f.logs = nil
		if logs == nil {
			logs = []*types.Log{}
		}
		return logs, nil
	}

	hashes := f.hashes
	f.hashes = nil
	if hashes == nil {
		hashes = []common.Hash{}
	}
	return hashes, nil
}

// FilterLogs runs the criteria of an installed log filter against the
// chain.
func (sys *System) FilterLogs(id string) ([]*types.Log, error) {
	sys.mu.Lock()
	f, exists := sys.filters[id]
	sys.mu.Unlock()

	if !exists || f.typ != TypeLog {
		return nil, ErrFilterNotFound
	}

	return sys.Logs(f.crit)
}

// Uninstall removes the filter. It reports whether the filter existed.
func (sys *System) Uninstall(id string) bool {
	sys.mu.Lock()
	defer sys.mu.Unlock()

	f, exists := sys.filters[id]
	if !exists {
		return false
	}

	f.deadline.Stop()
	delete(sys.filters, id)

	return true
}

// Count returns the number of installed filters and subscriptions.
func (sys *System) Count() int {
	sys.mu.Lock()
	defer sys.mu.Unlock()

	return len(sys.filters) + len(sys.subs)
}

// =============================================================================

// Subscription pushes what a filter would collect. C receives
// *types.Header values for block subscriptions, *types.Log values for log
// subscriptions and common.Hash values for pending transactions. C is closed
// when the subscription ends.
type Subscription struct {
	ID    string
	C     <-chan any
	typ   Type
	match matcher
	queue *events.Queue[any]
	done  chan struct{}
	sys   *System
}

// Unsubscribe ends the subscription. It reports whether the subscription
// was still active.
func (sub *Subscription) Unsubscribe() bool {
	return sub.sys.Unsubscribe(sub.ID)
}

func (sub *Subscription) close() {
	sub.queue.Close()
	close(sub.done)
}

// Subscribe starts a subscription of the type.
func (sys *System) Subscribe(typ Type, crit Criteria) (*Subscription, error) {
	if typ == TypeUnknown {
		return nil, errors.New("unknown subscription type")
	}

	sys.mu.Lock()
	defer sys.mu.Unlock()

	ch := make(chan any)
	sub := Subscription{
		ID:    sys.newID(),
		C:     ch,
		typ:   typ,
		match: newMatcher(crit),
		queue: events.NewQueue[any](),
		done:  make(chan struct{}),
		sys:   sys,
	}
	sys.subs[sub.ID] = &sub

	go events.Forward(sub.queue, ch, sub.done)

	return &sub, nil
}

// Unsubscribe ends the subscription with the id.
func (sys *System) Unsubscribe(id string) bool {
	sys.mu.Lock()
	defer sys.mu.Unlock()

	sub, exists := sys.subs[id]
	if !exists {
		return false
	}

	sub.close()
	delete(sys.subs, id)

	return true
}

// =============================================================================

// handle is called by the events for every block, block logs and pending
// transaction event.
func (sys *System) handle(e events.Event) {
	sys.mu.Lock()
	defer sys.mu.Unlock()

	switch e.Kind {
	case events.KindBlock:
		block, ok := e.Data.(*types.Block)
		if !ok {
			return
		}

		for _, f := range sys.filters {
			if f.typ == TypeBlock {
				f.hashes = append(f.hashes, block.Hash())
			}
		}
		for _, sub := range sys.subs {
			if sub.typ == TypeBlock {
				sub.queue.Push(block.Header())
			}
		}

	case events.KindBlockLogs:
		logs, ok := e.Data.([]*types.Log)
		if !ok {
			return
		}

		for _, f := range sys.filters {
			if f.typ != TypeLog {
				continue
			}
			for _, log := range logs {
				if f.match.matches(log) {
					f.logs = append(f.logs, log)
				}
			}
		}
		for _, sub := range sys.subs {
			if sub.typ != TypeLog {
				continue
			}
			for _, log := range logs {
				if sub.match.matches(log) {
					sub.queue.Push(log)
				}
			}
		}

	case events.KindPendingTransaction:
		hash, ok := e.Data.(common.Hash)
		if !ok {
			return
		}

		for _, f := range sys.filters {
			if f.typ == TypePendingTransaction {
				f.hashes = append(f.hashes, hash)
			}
		}
		for _, sub := range sys.subs {
			if sub.typ == TypePendingTransaction {
				sub.queue.Push(hash)
			}
		}
	}
}

// =============================================================================

// Logs returns the logs in the chain that match the criteria. Missing block
// bounds default to the latest block; a range past the head is cut at the
// head.
func (sys *System) Logs(crit Criteria) ([]*types.Log, error) {
	match := newMatcher(crit)
	logs := []*types.Log{}

	collect := func(block *types.Block, receipts []*types.Receipt) error {
		for _, receipt := range receipts {
			for _, log := range receipt.Logs {
				if match.matches(log) {
					logs = append(logs, log)
				}
			}
		}
		return nil
	}

	if crit.BlockHash != nil {
		block, err := sys.chain.BlockByHash(*crit.BlockHash)
		if err != nil {
			return nil, err
		}

		receipts, err := sys.chain.Receipts(block.NumberU64())
		if err != nil {
			return nil, err
		}

		return logs, collect(block, receipts)
	}

	latest := sys.chain.LatestBlock().NumberU64()

	from, to := latest, latest
	if crit.FromBlock != nil {
		from = *crit.FromBlock
	}
	if crit.ToBlock != nil {
		to = min(*crit.ToBlock, latest)
	}

	if from > to {
		return logs, nil
	}

	if err := sys.chain.ForEach(from, to, collect); err != nil {
		return nil, err
	}

	return logs, nil
}
