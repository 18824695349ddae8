// Package snapshot records chain checkpoints that can be reverted to.
package snapshot

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Error is returned when reverting to an id that was never taken or has
// already been consumed.
type Error struct {
	ID uint64
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("snapshot %d does not exist", e.ID)
}

// Tuple is everything needed to put the chain back where it was.
type Tuple struct {
	Head       uint64
	Root       common.Hash
	Pool       []*types.Transaction
	TimeOffset time.Duration
}

type record struct {
	id    uint64
	tuple Tuple
}

// Manager keeps the snapshots in the order they were taken.
type Manager struct {
	mu      sync.Mutex
	records []record
	next    uint64
}

// New constructs an empty manager. The first id handed out is 1.
func New() *Manager {
	return &Manager{next: 1}
}

// Take records the tuple and returns its id. Ids keep increasing for the
// life of the manager, even across reverts.
func (m *Manager) Take(tuple Tuple) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++

	m.records = append(m.records, record{id: id, tuple: tuple})

	return id
}

// Get returns the tuple recorded for the id without discarding anything.
func (m *Manager) Get(id uint64) (Tuple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		if rec.id == id {
			return rec.tuple, nil
		}
	}

	return Tuple{}, &Error{ID: id}
}

// Revert returns the tuple recorded for the id and discards that snapshot
// and every snapshot taken after it.
func (m *Manager) Revert(id uint64) (Tuple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, rec := range m.records {
		if rec.id == id {
			m.records = m.records[:i]
			return rec.tuple, nil
		}
	}

	return Tuple{}, &Error{ID: id}
}

// Len returns the number of live snapshots.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.records)
}

// Clear discards every snapshot. Ids are not reused.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = nil
}
