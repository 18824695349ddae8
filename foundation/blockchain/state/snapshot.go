package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/omahs/ganache/foundation/blockchain/snapshot"
)

// Snapshot records the chain head, the pool and the clock, and returns the
// id to revert to.
func (s *State) Snapshot() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := s.db.LatestBlock()

	id := s.snapshots.Take(snapshot.Tuple{
		Head:       latest.NumberU64(),
		Root:       latest.Root(),
		Pool:       s.mempool.Copy(),
		TimeOffset: s.offset,
	})
	metricSnapshots.Set(float64(s.snapshots.Len()))

	s.evHandler("state: Snapshot: id[%d] blk[%d]", id, latest.NumberU64())

	return id
}

// Revert puts the chain back to the snapshot and discards it together with
// every later snapshot. It reports false with a *snapshot.Error for an
// unknown or already used id. The snapshot is kept when the chain can't be
// truncated.
func (s *State) Revert(id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tuple, err := s.snapshots.Get(id)
	if err != nil {
		return false, err
	}

	if err := s.db.Truncate(tuple.Head); err != nil {
		return false, fmt.Errorf("revert to block %d: %w", tuple.Head, err)
	}

	if _, err := s.snapshots.Revert(id); err != nil {
		return false, err
	}
	metricSnapshots.Set(float64(s.snapshots.Len()))

	if root := s.db.LatestBlock().Root(); root != tuple.Root {
		return false, fmt.Errorf("revert to block %d: root %s, exp %s", tuple.Head, root, tuple.Root)
	}

	s.mempool.Replace(tuple.Pool)
	metricMempoolSize.Set(float64(s.mempool.Count()))

	s.offset = tuple.TimeOffset

	s.evHandler("state: Revert: id[%d] blk[%d]", id, tuple.Head)

	return true, nil
}

// IsSnapshotError reports whether the error is for an unknown snapshot id.
func IsSnapshotError(err error) bool {
	var se *snapshot.Error
	return errors.As(err, &se)
}

// =============================================================================

// IncreaseTime moves the clock forward and returns the total offset from
// the system time.
func (s *State) IncreaseTime(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offset += d
	return s.offset
}

// SetTime moves the clock to the time and returns the offset from the
// system time.
func (s *State) SetTime(t time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offset = t.Sub(s.now())
	return s.offset
}

// Now returns the time the next block would be stamped with, before the
// rule that it follows its parent.
func (s *State) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.clock()
}

// clock returns the shifted time. Must be called with the lock held.
func (s *State) clock() time.Time {
	return s.now().Add(s.offset)
}
