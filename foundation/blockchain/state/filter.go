package state

import (
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/omahs/ganache/foundation/blockchain/filters"
)

// NewFilter installs a polled filter.
func (s *State) NewFilter(typ filters.Type, crit filters.Criteria) (string, error) {
	return s.filters.NewFilter(typ, crit)
}

// FilterChanges returns what the filter collected since the last poll.
func (s *State) FilterChanges(id string) (any, error) {
	return s.filters.Changes(id)
}

// FilterLogs runs the criteria of an installed log filter against the
// chain.
func (s *State) FilterLogs(id string) ([]*types.Log, error) {
	return s.filters.FilterLogs(id)
}

// UninstallFilter removes the filter.
func (s *State) UninstallFilter(id string) bool {
	return s.filters.Uninstall(id)
}

// Subscribe starts a pushed subscription.
func (s *State) Subscribe(typ filters.Type, crit filters.Criteria) (*filters.Subscription, error) {
	return s.filters.Subscribe(typ, crit)
}

// Unsubscribe ends a subscription.
func (s *State) Unsubscribe(id string) bool {
	return s.filters.Unsubscribe(id)
}

// Logs returns the mined logs matching the criteria.
func (s *State) Logs(crit filters.Criteria) ([]*types.Log, error) {
	return s.filters.Logs(crit)
}
