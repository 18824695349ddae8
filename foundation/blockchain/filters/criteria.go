package filters

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Criteria selects logs. An empty address list matches every address. Each
// topic position holds the accepted topics, an empty position matches any
// topic.
type Criteria struct {
	BlockHash *common.Hash
	FromBlock *uint64
	ToBlock   *uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

type matcher struct {
	addresses map[common.Address]bool
	topics    []map[common.Hash]bool
}

func newMatcher(crit Criteria) matcher {
	m := matcher{}

	if len(crit.Addresses) > 0 {
		m.addresses = make(map[common.Address]bool, len(crit.Addresses))
		for _, addr := range crit.Addresses {
			m.addresses[addr] = true
		}
	}

	for _, position := range crit.Topics {
		var set map[common.Hash]bool
		if len(position) > 0 {
			set = make(map[common.Hash]bool, len(position))
			for _, topic := range position {
				set[topic] = true
			}
		}
		m.topics = append(m.topics, set)
	}

	// Trailing wildcards don't constrain anything.
	for len(m.topics) > 0 && m.topics[len(m.topics)-1] == nil {
		m.topics = m.topics[:len(m.topics)-1]
	}

	return m
}

func (m matcher) matches(log *types.Log) bool {
	if m.addresses != nil && !m.addresses[log.Address] {
		return false
	}

	if len(m.topics) > len(log.Topics) {
		return false
	}

	for i, set := range m.topics {
		if set != nil && !set[log.Topics[i]] {
			return false
		}
	}

	return true
}

// Matches reports whether the log satisfies the address and topic criteria.
// Block bounds are not considered.
func (crit Criteria) Matches(log *types.Log) bool {
	return newMatcher(crit).matches(log)
}
