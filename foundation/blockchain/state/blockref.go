package state

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type refKind int

const (
	refLatest refKind = iota
	refEarliest
	refPending
	refNumber
)

// BlockRef names the block a query runs against.
type BlockRef struct {
	kind   refKind
	number uint64
}

// Set of named block references.
var (
	Latest   = BlockRef{kind: refLatest}
	Earliest = BlockRef{kind: refEarliest}
	Pending  = BlockRef{kind: refPending}
)

// Number returns a reference to the block with the number.
func Number(n uint64) BlockRef {
	return BlockRef{kind: refNumber, number: n}
}

// ParseBlockRef accepts latest, earliest, pending, a 0x prefixed quantity or
// a decimal number. An empty string means latest.
func ParseBlockRef(s string) (BlockRef, error) {
	switch strings.ToLower(s) {
	case "", "latest":
		return Latest, nil
	case "earliest":
		return Earliest, nil
	case "pending":
		return Pending, nil
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := hexutil.DecodeUint64(strings.ToLower(s))
		if err != nil {
			return BlockRef{}, fmt.Errorf("block reference %q: %w", s, err)
		}
		return Number(n), nil
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return BlockRef{}, fmt.Errorf("block reference %q: %w", s, err)
	}

	return Number(n), nil
}

// IsPending reports whether the reference is the pending block.
func (r BlockRef) IsPending() bool {
	return r.kind == refPending
}

// String implements the fmt.Stringer interface.
func (r BlockRef) String() string {
	switch r.kind {
	case refEarliest:
		return "earliest"
	case refPending:
		return "pending"
	case refNumber:
		return hexutil.EncodeUint64(r.number)
	}
	return "latest"
}

// Uint64 returns the block number for numbered references and for the
// earliest block. Latest and pending move, so they report false.
func (r BlockRef) Uint64() (uint64, bool) {
	switch r.kind {
	case refEarliest:
		return 0, true
	case refNumber:
		return r.number, true
	}
	return 0, false
}
