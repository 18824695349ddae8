package public

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/omahs/ganache/business/web/errs"
	"github.com/omahs/ganache/foundation/blockchain/filters"
	"github.com/omahs/ganache/foundation/blockchain/simulator"
	"github.com/omahs/ganache/foundation/blockchain/state"
)

type hashResponse struct {
	Hash common.Hash `json:"hash"`
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errs.NewTrusted(fmt.Errorf("invalid address %q", s), http.StatusBadRequest)
	}
	return common.HexToAddress(s), nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, errs.NewTrusted(fmt.Errorf("invalid hash %q", s), http.StatusBadRequest)
	}
	return common.BytesToHash(b), nil
}

// parseWord accepts a storage slot as a quantity or as a full 32 byte word.
func parseWord(s string) (common.Hash, error) {
	n, err := hexutil.DecodeBig(s)
	if err != nil {
		return parseHash(s)
	}
	return common.BigToHash(n), nil
}

func parseRef(s string) (state.BlockRef, error) {
	ref, err := state.ParseBlockRef(s)
	if err != nil {
		return state.BlockRef{}, errs.NewTrusted(err, http.StatusBadRequest)
	}
	return ref, nil
}

// callArgs converts the request, addresses are already validated.
func (req callRequest) callArgs() simulator.CallArgs {
	args := simulator.CallArgs{
		Gas:      uint64(req.Gas),
		GasPrice: req.GasPrice.ToInt(),
		Value:    req.Value.ToInt(),
		Data:     req.Data,
	}
	if req.From != "" {
		args.From = common.HexToAddress(req.From)
	}
	if req.To != "" {
		to := common.HexToAddress(req.To)
		args.To = &to
	}
	return args
}

// criteria converts the request. Latest and pending bounds are left open so
// they follow the head.
func (req criteriaRequest) criteria() (filters.Criteria, error) {
	crit := filters.Criteria{
		BlockHash: req.BlockHash,
		Addresses: req.Addresses,
		Topics:    req.Topics,
	}

	bound := func(s string) (*uint64, error) {
		if s == "" {
			return nil, nil
		}
		ref, err := parseRef(s)
		if err != nil {
			return nil, err
		}
		if n, ok := ref.Uint64(); ok {
			return &n, nil
		}
		return nil, nil
	}

	var err error
	if crit.FromBlock, err = bound(req.FromBlock); err != nil {
		return filters.Criteria{}, err
	}
	if crit.ToBlock, err = bound(req.ToBlock); err != nil {
		return filters.Criteria{}, err
	}

	if crit.BlockHash != nil && (crit.FromBlock != nil || crit.ToBlock != nil) {
		return filters.Criteria{}, errs.NewTrusted(errors.New("block hash can't be combined with a block range"), http.StatusBadRequest)
	}

	return crit, nil
}
