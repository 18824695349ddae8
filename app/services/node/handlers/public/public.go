// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru"
	"github.com/omahs/ganache/business/sys/validate"
	"github.com/omahs/ganache/business/web/errs"
	"github.com/omahs/ganache/foundation/blockchain/filters"
	"github.com/omahs/ganache/foundation/blockchain/simulator"
	"github.com/omahs/ganache/foundation/blockchain/state"
	"github.com/omahs/ganache/foundation/events"
	"github.com/omahs/ganache/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events
	Cache *lru.Cache
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	gen := h.State.RetrieveGenesis()
	return web.Respond(ctx, w, gen, http.StatusOK)
}

// Chain returns the chain id, the head of the chain and the mining mode.
func (h Handlers) Chain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latest := h.State.RetrieveLatestBlock()
	gen := h.State.RetrieveGenesis()

	ci := chainInfo{
		ChainID:     (*hexutil.Big)(h.State.ChainID()),
		LatestBlock: hexutil.Uint64(latest.NumberU64()),
		LatestHash:  latest.Hash(),
		GasPrice:    (*hexutil.Big)(new(big.Int).SetUint64(gen.GasPrice)),
		Instamine:   h.State.Instamine(),
		Mining:      h.State.IsMiningAllowed(),
		Time:        h.State.Now().Unix(),
	}

	return web.Respond(ctx, w, ci, http.StatusOK)
}

// Accounts returns the unlocked accounts with their latest balances.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addrs := h.State.Accounts()

	acts := make([]account, 0, len(addrs))
	for _, addr := range addrs {
		act, err := h.State.QueryAccount(addr, state.Latest)
		if err != nil {
			return err
		}
		acts = append(acts, toAccount(act, h.State.AccountName(addr)))
	}

	return web.Respond(ctx, w, acts, http.StatusOK)
}

// Account returns one account at the block named by the block query
// parameter.
func (h Handlers) Account(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := parseAddress(web.Param(r, "address"))
	if err != nil {
		return err
	}

	ref, err := parseRef(web.Query(r, "block"))
	if err != nil {
		return err
	}

	act, err := h.State.QueryAccount(addr, ref)
	if err != nil {
		return errs.Classify(err)
	}

	return web.Respond(ctx, w, toAccount(act, h.State.AccountName(addr)), http.StatusOK)
}

// Code returns the code deployed at the account.
func (h Handlers) Code(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := parseAddress(web.Param(r, "address"))
	if err != nil {
		return err
	}

	ref, err := parseRef(web.Query(r, "block"))
	if err != nil {
		return err
	}

	code, err := h.State.QueryCode(addr, ref)
	if err != nil {
		return errs.Classify(err)
	}

	resp := struct {
		Code hexutil.Bytes `json:"code"`
	}{
		Code: code,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Storage returns one storage slot of the account.
func (h Handlers) Storage(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := parseAddress(web.Param(r, "address"))
	if err != nil {
		return err
	}

	slot, err := parseWord(web.Param(r, "slot"))
	if err != nil {
		return err
	}

	ref, err := parseRef(web.Query(r, "block"))
	if err != nil {
		return err
	}

	value, err := h.State.QueryStorageAt(addr, slot, ref)
	if err != nil {
		return errs.Classify(err)
	}

	resp := struct {
		Value common.Hash `json:"value"`
	}{
		Value: value,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================

// BlockByNumber returns the block named by a tag or a number. The full query
// parameter returns transaction objects instead of hashes.
func (h Handlers) BlockByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	ref, err := parseRef(web.Param(r, "ref"))
	if err != nil {
		return err
	}

	blk, err := h.State.QueryBlockByNumber(ref)
	if err != nil {
		return errs.Classify(err)
	}

	full, _ := strconv.ParseBool(web.Query(r, "full"))

	td := h.totalDifficulty(ref, blk.NumberU64())

	return web.Respond(ctx, w, toBlock(blk, td, full, h.State.Signer(), h.State), http.StatusOK)
}

// BlockByHash returns the block with the hash.
func (h Handlers) BlockByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := parseHash(web.Param(r, "hash"))
	if err != nil {
		return err
	}

	blk, err := h.State.QueryBlockByHash(hash)
	if err != nil {
		return errs.Classify(err)
	}

	full, _ := strconv.ParseBool(web.Query(r, "full"))

	td := h.totalDifficulty(state.Number(blk.NumberU64()), blk.NumberU64())

	return web.Respond(ctx, w, toBlock(blk, td, full, h.State.Signer(), h.State), http.StatusOK)
}

// totalDifficulty returns nil for the pending block.
func (h Handlers) totalDifficulty(ref state.BlockRef, number uint64) *big.Int {
	if ref.IsPending() {
		return nil
	}

	td, err := h.State.QueryTotalDifficulty(number)
	if err != nil {
		return nil
	}
	return td
}

// =============================================================================

// Mempool returns the executable and the queued transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	pending, queued := h.State.RetrievePending()

	p := pool{
		Pending: make([]tx, 0, len(pending)),
		Queued:  make([]tx, 0, len(queued)),
	}

	for _, t := range pending {
		info, err := h.State.QueryTransaction(t.Hash())
		if err != nil {
			continue
		}
		p.Pending = append(p.Pending, toTx(info, h.State))
	}

	for _, t := range queued {
		info, err := h.State.QueryTransaction(t.Hash())
		if err != nil {
			continue
		}
		p.Queued = append(p.Queued, toTx(info, h.State))
	}

	return web.Respond(ctx, w, p, http.StatusOK)
}

// Transaction returns a mined or pooled transaction.
func (h Handlers) Transaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := parseHash(web.Param(r, "hash"))
	if err != nil {
		return err
	}

	info, err := h.State.QueryTransaction(hash)
	if err != nil {
		return errs.Classify(err)
	}

	return web.Respond(ctx, w, toTx(info, h.State), http.StatusOK)
}

// Receipt returns the receipt of a mined transaction.
func (h Handlers) Receipt(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := parseHash(web.Param(r, "hash"))
	if err != nil {
		return err
	}

	receipt, err := h.State.QueryReceipt(hash)
	if err != nil {
		return errs.Classify(err)
	}

	return web.Respond(ctx, w, receipt, http.StatusOK)
}

// SubmitTransaction adds a signed transaction in its binary encoding to the
// mempool.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var req submitRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	raw, err := hexutil.Decode(req.Raw)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("raw transaction: %w", err), http.StatusBadRequest)
	}

	hash, err := h.State.SubmitRawTransaction(ctx, raw)
	if err != nil {
		return errs.Classify(err)
	}

	h.Log.Infow("submit tx", "traceid", v.TraceID, "hash", hash)

	return web.Respond(ctx, w, hashResponse{Hash: hash}, http.StatusOK)
}

// SendTransaction signs a transaction with an unlocked account and adds it to
// the mempool.
func (h Handlers) SendTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var req sendRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	args := state.SendArgs{
		From:     common.HexToAddress(req.From),
		Gas:      uint64(req.Gas),
		GasPrice: req.GasPrice.ToInt(),
		Value:    req.Value.ToInt(),
		Data:     req.Data,
	}
	if req.To != "" {
		to := common.HexToAddress(req.To)
		args.To = &to
	}
	if req.Nonce != nil {
		nonce := uint64(*req.Nonce)
		args.Nonce = &nonce
	}

	h.Log.Infow("send tx", "traceid", v.TraceID, "from", args.From, "to", args.To, "value", args.Value)

	hash, err := h.State.SendTransaction(ctx, args)
	if err != nil {
		return errs.Classify(err)
	}

	return web.Respond(ctx, w, hashResponse{Hash: hash}, http.StatusOK)
}

// =============================================================================

// Call executes a message without writing anything and returns its data.
func (h Handlers) Call(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req callRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	ref, err := parseRef(req.Block)
	if err != nil {
		return err
	}

	ret, err := h.State.Call(ctx, req.callArgs(), ref)
	if err != nil {
		return errs.Classify(err)
	}

	resp := struct {
		Data hexutil.Bytes `json:"data"`
	}{
		Data: ret,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// EstimateGas returns the smallest gas limit the message succeeds with.
func (h Handlers) EstimateGas(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req callRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	ref, err := parseRef(req.Block)
	if err != nil {
		return err
	}

	gas, err := h.State.EstimateGas(ctx, req.callArgs(), ref)
	if err != nil {
		return errs.Classify(err)
	}

	resp := struct {
		Gas hexutil.Uint64 `json:"gas"`
	}{
		Gas: hexutil.Uint64(gas),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Trace replays a mined transaction with the struct logger. The query
// parameters disable_stack, disable_storage, enable_memory,
// enable_return_data and limit shape the trace.
func (h Handlers) Trace(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := parseHash(web.Param(r, "hash"))
	if err != nil {
		return err
	}

	flag := func(name string) bool {
		b, _ := strconv.ParseBool(web.Query(r, name))
		return b
	}
	limit, _ := strconv.Atoi(web.Query(r, "limit"))

	cfg := simulator.TraceConfig{
		DisableStack:     flag("disable_stack"),
		DisableStorage:   flag("disable_storage"),
		EnableMemory:     flag("enable_memory"),
		EnableReturnData: flag("enable_return_data"),
		Limit:            limit,
	}

	trace, err := h.State.TraceTransaction(ctx, hash, cfg)
	if err != nil {
		return errs.Classify(err)
	}

	return web.Respond(ctx, w, trace, http.StatusOK)
}

// StorageRange returns a page of an account's storage after a transaction.
func (h Handlers) StorageRange(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req storageRangeRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	result, err := h.State.StorageRangeAt(ctx, req.BlockHash, req.TxIndex, common.HexToAddress(req.Address), req.Start, req.Max)
	if err != nil {
		return errs.Classify(err)
	}

	return web.Respond(ctx, w, result, http.StatusOK)
}

// =============================================================================

// Logs returns the mined logs matching the criteria.
func (h Handlers) Logs(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req criteriaRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	crit, err := req.criteria()
	if err != nil {
		return err
	}

	logs, err := h.State.Logs(crit)
	if err != nil {
		return errs.Classify(err)
	}

	return web.Respond(ctx, w, logs, http.StatusOK)
}

// NewFilter installs a polled filter.
func (h Handlers) NewFilter(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req filterRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	typ, err := filters.ParseType(req.Type)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	crit, err := req.Criteria.criteria()
	if err != nil {
		return err
	}

	id, err := h.State.NewFilter(typ, crit)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := struct {
		ID string `json:"id"`
	}{
		ID: id,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// FilterChanges returns what the filter collected since the last poll.
func (h Handlers) FilterChanges(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	changes, err := h.State.FilterChanges(web.Param(r, "id"))
	if err != nil {
		return errs.Classify(err)
	}

	return web.Respond(ctx, w, changes, http.StatusOK)
}

// FilterLogs runs an installed log filter against the chain.
func (h Handlers) FilterLogs(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	logs, err := h.State.FilterLogs(web.Param(r, "id"))
	if err != nil {
		return errs.Classify(err)
	}

	return web.Respond(ctx, w, logs, http.StatusOK)
}

// UninstallFilter removes a filter.
func (h Handlers) UninstallFilter(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := struct {
		Removed bool `json:"removed"`
	}{
		Removed: h.State.UninstallFilter(web.Param(r, "id")),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
