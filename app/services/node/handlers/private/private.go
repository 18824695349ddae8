// Package private maintains the group of handlers for node control.
package private

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/omahs/ganache/business/sys/validate"
	"github.com/omahs/ganache/business/web/errs"
	"github.com/omahs/ganache/foundation/blockchain/state"
	"github.com/omahs/ganache/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node control endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// Status returns the head of the chain, the pool and the mining mode.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latest := h.State.RetrieveLatestBlock()
	pending, queued := h.State.RetrievePending()

	status := struct {
		LatestBlock hexutil.Uint64 `json:"latest_block"`
		LatestHash  common.Hash    `json:"latest_hash"`
		Pending     int            `json:"pending"`
		Queued      int            `json:"queued"`
		Instamine   bool           `json:"instamine"`
		BlockTime   string         `json:"block_time"`
		Mining      bool           `json:"mining"`
		Time        int64          `json:"time"`
	}{
		LatestBlock: hexutil.Uint64(latest.NumberU64()),
		LatestHash:  latest.Hash(),
		Pending:     len(pending),
		Queued:      len(queued),
		Instamine:   h.State.Instamine(),
		BlockTime:   h.State.BlockTime().String(),
		Mining:      h.State.IsMiningAllowed(),
		Time:        h.State.Now().Unix(),
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// Mine writes blocks on request. The first block takes the timestamp when
// one is given. A missing count mines one block and a count of zero is
// rejected.
func (h Handlers) Mine(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var req struct {
		Count     *int   `json:"count" validate:"omitempty,gte=1,lte=1000"`
		Timestamp uint64 `json:"timestamp"`
	}
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	count := 1
	if req.Count != nil {
		count = *req.Count
	}

	mined, err := h.State.Mine(count, req.Timestamp)

	h.Log.Infow("mine", "traceid", v.TraceID, "requested", count, "mined", mined)

	if err != nil {
		return errs.Classify(err)
	}

	resp := struct {
		Mined       int            `json:"mined"`
		LatestBlock hexutil.Uint64 `json:"latest_block"`
	}{
		Mined:       mined,
		LatestBlock: hexutil.Uint64(h.State.RetrieveLatestBlock().NumberU64()),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// MinerStart turns automatic mining back on.
func (h Handlers) MinerStart(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.State.MinerStart()
	return web.Respond(ctx, w, miningStatus{Mining: true}, http.StatusOK)
}

// MinerStop pauses automatic mining.
func (h Handlers) MinerStop(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.State.MinerStop()
	return web.Respond(ctx, w, miningStatus{Mining: false}, http.StatusOK)
}

type miningStatus struct {
	Mining bool `json:"mining"`
}

// Snapshot records the chain and returns the id to revert to.
func (h Handlers) Snapshot(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := struct {
		ID hexutil.Uint64 `json:"id"`
	}{
		ID: hexutil.Uint64(h.State.Snapshot()),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Revert puts the chain back to a snapshot. An unknown id is not an error,
// the response reports it was not reverted.
func (h Handlers) Revert(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id, err := strconv.ParseUint(web.Param(r, "id"), 0, 64)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("snapshot id: %w", err), http.StatusBadRequest)
	}

	reverted, err := h.State.Revert(id)
	if err != nil && !state.IsSnapshotError(err) {
		return err
	}

	resp := struct {
		Reverted bool `json:"reverted"`
	}{
		Reverted: reverted,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// IncreaseTime moves the clock forward by a number of seconds.
func (h Handlers) IncreaseTime(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Seconds int64 `json:"seconds" validate:"gte=0"`
	}
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	offset := h.State.IncreaseTime(time.Duration(req.Seconds) * time.Second)

	return web.Respond(ctx, w, timeResponse{Offset: int64(offset / time.Second)}, http.StatusOK)
}

// SetTime moves the clock to a unix time.
func (h Handlers) SetTime(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if req.Timestamp <= 0 {
		return errs.NewTrusted(errors.New("timestamp must be a positive unix time"), http.StatusBadRequest)
	}

	offset := h.State.SetTime(time.Unix(req.Timestamp, 0))

	return web.Respond(ctx, w, timeResponse{Offset: int64(offset / time.Second)}, http.StatusOK)
}

type timeResponse struct {
	Offset int64 `json:"offset_seconds"`
}
