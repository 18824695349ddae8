package public

import (
	"net/http"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru"
	"github.com/omahs/ganache/foundation/blockchain/state"
	"github.com/omahs/ganache/foundation/events"
	"github.com/omahs/ganache/foundation/web"
	"go.uber.org/zap"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
	Cache *lru.Cache
}

// Routes binds all the public routes.
func Routes(app *web.App, cfg Config) {
	pbl := Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
		Cache: cfg.Cache,
	}

	const version = "v1"

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/chain", pbl.Chain)
	app.Handle(http.MethodGet, version, "/accounts", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/accounts/:address", pbl.Account)
	app.Handle(http.MethodGet, version, "/accounts/:address/code", pbl.Code)
	app.Handle(http.MethodGet, version, "/accounts/:address/storage/:slot", pbl.Storage)
	app.Handle(http.MethodGet, version, "/blocks/hash/:hash", pbl.BlockByHash)
	app.Handle(http.MethodGet, version, "/blocks/:ref", pbl.BlockByNumber)
	app.Handle(http.MethodGet, version, "/tx/pool", pbl.Mempool)
	app.Handle(http.MethodGet, version, "/tx/:hash", pbl.Transaction)
	app.Handle(http.MethodGet, version, "/tx/:hash/receipt", pbl.Receipt)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitTransaction)
	app.Handle(http.MethodPost, version, "/tx/send", pbl.SendTransaction)
	app.Handle(http.MethodPost, version, "/call", pbl.Call)
	app.Handle(http.MethodPost, version, "/estimate", pbl.EstimateGas)
	app.Handle(http.MethodGet, version, "/trace/:hash", pbl.Trace)
	app.Handle(http.MethodPost, version, "/storage/range", pbl.StorageRange)
	app.Handle(http.MethodPost, version, "/logs", pbl.Logs)
	app.Handle(http.MethodPost, version, "/filters", pbl.NewFilter)
	app.Handle(http.MethodGet, version, "/filters/:id/changes", pbl.FilterChanges)
	app.Handle(http.MethodGet, version, "/filters/:id/logs", pbl.FilterLogs)
	app.Handle(http.MethodDelete, version, "/filters/:id", pbl.UninstallFilter)
}
