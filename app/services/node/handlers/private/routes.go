package private

import (
	"net/http"

	"github.com/omahs/ganache/foundation/blockchain/state"
	"github.com/omahs/ganache/foundation/web"
	"go.uber.org/zap"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// Routes binds all the private routes.
func Routes(app *web.App, cfg Config) {
	prv := Handlers{
		Log:   cfg.Log,
		State: cfg.State,
	}

	const version = "v1"

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodPost, version, "/node/mine", prv.Mine)
	app.Handle(http.MethodPost, version, "/node/miner/start", prv.MinerStart)
	app.Handle(http.MethodPost, version, "/node/miner/stop", prv.MinerStop)
	app.Handle(http.MethodPost, version, "/node/snapshot", prv.Snapshot)
	app.Handle(http.MethodPost, version, "/node/revert/:id", prv.Revert)
	app.Handle(http.MethodPost, version, "/node/time/increase", prv.IncreaseTime)
	app.Handle(http.MethodPost, version, "/node/time/set", prv.SetTime)
}
