package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	lru "github.com/hashicorp/golang-lru"
	"github.com/omahs/ganache/app/services/node/handlers"
	"github.com/omahs/ganache/foundation/blockchain/accounts"
	"github.com/omahs/ganache/foundation/blockchain/database"
	"github.com/omahs/ganache/foundation/blockchain/database/storage/disk"
	"github.com/omahs/ganache/foundation/blockchain/database/storage/memory"
	"github.com/omahs/ganache/foundation/blockchain/genesis"
	"github.com/omahs/ganache/foundation/blockchain/state"
	"github.com/omahs/ganache/foundation/blockchain/worker"
	"github.com/omahs/ganache/foundation/events"
	"github.com/omahs/ganache/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values. Chain values left at zero take the genesis value.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:30s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
			MessageCache    int           `conf:"default:256"`
		}
		State struct {
			GenesisFile    string
			DBPath         string
			KeysFolder     string
			SelectStrategy string        `conf:"default:fifo"`
			Instamine      bool          `conf:"default:true"`
			BlockTime      time.Duration `conf:"default:0s"`
			StrictFailures bool          `conf:"default:false"`
			GasCap         uint64
			FilterTimeout  time.Duration `conf:"default:5m"`
			Time           string        `conf:"help:start time of the chain in RFC3339"`
		}
		Chain struct {
			ChainID             uint64
			GasLimit            uint64
			GasPrice            uint64
			MinGasPrice         uint64
			Accounts            int
			DefaultBalanceEther uint64
			Seed                string
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "single node ethereum simulator",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Genesis Support

	gen := genesis.Default()
	if cfg.State.GenesisFile != "" {
		gen, err = genesis.Load(cfg.State.GenesisFile)
		if err != nil {
			return fmt.Errorf("unable to load genesis file: %w", err)
		}
	}

	if cfg.Chain.ChainID != 0 {
		gen.ChainID = cfg.Chain.ChainID
	}
	if cfg.Chain.GasLimit != 0 {
		gen.GasLimit = cfg.Chain.GasLimit
	}
	if cfg.Chain.GasPrice != 0 {
		gen.GasPrice = cfg.Chain.GasPrice
	}
	if cfg.Chain.MinGasPrice != 0 {
		gen.MinGasPrice = cfg.Chain.MinGasPrice
	}
	if cfg.Chain.Accounts != 0 {
		gen.Accounts = cfg.Chain.Accounts
	}
	if cfg.Chain.DefaultBalanceEther != 0 {
		gen.DefaultBalance = cfg.Chain.DefaultBalanceEther
	}
	if cfg.Chain.Seed != "" {
		gen.Seed = cfg.Chain.Seed
	}

	var start time.Time
	if cfg.State.Time != "" {
		start, err = time.Parse(time.RFC3339, cfg.State.Time)
		if err != nil {
			return fmt.Errorf("parsing start time: %w", err)
		}
		gen.Date = start.UTC()
	}

	// =========================================================================
	// Account Support

	// The development accounts are derived from the seed. Key files in the
	// keys folder are unlocked as well, named after the file.
	ks, err := accounts.New(gen.Seed, gen.Accounts)
	if err != nil {
		return fmt.Errorf("unable to derive accounts: %w", err)
	}

	if cfg.State.KeysFolder != "" {
		if err := ks.LoadFolder(cfg.State.KeysFolder); err != nil {
			return fmt.Errorf("unable to load key files: %w", err)
		}
	}

	// Logging the accounts for documentation in the logs.
	for _, addr := range ks.Accounts() {
		log.Infow("startup", "status", "accounts", "name", ks.Lookup(addr), "account", addr)
	}

	// =========================================================================
	// Blockchain Support

	// Without a database path the chain only lives in memory.
	var storage database.Serializer
	switch cfg.State.DBPath {
	case "":
		storage, err = memory.New()
	default:
		storage, err = disk.New(cfg.State.DBPath)
	}
	if err != nil {
		return fmt.Errorf("unable to open storage: %w", err)
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any websocket
	// client subscribed to log events through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Log(v, args...)
	}

	// The state value represents the blockchain node and manages the blockchain
	// database and provides an API for application support.
	state, err := state.New(state.Config{
		Genesis:        gen,
		Storage:        storage,
		Keystore:       ks,
		SelectStrategy: cfg.State.SelectStrategy,
		Instamine:      cfg.State.Instamine,
		BlockTime:      cfg.State.BlockTime,
		StrictFailures: cfg.State.StrictFailures,
		GasCap:         cfg.State.GasCap,
		FilterTimeout:  cfg.State.FilterTimeout,
		Events:         evts,
		EvHandler:      ev,
	})
	if err != nil {
		return err
	}
	defer state.Shutdown()

	if !start.IsZero() {
		state.SetTime(start)
	}

	// The worker package implements the mining workflows for instamine and
	// interval mining. The worker will register itself with the state.
	worker.Run(state, ev)

	// The block messages sent to websocket subscribers are encoded once.
	cache, err := lru.New(cfg.Web.MessageCache)
	if err != nil {
		return fmt.Errorf("unable to construct message cache: %w", err)
	}

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, state)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    state,
		Evts:     evts,
		Cache:    cache,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct the mux for the private API calls.
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    state,
	})

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
