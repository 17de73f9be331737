// Package app wires the Sekimori approval engine together: the ledger and
// its SQLite store, the risk oracle, the event fanout, the optional Matrix
// notifier, and the HTTP front end.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bdobrica/Sekimori/internal/sekimori/approvals"
	"github.com/bdobrica/Sekimori/internal/sekimori/config"
	"github.com/bdobrica/Sekimori/internal/sekimori/httpapi"
	"github.com/bdobrica/Sekimori/internal/sekimori/matrix"
	"github.com/bdobrica/Sekimori/internal/sekimori/notify"
	"github.com/bdobrica/Sekimori/internal/sekimori/oracle"
	"github.com/bdobrica/Sekimori/internal/sekimori/store"
)

// App is the assembled Sekimori engine.
type App struct {
	cfg      *config.Config
	store    *store.Store
	ledger   *approvals.Ledger
	fanout   *notify.Fanout
	notifier *notify.MatrixNotifier
	server   *httpapi.Server
}

// New builds the engine from configuration.  Every collaborator that can
// fail does so here, before anything starts serving.
func New(cfg *config.Config) (*App, error) {
	slog.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	provider := oracle.New(oracle.Config{
		APIKey:  cfg.Oracle.APIKey,
		BaseURL: cfg.Oracle.BaseURL,
		Model:   cfg.Oracle.Model,
		Timeout: cfg.Oracle.Timeout,
	})

	fanout := notify.NewFanout(cfg.EventBuffer)

	ledger := approvals.NewLedger(st.DB(), provider, approvals.Config{
		Preferences: st,
		Events:      fanout,
		Audit:       st,
	})

	a := &App{
		cfg:    cfg,
		store:  st,
		ledger: ledger,
		fanout: fanout,
	}

	if cfg.Matrix.Enabled() {
		slog.Info("connecting to Matrix", "homeserver", cfg.Matrix.Homeserver, "room", cfg.Matrix.Room)
		mx, err := matrix.New(&matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			Room:        cfg.Matrix.Room,
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
		}
		a.notifier = notify.NewMatrixNotifier(fanout, mx)
	}

	a.server = httpapi.New(httpapi.Config{
		Addr:   cfg.HTTPAddr,
		Ledger: ledger,
		Oracle: provider,
		Prefs:  st,
		Audit:  st,
		Events: fanout,
	})

	return a, nil
}

// Ledger exposes the request ledger, mainly for tests.
func (a *App) Ledger() *approvals.Ledger { return a.ledger }

// Run starts the HTTP server and the expiry sweep, then blocks until
// SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.server.Start(ctx); err != nil {
		return err
	}

	go a.sweepLoop(ctx)

	slog.Info("sekimori is running; press Ctrl+C to stop", "addr", a.cfg.HTTPAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// sweepLoop expires overdue pending requests on a fixed cadence so their
// expiry events reach subscribers even when nobody is polling the API.
func (a *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := a.ledger.ExpireStale(ctx)
			if err != nil {
				slog.Warn("expiry sweep failed", "err", err)
				continue
			}
			if len(expired) > 0 {
				slog.Info("expired stale requests", "count", len(expired))
			}
		}
	}
}

// Stop releases all resources.  Safe to call after a failed Run.
func (a *App) Stop() {
	if a.server != nil {
		a.server.Stop()
	}
	if a.notifier != nil {
		a.notifier.Stop()
	}
	if a.fanout != nil {
		a.fanout.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("closing database", "err", err)
		}
	}
}
