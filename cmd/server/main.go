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

	"github.com/DoyleJ11/durak-server/internal/config"
	"github.com/DoyleJ11/durak-server/internal/events"
	"github.com/DoyleJ11/durak-server/internal/httpapi"
	"github.com/DoyleJ11/durak-server/internal/hub"
	"github.com/DoyleJ11/durak-server/internal/ledger"
	"github.com/DoyleJ11/durak-server/internal/lobby"
	"github.com/DoyleJ11/durak-server/internal/shop"
	"github.com/DoyleJ11/durak-server/internal/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	l := ledger.New(store, log)
	if _, err := l.OpenAccount(ctx, cfg.HouseAccount, 0); err != nil {
		return err
	}

	st, err := storage.New(cfg.StoragePath)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := events.NewBus(log)
	// Rooms outlive the signal context so Shutdown can refund them in order.
	h := hub.NewHub(context.Background(), lobby.Deps{Ledger: l, Bus: bus, Log: log}, hub.Options{
		Retention:  cfg.RoomRetention,
		SweepEvery: cfg.SweepEvery,
	})
	api := httpapi.New(h, l, shop.New(l, st, cfg.HouseAccount, log), st, cfg, log)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return st.Record(gctx, bus, log)
	})
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return multierr.Combine(srv.Shutdown(sctx), h.Shutdown(sctx))
	})
	return g.Wait()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Production() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// openLedger picks postgres when a database URL is configured, an in-memory
// store for "memory", and a sqlite file otherwise.
func openLedger(cfg config.Config) (ledger.Store, func(), error) {
	switch {
	case cfg.DatabaseURL != "":
		s, err := ledger.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case cfg.LedgerPath == "memory":
		return ledger.NewMemoryStore(), func() {}, nil
	}
	s, err := ledger.OpenSQLite(cfg.LedgerPath)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}
