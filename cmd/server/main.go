// Command server runs the Parchís session server: line-delimited JSON over
// TCP, the same protocol over WebSocket at /ws, and the admin HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"parchis/internal/admin"
	"parchis/internal/app"
	"parchis/internal/config"
	"parchis/internal/logging"
	"parchis/internal/metrics"
	"parchis/internal/ports"
	"parchis/internal/ports/badger"
	"parchis/internal/ports/memory"
	"parchis/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a JSON or YAML config file")
	listen := flag.String("listen", "", "TCP listen address, overrides listen_addr")
	flag.Parse()

	if err := run(*configPath, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, listen string) (err error) {
	if err := config.LoadShared(configPath); err != nil {
		return err
	}
	cfg := config.Shared()
	if listen != "" {
		cfg.ListenAddr = listen
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	secret := cfg.TokenSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("run: token_secret is empty, tokens will not survive a restart")
	}
	accounts := app.NewAccounts(store, app.NewTokenService(secret, cfg.TokenTTL()), cfg.BcryptCost)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	srv := server.New(server.Options{
		MinPlayers:   cfg.MinPlayers,
		MailboxSize:  cfg.MailboxSize,
		MaxLineBytes: cfg.MaxLineBytes,
		WriteTimeout: cfg.WriteTimeout(),
	}, accounts, app.NewService(nil), logger, m, server.NewRegistry())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 2)
	if cfg.ListenAddr != "" {
		go func() { errc <- srv.ListenAndServe(cfg.ListenAddr) }()
	}

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		httpSrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           admin.NewRouter(srv.Session(), accounts, cfg.AdminToken, reg, srv.WebSocketHandler(), logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("run: http listening on %s", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("http: %w", err)
				return
			}
			errc <- nil
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("run: shutting down")
	case err = <-errc:
		if err != nil {
			logger.Error("run: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if httpSrv != nil {
		err = multierr.Append(err, httpSrv.Shutdown(shutdownCtx))
	}
	return multierr.Append(err, srv.Stop())
}

func openStore(cfg config.StoreConfig, logger runtime.Logger) (ports.UserStore, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		logger.Warn("openStore: using the in-memory store, accounts are lost on exit")
		return memory.NewUserStore(), nil
	default:
		store, err := badger.Open(cfg.Path, logger.WithField("component", "badger"))
		if err != nil {
			return nil, fmt.Errorf("open user store: %w", err)
		}
		return store, nil
	}
}
