package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nais/vpn-forwarder/pkg/authn"
	"github.com/nais/vpn-forwarder/pkg/config"
	"github.com/nais/vpn-forwarder/pkg/credentials"
	"github.com/nais/vpn-forwarder/pkg/logger"
	"github.com/nais/vpn-forwarder/pkg/proxy"
	"github.com/nais/vpn-forwarder/pkg/routing"
	"github.com/nais/vpn-forwarder/pkg/sanitize"
	"github.com/nais/vpn-forwarder/pkg/sessions"
	"github.com/nais/vpn-forwarder/pkg/types"
	"github.com/nais/vpn-forwarder/pkg/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %s\n", err)
		os.Exit(1)
	}

	log, err := logger.GetLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %s\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Errorf("fatal: %s", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info(version.Describe("vpn-forwarder"))

	verifier, err := credentials.NewSigner(cfg.Secret)
	if err != nil {
		return err
	}

	store, err := sessions.Open(ctx, cfg.Sessions.Store, cfg.Sessions.File, cfg.Sessions.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()
	log.WithComponent(types.ComponentNameSessions).Infof("using %s session store", cfg.Sessions.Store)

	if len(cfg.Forwarder.Routes) == 0 {
		log.Warn("routing table is empty, every authenticated request will fail")
	}
	for _, route := range cfg.Forwarder.Routes.Targets() {
		log.WithComponent(types.ComponentNameRouter).Infof("route %s", route)
	}

	router := routing.New(cfg.Forwarder.Routes,
		routing.WithDialer(&net.Dialer{Timeout: cfg.Forwarder.DialTimeout}),
		routing.WithIOTimeout(cfg.Forwarder.IOTimeout),
	)

	authenticator := authn.New(verifier, store, log, authn.WithChain(authn.DefaultChain(cfg.Forwarder.AuthHeader)))
	stripHeaders := append([]string{cfg.Forwarder.AuthHeader}, cfg.Forwarder.StripHeaders...)

	server := proxy.New(authenticator, sanitize.New(stripHeaders...), router, log,
		proxy.WithLoginURL(cfg.Forwarder.LoginURL),
		proxy.WithExcludedPaths(cfg.Forwarder.ExcludedPaths...),
		proxy.WithIOTimeout(cfg.Forwarder.IOTimeout),
		proxy.WithConcurrency(cfg.Forwarder.MaxConnections, cfg.Forwarder.QueueTimeout),
	)

	sweeper := proxy.NewSweeper(store, string(cfg.Sessions.Store), cfg.Sessions.SweepInterval, log)
	go sweeper.Run(ctx)

	if cfg.Forwarder.MetricsAddress != "" {
		srv := setupMetricsServer(cfg.Forwarder.MetricsAddress)
		go func() {
			log.WithComponent(types.ComponentNameMetrics).Infof("serving metrics on %s", cfg.Forwarder.MetricsAddress)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server failed")
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.WithError(err).Warn("metrics server shutdown")
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-signals
		log.Infof("received signal %s, terminating...", sig)
		cancel()
	}()

	err = server.ListenAndServe(ctx, cfg.Forwarder.ListenAddress)
	log.Info("forwarder stopped")
	return err
}

func setupMetricsServer(addr string) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
