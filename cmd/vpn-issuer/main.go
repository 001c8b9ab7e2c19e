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

	"github.com/go-chi/chi/v5"
	"github.com/nais/vpn-forwarder/pkg/config"
	"github.com/nais/vpn-forwarder/pkg/credentials"
	"github.com/nais/vpn-forwarder/pkg/issuer"
	"github.com/nais/vpn-forwarder/pkg/logger"
	"github.com/nais/vpn-forwarder/pkg/sessions"
	"github.com/nais/vpn-forwarder/pkg/types"
	"github.com/nais/vpn-forwarder/pkg/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.New()
	if err == nil {
		err = cfg.ValidateIssuer()
	}
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

	log.Info(version.Describe("vpn-issuer"))

	signer, err := credentials.NewSigner(cfg.Secret, credentials.WithLifetime(cfg.Issuer.CredentialLifetime))
	if err != nil {
		return err
	}

	store, err := sessions.Open(ctx, cfg.Sessions.Store, cfg.Sessions.File, cfg.Sessions.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()
	log.WithComponent(types.ComponentNameSessions).Infof("using %s session store", cfg.Sessions.Store)

	handler := issuer.New(signer, store, cfg.Issuer.Users, cfg.Issuer.ForwarderURL, log,
		issuer.WithSessionTimeout(cfg.Sessions.TimeoutMinutes),
		issuer.WithCookieLifetime(cfg.Issuer.CredentialLifetime),
		issuer.WithSecureCookies(cfg.Issuer.SecureCookies),
		issuer.WithAPIKey(cfg.Issuer.APIKey),
	)

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", handler.Router(cfg.Issuer.AllowedOrigins))

	srv := &http.Server{
		Addr:              cfg.Issuer.ListenAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("issuer listening on %s, %d users configured", cfg.Issuer.ListenAddress, len(cfg.Issuer.Users))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
		}
		log.Info("HTTP server finished, terminating...")
		cancel()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-signals:
			log.Infof("received signal %s, terminating...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shut down HTTP server: %w", err)
	}
	return nil
}
