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

	"github.com/rs/zerolog"

	"github.com/einvoiceng/firshook/config"
	internalchi "github.com/einvoiceng/firshook/internal/http/chi"
	"github.com/einvoiceng/firshook/metrics"
	"github.com/einvoiceng/firshook/targets"
	"github.com/einvoiceng/firshook/webhook/dispatch"
	"github.com/einvoiceng/firshook/webhook/manager"
	"github.com/einvoiceng/firshook/webhook/receiver"
	"github.com/einvoiceng/firshook/webhook/retry"
	sigredis "github.com/einvoiceng/firshook/webhook/signature/redis"
)

const shutdownTimeout = 30 * time.Second

/* The main package owns the wiring: configuration, the replay store, the
 * pipeline manager, dispatch targets, metrics, and the HTTP server.
 * Imports flow one direction only: main imports the business packages,
 * which import the domain package.
 */

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.GetConfig()
	if err != nil {
		logger.Error().Err(err).Msg("loading configuration")
		return
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	mgrCfg := manager.Config{
		Receiver: receiver.Config{
			AllowedIPs:  cfg.AllowedIPList(),
			MaxBodySize: cfg.MaxBodyBytes,
			RateLimit:   cfg.RateLimit,
			RateWindow:  cfg.RateWindow(),
			Secret:      cfg.ReceiverSecret,
		},
		Retry: retry.Config{
			PollInterval:  time.Duration(cfg.RetryPollSeconds) * time.Second,
			MaxConcurrent: cfg.RetryMaxConcurrent,
		},
		Dispatch: dispatch.Config{
			PollInterval:  time.Duration(cfg.DispatchPollSeconds) * time.Second,
			MaxConcurrent: cfg.DispatchMaxConcurrent,
		},
		MaxConcurrentProcessing: cfg.MaxConcurrentProcessing,
		FIRSSecret:              cfg.FIRSWebhookSecret,
		ShutdownGrace:           cfg.ShutdownGrace(),
	}

	if cfg.RedisAddr != "" {
		store, err := sigredis.NewReplayStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Error().Err(err).Msg("connecting replay store")
			return
		}
		defer store.Close()
		mgrCfg.ReplayStore = store
	}

	svc, err := manager.New(mgrCfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("building pipeline")
		return
	}

	loader := targets.NewLoader()
	if err := loader.Load(cfg.TargetsFile); err != nil {
		logger.Error().Err(err).Str("file", cfg.TargetsFile).Msg("loading dispatch targets")
		return
	}
	if err := loader.Apply(svc.Dispatcher()); err != nil {
		logger.Error().Err(err).Msg("registering dispatch targets")
		return
	}
	logger.Info().Int("targets", len(loader.List())).Msg("dispatch targets loaded")

	exporter, err := metrics.NewOTelExporter(metrics.NewPipelineCollector(svc))
	if err != nil {
		logger.Error().Err(err).Msg("building metrics exporter")
		return
	}
	defer exporter.Shutdown(context.Background())

	svc.StartServices(ctx)
	defer func() {
		if err := svc.StopServices(); err != nil {
			logger.Error().Err(err).Msg("stopping pipeline")
		}
	}()

	r := internalchi.Handlers(ctx, svc, loader, cfg.TargetsFile, exporter)
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      r,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	logger.Info().Str("port", cfg.Port).Msg("listening")
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server failed")
		return
	}
	if err := <-errShutdown; err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if err := server.Shutdown(ctxTimeout); err != nil {
		errShutdown <- fmt.Errorf("forcing the server closed: %w", err)
		return
	}
	errShutdown <- nil
}
