// Command wa-session-supervisor runs the multi-session WhatsApp
// connection supervisor: it discovers which sessions the control plane
// wants active, drives each session's whatsmeow connection through its
// state machine, relays inbound messages, and drains each session's
// outbound queue, all while reporting Prometheus metrics and a
// liveness endpoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"wa-session-supervisor/config"
	"wa-session-supervisor/edge"
	"wa-session-supervisor/httpapi"
	"wa-session-supervisor/lock"
	"wa-session-supervisor/manager"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("config load failed")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log := zerolog.New(os.Stdout).With().Timestamp().Str("owner", cfg.ProcessOwnerID).Logger()

	log.Info().Str("edge_base_url", cfg.EdgeBaseURL).Int("max_active_instances", cfg.MaxActiveInstances).Msg("starting")

	edgeClient := edge.New(cfg.EdgeBaseURL, cfg.WorkerSecret, cfg.HTTPTimeout, log)

	var mgr *manager.Manager
	lockCoord := lock.New(edgeClient, cfg.ProcessOwnerID, cfg.LockTTL, cfg.LockRenew, func(sessionID string) {
		if mgr != nil {
			mgr.OnLockLost(sessionID)
		}
	}, log)

	mgr = manager.New(cfg, edgeClient, lockCoord, log)

	liveness := httpapi.New(cfg.Port, cfg.MetricsPort, log)
	liveness.Start()

	mgr.Start()
	log.Info().Msg("discovery loop started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mgr.Shutdown(shutdownCtx)

	if err := liveness.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("liveness server shutdown failed")
	}

	log.Info().Msg("shutdown complete")
}
