/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crossrail/internal/chain"
	"crossrail/internal/common"
	"crossrail/internal/config"
	"crossrail/internal/offramp"
	"crossrail/internal/reconciler"
	"crossrail/internal/session"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	noReplay := flag.Bool("no-replay", false, "Skip replaying unprocessed events on startup")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting settlement engine")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	rec := reconciler.New(services.DbService, services.DbService, services.Notifier, services.Journal, cfg.Reconciler)

	// Settle anything that was ingested but never processed before the last
	// shutdown, before new chain events start flowing.
	if cfg.Chain.ReplayOnStart && !*noReplay {
		if err := rec.Replay(ctx, cfg.Chain.ReplayBatch); err != nil {
			zap.L().Fatal("Failed to replay unprocessed events", zap.Error(err))
		}
	}

	supervisor := chain.NewSupervisor(services.Registry, cfg.Chain)
	supervisor.Start(ctx)

	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		rec.Run(ctx, supervisor.Intake())
	}()

	poller := offramp.NewStatusPoller(services.DbService, services.Partner, services.Notifier, services.Journal, cfg.Offramp)
	poller.Start(ctx)

	sessions := session.NewManager(services.DbService, cfg.Session)
	sessions.StartSweeper(ctx)

	metricsServer := &http.Server{
		Addr:    cfg.Metrics.ListenAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		zap.L().Info("Metrics server listening", zap.String("addr", cfg.Metrics.ListenAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("Metrics server failed", zap.Error(err))
		}
	}()

	zap.L().Info("Settlement engine running")
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		supervisor.Stop()
		cancel()
		<-reconcilerDone
		poller.Stop()
		sessions.Stop()
		close(done)
	}()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Metrics server shutdown failed", zap.Error(err))
	}

	select {
	case <-done:
		zap.L().Info("Settlement engine stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
