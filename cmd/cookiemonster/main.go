// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command cookiemonster starts the Cookie Monster server: a worker pool
// that drains a jar of dirty cookies through hot-reloadable rule and
// enrichment-loader plug-ins, fronted by a JSON HTTP façade.
//
// Usage:
//
//	cookiemonster serve
//	COOKIEMONSTER_PORT=9090 cookiemonster serve
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cookiemonster/cookiemonster/internal/config"
	"github.com/cookiemonster/cookiemonster/pkg/cookiejar"
	"github.com/cookiemonster/cookiemonster/pkg/cookiejar/archive"
	"github.com/cookiemonster/cookiemonster/pkg/httpapi"
	"github.com/cookiemonster/cookiemonster/pkg/logging"
	"github.com/cookiemonster/cookiemonster/pkg/manager"
	"github.com/cookiemonster/cookiemonster/pkg/notifier"
	"github.com/cookiemonster/cookiemonster/pkg/registry"
	"github.com/cookiemonster/cookiemonster/pkg/rules"
)

var rootCmd = &cobra.Command{
	Use:   "cookiemonster",
	Short: "Cookie Monster drains a jar of dirty cookies through hot-reloadable plug-ins",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the worker pool and HTTP façade",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() error {
	cfg := config.FromEnv()

	level := logging.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: "cookiemonster",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := cookiejar.OpenBadgerStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	var archiver *archive.Client
	if cfg.ArchiveBucket != "" {
		archiver, err = archive.NewClient(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix, cfg.ArchiveKeyPath)
		if err != nil {
			return fmt.Errorf("open archiver: %w", err)
		}
	}

	jar, err := cookiejar.New(store,
		cookiejar.WithDebug(cfg.Debug),
		cookiejar.WithLogger(logger.With("component", "cookiejar")),
		cookiejar.WithArchiver(archiver),
	)
	if err != nil {
		return fmt.Errorf("open jar: %w", err)
	}
	defer func() {
		if err := jar.Close(); err != nil {
			logger.Error("close jar failed", "error", err.Error())
		}
	}()

	ruleRegistry := registry.New[rules.Rule](
		cfg.RulePluginDir, rules.RuleFilePredicate, rules.LoadRuleFile, true,
		registry.WithLogger[rules.Rule](logger.With("component", "rule_registry")),
	)
	loaderRegistry := registry.New[rules.EnrichmentLoader](
		cfg.LoaderPluginDir, rules.LoaderFilePredicate, rules.LoadEnrichmentLoaderFile, true,
		registry.WithLogger[rules.EnrichmentLoader](logger.With("component", "loader_registry")),
	)
	notifierInstance := notifier.New(cfg.ReceiverPluginDir, logger.With("component", "notifier"))

	if err := ruleRegistry.Start(ctx); err != nil {
		return fmt.Errorf("start rule registry: %w", err)
	}
	defer ruleRegistry.Stop()

	if err := loaderRegistry.Start(ctx); err != nil {
		return fmt.Errorf("start loader registry: %w", err)
	}
	defer loaderRegistry.Stop()

	if err := notifierInstance.Start(ctx); err != nil {
		return fmt.Errorf("start notifier: %w", err)
	}
	defer notifierInstance.Stop()

	mgr := manager.New(jar, ruleRegistry, loaderRegistry, notifierInstance,
		manager.WithWorkerCount(cfg.WorkerCount),
		manager.WithLogger(logger.With("component", "manager")),
	)
	mgr.Start(ctx)

	router := httpapi.NewRouter(httpapi.NewHandlers(jar, mgr, logger.With("component", "httpapi")))
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining workers")
	case err := <-serverErrCh:
		if err != nil {
			logger.Error("http server failed", "error", err.Error())
		}
		stop()
	}

	mgr.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown did not complete cleanly", "error", err.Error())
	}

	if err := mgr.Wait(); err != nil {
		logger.Error("worker exited with error", "error", err.Error())
	}

	logger.Info("shutdown complete")
	return nil
}
