// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gemaraproj/registry-review/internal/catalog"
	"github.com/gemaraproj/registry-review/internal/config"
	"github.com/gemaraproj/registry-review/internal/metrics"
	"github.com/gemaraproj/registry-review/internal/oracle"
	"github.com/gemaraproj/registry-review/internal/store"
	"github.com/gemaraproj/registry-review/internal/workflow"
)

// App holds the components shared by every command.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	catalogs   *catalog.Registry
	oracle     *oracle.Client
	controller *workflow.Controller
}

// NewApp opens the store and builds the workflow controller described by cfg.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	catalogs, err := catalog.Load(cfg.Catalog.Dir)
	if err != nil {
		return nil, fmt.Errorf("load catalogs: %w", err)
	}

	storeCfg := store.DefaultConfig()
	storeCfg.Path = cfg.Storage.Path
	storeCfg.Logger = logger
	if cfg.Storage.InMemory {
		storeCfg = store.InMemoryConfig()
	}
	st, err := store.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client, err := oracle.FromConfig(cfg.Oracle,
		oracle.WithLogger(logger),
		oracle.WithObserver(metrics.RecordOracleCall))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if client.Available() {
		logger.Info("oracle transports available", "transports", client.TransportNames())
	} else {
		logger.Info("no oracle transport available; advisory checks and oracle extraction are skipped")
	}

	controller, err := workflow.New(st, catalogs, cfg,
		workflow.WithLogger(logger),
		workflow.WithOracle(client))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create controller: %w", err)
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		catalogs:   catalogs,
		oracle:     client,
		controller: controller,
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	if a.store == nil {
		return errors.New("app not initialized")
	}
	return a.store.Close()
}
