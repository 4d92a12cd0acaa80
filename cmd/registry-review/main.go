// SPDX-License-Identifier: Apache-2.0

// Package main provides the registry-review binary: a carbon-credit registry
// review pipeline served over a CLI, an HTTP API and MCP stdio.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/gemaraproj/registry-review/internal/api"
	"github.com/gemaraproj/registry-review/internal/catalog"
	"github.com/gemaraproj/registry-review/internal/config"
	"github.com/gemaraproj/registry-review/internal/review"
	"github.com/gemaraproj/registry-review/internal/tool"
)

const (
	Version = "0.1.0"
	appName = "registry-review"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	logLevel   string
	inMemory   bool
}

func (o *options) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.inMemory {
		cfg.Storage.InMemory = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func (o *options) app() (*App, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	return NewApp(cfg, logger)
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Carbon-credit registry review pipeline",
		Long: `registry-review checks a project's submission documents against a
methodology checklist. It classifies the documents, maps them to checklist
requirements, extracts cited evidence and structured fields, verifies every
field against its quoted source, and cross-validates the values across
documents.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.inMemory, "in-memory", false, "Keep sessions in memory only")

	cmd.AddCommand(
		reviewCmd(opts),
		serveCmd(opts),
		mcpCmd(opts),
		catalogCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---------------------------------------------------------------------------
// review
// ---------------------------------------------------------------------------

func reviewCmd(opts *options) *cobra.Command {
	var project, methodology, scope string

	cmd := &cobra.Command{
		Use:   "review <folder>",
		Short: "Run discovery through report generation on a submission folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ctx, stop := signalContext()
			defer stop()

			if project == "" {
				project = args[0]
			}
			sess, err := app.controller.CreateSession(ctx, project, methodology, scope)
			if err != nil {
				return err
			}
			app.logger.Info("session created", "session_id", sess.ID, "methodology", sess.Methodology)

			state, err := app.controller.Run(ctx, sess.ID, args[0])
			if err != nil {
				return fmt.Errorf("session %s: %w", sess.ID, err)
			}
			return writeJSON(cmd.OutOrStdout(), state)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Project name (defaults to the folder path)")
	cmd.Flags().StringVar(&methodology, "methodology", "soil-carbon-v1.2.2", "Methodology checklist")
	cmd.Flags().StringVar(&scope, "scope", "all", "Requirement scope (all, farm, meta)")
	return cmd
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func serveCmd(opts *options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review workflow as a JSON HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if addr == "" {
				addr = app.cfg.HTTP.Addr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewServer(app.controller, app.catalogs, app.logger).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signalContext()
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				app.logger.Info("http server listening", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			app.logger.Info("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides http.addr)")
	return cmd
}

// ---------------------------------------------------------------------------
// mcp
// ---------------------------------------------------------------------------

func mcpCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the review tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ctx, stop := signalContext()
			defer stop()

			server := tool.NewServer(app.controller, Version)
			if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// catalog
// ---------------------------------------------------------------------------

func catalogCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the methodology checklists",
	}

	loadCatalogs := func() (*catalog.Registry, error) {
		cfg, _, err := opts.load()
		if err != nil {
			return nil, err
		}
		return catalog.Load(cfg.Catalog.Dir)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the available methodologies",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadCatalogs()
			if err != nil {
				return err
			}
			for _, m := range reg.Methodologies() {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	})

	var scope string
	show := &cobra.Command{
		Use:   "show <methodology>",
		Short: "Print the requirements of a methodology as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadCatalogs()
			if err != nil {
				return err
			}
			s, ok := review.ParseScope(scope)
			if !ok {
				return fmt.Errorf("unknown scope %q", scope)
			}
			reqs, err := reg.Requirements(args[0], s)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), reqs)
		},
	}
	show.Flags().StringVar(&scope, "scope", "all", "Requirement scope (all, farm, meta)")
	cmd.AddCommand(show)
	return cmd
}
