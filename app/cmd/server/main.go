// Package main provides the entry point for the package indexer TCP server.
// Command-line wiring lives on cobra, per the CLI convention used elsewhere
// in the retrieval pack's dependency stack (matzehuels-stacktower);
// everything downstream of flag parsing keeps the teacher's
// context-driven graceful shutdown shape.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"package-indexer/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	addr        string
	adminAddr   string
	readTimeout time.Duration
	quiet       bool
	gcInterval  time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "package-indexer",
		Short: "Concurrent in-memory package dependency indexer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", ":8080", "TCP listen address for the indexer protocol")
	cmd.Flags().StringVar(&opts.adminAddr, "admin-addr", "", "Admin HTTP server address for /healthz, /metrics, /debug/pprof (disabled if empty)")
	cmd.Flags().DurationVar(&opts.readTimeout, "read-timeout", server.DefaultReadTimeout, "Per-read deadline applied to idle connections")
	cmd.Flags().BoolVar(&opts.quiet, "quiet", false, "Disable logging for performance")
	cmd.Flags().DurationVar(&opts.gcInterval, "gc-interval", time.Minute, "Interval for reclaiming empty, unindexed reverse-map entries (0 disables)")

	return cmd
}

// run wires the main TCP server, the optional admin HTTP server, and signal
// handling together through an errgroup so that either one failing, or a
// shutdown signal, tears both down. Separating this from main() keeps the
// teacher's testable run() shape.
func run(ctx context.Context, opts *options) error {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if opts.quiet {
		logger.SetLevel(log.FatalLevel + 1)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(opts.addr, opts.readTimeout)
	srv.SetLogger(logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting package indexer server", "addr", opts.addr)
		return srv.StartWithContext(gctx)
	})

	var adminServer *http.Server
	if opts.adminAddr != "" {
		adminServer = buildAdminServer(opts.adminAddr, srv)
		g.Go(func() error {
			logger.Info("starting admin server", "addr", opts.adminAddr)
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}

	if opts.gcInterval > 0 {
		g.Go(func() error {
			runGC(gctx, srv, opts.gcInterval, logger)
			return nil
		})
	}

	<-gctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin server shutdown: %w", err)
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runGC periodically reclaims reverse-map entries the store is permitted to
// drop (spec.md §9's open question) without changing any observable
// response.
func runGC(ctx context.Context, srv *server.Server, interval time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := srv.Store().GC(); n > 0 {
				logger.Debug("reclaimed stale reverse-map entries", "count", n)
			}
		}
	}
}

// buildAdminServer mounts health, Prometheus metrics, and pprof debugging
// endpoints, isolated from the main TCP protocol port.
func buildAdminServer(addr string, srv *server.Server) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "healthy",
			"readiness": true,
			"liveness":  true,
		})
	})

	mux.Handle("/metrics", promhttp.HandlerFor(srv.Metrics().Registry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}
