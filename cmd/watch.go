package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/agentic-research/skein/internal/metrics"
	"github.com/agentic-research/skein/internal/watch"
	"github.com/agentic-research/skein/internal/workspace"
)

var (
	watchDebounce    time.Duration
	watchMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the model in step with the projects on disk and print every delta",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close(context.WithoutCancel(ctx))

		if err := s.ws.Warm(ctx); err != nil {
			return fmt.Errorf("warm: %w", err)
		}

		out := cmd.OutOrStdout()
		cancel := s.ws.Subscribe(func(ev workspace.Event) {
			_, _ = fmt.Fprintf(out, "%s %s\n%s", ev.At.Format(time.TimeOnly), ev.Op, ev.Delta.String())
		})
		defer cancel()

		if watchMetricsAddr != "" {
			reg := prometheus.NewRegistry()
			_, unregister, err := metrics.Register(reg, s.ws)
			if err != nil {
				return err
			}
			defer unregister()
			srv := serveMetrics(watchMetricsAddr, reg)
			defer func() { _ = srv.Shutdown(context.WithoutCancel(ctx)) }()
			s.log.Info("serving metrics", "addr", watchMetricsAddr)
		}

		w, err := watch.New(s.ws, watch.Options{Debounce: watchDebounce, Keep: s.reg.Supported, Logger: s.log})
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()
		for _, p := range s.cfg.Projects {
			if err := w.Add(p.Name, p.Path); err != nil {
				return fmt.Errorf("watch %s: %w", p.Name, err)
			}
			s.log.Info("watching", "project", p.Name, "dir", p.Path)
		}

		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Quiet period before a burst of changes is applied")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
	rootCmd.AddCommand(watchCmd)
}
