package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/PaperDrop/internal/metrics"
	"github.com/dharsanguruparan/PaperDrop/internal/model"
	"github.com/dharsanguruparan/PaperDrop/internal/monitor"
)

func newWatchCmd(flags *rootFlags) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the session validated and report API status changes",
		Long: `watch revalidates the stored session on an interval and whenever another
paperdrop process signs in or out, and checks the API health endpoint. Changes
are printed as they happen. With --metrics-addr the counters are served in the
Prometheus text format.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg := prometheus.NewRegistry()
			m := metrics.New(reg)

			a, err := newApp(cmd, flags, m)
			if err != nil {
				return err
			}
			defer a.Close()

			if metricsAddr != "" {
				stop := metrics.Serve(ctx, metricsAddr, reg, a.logger)
				defer stop()
			}

			mon := monitor.New(a.client, monitor.Options{
				Interval: a.cfg.Monitor.Interval,
				Timeout:  a.cfg.Monitor.Timeout,
				Logger:   a.logger,
				Metrics:  m,
			})
			defer mon.Close()
			mon.OnChange(func(s monitor.Status) {
				fmt.Fprintf(a.out, "%s  api      %s\n", time.Now().Format(time.TimeOnly), s)
			})
			mon.Start(ctx)

			if err := a.session.Start(ctx); err != nil {
				return err
			}
			watchSession(ctx, a)
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")
	return cmd
}

// watchSession prints session status transitions until ctx is done.
func watchSession(ctx context.Context, a *app) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	last := model.SessionUnknown
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s := a.session.State().Status; s != last {
				last = s
				fmt.Fprintf(a.out, "%s  session  %s\n", time.Now().Format(time.TimeOnly), s)
			}
		}
	}
}
