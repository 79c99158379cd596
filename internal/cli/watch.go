package cli

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"agent-follower/internal/errors"
	"agent-follower/internal/follow"
	"agent-follower/internal/logging"
	"agent-follower/internal/models"
	"agent-follower/internal/trading"
)

func newWatchCmd(app *App) *cobra.Command {
	var (
		f           followFlags
		interval    time.Duration
		iterations  int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow an agent continuously",
		Long: `Re-read the positions file every --interval and run a follow pass on it.
A tick that arrives while the previous pass is still running is skipped.
Paper venue state is saved after every pass.

When metrics are enabled (or --metrics-addr is set) the follower serves
Prometheus metrics on /metrics and a liveness probe on /healthz.`,
		Example: `  agent-follower watch -p positions.json --interval 1m --execute
  agent-follower watch -p positions.json --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return errors.NewValidationError("interval", interval, "must be positive")
			}
			_, agentID, err := loadSnapshot(f.positions, f.agent)
			if err != nil {
				return err
			}

			rt, err := app.openRuntime()
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					app.Logger.Warn().Err(err).Msg("Failed to close runtime")
				}
			}()

			if !cmd.Flags().Changed("metrics-addr") && app.Config.Metrics.Enabled {
				metricsAddr = app.Config.Metrics.Addr
			}
			if metricsAddr != "" {
				srv := startMetricsServer(metricsAddr, rt.registry, app.Logger)
				defer shutdownServer(srv, app.Logger)
			}

			w := &watcher{
				rt:         rt,
				guard:      follow.NewGuard(),
				agentID:    agentID,
				positions:  f.positions,
				opts:       f.options(cmd, app.followDefaults()),
				execute:    f.execute,
				output:     NewOutput(cmd),
				logger:     logging.WithAgent(app.Logger, agentID),
				interval:   interval,
				iterations: iterations,
			}
			return w.run(cmd.Context())
		},
	}

	f.register(cmd)
	cmd.Flags().DurationVarP(&interval, "interval", "i", 30*time.Second, "time between passes")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "stop after this many passes (0 runs until interrupted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	return cmd
}

// watcher drives follow passes for one agent on a ticker.
type watcher struct {
	rt        *runtime
	guard     *follow.Guard
	agentID   string
	positions string
	opts      *models.FollowOptions
	execute   bool
	output    *Output
	logger    zerolog.Logger

	interval   time.Duration
	iterations int
}

func (w *watcher) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	done := make(chan error, 1)
	started := 0
	start := func() {
		if w.iterations > 0 && started >= w.iterations {
			return
		}
		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.guard.Do(w.agentID, func() error { return w.pass(ctx) })
			select {
			case done <- err:
			case <-ctx.Done():
			}
		}()
	}

	w.logger.Info().Dur("interval", w.interval).Bool("execute", w.execute).Msg("Watching agent")
	start()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	passes := 0
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Int("passes", passes).Msg("Watch stopped")
			return nil

		case err := <-done:
			if errors.Is(err, errors.ErrPassInFlight) {
				started--
				continue
			}
			passes++
			if err != nil {
				w.logger.Error().Err(err).Msg("Follow pass failed")
			}
			if w.iterations > 0 && passes >= w.iterations {
				return nil
			}

		case <-ticker.C:
			if w.guard.Running(w.agentID) {
				w.logger.Warn().Msg("Previous pass still running, skipping tick")
				continue
			}
			start()
		}
	}
}

// pass re-reads the snapshot, runs one follow pass and saves venue state.
func (w *watcher) pass(ctx context.Context) error {
	snap, err := LoadPositionsFile(w.positions)
	if err != nil {
		return err
	}
	if snap.AgentID != "" && snap.AgentID != w.agentID {
		return errors.Wrapf(errors.ErrInvalidPositionsInput, "snapshot is for agent %s", snap.AgentID)
	}

	report, err := w.rt.runPass(ctx, w.agentID, snap, w.opts, w.execute)
	if err != nil {
		return err
	}
	if err := w.rt.broker.SaveState(w.rt.cfg.Paper.StatePath); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to save paper state")
	}

	if len(report.Results) > 0 {
		executed, skipped, failed := trading.Summary(report.Results)
		w.logger.Info().
			Int("executed", executed).
			Int("skipped", skipped).
			Int("failed", failed).
			Msg("Plans executed")
	}
	if w.output.IsJSON() {
		return w.output.JSON(report)
	}
	if len(report.Plans) > 0 {
		printReport(w.output, report)
	}
	return nil
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}

func shutdownServer(srv *http.Server, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Metrics server shutdown")
	}
}
