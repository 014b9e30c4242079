package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/vuload/internal/engine"
	"github.com/wesleyorama2/vuload/internal/output"
	"github.com/wesleyorama2/vuload/perf"
)

type runOptions struct {
	*globalOptions

	out              string
	quiet            bool
	metricsAddr      string
	stages           string
	vus              int
	duration         time.Duration
	progressInterval time.Duration

	// signals is overridden in tests.
	signals []os.Signal
}

func newRunCmd(g *globalOptions) *cobra.Command {
	opts := &runOptions{
		globalOptions: g,
		signals:       []os.Signal{os.Interrupt, syscall.SIGTERM},
	}

	cmd := &cobra.Command{
		Use:   "run <test-file>",
		Short: "Run a load test from a YAML or JSON file",
		Long: `Run a load test from a test file.

The process exits 0 when setup succeeded, no fatal error occurred, the run
was not aborted and every threshold passed, and 1 otherwise.

Examples:
  vuload run test.yaml
  vuload run test.yaml --out report.json
  vuload run test.yaml --stages "10s:5,30s:5,10s:0" --metrics-addr :9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.out, "out", "o", "", "write the JSON report to this file")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "print only the verdict")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve live Prometheus metrics on this address")
	f.StringVar(&opts.stages, "stages", "", `override the ramp profile, e.g. "30s:10,1m:10,30s:0"`)
	f.IntVar(&opts.vus, "vus", 0, "override with a constant number of virtual users (needs --duration)")
	f.DurationVar(&opts.duration, "duration", 0, "run duration for --vus")
	f.DurationVar(&opts.progressInterval, "progress-interval", engine.DefaultProgressInterval, "progress update interval")
	return cmd
}

func (o *runOptions) run(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := o.logger()
	if err != nil {
		return err
	}

	overrides := []perf.Override{perf.WithUserAgent("vuload/" + version)}
	switch {
	case o.stages != "":
		overrides = append(overrides, perf.WithStages(o.stages))
	case o.vus > 0:
		overrides = append(overrides, perf.WithVUs(o.vus, o.duration))
	}
	test, err := perf.LoadFile(path, overrides...)
	if err != nil {
		return err
	}

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  o.stdout,
		NoColor: o.noColor,
		Quiet:   o.quiet,
	})
	runner, err := perf.NewRunner(test,
		perf.WithLogger(logger),
		perf.WithProgress(console.Progress, o.progressInterval),
	)
	if err != nil {
		return err
	}

	console.PrintHeader(test.Name(), test.Profile())

	result, err := o.execute(ctx, runner, logger)
	if result == nil {
		return err
	}

	console.PrintSummary(test.Name(), result)

	if o.out != "" {
		rep, err := runner.Report(result)
		if err != nil {
			return err
		}
		if err := rep.WriteFile(o.out); err != nil {
			return err
		}
		logger.Info().Str("path", o.out).Msg("report written")
	}

	if code := result.ExitCode(); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// execute runs the test, the optional metrics server and the signal
// handler as one actor group. The first actor to return stops the others.
func (o *runOptions) execute(ctx context.Context, runner *perf.Runner, logger zerolog.Logger) (*perf.Result, error) {
	var (
		g      run.Group
		result *perf.Result
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Add(func() error {
		var err error
		result, err = runner.Run(runCtx)
		return err
	}, func(error) {
		cancel()
	})

	if o.metricsAddr != "" {
		ln, err := net.Listen("tcp", o.metricsAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", o.metricsAddr, err)
		}
		srv := &http.Server{
			Handler:           runner.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")

		g.Add(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, o.signals...)
	done := make(chan struct{})
	g.Add(func() error {
		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("interrupted, stopping virtual users")
			return fmt.Errorf("received %s", sig)
		case <-done:
			return nil
		}
	}, func(error) {
		signal.Stop(sigCh)
		close(done)
	})

	err := g.Run()
	return result, err
}
