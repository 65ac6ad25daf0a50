package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ruivieira/cheshire/pkg/config"
	"github.com/ruivieira/cheshire/pkg/engine"
	"github.com/ruivieira/cheshire/pkg/telemetry"
)

type runOptions struct {
	target        targetOptions
	platform      string
	params        []string
	watch         bool
	metricsAddr   string
	traceExporter string
	traceEndpoint string
	asyncEvents   bool
}

func newRunCommand(global *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Run a pipeline definition",
		Long: `Run the pipeline defined in a YAML (.yaml, .yml) or CUE (.cue) file.

Pre-conditions run first and stop the run on the first failure. Steps run in
order; a failed step stops the run unless it sets continue_on_failure. Tests
run only when every step succeeded.

The exit status is 0 when the run succeeds and 1 otherwise.`,
		Example: `  # Run locally on the detected platform
  cheshire run deploy.yaml

  # Override parameters
  cheshire run deploy.yaml --param version=1.2.3 --param "env=prod region='eu west'"

  # Run on a remote host and print the result as JSON
  cheshire run deploy.cue --ssh ops@web1 --json

  # Re-run whenever the definition changes
  cheshire run deploy.yaml --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelineCommand(cmd, global, opts, args[0])
		},
	}

	opts.target.addFlags(cmd)
	cmd.Flags().StringVar(&opts.platform, "platform", "", "target platform (default: detected)")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "parameter override key=value (repeatable)")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "re-run when the definition file changes")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&opts.traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	cmd.Flags().StringVar(&opts.traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint")
	cmd.Flags().BoolVar(&opts.asyncEvents, "async-events", false, "deliver progress events from a background queue")

	return cmd
}

func (o *runOptions) telemetryConfig(global *globalOptions) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = strings.ToLower(global.logLevel)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "warn"
	}
	if o.traceExporter != "" && o.traceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = o.traceExporter
		cfg.Tracing.Endpoint = o.traceEndpoint
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = o.metricsAddr
	}
	cfg.Events.EnableAsync = o.asyncEvents
	return cfg
}

func runPipelineCommand(cmd *cobra.Command, global *globalOptions, opts *runOptions, path string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	overrides, err := parseParams(opts.params)
	if err != nil {
		return err
	}

	tel, err := telemetry.NewTelemetry(opts.telemetryConfig(global))
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	ctx = tel.Logger.WithContext(ctx)

	if addr, err := tel.Metrics.StartServer(ctx, tel.Logger); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	} else if addr != nil {
		tel.Logger.WithField("addr", addr.String()).Info("Serving metrics")
	}

	var rep *reporter
	if !global.jsonOutput {
		rep = newReporter(out)
		tel.Events.Subscribe(rep, nil)
	}

	var stream io.Writer
	if global.verbose {
		stream = cmd.ErrOrStderr()
	}
	runner, err := opts.target.newRunner(ctx, stream, tel.Logger.NewComponentLogger("runner").Zerolog())
	if err != nil {
		return err
	}
	defer runner.Close()

	platform, err := resolvePlatform(ctx, opts.platform, opts.target.ssh != "", runner)
	if err != nil {
		return err
	}

	executor := engine.NewExecutor(runner, tel.ExecutorOptions()...)
	once := func() (*engine.RunResult, error) {
		p, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		run, err := config.Build(p,
			config.WithOverrides(overrides),
			config.WithRunner(runner),
			config.WithLogger(tel.Logger.NewComponentLogger("script").Zerolog()),
		)
		if err != nil {
			return nil, err
		}

		result := executor.ExecuteRun(ctx, run, platform)
		// The summary must follow the last progress line.
		if err := tel.Events.Flush(ctx); err != nil {
			tel.Logger.WithError(err).Warn("Progress events not flushed")
		}
		if global.jsonOutput {
			if err := writeJSON(out, result); err != nil {
				return nil, err
			}
		} else {
			rep.summary(result)
		}
		return result, nil
	}

	if opts.watch {
		return watchPipeline(ctx, path, once)
	}

	result, err := once()
	if err != nil {
		return err
	}
	if !result.Success {
		return ErrRunFailed
	}
	return nil
}
