package main

import (
	"context"
	"errors"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/intentguard/intentguard/config"
	"github.com/ZanzyTHEbar/intentguard/intentguard/guard"
)

// errVerdictFailed is returned when at least one assertion did not hold. The verdict
// has already been printed.
var errVerdictFailed = errors.New("assertion failed")

// app carries state shared by all commands once flags are parsed.
type app struct {
	configPath  string
	quorum      int
	model       string
	temperature float32
	noCache     bool

	cfg    *config.Config
	logger zerolog.Logger

	// openGuard builds the evaluator used by check and run.
	openGuard func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*guard.Guard, error)
}

func newApp() *app {
	return &app{
		logger: zerolog.Nop(),
		openGuard: func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*guard.Guard, error) {
			return guard.Open(ctx, cfg, prometheus.NewRegistry(), logger)
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "intentguard",
		Short: "Check natural-language assertions about code with a local model quorum",
		Long: `intentguard evaluates assertions such as "{handler} logs every error it returns"
against named code objects. Each assertion is judged several times by a local model and
the majority verdict is reported. Verdicts are cached on disk.

Examples:
  # Check one assertion against a file
  intentguard check "{svc} retries failed requests" --object svc=internal/client.go

  # Run every assertion in a suite
  intentguard run assertions.yaml

  # Download the runtime and model ahead of time
  intentguard prepare`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ./intentguard.yaml)")
	flags.IntVar(&a.quorum, "quorum", 0, "number of evaluations per assertion")
	flags.StringVar(&a.model, "model", "", "model name recorded in the cache key")
	flags.Float32Var(&a.temperature, "temperature", 0, "sampling temperature")
	flags.BoolVar(&a.noCache, "no-cache", false, "bypass the result cache")

	root.AddCommand(newCheckCmd(a), newRunCmd(a), newPrepareCmd(a), newCacheCmd(a))
	return root
}

// loadConfig reads configuration and applies flag overrides.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("quorum") {
		cfg.Quorum.Size = a.quorum
	}
	if flags.Changed("model") {
		cfg.Quorum.Model = a.model
	}
	if flags.Changed("temperature") {
		cfg.Quorum.Temperature = a.temperature
	}
	if a.noCache {
		cfg.Harness.CacheEnabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = config.NewLogger(cfg.Logging, os.Stderr)
	return nil
}
