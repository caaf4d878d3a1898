package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/scopebind/internal/config"
	"github.com/vango-dev/scopebind/internal/errors"
	"github.com/vango-dev/scopebind/internal/scenario"
	"github.com/vango-dev/scopebind/pkg/bind"
)

// scenarioFlags are shared by run and snapshot.
type scenarioFlags struct {
	configPath string
	policy     string
	logReports bool
}

func (f *scenarioFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", config.ConfigFileName, "Config file (.json or .toml)")
	cmd.Flags().StringVar(&f.policy, "destroyed-source", "", "Binding to a destroyed source: ignore or reject (default from config)")
	cmd.Flags().BoolVar(&f.logReports, "log-reports", false, "Also log reported errors to stderr")
}

// options resolves the flags against the config file.
func (f *scenarioFlags) options() (*config.Config, scenario.Options, error) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return nil, scenario.Options{}, err
	}

	opts := scenario.Options{Policy: cfg.Binder.Policy()}
	if f.policy != "" {
		p, ok := bind.ParseDestroyedSourcePolicy(f.policy)
		if !ok {
			return nil, scenario.Options{}, errors.New("E400").
				WithDetailf("--destroyed-source %q", f.policy).
				WithSuggestion("Use ignore or reject")
		}
		opts.Policy = p
	}
	if f.logReports {
		opts.Logger = cfg.Log.NewLogger(os.Stderr)
	}
	return cfg, opts, nil
}

func runCmd() *cobra.Command {
	var (
		flags   scenarioFlags
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>...",
		Short: "Execute scenario scripts",
		Long: `Execute scenario scripts and print their transcripts.

A scenario builds a tree, binds listeners, dispatches events and checks
what was delivered. Failed expectations are collected; the command exits
non-zero if any scenario failed.

Examples:
  scopectl run scenarios/*.yaml
  scopectl run -v teardown.yaml
  scopectl run --destroyed-source=reject late_bind.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, opts, err := flags.options()
			if err != nil {
				return err
			}
			return runScenarios(cmd.Context(), cmd.OutOrStdout(), args, opts, verbose)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print transcripts of passing scenarios too")

	return cmd
}

// runScenarios runs each script in order. A script that cannot be loaded or
// executed stops the run; failed expectations do not.
func runScenarios(ctx context.Context, out io.Writer, paths []string, opts scenario.Options, verbose bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	failed := 0
	for _, path := range paths {
		res, err := runScenario(ctx, path, opts)
		if err != nil {
			return err
		}
		if res.Passed() && !verbose {
			fmt.Fprintf(out, "PASS %s\n", res.Name)
			continue
		}
		fmt.Fprint(out, res.String())
		for _, f := range res.Failures {
			fmt.Fprintf(out, "    %v\n", f)
		}
		if !res.Passed() {
			failed++
		}
	}

	if failed > 0 {
		return errors.New("E305").WithDetailf("%d of %d scenarios failed", failed, len(paths))
	}
	return nil
}

func runScenario(ctx context.Context, path string, opts scenario.Options) (*scenario.Result, error) {
	script, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	return scenario.Run(ctx, script, opts)
}
