package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-dev/scopebind/internal/errors"
	"github.com/vango-dev/scopebind/pkg/snapshot"
)

func snapshotCmd() *cobra.Command {
	var (
		flags    scenarioFlags
		outDir   string
		bucket   string
		prefix   string
		region   string
		endpoint string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "snapshot <scenario.yaml>",
		Short: "Run a scenario and store its final tree",
		Long: `Run a scenario and write a snapshot of the final tree.

The snapshot lists every node with its listener counts per event and its
pending destroy callbacks, which makes leaked bindings easy to spot.
Without --out or --s3-bucket the sink comes from the config file.

Examples:
  scopectl snapshot teardown.yaml --out=snapshots
  scopectl snapshot teardown.yaml --format=yaml --out=.
  scopectl snapshot teardown.yaml --s3-bucket=ci-artifacts --s3-prefix=scopebind`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outDir != "" && bucket != "" {
				return errors.New("E400").WithDetail("--out and --s3-bucket are mutually exclusive")
			}
			f, err := snapshot.ParseFormat(format)
			if err != nil {
				return errors.New("E400").WithDetailf("--format %q", format).Wrap(err)
			}

			cfg, opts, err := flags.options()
			if err != nil {
				return err
			}

			sc := cfg.Snapshot
			switch {
			case bucket != "":
				sc.Dir = ""
				sc.S3.Bucket = bucket
				if prefix != "" {
					sc.S3.Prefix = prefix
				}
				if region != "" {
					sc.S3.Region = region
				}
				if endpoint != "" {
					sc.S3.Endpoint = endpoint
				}
			case outDir != "":
				sc.S3.Bucket = ""
				sc.Dir = outDir
			}
			sink, err := sinkFromConfig(sc, f)
			if err != nil {
				return errors.New("E401").Wrap(err)
			}
			if sink == nil {
				return errors.New("E400").
					WithDetail("no snapshot destination").
					WithSuggestion("Pass --out or --s3-bucket, or set snapshot.dir in the config file")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			res, err := runScenario(ctx, args[0], opts)
			if err != nil {
				return err
			}

			key, err := snapshot.Write(ctx, sink, res.Root, res.Name, f)
			if err != nil {
				return errors.New("E401").WithDetail(res.Name).Wrap(err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, res.String())
			fmt.Fprintf(out, "snapshot %s\n", key)
			if !res.Passed() {
				return errors.New("E305").WithDetailf("%s: %d failed", res.Name, len(res.Failures))
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Write the snapshot to this directory")
	cmd.Flags().StringVar(&bucket, "s3-bucket", "", "Upload the snapshot to this S3 bucket")
	cmd.Flags().StringVar(&prefix, "s3-prefix", "", "Key prefix for S3 uploads")
	cmd.Flags().StringVar(&region, "s3-region", "", "S3 region (default AWS_REGION)")
	cmd.Flags().StringVar(&endpoint, "s3-endpoint", "", "S3-compatible endpoint, e.g. MinIO")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Snapshot format: json or yaml")

	return cmd
}
