package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/meigma/imgfetch"
)

type rootOptions struct {
	logLevel string
	envFile  string
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "imgfetch",
		Short:         "Fetch and cache remote images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "load IMGFETCH_* variables from a dotenv file")

	cmd.AddCommand(
		newGetCmd(opts),
		newWarmCmd(opts),
		newPruneCmd(opts),
		newBenchCmd(opts),
	)
	return cmd
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", o.logLevel)
	}
	o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.logger)

	if o.envFile != "" {
		// Variables already set in the environment take precedence.
		if err := godotenv.Load(o.envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		o.logger.Debug("loaded env file", "path", o.envFile)
	}
	return nil
}

// fetcher builds a Fetcher from the environment with the CLI logger.
func (o *rootOptions) fetcher(ctx context.Context, opts ...imgfetch.Option) (*imgfetch.Fetcher, error) {
	return imgfetch.NewFromEnv(ctx, append([]imgfetch.Option{imgfetch.WithLogger(o.logger)}, opts...)...)
}

// descriptor interprets arg as a URL, or as an object path when bucket is
// set.
func descriptor(arg, bucket string) (imgfetch.Descriptor, error) {
	if bucket != "" {
		ref := imgfetch.StorageReference{Bucket: bucket, Path: arg}
		if ref.IsZero() {
			return nil, fmt.Errorf("empty object path in bucket %q", bucket)
		}
		return ref, nil
	}
	return imgfetch.ParseURL(arg)
}

func closeFile(f *os.File, err *error) {
	if cerr := f.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
