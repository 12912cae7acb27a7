package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/imgfetch/cache/disk"
	"github.com/meigma/imgfetch/internal/config"
)

func newPruneCmd(root *rootOptions) *cobra.Command {
	var target int64
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Shrink the disk cache by removing least recently read entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			dir, err := cfg.Cache.Directory()
			if err != nil {
				return err
			}
			c, err := disk.New(dir)
			if err != nil {
				return err
			}
			before := c.SizeBytes()
			freed, err := c.Prune(target)
			if err != nil {
				return err
			}
			root.logger.Info("pruned disk cache", "dir", dir, "before", before, "freed", freed)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: freed %d of %d bytes\n", dir, freed, before)
			return nil
		},
	}
	cmd.Flags().Int64Var(&target, "target", 0, "prune until the cache holds at most this many bytes")
	return cmd
}
