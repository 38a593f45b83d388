package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the verdict cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show the number and size of cached verdicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			factory := harness.NewFactory(a.cfg, nil, a.logger)
			stats, err := factory.CreateDiskCache().Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%d entries, %d bytes\n",
				styles.Bold.Render(factory.CacheRoot()), stats.Entries, stats.Bytes)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached verdict",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			factory := harness.NewFactory(a.cfg, nil, a.logger)
			n, err := factory.CreateDiskCache().Clear()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached verdicts from %s\n", n, factory.CacheRoot())
			return nil
		},
	})

	return cmd
}
