package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/intentguard/intentguard/generation/artifact"
	"github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness"
	"github.com/ZanzyTHEbar/intentguard/intentguard/generation/models"
)

func newPrepareCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Download and verify the runtime binary and model weights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			factory := harness.NewFactory(a.cfg, prometheus.NewRegistry(), a.logger)
			lc := factory.LlamafileConfig()
			if err := models.ValidateConfig(lc); err != nil {
				return fmt.Errorf("invalid runtime configuration: %w", err)
			}

			provisioner := factory.CreateProvisioner()
			out := cmd.OutOrStdout()
			for _, item := range []struct {
				label string
				art   artifact.Artifact
			}{
				{"runtime", lc.BinaryArtifact()},
				{"model", lc.ModelArtifact()},
			} {
				if err := provisioner.Ensure(cmd.Context(), item.art); err != nil {
					return fmt.Errorf("prepare %s: %w", item.label, err)
				}
				fmt.Fprintf(out, "%s  %s %s\n", styles.Pass.Render("OK"), item.label, styles.Muted.Render(item.art.Path))
			}
			return nil
		},
	}
}
