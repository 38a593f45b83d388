package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness"
)

func newCheckCmd(a *app) *cobra.Command {
	var objectSpecs []string

	cmd := &cobra.Command{
		Use:   "check <assertion>",
		Short: "Check one assertion against named code objects",
		Long: `Check one assertion. Placeholders such as {svc} in the assertion refer to code
objects passed with --object name=path. A path may be a file or a directory; directories
are read recursively, honoring their .gitignore.

Exits with status 1 when the assertion does not hold.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assertion := args[0]
			objects, err := parseObjectFlags(objectSpecs)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printWarnings(cmd.ErrOrStderr(), harness.MissingObjects(assertion, objects))

			g, err := a.openGuard(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer g.Close()

			result, err := g.Test(cmd.Context(), assertion, objects)
			if err != nil {
				return fmt.Errorf("evaluate assertion: %w", err)
			}
			printVerdict(out, assertion, result.Result, result.Explanation)
			if !result.Result {
				return errVerdictFailed
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&objectSpecs, "object", "o", nil, "code object as name=path (repeatable)")
	return cmd
}
