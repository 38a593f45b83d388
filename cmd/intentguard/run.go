package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
	"github.com/ZanzyTHEbar/intentguard/intentguard/guard"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <suite.yaml>",
		Short: "Evaluate every assertion in a suite file",
		Long: `Evaluate every assertion in a YAML suite and print a summary.

Exits with status 1 when any assertion's verdict differs from its expectation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suite, err := loadSuite(args[0])
			if err != nil {
				return err
			}

			g, err := a.openGuard(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer g.Close()

			out := cmd.OutOrStdout()
			loaded := make(map[string]ports.CodeObject)
			passed := 0
			start := time.Now()

			for _, c := range suite.Assertions {
				objects, err := suite.CaseObjects(c, loaded)
				if err != nil {
					return err
				}

				var opts []guard.Option
				if c.Quorum > 0 {
					opts = append(opts, guard.WithQuorumSize(c.Quorum))
				}
				result, err := g.Test(cmd.Context(), c.Assertion, objects, opts...)
				if err != nil {
					return fmt.Errorf("evaluate %q: %w", c.Label(), err)
				}

				ok := result.Result == c.Expected()
				if ok {
					passed++
				}
				explanation := result.Explanation
				if !ok && result.Result {
					explanation = "expected the assertion to fail, but the quorum accepted it"
				}
				printVerdict(out, c.Label(), ok, explanation)
			}

			failed := len(suite.Assertions) - passed
			summary := lipgloss.JoinHorizontal(lipgloss.Top,
				styles.Bold.Render(fmt.Sprintf("%d assertions", len(suite.Assertions))),
				"  ", styles.Pass.Render(fmt.Sprintf("%d passed", passed)),
				"  ", styles.Fail.Render(fmt.Sprintf("%d failed", failed)),
				"  ", styles.Muted.Render(time.Since(start).Round(time.Millisecond).String()),
			)
			fmt.Fprintln(out, summary)

			if failed > 0 {
				return errVerdictFailed
			}
			return nil
		},
	}
}
