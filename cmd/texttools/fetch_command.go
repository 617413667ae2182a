package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"texttools/internal/batch"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "fetch <job>",
		Short: "Fetch a completed job's results and run the configured handlers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(true)
			if err != nil {
				return err
			}
			defer s.Close()

			name := args[0]
			report, err := s.manager.FetchResults(commandCtx(cmd), name)
			if err != nil {
				if errors.Is(err, batch.ErrNotCompleted) {
					return fmt.Errorf("job %s has not completed yet; run `texttools status %s`", name, name)
				}
				return err
			}
			for _, failure := range report.HandlerFailures {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", failure)
			}
			if asJSON {
				return writeJSON(cmd, report.Results)
			}
			renderResults(cmd.OutOrStdout(), report.Results)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output results as JSON")
	return cmd
}
