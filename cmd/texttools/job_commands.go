package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"texttools/internal/batch"
	"texttools/internal/jobstate"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var (
		jobName   string
		inputPath string
		withIDs   bool
		schemaOpt schemaFlags
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Submit a new batch job",
		Long:  "Submit a new batch job. Inputs are read one per line from --input or stdin.\nWith --ids each line is id<TAB>text and results are keyed by id.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := schemaOpt.descriptor()
			if err != nil {
				return err
			}
			items, err := readInputs(cmd, inputPath, withIDs)
			if err != nil {
				return err
			}
			name := strings.TrimSpace(jobName)
			if name == "" {
				name = "job-" + uuid.NewString()[:8]
			}

			s, err := ctx.openSession(true)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.manager.StartItems(commandCtx(cmd), items, name, desc); err != nil {
				if errors.Is(err, batch.ErrEmptyInput) {
					return fmt.Errorf("no inputs found; provide one text per line")
				}
				return err
			}
			rec, err := s.manager.Job(cmd.Context(), name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started job %s: %d inputs in %d sub-batches\n", name, rec.InputCount, len(rec.SubBatches))
			return nil
		},
	}
	cmd.Flags().StringVarP(&jobName, "job", "j", "", "Job name (generated when omitted)")
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Input file, one text per line (default stdin)")
	cmd.Flags().BoolVar(&withIDs, "ids", false, "Input lines carry an item id: id<TAB>text")
	schemaOpt.register(cmd)
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <job>",
		Short: "Poll a job once and print its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			runCtx := commandCtx(cmd)
			local, err := ctx.openSession(false)
			if err != nil {
				return err
			}
			rec, err := local.manager.Job(runCtx, name)
			local.Close()
			if err != nil {
				return err
			}
			if rec.Status.IsTerminal() {
				if asJSON {
					return writeJSON(cmd, jobView(rec))
				}
				printStatus(cmd, name, rec.Status, rec.Error)
				return nil
			}

			s, err := ctx.openSession(true)
			if err != nil {
				return err
			}
			defer s.Close()

			status, err := s.manager.CheckStatus(runCtx, name)
			if err != nil {
				return err
			}
			rec, err = s.manager.Job(runCtx, name)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, jobView(rec))
			}
			printStatus(cmd, name, status, rec.Error)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the job record as JSON")
	return cmd
}

func printStatus(cmd *cobra.Command, name string, status jobstate.Status, reason string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s\n", name, statusLabel(status))
	if reason != "" {
		fmt.Fprintf(out, "  reason: %s\n", reason)
	}
}

func newDiscardCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <job>",
		Short: "Remove a finished job so its name can be reused",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.manager.Discard(commandCtx(cmd), args[0]); err != nil {
				if errors.Is(err, jobstate.ErrJobActive) {
					return fmt.Errorf("job %s is still active; wait for it to finish before discarding", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Discarded job %s\n", args[0])
			return nil
		},
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List stored jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			records, err := s.manager.Jobs(commandCtx(cmd))
			if err != nil {
				return err
			}
			if asJSON {
				views := make([]jobRecordView, 0, len(records))
				for _, rec := range records {
					views = append(views, jobView(rec))
				}
				return writeJSON(cmd, views)
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			renderJobs(out, records)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output jobs as JSON")
	return cmd
}
