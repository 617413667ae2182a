package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"texttools/internal/batch"
	"texttools/internal/categorizer"
	"texttools/internal/handlers"
)

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	var (
		inputPath string
		asJSON    bool
		schemaOpt schemaFlags
	)
	cmd := &cobra.Command{
		Use:   "classify [text...]",
		Short: "Classify texts synchronously, one request per text",
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := schemaOpt.descriptor()
			if err != nil {
				return err
			}
			texts := args
			if len(texts) == 0 {
				items, err := readInputs(cmd, inputPath, false)
				if err != nil {
					return err
				}
				texts = itemTexts(items)
			}
			if len(texts) == 0 {
				return errors.New("no texts to classify")
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.loggerFor(cfg)
			client, err := newLLMClient(cfg)
			if err != nil {
				return err
			}
			c, err := categorizer.New(client, desc, cfg.Batch.Prompt, cfg.Batch.MaxConcurrentRequests, logger)
			if err != nil {
				return err
			}
			runCtx := commandCtx(cmd)
			results, err := c.CategorizeAll(runCtx, "classify", texts)
			if err != nil {
				return err
			}
			failures := batch.NewDispatcher(logger).Dispatch(runCtx, "classify", results, handlers.FromConfig(cfg, logger))
			for _, failure := range failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", failure)
			}
			if asJSON {
				return writeJSON(cmd, results)
			}
			renderResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Input file, one text per line (default stdin)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output results as JSON")
	schemaOpt.register(cmd)
	return cmd
}
