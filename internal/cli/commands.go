package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"claims-backend/internal/templates"
)

func newRunCommand(env Env, owner *string) *cobra.Command {
	var (
		folderName string
		showFiles  bool
	)
	cmd := &cobra.Command{
		Use:   "run <folder-id>",
		Short: "Analyse every document in a folder and print the batch summary",
		Long: `Run creates a batch for the folder and processes it in this process.
Interrupting the command cancels the batch: documents already in flight
finish, the rest are recorded as CANCELLED.

Example:
  claimctl run claims/2026-03 --name "March intake" --files`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.Build()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			batch, err := app.Batches.CreateBatch(ctx, *owner, args[0], folderName)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "batch %s started for %s\n", batch.ID, args[0])

			batch, err = app.Batches.RunBatch(ctx, batch.ID)
			if err != nil {
				return err
			}
			view := newBatchView(batch)
			if showFiles {
				if view, err = withFiles(context.WithoutCancel(ctx), app.Batches, *owner, view); err != nil {
					return err
				}
			}
			if err := writeYAML(env.Out, view); err != nil {
				return err
			}
			return statusResult(batch.Status)
		},
	}
	cmd.Flags().StringVar(&folderName, "name", "", "display name for the folder")
	cmd.Flags().BoolVar(&showFiles, "files", false, "include per-document results")
	return cmd
}

func newStatusCommand(env Env, owner *string) *cobra.Command {
	var showFiles bool
	cmd := &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Print a batch and its counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.Build()
			if err != nil {
				return err
			}
			defer app.Close()

			batch, err := app.Batches.Get(cmd.Context(), *owner, args[0])
			if err != nil {
				return err
			}
			view := newBatchView(batch)
			if showFiles {
				if view, err = withFiles(cmd.Context(), app.Batches, *owner, view); err != nil {
					return err
				}
			}
			if err := writeYAML(env.Out, view); err != nil {
				return err
			}
			if !batch.Status.Terminal() {
				return nil
			}
			return statusResult(batch.Status)
		},
	}
	cmd.Flags().BoolVar(&showFiles, "files", false, "include per-document results")
	return cmd
}

func newSynthesizeCommand(env Env, owner *string) *cobra.Command {
	var opts templates.Options
	cmd := &cobra.Command{
		Use:   "synthesize <batch-id>",
		Short: "Build a standard template from a batch's recurring gaps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.Build()
			if err != nil {
				return err
			}
			defer app.Close()

			if opts.Threshold == 0 {
				opts.Threshold = app.Config.SynthesisThreshold
			}
			tmpl, err := app.Synthesizer.Synthesize(cmd.Context(), *owner, args[0], opts)
			if err != nil {
				if errors.Is(err, templates.ErrEmptyCorpus) {
					return fmt.Errorf("batch %s has no completed analyses", args[0])
				}
				return err
			}
			return writeYAML(env.Out, newTemplateView(tmpl))
		},
	}
	cmd.Flags().Float64Var(&opts.Threshold, "threshold", 0, "share of analyses that must miss an element (default SYNTHESIS_THRESHOLD)")
	cmd.Flags().BoolVar(&opts.IncludeHistory, "include-history", false, "merge the owner's earlier completed analyses")
	cmd.Flags().StringVar(&opts.TemplateType, "type", "", "template type (default: dominant report type)")
	return cmd
}
