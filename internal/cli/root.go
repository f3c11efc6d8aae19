// Package cli implements claimctl, the operator command line for batch runs.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"claims-backend/internal/bootstrap"
	"claims-backend/internal/claims"
)

// Env supplies the app and output stream to commands.
type Env struct {
	Build func() (*bootstrap.App, error)
	Out   io.Writer
}

// ExitError carries the process exit code for a non-COMPLETED batch.
type ExitError struct {
	Code   int
	Status claims.BatchStatus
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("batch finished %s", e.Status)
}

// ExitCode maps a terminal batch status to a process exit code.
func ExitCode(status claims.BatchStatus) int {
	switch status {
	case claims.BatchCompleted:
		return 0
	case claims.BatchPartial:
		return 2
	default:
		return 1
	}
}

// NewRootCommand builds the claimctl command tree.
func NewRootCommand(env Env) *cobra.Command {
	var owner string
	root := &cobra.Command{
		Use:   "claimctl",
		Short: "Run and inspect claim document batches",
		Long: `claimctl drives the claim analysis pipeline from a terminal.

Batches run in this process against the configured source, extractor and
store. Output is YAML. The exit code is 0 for COMPLETED, 2 for PARTIAL
and 1 for FAILED or any error.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&owner, "owner", "cli", "owner id batches are created and read under")

	root.AddCommand(
		newRunCommand(env, &owner),
		newStatusCommand(env, &owner),
		newSynthesizeCommand(env, &owner),
	)
	return root
}

func statusResult(status claims.BatchStatus) error {
	if code := ExitCode(status); code != 0 {
		return &ExitError{Code: code, Status: status}
	}
	return nil
}
