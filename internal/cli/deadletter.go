package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DeadLetterEntry is one row of the dead-letter audit log.
type DeadLetterEntry struct {
	CapsuleID  string `json:"capsule_id"`
	Reason     string `json:"reason"`
	RetryCount int    `json:"retry_count"`
}

// DeadLetterResult is the payload reported by deadletter.
type DeadLetterResult struct {
	Entries []DeadLetterEntry `json:"entries"`
	Total   int               `json:"total"`
}

// NewDeadLetterCommand creates the deadletter command.
func NewDeadLetterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "List capsules that exhausted their sync retries",
		Long: `List the dead-letter audit log: capsules whose parent never arrived
within the retry ceiling. Entries are never deleted; the capsules
themselves remain inspectable in the ledger.

Examples:
  fluxnode deadletter --data ./node
  fluxnode deadletter --data ./node --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeadLetter(opts, cmd)
		},
	}

	registerNodeFlags(cmd, opts)
	return cmd
}

func runDeadLetter(opts *NodeOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	n, err := openNode(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer n.close(ctx)

	letters, err := n.eng.DeadLetters(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read dead letters", err)
	}

	result := DeadLetterResult{Entries: make([]DeadLetterEntry, 0, len(letters)), Total: len(letters)}
	for _, l := range letters {
		result.Entries = append(result.Entries, DeadLetterEntry{
			CapsuleID:  l.CapsuleID,
			Reason:     l.Reason,
			RetryCount: l.RetryCount,
		})
	}

	if opts.Format == "json" {
		return writeJSONOK(cmd.OutOrStdout(), result)
	}

	w := cmd.OutOrStdout()
	if result.Total == 0 {
		fmt.Fprintln(w, "No dead letters.")
		return nil
	}
	fmt.Fprintf(w, "%d dead letter(s):\n", result.Total)
	for _, e := range result.Entries {
		fmt.Fprintf(w, "  %s  retries=%d  %s\n", e.CapsuleID, e.RetryCount, e.Reason)
	}
	return nil
}
