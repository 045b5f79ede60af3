package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewTrustCommand creates the trust command group.
func NewTrustCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Manage producer trust: revoke, reinstate, override",
	}

	cmd.AddCommand(newTrustRevokeCommand(rootOpts))
	cmd.AddCommand(newTrustReinstateCommand(rootOpts))
	cmd.AddCommand(newTrustOverrideCommand(rootOpts))

	return cmd
}

func newTrustRevokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "revoke <producer-id>",
		Short: "Administratively cut a producer off",
		Long: `Revoke a producer. Its future capsules are dropped with no storage
at all; already-canonical capsules stay on the chain until an explicit
re-resolution evicts them.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrustChange(opts, cmd, args[0], "revoked", func(n *node, producer string) error {
				return n.eng.RevokeProducer(cmd.Context(), producer)
			})
		},
	}
	registerNodeFlags(cmd, opts)
	return cmd
}

func newTrustReinstateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "reinstate <producer-id>",
		Short:         "Reverse a revocation, resetting trust to the neutral prior",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrustChange(opts, cmd, args[0], "reinstated", func(n *node, producer string) error {
				return n.eng.ReinstateProducer(cmd.Context(), producer)
			})
		},
	}
	registerNodeFlags(cmd, opts)
	return cmd
}

func newTrustOverrideCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}
	var clear bool

	cmd := &cobra.Command{
		Use:   "override <producer-id>",
		Short: "Exempt a producer from the quarantine floor",
		Long: `Set (or with --clear, remove) the operator quarantine exemption for
a producer. An exempt producer competes at forks even while its trust
sits below the floor.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			verb := "override set"
			if clear {
				verb = "override cleared"
			}
			return runTrustChange(opts, cmd, args[0], verb, func(n *node, producer string) error {
				return n.eng.OverrideQuarantine(cmd.Context(), producer, !clear)
			})
		},
	}
	registerNodeFlags(cmd, opts)
	cmd.Flags().BoolVar(&clear, "clear", false, "remove the exemption instead of setting it")
	return cmd
}

// TrustChangeResult is the payload reported after a trust mutation.
type TrustChangeResult struct {
	ProducerID string  `json:"producer_id"`
	Action     string  `json:"action"`
	Trust      float64 `json:"trust"`
	Status     string  `json:"status"`
}

func runTrustChange(opts *NodeOptions, cmd *cobra.Command, producer, action string, change func(*node, string) error) error {
	ctx := cmd.Context()

	n, err := openNode(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer n.close(ctx)

	if err := change(n, producer); err != nil {
		return WrapExitError(ExitCommandError, "trust change failed", err)
	}

	result := TrustChangeResult{
		ProducerID: producer,
		Action:     action,
		Trust:      n.eng.TrustOf(producer).Value,
		Status:     string(n.eng.TrustStatusOf(producer)),
	}

	if opts.Format == "json" {
		return writeJSONOK(cmd.OutOrStdout(), result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Producer %s %s (trust=%.4f, status=%s)\n",
		result.ProducerID, result.Action, result.Trust, result.Status)
	return nil
}
