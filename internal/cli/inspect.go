package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// InspectProducer is one row of the trust table.
type InspectProducer struct {
	ProducerID string  `json:"producer_id"`
	Trust      float64 `json:"trust"`
	Updates    int64   `json:"updates"`
	Status     string  `json:"status"`
}

// InspectResult is the payload reported by inspect.
type InspectResult struct {
	DeviceID    string            `json:"device_id"`
	ChainLength int               `json:"chain_length"`
	TipID       string            `json:"tip_id,omitempty"`
	Accepted    uint64            `json:"accepted"`
	QueueDepth  int               `json:"queue_depth"`
	DeadLetters int               `json:"dead_letters"`
	Producers   []InspectProducer `json:"producers"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the node's chain, state, queue, and trust table",
		Long: `Show the canonical chain position, derived state counters, sync
queue depth, dead-letter count, and the per-producer trust table.

Examples:
  fluxnode inspect --data ./node
  fluxnode inspect --data ./node --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	registerNodeFlags(cmd, opts)
	return cmd
}

func runInspect(opts *NodeOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	n, err := openNode(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer n.close(ctx)

	depth, err := n.eng.QueueDepth(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read queue depth", err)
	}
	letters, err := n.eng.DeadLetters(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read dead letters", err)
	}

	st := n.eng.State()
	result := InspectResult{
		DeviceID:    n.id.StableID,
		ChainLength: n.eng.ChainLength(),
		TipID:       n.eng.TipID(),
		Accepted:    st.Accepted,
		QueueDepth:  depth,
		DeadLetters: len(letters),
	}
	for _, p := range st.SeenProducers() {
		sc := n.eng.TrustOf(p)
		result.Producers = append(result.Producers, InspectProducer{
			ProducerID: p,
			Trust:      sc.Value,
			Updates:    sc.Updates,
			Status:     string(n.eng.TrustStatusOf(p)),
		})
	}

	if opts.Format == "json" {
		return writeJSONOK(cmd.OutOrStdout(), result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Device:       %s\n", result.DeviceID)
	fmt.Fprintf(w, "Chain:        %d capsule(s)\n", result.ChainLength)
	if result.TipID != "" {
		fmt.Fprintf(w, "Tip:          %s\n", result.TipID)
	}
	fmt.Fprintf(w, "Accepted:     %d\n", result.Accepted)
	fmt.Fprintf(w, "Queue depth:  %d\n", result.QueueDepth)
	fmt.Fprintf(w, "Dead letters: %d\n", result.DeadLetters)
	if len(result.Producers) > 0 {
		fmt.Fprintln(w, "Producers:")
		for _, p := range result.Producers {
			fmt.Fprintf(w, "  %s  trust=%.4f  updates=%d  %s\n", p.ProducerID, p.Trust, p.Updates, p.Status)
		}
	}
	return nil
}
