package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// InitResult is the payload reported after initializing a node.
type InitResult struct {
	DeviceID    string `json:"device_id"`
	DataDir     string `json:"data_dir"`
	Database    string `json:"database"`
	ChainLength int    `json:"chain_length"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a node data directory",
		Long: `Initialize a node: derive and persist the stable device id, create
the capsule database, and verify the configuration.

Running init on an existing data directory is a no-op that reports the
current state.

Examples:
  fluxnode init --data ./node
  fluxnode init --data ./node --config fluxnode.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	registerNodeFlags(cmd, opts)
	return cmd
}

func runInit(opts *NodeOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	n, err := openNode(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer n.close(ctx)

	result := InitResult{
		DeviceID:    n.id.StableID,
		DataDir:     n.cfg.DataDir,
		Database:    n.cfg.DatabasePath(),
		ChainLength: n.eng.ChainLength(),
	}

	if opts.Format == "json" {
		return writeJSONOK(cmd.OutOrStdout(), result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Device:   %s\n", result.DeviceID)
	fmt.Fprintf(w, "Data dir: %s\n", result.DataDir)
	fmt.Fprintf(w, "Database: %s\n", result.Database)
	fmt.Fprintf(w, "Chain:    %d capsule(s)\n", result.ChainLength)
	return nil
}
