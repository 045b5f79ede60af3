package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/config"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/engine"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/identity"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/store"
)

// NodeOptions holds the flags every node-backed command shares.
type NodeOptions struct {
	*RootOptions
	DataDir    string
	ConfigPath string
}

// registerNodeFlags wires --data and --config onto a command.
func registerNodeFlags(cmd *cobra.Command, opts *NodeOptions) {
	cmd.Flags().StringVar(&opts.DataDir, "data", "", "node data directory (required)")
	_ = cmd.MarkFlagRequired("data")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "optional YAML config file")
}

// node bundles an opened engine with the resources it borrows.
type node struct {
	cfg config.Config
	id  identity.DeviceIdentity
	st  *store.Store
	eng *engine.Engine
}

// openNode loads config and identity, opens the store, and recovers an
// engine over it. Callers must call close when done.
func openNode(ctx context.Context, opts *NodeOptions, errWriter io.Writer) (*node, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	id, err := identity.Load(cfg.DataDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load device identity", err)
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	log := slog.New(slog.DiscardHandler)
	if opts.Verbose {
		log = slog.New(slog.NewTextHandler(errWriter, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	}

	eng, err := engine.New(ctx, cfg, st, id, log)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to recover node", err)
	}

	return &node{cfg: cfg, id: id, st: st, eng: eng}, nil
}

func loadConfig(opts *NodeOptions) (config.Config, error) {
	if opts.ConfigPath != "" {
		return config.Load(opts.ConfigPath, opts.DataDir)
	}
	cfg := config.Default(opts.DataDir)
	return cfg, cfg.Validate()
}

// close checkpoints the engine and releases the store.
func (n *node) close(ctx context.Context) error {
	cerr := n.eng.Close(ctx)
	if serr := n.st.Close(); cerr == nil {
		cerr = serr
	}
	return cerr
}
