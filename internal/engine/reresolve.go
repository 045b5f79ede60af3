package engine

import (
	"context"
	"fmt"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/trust"
)

// ReorgResult summarizes an explicit re-resolution.
type ReorgResult struct {
	Changed    bool
	NewTipID   string
	Evicted    int
	Reattached int
}

// Reresolve re-runs conflict resolution at a canonical position with
// the current trust table. Orphans recorded at that fork re-enter the
// contest; if one now beats the incumbent, the incumbent branch is
// evicted and the orphan's own descendants are reattached where they
// win in turn.
//
// This is an explicit, logged, rare operation - trust drift never
// triggers it automatically.
func (e *Engine) Reresolve(ctx context.Context, position int) (ReorgResult, error) {
	if position < 0 || position >= e.chain.Len() {
		return ReorgResult{}, fmt.Errorf("reresolve: position %d outside canonical chain (length %d)", position, e.chain.Len())
	}

	path := e.chain.Path()
	incumbent := path[position]
	parentID := ""
	if position > 0 {
		parentID = path[position-1].ID
	}

	contenders := append([]capsule.Capsule{incumbent}, e.orphanChildren(parentID)...)
	if len(contenders) == 1 {
		return ReorgResult{NewTipID: e.chain.TipID()}, nil
	}

	res, err := e.resolver.Resolve(contenders)
	if err != nil {
		return ReorgResult{}, fmt.Errorf("reresolve: %w", err)
	}
	if res.Winner.ID == incumbent.ID {
		e.log.Info("re-resolution confirms incumbent",
			"position", position, "winner", shortID(incumbent.ID), "contenders", len(contenders))
		return ReorgResult{NewTipID: e.chain.TipID()}, nil
	}

	evicted := e.chain.TruncateFrom(position, res.Winner.ID, reasonLostFork)
	if err := e.store.TruncateCanonical(ctx, position, res.Winner.ID, reasonLostFork); err != nil {
		return ReorgResult{}, err
	}
	if err := e.accept(ctx, res.Winner, position); err != nil {
		return ReorgResult{}, err
	}

	// Walk the winner's orphaned descendants back onto the chain while
	// a clear winner exists at each step.
	reattached := 0
	for {
		children := e.orphanChildren(e.chain.TipID())
		if len(children) == 0 {
			break
		}
		step, rerr := e.resolver.Resolve(children)
		if rerr != nil {
			break // all remaining children quarantined; they stay orphaned
		}
		if aerr := e.accept(ctx, step.Winner, e.chain.Len()); aerr != nil {
			return ReorgResult{}, aerr
		}
		reattached++
	}

	e.state = e.recon.Reconstruct(e.chain.Path())
	if err := e.checkpoint(ctx); err != nil {
		return ReorgResult{}, err
	}

	e.log.Info("re-resolution reorganized chain",
		"position", position, "winner", shortID(res.Winner.ID),
		"evicted", len(evicted), "reattached", reattached, "tip", shortID(e.chain.TipID()))
	return ReorgResult{
		Changed:    true,
		NewTipID:   e.chain.TipID(),
		Evicted:    len(evicted),
		Reattached: reattached,
	}, nil
}

// orphanChildren returns hash-valid orphans claiming the given parent,
// excluding producers that cannot currently win anything.
func (e *Engine) orphanChildren(parentID string) []capsule.Capsule {
	var out []capsule.Capsule
	for _, o := range e.chain.Orphans() {
		c := o.Capsule
		if c.PrevID != parentID {
			continue
		}
		if capsule.Verify(c) != nil {
			continue
		}
		if e.trust.StatusOf(c.ProducerID) != trust.StatusActive {
			continue
		}
		out = append(out, c)
	}
	return out
}
