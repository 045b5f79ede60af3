package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/config"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/engine"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/identity"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/store"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/testutil"
)

// Result carries the trace plus the node's final shape for direct
// assertions.
type Result struct {
	Scenario string

	// Trace is one event map per scenario action, in execution order.
	// Values are limited to ints, strings and bools so the canonical
	// encoding is reproducible byte-for-byte.
	Trace []map[string]any

	// ChainRefs is the final canonical chain as 1-based seal refs.
	ChainRefs []int

	// TipRef is the ref of the canonical tip, 0 when the chain is empty.
	TipRef int

	QueueDepth  int
	DeadLetters int
}

// Run executes a scenario against a fresh engine over an in-memory
// store. Capsules are sealed with a deterministic clock and fixed
// producer ids, so the same scenario always yields the same trace.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("harness: open store: %w", err)
	}
	defer st.Close()

	cfg := config.Default(":memory:")
	cfg.Trust.Alpha = 0.5
	if sc.MaxRetries > 0 {
		cfg.Sync.MaxRetries = sc.MaxRetries
	}

	id := identity.DeviceIdentity{
		StableID:   testutil.ProducerID("observer"),
		InstanceID: "scenario",
		BootTime:   time.Unix(0, 0).UTC(),
	}
	eng, err := engine.New(ctx, cfg, st, id, slog.New(slog.DiscardHandler))
	if err != nil {
		return nil, fmt.Errorf("harness: build engine: %w", err)
	}

	b := testutil.NewChainBuilder()
	var sealed []capsule.Capsule
	refs := make(map[string]int)
	var trace []map[string]any

	seal := func(c capsule.Capsule, producer string, parent int) {
		sealed = append(sealed, c)
		refs[c.ID] = len(sealed)
		ev := map[string]any{"type": "seal", "ref": len(sealed), "producer": producer}
		if parent > 0 {
			ev["parent"] = parent
		}
		trace = append(trace, ev)
	}
	at := func(ref int) (capsule.Capsule, error) {
		if ref < 1 || ref > len(sealed) {
			return capsule.Capsule{}, fmt.Errorf("harness: ref %d outside sealed set (have %d)", ref, len(sealed))
		}
		return sealed[ref-1], nil
	}
	record := func(outs []engine.Outcome) {
		for _, o := range outs {
			ev := map[string]any{"type": "outcome", "ref": refs[o.CapsuleID], "status": string(o.Status)}
			if o.WinnerID != "" {
				ev["winner"] = refs[o.WinnerID]
			}
			if o.Reorged {
				ev["reorged"] = true
			}
			trace = append(trace, ev)
		}
	}

	for i, s := range sc.Steps {
		switch {
		case s.Seal != nil:
			c, serr := b.Extend(testutil.ProducerID(s.Seal.Producer), s.Seal.Quality, capsule.Delta{})
			if serr != nil {
				return nil, fmt.Errorf("harness: step %d: %w", i+1, serr)
			}
			seal(c, s.Seal.Producer, 0)

		case s.Fork != nil:
			parent, aerr := at(s.Fork.Parent)
			if aerr != nil {
				return nil, fmt.Errorf("harness: step %d: %w", i+1, aerr)
			}
			c, ferr := b.Fork(parent.ID, testutil.ProducerID(s.Fork.Producer), s.Fork.Quality)
			if ferr != nil {
				return nil, fmt.Errorf("harness: step %d: %w", i+1, ferr)
			}
			seal(c, s.Fork.Producer, s.Fork.Parent)

		case len(s.Deliver) > 0:
			batch := make([]capsule.Capsule, 0, len(s.Deliver))
			for _, ref := range s.Deliver {
				c, aerr := at(ref)
				if aerr != nil {
					return nil, fmt.Errorf("harness: step %d: %w", i+1, aerr)
				}
				batch = append(batch, c)
			}
			outs, ierr := eng.Integrate(ctx, batch)
			if ierr != nil {
				return nil, fmt.Errorf("harness: step %d: %w", i+1, ierr)
			}
			record(outs)

		case s.Sync:
			outs, serr := eng.Sync(ctx)
			if serr != nil {
				return nil, fmt.Errorf("harness: step %d: %w", i+1, serr)
			}
			record(outs)

		case s.Revoke != "":
			if rerr := eng.RevokeProducer(ctx, testutil.ProducerID(s.Revoke)); rerr != nil {
				return nil, fmt.Errorf("harness: step %d: %w", i+1, rerr)
			}
			trace = append(trace, map[string]any{"type": "revoke", "producer": s.Revoke})

		case s.Reresolve != nil:
			res, rerr := eng.Reresolve(ctx, *s.Reresolve)
			if rerr != nil {
				return nil, fmt.Errorf("harness: step %d: %w", i+1, rerr)
			}
			trace = append(trace, map[string]any{
				"type":       "reresolve",
				"position":   *s.Reresolve,
				"changed":    res.Changed,
				"evicted":    res.Evicted,
				"reattached": res.Reattached,
			})
		}
	}

	depth, err := eng.QueueDepth(ctx)
	if err != nil {
		return nil, err
	}
	letters, err := eng.DeadLetters(ctx)
	if err != nil {
		return nil, err
	}

	path := eng.CanonicalPath()
	chainRefs := make([]int, 0, len(path))
	chainAny := make([]any, 0, len(path))
	for _, c := range path {
		chainRefs = append(chainRefs, refs[c.ID])
		chainAny = append(chainAny, refs[c.ID])
	}
	tip := refs[eng.TipID()]
	trace = append(trace, map[string]any{
		"type":         "final",
		"chain":        chainAny,
		"tip":          tip,
		"queue_depth":  depth,
		"dead_letters": len(letters),
	})

	return &Result{
		Scenario:    sc.Name,
		Trace:       trace,
		ChainRefs:   chainRefs,
		TipRef:      tip,
		QueueDepth:  depth,
		DeadLetters: len(letters),
	}, nil
}
