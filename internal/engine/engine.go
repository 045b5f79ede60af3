package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/chain"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/config"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/experience"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/identity"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/queue"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/safety"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/state"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/store"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/trust"
)

// Engine is the node's integration pipeline behind the single-writer
// discipline: all methods that mutate chain, trust, safety or derived
// state must be called from one goroutine.
type Engine struct {
	cfg config.Config
	id  identity.DeviceIdentity
	log *slog.Logger

	store *store.Store
	queue *queue.SyncQueue

	chain     *chain.Chain
	validator *chain.Validator
	resolver  *chain.Resolver
	trust     *trust.Scorer
	safety    *safety.Validator
	recon     *state.Reconstructor
	merger    *experience.Merger
	clock     *Clock

	state      state.DerivedState
	experience capsule.Delta

	sinceCheckpoint int
}

// New assembles an engine over an opened store and recovers all
// in-memory structures from the persisted ledger: canonical chain,
// orphan index, trust table, safety statistics, and derived state
// (checkpoint + suffix when the checkpoint still matches the chain,
// full replay otherwise).
func New(ctx context.Context, cfg config.Config, st *store.Store, id identity.DeviceIdentity, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "engine", "device", shortID(id.StableID))

	scorer := trust.NewScorer(trust.Config{
		Alpha:      cfg.Trust.Alpha,
		NormalizeK: cfg.Trust.NormalizeK,
		Floor:      cfg.Trust.Floor,
	})
	recon, err := state.NewReconstructor(cfg.State.Decay)
	if err != nil {
		return nil, err
	}
	gate, err := safety.NewValidator(safety.Config{
		SigmaK:     cfg.Safety.SigmaK,
		MinSamples: cfg.Safety.MinSamples,
	})
	if err != nil {
		return nil, err
	}
	q, err := queue.New(st, cfg.Sync.MaxRetries, log)
	if err != nil {
		return nil, err
	}

	ch := chain.New()
	e := &Engine{
		cfg:       cfg,
		id:        id,
		log:       log,
		store:     st,
		queue:     q,
		chain:     ch,
		validator: chain.NewValidator(ch, cfg.Chain.EpsilonTicks),
		resolver:  chain.NewResolver(scorer),
		trust:     scorer,
		safety:    gate,
		recon:     recon,
		merger:    experience.NewMerger(scorer),
		state:     state.NewDerivedState(),
	}
	if err := e.recover(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// recover rebuilds in-memory structures from the store.
func (e *Engine) recover(ctx context.Context) error {
	rows, err := e.store.LoadTrust(ctx)
	if err != nil {
		return err
	}
	scores := make(map[string]trust.Score, len(rows))
	for _, r := range rows {
		scores[r.ProducerID] = r.Score
	}
	if err := e.trust.Restore(scores); err != nil {
		return err
	}
	for _, r := range rows {
		if r.Revoked {
			e.trust.Revoke(r.ProducerID)
		}
		if r.Overridden {
			e.trust.Override(r.ProducerID, true)
		}
	}

	canonical, err := e.store.ReadCanonical(ctx)
	if err != nil {
		return err
	}
	var maxSeq int64
	for _, c := range canonical {
		if err := e.chain.Append(c); err != nil {
			return fmt.Errorf("engine: corrupt canonical ledger: %w", err)
		}
		e.safety.Observe(c)
		if c.SequenceTime > maxSeq {
			maxSeq = c.SequenceTime
		}
	}
	e.clock = NewClockAt(maxSeq)

	orphans, err := e.store.ReadOrphans(ctx)
	if err != nil {
		return err
	}
	for _, o := range orphans {
		c, gerr := e.store.GetCapsule(ctx, o.CapsuleID)
		if gerr != nil {
			return fmt.Errorf("engine: orphan %s missing from ledger: %w", o.CapsuleID, gerr)
		}
		e.chain.AddOrphan(chain.Orphan{Capsule: c, WinnerID: o.WinnerID, Reason: o.Reason})
	}

	e.state = e.recoverState(ctx, canonical)
	for _, c := range canonical {
		e.foldExperience(c)
	}

	e.log.Info("recovered",
		"chain_length", e.chain.Len(),
		"orphans", len(orphans),
		"producers", e.state.Producers)
	return nil
}

// recoverState prefers checkpoint + suffix replay, falling back to a
// full replay whenever the checkpoint no longer matches the chain
// (e.g. a reorg landed after the last snapshot). Both routes yield the
// identical state.
func (e *Engine) recoverState(ctx context.Context, canonical []capsule.Capsule) state.DerivedState {
	cp, err := e.store.LoadCheckpoint(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNoCheckpoint) {
			e.log.Warn("checkpoint unreadable, replaying from genesis", "error", err)
		}
		return e.recon.Reconstruct(canonical)
	}
	if cp.ChainLength > len(canonical) ||
		(cp.ChainLength > 0 && canonical[cp.ChainLength-1].ID != cp.State.TipID) {
		e.log.Warn("checkpoint diverged from ledger, replaying from genesis",
			"checkpoint_tip", shortID(cp.State.TipID), "checkpoint_length", cp.ChainLength)
		return e.recon.Reconstruct(canonical)
	}
	resumed, err := e.recon.Resume(cp.State, canonical[cp.ChainLength:])
	if err != nil {
		e.log.Warn("checkpoint resume failed, replaying from genesis", "error", err)
		return e.recon.Reconstruct(canonical)
	}
	return resumed
}

// Close checkpoints and releases nothing else: the store is owned by
// the caller.
func (e *Engine) Close(ctx context.Context) error {
	return e.checkpoint(ctx)
}

// Identity returns the device identity this engine produces under.
func (e *Engine) Identity() identity.DeviceIdentity { return e.id }

// State returns the current derived state.
func (e *Engine) State() state.DerivedState { return e.state }

// Experience returns the merged experience delta.
func (e *Engine) Experience() capsule.Delta { return e.experience.Clone() }

// ChainLength returns the canonical chain length.
func (e *Engine) ChainLength() int { return e.chain.Len() }

// TipID returns the canonical tip id, "" when empty.
func (e *Engine) TipID() string { return e.chain.TipID() }

// CanonicalPath returns a copy of the canonical chain.
func (e *Engine) CanonicalPath() []capsule.Capsule { return e.chain.Path() }

// TrustOf returns the producer's current score.
func (e *Engine) TrustOf(producerID string) trust.Score { return e.trust.Get(producerID) }

// TrustStatusOf returns the producer's standing.
func (e *Engine) TrustStatusOf(producerID string) trust.Status { return e.trust.StatusOf(producerID) }

// QueueDepth returns the number of capsules awaiting integration.
func (e *Engine) QueueDepth(ctx context.Context) (int, error) { return e.queue.Depth(ctx) }

// DeadLetters returns the dead-letter audit log.
func (e *Engine) DeadLetters(ctx context.Context) ([]store.DeadLetterRecord, error) {
	return e.queue.DeadLetters(ctx)
}

// RevokeProducer administratively cuts a producer off. Future capsules
// are dropped with no storage until Reinstate.
func (e *Engine) RevokeProducer(ctx context.Context, producerID string) error {
	e.trust.Revoke(producerID)
	e.log.Warn("producer revoked", "producer", shortID(producerID))
	return e.persistTrust(ctx)
}

// ReinstateProducer reverses a revocation, resetting the producer to
// the neutral prior.
func (e *Engine) ReinstateProducer(ctx context.Context, producerID string) error {
	e.trust.Reinstate(producerID)
	e.log.Info("producer reinstated", "producer", shortID(producerID))
	return e.persistTrust(ctx)
}

// OverrideQuarantine sets or clears the operator quarantine exemption.
func (e *Engine) OverrideQuarantine(ctx context.Context, producerID string, exempt bool) error {
	e.trust.Override(producerID, exempt)
	e.log.Info("quarantine override", "producer", shortID(producerID), "exempt", exempt)
	return e.persistTrust(ctx)
}

// checkpoint snapshots derived state and the trust table.
func (e *Engine) checkpoint(ctx context.Context) error {
	if err := e.store.SaveCheckpoint(ctx, e.state, e.chain.Len()); err != nil {
		return err
	}
	if err := e.persistTrust(ctx); err != nil {
		return err
	}
	e.sinceCheckpoint = 0
	e.log.Debug("checkpoint written", "chain_length", e.chain.Len(), "tip", shortID(e.chain.TipID()))
	return nil
}

func (e *Engine) persistTrust(ctx context.Context) error {
	snap := e.trust.Snapshot()
	revoked, overridden := e.trust.Flags()

	rows := make(map[string]store.TrustRow, len(snap))
	for p, sc := range snap {
		rows[p] = store.TrustRow{ProducerID: p, Score: sc}
	}
	for _, p := range revoked {
		r := rows[p]
		r.ProducerID = p
		if r.Score == (trust.Score{}) {
			r.Score = e.trust.Get(p)
		}
		r.Revoked = true
		rows[p] = r
	}
	for _, p := range overridden {
		r := rows[p]
		r.ProducerID = p
		if r.Score == (trust.Score{}) {
			r.Score = e.trust.Get(p)
		}
		r.Overridden = true
		rows[p] = r
	}

	out := make([]store.TrustRow, 0, len(rows))
	for _, p := range sortedRowKeys(rows) {
		out = append(out, rows[p])
	}
	return e.store.SaveTrust(ctx, out)
}

// foldExperience merges one accepted capsule's delta into the node's
// accumulated experience.
func (e *Engine) foldExperience(c capsule.Capsule) {
	if c.Delta.IsZero() {
		return
	}
	e.experience = e.merger.Merge(e.id.StableID, e.experience, []experience.Contribution{
		{ProducerID: c.ProducerID, Delta: c.Delta},
	})
}

func sortedRowKeys(m map[string]store.TrustRow) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// shortID truncates a hash id for log lines.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
