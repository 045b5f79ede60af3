package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/chain"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/trust"
)

const reasonLostFork = "lost conflict resolution"

// Integrate processes a batch of capsules in arrival order with
// continue-on-reject semantics: every capsule gets an outcome, and a
// rejection never blocks its siblings. Capsules whose parent is unknown
// are parked in the durable sync queue (StatusHeld) for a later Sync.
//
// The returned error is non-nil only for storage failures; the outcome
// list always covers the capsules processed before the failure.
func (e *Engine) Integrate(ctx context.Context, batch []capsule.Capsule) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(batch))
	for _, c := range batch {
		out, err := e.integrateOne(ctx, c)
		if err != nil {
			return outcomes, err
		}
		if out.Status == StatusHeld {
			if _, qerr := e.queue.Enqueue(ctx, c, time.Now()); qerr != nil {
				return outcomes, qerr
			}
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// integrateOne runs the full pipeline for a single capsule:
// revocation gate, structural validation, quarantine gate, safety
// bound, then attach (direct or through fork resolution).
//
// It never touches the sync queue; the caller decides what StatusHeld
// means for its delivery path.
func (e *Engine) integrateOne(ctx context.Context, c capsule.Capsule) (Outcome, error) {
	out := Outcome{CapsuleID: c.ID, ProducerID: c.ProducerID}

	// Hard revocation drops with no storage at all.
	if e.trust.StatusOf(c.ProducerID) == trust.StatusRevoked {
		out.Status = StatusDroppedRevoked
		out.Reason = "producer revoked"
		e.log.Warn("capsule dropped", "capsule", shortID(c.ID), "producer", shortID(c.ProducerID), "reason", out.Reason)
		return out, nil
	}

	att, verr := e.validator.Validate(c)
	if verr != nil {
		return e.rejectOutcome(ctx, c, verr)
	}

	// Quarantined producers are stored for audit but never reach the
	// canonical chain until trust recovers.
	if e.trust.StatusOf(c.ProducerID) == trust.StatusQuarantined {
		if err := e.store.WriteOrphan(ctx, chain.Orphan{Capsule: c, Reason: "producer quarantined"}); err != nil {
			return out, err
		}
		e.chain.AddOrphan(chain.Orphan{Capsule: c, Reason: "producer quarantined"})
		out.Status = StatusQuarantined
		out.Reason = "producer quarantined"
		e.log.Warn("capsule quarantined", "capsule", shortID(c.ID), "producer", shortID(c.ProducerID))
		return out, nil
	}

	// Safety bound: reject and penalize, but keep the capsule for audit.
	if viol := e.safety.Check(c); viol != nil {
		sc := e.trust.Penalize(c.ProducerID)
		if err := e.store.WriteOrphan(ctx, chain.Orphan{Capsule: c, Reason: viol.String()}); err != nil {
			return out, err
		}
		e.chain.AddOrphan(chain.Orphan{Capsule: c, Reason: viol.String()})
		out.Status = StatusRejectedImplausible
		out.Reason = viol.String()
		e.log.Warn("capsule implausible",
			"capsule", shortID(c.ID), "producer", shortID(c.ProducerID),
			"violation", viol.String(), "trust", sc.Value)
		return out, nil
	}

	if att.Incumbent == "" {
		if err := e.accept(ctx, c, att.Position); err != nil {
			return out, err
		}
		out.Status = StatusAccepted
		return out, nil
	}
	return e.resolveFork(ctx, c, att)
}

// rejectOutcome maps a validation error onto an outcome.
func (e *Engine) rejectOutcome(_ context.Context, c capsule.Capsule, verr error) (Outcome, error) {
	out := Outcome{CapsuleID: c.ID, ProducerID: c.ProducerID, Reason: verr.Error()}
	switch chain.CodeOf(verr) {
	case chain.CodeMalformed:
		out.Status = StatusRejectedMalformed
	case chain.CodeDuplicate:
		out.Status = StatusDuplicate
	case chain.CodeUnknownParent:
		out.Status = StatusHeld
	case chain.CodeStaleTimestamp:
		out.Status = StatusRejectedStale
	default:
		return out, fmt.Errorf("engine: unclassified validation error: %w", verr)
	}
	if out.Status != StatusDuplicate && out.Status != StatusHeld {
		e.log.Warn("capsule rejected",
			"capsule", shortID(c.ID), "producer", shortID(c.ProducerID), "reason", out.Reason)
	}
	return out, nil
}

// resolveFork runs the deterministic contest between the candidate and
// the incumbent holding its target position.
//
// Contenders are compared under trust folded from the canonical prefix
// below the position, never the live table: the live table moves with
// arrival order (the incumbent's own quality is already folded in by
// the time a challenger shows up), and two nodes receiving the same
// capsule set in different orders must land on the same winner.
func (e *Engine) resolveFork(ctx context.Context, c capsule.Capsule, att chain.Attachment) (Outcome, error) {
	out := Outcome{CapsuleID: c.ID, ProducerID: c.ProducerID}

	incumbent, ok := e.chain.Get(att.Incumbent)
	if !ok {
		return out, fmt.Errorf("engine: incumbent %s vanished from chain", att.Incumbent)
	}
	resolver := chain.NewResolver(e.resolutionScorer(att.Position))
	res, err := resolver.Resolve([]capsule.Capsule{incumbent, c})
	if err != nil {
		return out, fmt.Errorf("engine: fork at position %d: %w", att.Position, err)
	}

	if res.Winner.ID == incumbent.ID {
		o := chain.Orphan{Capsule: c, WinnerID: incumbent.ID, Reason: reasonLostFork}
		if err := e.store.WriteOrphan(ctx, o); err != nil {
			return out, err
		}
		e.chain.AddOrphan(o)
		out.Status = StatusOrphaned
		out.WinnerID = incumbent.ID
		out.Reason = reasonLostFork
		e.log.Info("fork resolved, incumbent holds",
			"position", att.Position, "winner", shortID(incumbent.ID), "orphan", shortID(c.ID))
		return out, nil
	}

	// The challenger wins: evict the incumbent branch, then accept.
	evicted := e.chain.TruncateFrom(att.Position, c.ID, reasonLostFork)
	if err := e.store.TruncateCanonical(ctx, att.Position, c.ID, reasonLostFork); err != nil {
		return out, err
	}
	if err := e.accept(ctx, c, att.Position); err != nil {
		return out, err
	}

	// The decayed average cannot be rolled back incrementally; a reorg
	// recomputes derived state from the full canonical path.
	e.state = e.recon.Reconstruct(e.chain.Path())

	out.Status = StatusAccepted
	out.Reorged = true
	e.log.Info("fork resolved, branch evicted",
		"position", att.Position, "winner", shortID(c.ID), "evicted", len(evicted))
	return out, nil
}

// resolutionScorer folds producer trust over the canonical prefix
// below position, a pure function of the chain contents. Administrative
// flags (revocation, quarantine override) carry over unchanged.
func (e *Engine) resolutionScorer(position int) *trust.Scorer {
	s := trust.NewScorer(trust.Config{
		Alpha:      e.cfg.Trust.Alpha,
		NormalizeK: e.cfg.Trust.NormalizeK,
		Floor:      e.cfg.Trust.Floor,
	})
	for _, c := range e.chain.Path()[:position] {
		s.Update(c.ProducerID, c.Quality)
	}
	revoked, overridden := e.trust.Flags()
	for _, p := range revoked {
		s.Revoke(p)
	}
	for _, p := range overridden {
		s.Override(p, true)
	}
	return s
}

// accept durably appends the capsule at the given canonical position
// and folds it into trust, safety history, derived state, and
// experience.
func (e *Engine) accept(ctx context.Context, c capsule.Capsule, position int) error {
	if err := e.store.PutCapsule(ctx, c); err != nil {
		return err
	}
	if err := e.store.AppendCanonical(ctx, position, c.ID); err != nil {
		return err
	}
	if err := e.chain.Append(c); err != nil {
		return fmt.Errorf("engine: accept: %w", err)
	}

	sc := e.trust.Update(c.ProducerID, c.Quality)
	e.safety.Observe(c)
	e.recon.Apply(&e.state, c)
	e.foldExperience(c)
	e.clock.Advance(c.SequenceTime)

	e.log.Info("capsule accepted",
		"capsule", shortID(c.ID), "producer", shortID(c.ProducerID),
		"position", position, "trust", sc.Value)

	e.sinceCheckpoint++
	if e.sinceCheckpoint >= e.cfg.State.CheckpointEvery {
		if err := e.checkpoint(ctx); err != nil {
			return err
		}
	}
	return nil
}
