package engine

import (
	"context"
	"errors"
	"time"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/transport"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/trust"
)

// Sync drains the durable queue and integrates entries in received
// order, repeating while passes make progress so that capsules
// delivered before their parents integrate within a single call.
//
// A held entry (parent still unknown) is charged a failed attempt only
// when its pass accepted nothing - as long as the chain is growing the
// entry's parent may simply be later in the queue, and in-queue
// reordering must not burn the retry budget. At the ceiling the entry
// moves to dead-letter and its outcome becomes StatusDeadLettered.
//
// Every capsule gets exactly one outcome per call: entries that stay
// held across progress passes are reported once, from the pass that
// settles them.
func (e *Engine) Sync(ctx context.Context) ([]Outcome, error) {
	var all []Outcome
	for {
		entries, err := e.queue.Drain(ctx, e.cfg.Sync.DrainBatch)
		if err != nil {
			return all, err
		}
		if len(entries) == 0 {
			return all, nil
		}

		progress := false
		held := make([]Outcome, 0)
		for _, entry := range entries {
			out, err := e.integrateOne(ctx, entry.Capsule)
			if err != nil {
				return all, err
			}
			if out.Status == StatusHeld {
				held = append(held, out)
				continue
			}
			if aerr := e.queue.Ack(ctx, entry.Capsule.ID); aerr != nil {
				return all, aerr
			}
			if out.Status == StatusAccepted {
				progress = true
			}
			all = append(all, out)
		}

		if progress {
			// Held entries stay pending and re-enter the next pass; that
			// pass decides their outcome. Reporting them here would emit
			// two outcomes for the same capsule in one call.
			continue
		}
		for _, out := range held {
			dead, ferr := e.queue.Fail(ctx, out.CapsuleID, out.Reason)
			if ferr != nil {
				return all, ferr
			}
			if dead {
				out.Status = StatusDeadLettered
			}
			all = append(all, out)
		}
		return all, nil
	}
}

// Run consumes a delivery channel until it closes or ctx is done,
// enqueueing each received capsule and syncing after every delivery.
//
// The channel is assumed at-least-once with no ordering guarantee;
// dedup by id and orphan-holding absorb duplicates and reordering.
// Payloads that do not decode to a hash-consistent capsule are dropped
// before they reach storage, as are capsules from revoked producers.
func (e *Engine) Run(ctx context.Context, ch transport.Channel) error {
	for {
		payload, err := ch.Receive(ctx)
		if errors.Is(err, transport.ErrClosed) {
			_, serr := e.Sync(ctx)
			return serr
		}
		if err != nil {
			return err
		}

		c, derr := capsule.Decode(payload)
		if derr != nil {
			e.log.Warn("undecodable payload dropped", "error", derr)
			continue
		}
		if verr := capsule.Verify(c); verr != nil {
			e.log.Warn("tampered payload dropped", "capsule", shortID(c.ID), "error", verr)
			continue
		}
		if e.trust.StatusOf(c.ProducerID) == trust.StatusRevoked {
			e.log.Warn("capsule dropped", "capsule", shortID(c.ID),
				"producer", shortID(c.ProducerID), "reason", "producer revoked")
			continue
		}

		if _, err := e.queue.Enqueue(ctx, c, time.Now()); err != nil {
			return err
		}
		if _, err := e.Sync(ctx); err != nil {
			return err
		}
	}
}

// Send encodes a capsule onto a delivery channel.
func (e *Engine) Send(ctx context.Context, ch transport.Channel, c capsule.Capsule) error {
	payload, err := capsule.Encode(c)
	if err != nil {
		return err
	}
	return ch.Send(ctx, payload)
}
