// Package chain maintains the canonical capsule chain: the single
// agreed-upon path of accepted capsules from genesis, plus the orphan
// ledger of capsules that lost a fork.
//
// A tree of all known capsules exists conceptually; only one path is
// canonical at any time. The chain grows one capsule per successful
// validation+resolution cycle and is never mutated retroactively except
// by explicit fork resolution, which moves the losing branch to the
// orphan ledger without deleting anything.
package chain

import (
	"fmt"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
)

// Orphan records a capsule excluded from the canonical path, kept for
// audit and potential future reattachment.
type Orphan struct {
	Capsule  capsule.Capsule
	WinnerID string // capsule that beat it at the fork, "" if branch eviction
	Reason   string
}

// Chain is the in-memory index over the canonical path.
//
// Not self-synchronized: owned by the engine's single-writer loop.
// Durability is the store's concern; Chain is rebuilt on restart from
// the persisted ledger (or checkpoint + suffix).
type Chain struct {
	path    []capsule.Capsule
	pos     map[string]int // id -> index in path
	orphans map[string]Orphan
}

// New creates an empty chain.
func New() *Chain {
	return &Chain{
		pos:     make(map[string]int),
		orphans: make(map[string]Orphan),
	}
}

// Len returns the canonical chain length.
func (c *Chain) Len() int { return len(c.path) }

// Tip returns the current tip capsule and false if the chain is empty.
func (c *Chain) Tip() (capsule.Capsule, bool) {
	if len(c.path) == 0 {
		return capsule.Capsule{}, false
	}
	return c.path[len(c.path)-1], true
}

// TipID returns the tip id, or "" for an empty chain.
func (c *Chain) TipID() string {
	if tip, ok := c.Tip(); ok {
		return tip.ID
	}
	return ""
}

// Get returns the accepted capsule with the given id.
func (c *Chain) Get(id string) (capsule.Capsule, bool) {
	i, ok := c.pos[id]
	if !ok {
		return capsule.Capsule{}, false
	}
	return c.path[i], true
}

// Position returns the canonical index of an accepted capsule.
func (c *Chain) Position(id string) (int, bool) {
	i, ok := c.pos[id]
	return i, ok
}

// Contains reports whether the id is on the canonical path.
func (c *Chain) Contains(id string) bool {
	_, ok := c.pos[id]
	return ok
}

// Known reports whether the id is accepted or orphaned - i.e. the node
// has fully processed it and re-delivery is a no-op.
func (c *Chain) Known(id string) bool {
	if c.Contains(id) {
		return true
	}
	_, ok := c.orphans[id]
	return ok
}

// ChildOf returns the canonical successor of the given accepted
// capsule, or false if it is the tip. parentID=="" asks for the genesis
// slot's occupant.
func (c *Chain) ChildOf(parentID string) (capsule.Capsule, bool) {
	if parentID == "" {
		if len(c.path) == 0 {
			return capsule.Capsule{}, false
		}
		return c.path[0], true
	}
	i, ok := c.pos[parentID]
	if !ok || i+1 >= len(c.path) {
		return capsule.Capsule{}, false
	}
	return c.path[i+1], true
}

// Append extends the canonical path at the tip. The caller (the
// validator + resolver cycle) has already established the linkage.
func (c *Chain) Append(cap capsule.Capsule) error {
	if c.Contains(cap.ID) {
		return fmt.Errorf("chain: append: %s already accepted", cap.ID)
	}
	if tip := c.TipID(); cap.PrevID != tip {
		return fmt.Errorf("chain: append: prev_id %q does not match tip %q", cap.PrevID, tip)
	}
	c.pos[cap.ID] = len(c.path)
	c.path = append(c.path, cap)
	delete(c.orphans, cap.ID) // reattachment after re-resolution
	return nil
}

// TruncateFrom evicts the canonical suffix starting at position i,
// recording every evicted capsule as an orphan. Returns the evicted
// capsules in canonical order. Used by fork resolution when an arriving
// contender beats the incumbent branch.
func (c *Chain) TruncateFrom(i int, winnerID, reason string) []capsule.Capsule {
	if i < 0 || i >= len(c.path) {
		return nil
	}
	evicted := make([]capsule.Capsule, len(c.path)-i)
	copy(evicted, c.path[i:])
	for _, e := range evicted {
		delete(c.pos, e.ID)
		c.orphans[e.ID] = Orphan{Capsule: e, WinnerID: winnerID, Reason: reason}
	}
	c.path = c.path[:i]
	return evicted
}

// AddOrphan records a fork loser without touching the canonical path.
func (c *Chain) AddOrphan(o Orphan) {
	if c.Contains(o.Capsule.ID) {
		return
	}
	c.orphans[o.Capsule.ID] = o
}

// Orphans returns the orphan records keyed by capsule id.
func (c *Chain) Orphans() map[string]Orphan {
	out := make(map[string]Orphan, len(c.orphans))
	for k, v := range c.orphans {
		out[k] = v
	}
	return out
}

// Orphan returns a single orphan record by id.
func (c *Chain) Orphan(id string) (Orphan, bool) {
	o, ok := c.orphans[id]
	return o, ok
}

// Path returns the canonical capsules in order, genesis first.
// The returned slice is a copy.
func (c *Chain) Path() []capsule.Capsule {
	out := make([]capsule.Capsule, len(c.path))
	copy(out, c.path)
	return out
}
