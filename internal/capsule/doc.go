// Package capsule defines the immutable event record exchanged between
// nodes and its content-addressed identity.
//
// A Capsule is the only thing a node ever transmits. Derived state is
// never sent; it is rebuilt locally by replaying accepted capsules.
// Immutability is structural: the ID is a hash of every other field, so
// any mutation detaches the record from its identity and is detected as
// tampering on receipt.
//
// Identity is computed over a canonical JSON form (sorted keys, NFC
// strings, no HTML escaping, shortest round-trip numbers) with a
// domain-separated SHA-256, so two correct implementations always agree
// on an ID given the same field values.
package capsule
