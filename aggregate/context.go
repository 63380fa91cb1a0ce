/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package aggregate is the erasure-coded object aggregation engine: for
// each local EC object whose leader parity shard is this target, it scans
// a bounded epoch window of a versioned object store, rebuilds per-stripe
// state from replica and parity extents, and transforms each stripe by
// encoding, incrementally updating, recalculating, or hole-repairing
// parity, finally deleting the replicas it consumed.
package aggregate

import (
	"context"

	"github.com/launix-de/ecagg/bufpool"
	"github.com/launix-de/ecagg/ecmath"
	"github.com/launix-de/ecagg/identity"
	"github.com/launix-de/ecagg/vos"
)

// StripeKind tracks the per-stripe state machine spec.md §4.8 describes:
// Empty -> Gathering -> Processing -> Done -> Empty.
type StripeKind int

const (
	Empty StripeKind = iota
	Gathering
	Processing
	Done
)

// StripeState is the in-memory model of the stripe currently being
// gathered, rebuilt from scratch each time a new stripe begins.
type StripeState struct {
	State StripeKind

	Stripenum uint64
	HiEpoch   uint64
	Fill      uint64 // bytes-equivalent records seen, capped at k*len
	Extents   []vos.Extent
	HasHoles  bool

	Offset    uint64 // first extent's in-stripe start record
	PrefixExt uint64 // carried-over records from previous stripe's tail
	SuffixExt uint64 // records carried into the next stripe

	// SuffixEpoch and SuffixIsHole describe the extent that produced
	// SuffixExt, so the driver can rebuild the carry-over extent for the
	// next stripe once this one is flushed.
	SuffixEpoch  uint64
	SuffixIsHole bool
}

// reset clears s back to Empty for the next stripe. Any unflushed tail
// this stripe held has already been lifted out into the object context's
// pending-tail field by the caller before reset runs (see flushStripe):
// by the time reset executes there is nothing left here worth preserving.
func (s *StripeState) reset() {
	*s = StripeState{State: Empty}
}

// seedPrefix folds the tail extent carried over from the previous stripe
// in as this stripe's first extent, the carry-over mechanism invariant 1
// of spec.md §3 and the boundary property of spec.md §8 require: stripe
// s+1 starts already aware of the prefix_ext bytes the crossing extent
// contributed. Must be called before any other addExtent call for this
// stripe.
func (s *StripeState) seedPrefix(carry vos.Extent, stripeStart, stripeEnd uint64) {
	s.PrefixExt = carry.Count
	s.addExtent(carry, stripeStart, stripeEnd)
}

// recordLen returns the record count an extent contributes to this
// stripe's fill, clipped to the stripe boundary for a tail-crossing extent.
func recordLen(e vos.Extent, stripeEnd uint64) uint64 {
	end := e.End()
	if end > stripeEnd {
		end = stripeEnd
	}
	if end <= e.Index {
		return 0
	}
	return end - e.Index
}

// addExtent folds one newly-seen extent into the stripe state per
// spec.md §4.1's "Extent (data)" callback.
func (s *StripeState) addExtent(e vos.Extent, stripeStart, stripeEnd uint64) {
	if len(s.Extents) == 0 {
		s.Offset = e.Index - stripeStart
	}
	s.Extents = append(s.Extents, e)
	if e.Epoch > s.HiEpoch {
		s.HiEpoch = e.Epoch
	}
	s.Fill += recordLen(e, stripeEnd)
	if e.End() > stripeEnd {
		s.SuffixExt = e.End() - stripeEnd
		s.SuffixEpoch = e.Epoch
		s.SuffixIsHole = e.IsHole
	}
	if e.IsHole {
		s.HasHoles = true
	}
}

// ObjectContext is the "object aggregation context" of spec.md §3: created
// when the iterator admits an EC object this target leads, destroyed when
// it leaves. It owns the codec cache and the working buffer set for the
// object's lifetime; workers borrow them for one offload at a time.
type ObjectContext struct {
	OID   vos.ObjectID
	Class vos.Class

	Leader identity.LeaderInfo

	Codecs *ecmath.Cache
	Bufs   *bufpool.Pool

	Remote vos.RemoteHandle // lazily opened, reused across stripes; may be nil

	Dkey   string
	Akey   string
	Stripe StripeState

	// PendingTail is the not-yet-consumed remainder of a stripe-crossing
	// extent, captured when the stripe it began in was flushed; the next
	// stripe gathered for this (dkey, akey) must seed itself with it via
	// StripeState.seedPrefix before processing any further extent.
	PendingTail    vos.Extent
	HasPendingTail bool
}

// NewObjectContext builds a fresh context on object-enter.
func NewObjectContext(oid vos.ObjectID, class vos.Class, leader identity.LeaderInfo) *ObjectContext {
	return &ObjectContext{
		OID:    oid,
		Class:  class,
		Leader: leader,
		Codecs: ecmath.NewCache(),
		Bufs:   bufpool.New(),
	}
}

// Close releases the remote handle, if one was opened.
func (oc *ObjectContext) Close(ctx context.Context) error {
	if oc.Remote != nil {
		err := oc.Remote.Close()
		oc.Remote = nil
		return err
	}
	return nil
}

// captureTail lifts the current stripe's unflushed tail extent, if any,
// into PendingTail before the stripe is reset, so the next stripe gathered
// for this (dkey, akey) can seed itself with it via StripeState.seedPrefix.
func (oc *ObjectContext) captureTail(stripeBytes uint64) {
	if oc.Stripe.SuffixExt == 0 {
		oc.HasPendingTail = false
		return
	}
	stripeStart := vos.StripeStart(oc.Stripe.Stripenum, oc.Class.K, oc.Class.Len)
	stripeEnd := stripeStart + stripeBytes
	oc.PendingTail = vos.Extent{
		Index:  stripeEnd,
		Count:  oc.Stripe.SuffixExt,
		Epoch:  oc.Stripe.SuffixEpoch,
		IsHole: oc.Stripe.SuffixIsHole,
	}
	oc.HasPendingTail = true
}

// resetKeys clears dkey/akey-scoped running state on a key change, per
// spec.md §4.1's "Dkey / Akey enter" callback.
func (oc *ObjectContext) resetKeys(dkey, akey string) {
	oc.Dkey = dkey
	oc.Akey = akey
	oc.Stripe.reset()
	oc.PendingTail = vos.Extent{}
	oc.HasPendingTail = false
}
