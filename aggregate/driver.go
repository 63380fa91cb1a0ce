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

package aggregate

import (
	"context"
	"errors"

	"github.com/docker/go-units"
	"github.com/launix-de/ecagg/identity"
	"github.com/launix-de/ecagg/vos"
)

// Engine bundles every collaborator the Iteration Driver needs: the local
// store, the identity/leadership service, the object-remote opener, and
// the peer coordinator transport. One Engine is built once per target
// process and handed a fresh epoch window on each Aggregate call.
type Engine struct {
	Store      vos.Store
	ClassOf    vos.ClassOf
	Identity   identity.Service
	RemoteOpen vos.RemoteOpener
	Peer       Peer

	Pool PoolRef
	Cont ContRef
}

// PoolRef and ContRef are the identity handles obtained via the bootstrap
// sequence in spec.md §6 (pool_iv_srv_hdl_fetch / pool_iv_prop_fetch)
// before Aggregate may run.
type PoolRef struct {
	UUID, HdlUUID identity.PoolUUID
}
type ContRef struct {
	UUID, HdlUUID identity.ContainerUUID
}

// Status is the outcome of one Aggregate invocation.
type Status struct {
	ObjectsVisited  int
	ObjectsSkipped  int
	StripesEncoded  int
	StripesUpdated  int
	StripesRepaired int
	StripesSkipped  int
}

const ecMaxParity = 2

var errParityInData = errors.New("parity-flagged extent surfaced in data iterator")

// Aggregate is the public operation of spec.md §6: scan every local EC
// object this target leads within [epochLo, epochHi] and drive each
// eligible stripe through the appropriate transform. Object-level errors
// abort that object and move on to the next; the first one is returned
// only after every object has been attempted, per spec.md §7.
//
// Each processed stripe consumes one credit from
// Settings.CreditPerInvocation. Once the credit is spent, Aggregate stops
// and returns, leaving the remaining stripes and objects unvisited; there
// is no resume point, so the next call scans again from the first object.
func (eng *Engine) Aggregate(ctx context.Context, epochLo, epochHi uint64) (Status, error) {
	var status Status
	var firstFatal error
	credit := Settings.CreditPerInvocation
	if credit <= 0 {
		credit = 1024
	}

	objects, err := eng.Store.Objects(ctx)
	if err != nil {
		return status, err
	}

	for {
		oid, ok, err := objects.Next(ctx)
		if err != nil {
			return status, err
		}
		if !ok {
			break
		}

		class, isEC, err := eng.ClassOf.ObjectClass(ctx, oid)
		if err != nil || !isEC || class.P > ecMaxParity {
			status.ObjectsSkipped++
			continue
		}

		leader, err := eng.Identity.CheckLeader(ctx, eng.Pool.UUID, eng.Cont.UUID, oid.Hi, oid.Lo)
		if err != nil || !leader.IsLeader {
			// NotLeader: skip silently, not logged as an error.
			status.ObjectsSkipped++
			continue
		}

		status.ObjectsVisited++
		oc := NewObjectContext(oid, class, leader)

		if eng.RemoteOpen != nil {
			if handle, err := eng.RemoteOpen.Open(ctx, oid); err == nil {
				oc.Remote = handle
			}
		}

		var objErr error
		credit, objErr = eng.processObject(ctx, oc, epochLo, epochHi, credit, &status)
		oc.Close(ctx)

		if objErr != nil && firstFatal == nil {
			firstFatal = objErr
		}
		if cerr := ctx.Err(); cerr != nil {
			return status, cerr
		}
		if credit <= 0 {
			break
		}
	}

	return status, firstFatal
}

// processObject drives the Dkey/Akey/Extent nested walk for one object and
// folds stripe outcomes into status. It returns the remaining credit and,
// if a Fatal/ConsistencyViolated error aborted the object, that error.
func (eng *Engine) processObject(ctx context.Context, oc *ObjectContext, epochLo, epochHi uint64, credit int, status *Status) (int, error) {
	dkeys, err := eng.Store.Dkeys(ctx, oc.OID)
	if err != nil {
		return credit, nil
	}

	for {
		dkey, ok, err := dkeys.Next(ctx)
		if err != nil || !ok {
			break
		}

		akeys, err := eng.Store.Akeys(ctx, oc.OID, dkey)
		if err != nil {
			continue
		}

		for {
			akey, ok, err := akeys.Next(ctx)
			if err != nil || !ok {
				break
			}
			oc.resetKeys(dkey, akey)

			var aborted error
			credit, aborted = eng.processAkey(ctx, oc, epochLo, epochHi, credit, status)
			if aborted != nil {
				return credit, aborted
			}
			if credit <= 0 {
				return credit, nil
			}
		}
	}
	return credit, nil
}

// processAkey walks the data extents of one (dkey, akey), bucketing each
// into the current stripe and flushing on stripe boundaries, matching
// spec.md §4.1's "Extent (data)" and "Iterator exit" callbacks exactly.
func (eng *Engine) processAkey(ctx context.Context, oc *ObjectContext, epochLo, epochHi uint64, credit int, status *Status) (int, error) {
	extents, err := eng.Store.DataExtents(ctx, oc.OID, oc.Dkey, oc.Akey, epochLo, epochHi)
	if err != nil {
		return credit, nil
	}

	class := oc.Class
	stripeBytes := uint64(class.StripeBytes())

	for {
		if err := ctx.Err(); err != nil {
			return credit, err
		}

		e, ok, err := extents.Next(ctx)
		if err != nil || !ok {
			break
		}
		if vos.IsParityIndex(e.Index) {
			return credit, newErr(ConsistencyViolated, "driver.extent", errParityInData)
		}

		stripenum := vos.StripeNum(e.Index, class.K, class.Len)
		stripeStart := vos.StripeStart(stripenum, class.K, class.Len)

		if oc.Stripe.State != Empty && stripenum != oc.Stripe.Stripenum {
			var aborted error
			credit, aborted = eng.flushStripe(ctx, oc, epochHi, credit, status)
			if aborted != nil {
				return credit, aborted
			}
			if credit <= 0 {
				return credit, nil
			}
		}
		if oc.Stripe.State == Empty {
			oc.Stripe.Stripenum = stripenum
			oc.Stripe.State = Gathering
			if oc.HasPendingTail && oc.PendingTail.Index == stripeStart {
				oc.Stripe.seedPrefix(oc.PendingTail, stripeStart, stripeStart+stripeBytes)
			}
			oc.HasPendingTail = false
		}
		oc.Stripe.addExtent(e, stripeStart, stripeStart+stripeBytes)
	}

	if oc.Stripe.State != Empty {
		var aborted error
		credit, aborted = eng.flushStripe(ctx, oc, epochHi, credit, status)
		if aborted != nil {
			return credit, aborted
		}
	}
	return credit, nil
}

// flushStripe runs the Mode Selector and the chosen path for the current
// stripe, consuming one credit, and resets stripe state to Empty. A
// Fatal or ConsistencyViolated path error is returned so the caller aborts
// the rest of this object; a Transient error is logged and swallowed so
// iteration continues with the next stripe (spec.md §4.8, §7).
//
// Parity is probed up to the scan window's epochHi, not the stripe's own
// replica high-water mark: a parity extent legitimately newer than every
// replica the stripe gathered (spec.md §8's "parity newer than every
// replica" no-op scenario) must still be visible to the Mode Selector, or
// it reads as absent and the stripe gets wrongly re-encoded at a stale
// epoch.
func (eng *Engine) flushStripe(ctx context.Context, oc *ObjectContext, epochHi uint64, credit int, status *Status) (int, error) {
	oc.Stripe.State = Processing
	class := oc.Class
	stripeBytes := uint64(class.StripeBytes())

	probe, err := eng.Store.ProbeParity(ctx, oc.OID, oc.Dkey, oc.Akey, oc.Stripe.Stripenum, uint64(class.Len), epochHi)
	if err != nil {
		status.StripesSkipped++
		oc.captureTail(stripeBytes)
		oc.Stripe.reset()
		return credit - 1, nil
	}

	mode := SelectMode(&oc.Stripe, probe, stripeBytes)
	trace("stripe %d mode=%s stripeBytes=%s", oc.Stripe.Stripenum, mode, units.BytesSize(float64(stripeBytes)))

	var aerr *Error
	switch mode {
	case ModeEncode:
		aerr = runEncode(ctx, eng.Store, eng.Peer, oc)
		if aerr == nil {
			status.StripesEncoded++
		}
	case ModePartialUpdate:
		aerr = runPartialUpdate(ctx, eng.Store, eng.Peer, oc, probe)
		if aerr == nil {
			status.StripesUpdated++
		}
	case ModeHoleRepair:
		aerr = runHoleRepair(ctx, eng.Store, eng.Peer, oc)
		if aerr == nil {
			status.StripesRepaired++
		}
	default:
		status.StripesSkipped++
	}

	oc.captureTail(stripeBytes)

	oc.Stripe.State = Done
	oc.Stripe.reset()

	if aerr == nil {
		return credit - 1, nil
	}
	trace("stripe mode=%s failed: %v", mode, aerr)
	if aerr.abortsObject() {
		return credit - 1, aerr
	}
	status.StripesSkipped++
	return credit - 1, nil
}
