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

	"github.com/launix-de/NonLockingReadMap"
	"github.com/launix-de/ecagg/ecmath"
	"github.com/launix-de/ecagg/vos"
)

var errNoRemote = errors.New("aggregate: no remote object handle open for this context")

// cellBitmap is the per-cell coverage bitmap the Partial-Update path
// needs: for each of the k cells, whether it is fully covered by
// post-parity replicas (full) and whether it overlaps any replica at all
// (overlap). Built on NonBlockingBitMap rather than a []bool since the
// same map type already backs presence tracking elsewhere in the launix
// stack and a stripe's k is small enough that the atomic growth path
// never iterates past its first word.
type cellBitmap struct {
	full    NonLockingReadMap.NonBlockingBitMap
	overlap NonLockingReadMap.NonBlockingBitMap
}

func (c *cellBitmap) isFull(cell int) bool    { return c.full.Get(uint32(cell)) }
func (c *cellBitmap) isOverlap(cell int) bool { return c.overlap.Get(uint32(cell)) }

// classifyCells builds the per-cell bitmap the Partial-Update path needs:
// for each of the k cells, whether it is fully covered by post-parity
// replicas and whether it overlaps any replica at all.
func classifyCells(s *StripeState, stripeStart uint64, class vos.Class, parityEpoch uint64) *cellBitmap {
	cells := &cellBitmap{}
	covered := make([]uint64, class.K) // records newer than parity seen per cell
	cellLen := uint64(class.Len)
	for _, e := range s.Extents {
		if e.Epoch <= parityEpoch {
			continue
		}
		lo, hi := e.Index, e.End()
		for c := 0; c < class.K; c++ {
			cellStart := stripeStart + uint64(c)*cellLen
			cellEnd := cellStart + cellLen
			if lo < cellEnd && cellStart < hi {
				cells.overlap.Set(uint32(c), true)
				ilo, ihi := lo, hi
				if ilo < cellStart {
					ilo = cellStart
				}
				if ihi > cellEnd {
					ihi = cellEnd
				}
				covered[c] += ihi - ilo
			}
		}
	}
	for c := 0; c < class.K; c++ {
		if covered[c] == cellLen {
			cells.full.Set(uint32(c), true)
		}
	}
	return cells
}

// runPartialUpdate is the Partial-Update Path of spec.md §4.5: it first
// decides, by counting full cells against k/2 with a strict ">", whether
// to recalc the whole stripe or fold an incremental diff into the existing
// parity, then commits peer and local state.
func runPartialUpdate(ctx context.Context, store vos.Store, peer Peer, oc *ObjectContext, probe vos.ParityProbe) *Error {
	s := &oc.Stripe
	class := oc.Class
	stripeStart := vos.StripeStart(s.Stripenum, class.K, class.Len)
	cellBytes := class.CellBytes()
	cellLen := uint64(class.Len)

	cells := classifyCells(s, stripeStart, class, probe.Epoch)
	fullCount := int(cells.full.Count())
	// Open question 2: the boundary is an exclusive ">", preserved exactly.
	recalc := float64(fullCount) > float64(class.K)*Settings.RecalcFraction

	codec, cerr := oc.Codecs.Get(class.K, class.P)
	if cerr != nil {
		return newErr(Fatal, "partial.codec", cerr)
	}

	if recalc {
		return runRecalc(ctx, store, oc, cells, codec, peer, stripeStart, cellBytes, cellLen)
	}

	var peerParity [][]byte
	if class.P > 1 {
		var err error
		peerParity, err = fetchPeerParity(ctx, store, oc, probe.Epoch)
		if err != nil {
			return newErr(Transient, "partial.fetch-peer-parity", err)
		}
	}
	return runIncremental(ctx, store, oc, probe, cells, codec, peerParity, peer, stripeStart, cellBytes, cellLen)
}

// fetchPeerParity retrieves the non-leader parity cell(s) from the peer
// shard at the pre-update parity epoch, per spec.md §4.5's "if p>1, fetch
// the non-leader parity cell(s) from the peer shard".
func fetchPeerParity(ctx context.Context, store vos.Store, oc *ObjectContext, parityEpoch uint64) ([][]byte, error) {
	parityIdx := vos.ParityIndex(oc.Stripe.Stripenum, uint64(oc.Class.Len))
	cellBytes := oc.Class.CellBytes()
	raw, err := store.Fetch(ctx, oc.OID, oc.Dkey, oc.Akey, parityEpoch, parityIdx, uint64(cellBytes)*uint64(oc.Class.P-1))
	if err != nil {
		return nil, err
	}
	out := make([][]byte, oc.Class.P-1)
	for i := range out {
		out[i] = raw[i*cellBytes : (i+1)*cellBytes]
	}
	return out, nil
}

// runRecalc re-encodes the whole stripe from scratch: fetch the cells not
// already fully covered by new replicas from the remote object path,
// fetch the rest locally, then encode. It re-derives every parity cell
// itself, so unlike runIncremental it never needs the peer's prior parity.
func runRecalc(ctx context.Context, store vos.Store, oc *ObjectContext, cells *cellBitmap, codec ecmath.Codec, peer Peer, stripeStart uint64, cellBytes int, cellLen uint64) *Error {
	s := &oc.Stripe
	class := oc.Class

	data := make([][]byte, class.K)
	for c := 0; c < class.K; c++ {
		cellStart := stripeStart + uint64(c)*cellLen
		var buf []byte
		var err error
		if cells.isFull(c) {
			buf, err = store.Fetch(ctx, oc.OID, oc.Dkey, oc.Akey, s.HiEpoch, cellStart, cellLen)
		} else {
			buf, err = fetchRemoteCell(ctx, oc, cellStart, cellLen)
		}
		if err != nil {
			return newErr(Transient, "recalc.fetch", err)
		}
		data[c] = buf
	}

	var parity [][]byte
	done := offload(func() error {
		var encErr error
		parity, encErr = codec.Encode(cellBytes, data)
		return encErr
	})
	if err := await(ctx, done); err != nil {
		return newErr(Fatal, "recalc.compute", err)
	}

	return commitStripe(ctx, store, peer, oc, parity)
}

// runIncremental folds an XOR diff into the existing parity for every cell
// that received a new replica, per spec.md §4.5's primary branch.
func runIncremental(ctx context.Context, store vos.Store, oc *ObjectContext, probe vos.ParityProbe, cells *cellBitmap, codec ecmath.Codec, peerParity [][]byte, peer Peer, stripeStart uint64, cellBytes int, cellLen uint64) *Error {
	s := &oc.Stripe
	class := oc.Class

	leaderParity, err := store.Fetch(ctx, oc.OID, oc.Dkey, oc.Akey, probe.Epoch, vos.ParityIndex(s.Stripenum, cellLen), uint64(cellBytes))
	if err != nil {
		return newErr(Transient, "incremental.fetch-leader-parity", err)
	}
	parity := make([][]byte, class.P)
	parity[0] = leaderParity
	for i, p := range peerParity {
		parity[1+i] = p
	}

	for c := 0; c < class.K; c++ {
		if !cells.isOverlap(c) {
			continue
		}
		cellStart := stripeStart + uint64(c)*cellLen
		oldData, err := store.Fetch(ctx, oc.OID, oc.Dkey, oc.Akey, probe.Epoch, cellStart, cellLen)
		if err != nil {
			return newErr(Transient, "incremental.fetch-old", err)
		}
		newData, err := store.Fetch(ctx, oc.OID, oc.Dkey, oc.Akey, s.HiEpoch, cellStart, cellLen)
		if err != nil {
			return newErr(Transient, "incremental.fetch-new", err)
		}
		diff, err := ecmath.XOR(oldData, newData)
		if err != nil {
			return newErr(Fatal, "incremental.diff", err)
		}

		cellIndex := c
		done := offload(func() error {
			return codec.EncodeUpdate(cellBytes, cellIndex, diff, parity)
		})
		if err := await(ctx, done); err != nil {
			return newErr(Fatal, "incremental.update", err)
		}
	}

	return commitStripe(ctx, store, peer, oc, parity)
}

// fetchRemoteCell reads a cell not available locally via the object's
// remote path, opening the handle lazily and reusing it across stripes
// (spec.md §5).
func fetchRemoteCell(ctx context.Context, oc *ObjectContext, cellStart, cellLen uint64) ([]byte, error) {
	if oc.Remote == nil {
		return nil, errNoRemote
	}
	return oc.Remote.Fetch(ctx, oc.Stripe.HiEpoch, oc.Dkey, oc.Akey, cellStart, cellLen, 0)
}

// commitStripe performs the shared tail of both partial-update branches:
// peer commit (if p>1) strictly before local commit, per spec.md §4.7 and
// invariant 5.
func commitStripe(ctx context.Context, store vos.Store, peer Peer, oc *ObjectContext, parity [][]byte) *Error {
	s := &oc.Stripe
	class := oc.Class
	stripeStart := vos.StripeStart(s.Stripenum, class.K, class.Len)
	stripeBytes := class.StripeBytes()

	if class.P > 1 {
		status, err := peer.Aggregate(ctx, AggregateRequest{
			OID:       oc.OID,
			Dkey:      oc.Dkey,
			Akey:      oc.Akey,
			RecSize:   class.RecSize,
			Epoch:     s.HiEpoch,
			Stripenum: s.Stripenum,
			Bulk:      parity[1:],
		})
		if err != nil || !status.OK {
			return newErr(Transient, "commit.peer", err)
		}
	}

	parityIdx := vos.ParityIndex(s.Stripenum, uint64(class.Len))
	if err := store.Update(ctx, oc.OID, oc.Dkey, oc.Akey, s.HiEpoch, parityIdx, parity[0]); err != nil {
		return newErr(Transient, "commit.parity", err)
	}

	delStart := stripeStart - s.PrefixExt
	delEnd := stripeStart + uint64(stripeBytes) - s.SuffixExt
	if err := store.RemoveRange(ctx, oc.OID, oc.Dkey, oc.Akey, 0, s.HiEpoch, delStart, delEnd-delStart); err != nil {
		return newErr(Transient, "commit.delete", err)
	}
	return nil
}
