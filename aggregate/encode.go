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

	"github.com/launix-de/ecagg/vos"
)

// runEncode is the Encode Path of spec.md §4.4: fetch a full stripe's
// replica data, compute parity, ship peer cells, commit locally.
func runEncode(ctx context.Context, store vos.Store, peer Peer, oc *ObjectContext) *Error {
	s := &oc.Stripe
	class := oc.Class
	stripeStart := vos.StripeStart(s.Stripenum, class.K, class.Len)
	cellBytes := class.CellBytes()
	stripeBytes := class.StripeBytes()

	raw, err := store.Fetch(ctx, oc.OID, oc.Dkey, oc.Akey, s.HiEpoch, stripeStart, uint64(stripeBytes))
	if err != nil {
		return newErr(Transient, "encode.fetch", err)
	}

	data := make([][]byte, class.K)
	for i := 0; i < class.K; i++ {
		data[i] = raw[i*cellBytes : (i+1)*cellBytes]
	}

	codec, cerr := oc.Codecs.Get(class.K, class.P)
	if cerr != nil {
		return newErr(Fatal, "encode.codec", cerr)
	}

	var parity [][]byte
	done := offload(func() error {
		var encErr error
		parity, encErr = codec.Encode(cellBytes, data)
		return encErr
	})
	if err := await(ctx, done); err != nil {
		return newErr(Fatal, "encode.compute", err)
	}

	if class.P > 1 {
		status, err := peer.Aggregate(ctx, AggregateRequest{
			OID:        peerOID(oc),
			Dkey:       oc.Dkey,
			Akey:       oc.Akey,
			RecSize:    class.RecSize,
			Epoch:      s.HiEpoch,
			Stripenum:  s.Stripenum,
			PriorLen:   0,
			AfterLen:   uint64(class.Len),
			Bulk:       parity[1:],
		})
		if err != nil || !status.OK {
			return newErr(Transient, "encode.peer", err)
		}
	}

	parityIdx := vos.ParityIndex(s.Stripenum, uint64(class.Len))
	if err := store.Update(ctx, oc.OID, oc.Dkey, oc.Akey, s.HiEpoch, parityIdx, parity[0]); err != nil {
		return newErr(Transient, "encode.commit-parity", err)
	}

	delStart := stripeStart - s.PrefixExt
	delEnd := stripeStart + uint64(stripeBytes) - s.SuffixExt
	if err := store.RemoveRange(ctx, oc.OID, oc.Dkey, oc.Akey, 0, s.HiEpoch, delStart, delEnd-delStart); err != nil {
		return newErr(Transient, "encode.commit-delete", err)
	}
	return nil
}

// peerOID derives the peer shard's object id — same low/high pair, the
// shard addressing lives at the transport layer, not in the object id
// itself, matching the wire contract's "oid (peer shard)" field.
func peerOID(oc *ObjectContext) vos.ObjectID {
	return oc.OID
}
