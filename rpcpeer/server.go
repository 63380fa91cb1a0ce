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

package rpcpeer

import (
	"context"

	"github.com/launix-de/ecagg/vos"
)

// StoreHandler is the peer-side receiver of spec.md §4.7: it backs the
// non-leader parity shard's half of the two-party mutation. On
// EC_AGGREGATE it writes the parity cells it was sent and deletes the
// replica range they supersede; on EC_REPLICATE it writes the re-
// replicated data ranges and deletes the parity extent being downgraded.
type StoreHandler struct {
	Store vos.Store
	Class vos.Class
}

func (h *StoreHandler) HandleAggregate(req AggregateReq) (bool, error) {
	ctx := context.Background()
	parityIdx := vos.ParityIndex(req.Stripenum, uint64(h.Class.Len))
	for i, cell := range req.Bulk {
		idx := parityIdx + uint64(i)*uint64(h.Class.Len)
		if err := h.Store.Update(ctx, req.OID, req.Dkey, req.Akey, req.Epoch, idx, cell); err != nil {
			return false, err
		}
	}
	stripeStart := vos.StripeStart(req.Stripenum, h.Class.K, h.Class.Len)
	stripeBytes := uint64(h.Class.StripeBytes())
	if err := h.Store.RemoveRange(ctx, req.OID, req.Dkey, req.Akey, 0, req.Epoch, stripeStart, stripeBytes); err != nil {
		return false, err
	}
	return true, nil
}

func (h *StoreHandler) HandleReplicate(req ReplicateReq) (bool, error) {
	ctx := context.Background()
	for i, r := range req.Recx {
		if err := h.Store.Update(ctx, req.OID, req.Dkey, req.Akey, req.Epoch, r.Index, req.Bulk[i]); err != nil {
			return false, err
		}
	}
	parityIdx := vos.ParityIndex(req.Stripenum, uint64(h.Class.Len))
	if err := h.Store.RemoveRange(ctx, req.OID, req.Dkey, req.Akey, 0, req.Epoch, parityIdx, uint64(h.Class.CellBytes())); err != nil {
		return false, err
	}
	return true, nil
}
