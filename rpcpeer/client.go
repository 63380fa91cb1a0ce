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
	"fmt"

	"github.com/launix-de/ecagg/aggregate"
	"github.com/launix-de/ecagg/vos"
)

// AggregateReq and ReplicateReq are the handler-facing request types: the
// same shape aggregate.Peer sends, decoded back out of the wire on the
// accepting side.
type AggregateReq = aggregate.AggregateRequest
type ReplicateReq = aggregate.ReplicateRequest

// Client implements aggregate.Peer by driving EC_AGGREGATE/EC_REPLICATE
// calls over a Conn. One Client per peer parity shard, opened lazily and
// reused across stripes (spec.md §5).
type Client struct {
	conn *Conn
}

// NewClient wraps an already-dialed Conn as an aggregate.Peer.
func NewClient(conn *Conn) *Client {
	return &Client{conn: conn}
}

func (cl *Client) Aggregate(ctx context.Context, req aggregate.AggregateRequest) (aggregate.PeerStatus, error) {
	body := toAggregateWire(req)
	body.Bulk = compressCells(req.Bulk)
	resultCh := make(chan struct {
		s statusWire
		e error
	}, 1)
	go func() {
		s, err := cl.conn.call(opAggregate, body)
		resultCh <- struct {
			s statusWire
			e error
		}{s, err}
	}()
	select {
	case r := <-resultCh:
		if r.e != nil {
			return aggregate.PeerStatus{}, r.e
		}
		return aggregate.PeerStatus{OK: r.s.OK, Err: r.s.Err}, nil
	case <-ctx.Done():
		return aggregate.PeerStatus{}, ctx.Err()
	}
}

func (cl *Client) Replicate(ctx context.Context, req aggregate.ReplicateRequest) (aggregate.PeerStatus, error) {
	body := toReplicateWire(req)
	body.Bulk = compressCells(req.Bulk)
	resultCh := make(chan struct {
		s statusWire
		e error
	}, 1)
	go func() {
		s, err := cl.conn.call(opReplicate, body)
		resultCh <- struct {
			s statusWire
			e error
		}{s, err}
	}()
	select {
	case r := <-resultCh:
		if r.e != nil {
			return aggregate.PeerStatus{}, r.e
		}
		return aggregate.PeerStatus{OK: r.s.OK, Err: r.s.Err}, nil
	case <-ctx.Done():
		return aggregate.PeerStatus{}, ctx.Err()
	}
}

func toAggregateWire(req aggregate.AggregateRequest) aggregateWire {
	return aggregateWire{
		PoolUUID:    req.PoolUUID,
		PoolHdlUUID: req.PoolHdlUUID,
		ContUUID:    req.ContUUID,
		ContHdlUUID: req.ContHdlUUID,
		OIDHi:       req.OID.Hi,
		OIDLo:       req.OID.Lo,
		Dkey:        req.Dkey,
		Akey:        req.Akey,
		RecSize:     req.RecSize,
		Epoch:       req.Epoch,
		Stripenum:   req.Stripenum,
		MapVersion:  req.MapVersion,
		PriorLen:    req.PriorLen,
		AfterLen:    req.AfterLen,
	}
}

func fromAggregateWire(w aggregateWire) (aggregate.AggregateRequest, error) {
	bulk, err := decompressCells(w.Bulk)
	if err != nil {
		return aggregate.AggregateRequest{}, fmt.Errorf("rpcpeer: decode EC_AGGREGATE: %w", err)
	}
	return aggregate.AggregateRequest{
		PoolUUID:    w.PoolUUID,
		PoolHdlUUID: w.PoolHdlUUID,
		ContUUID:    w.ContUUID,
		ContHdlUUID: w.ContHdlUUID,
		OID:         vos.ObjectID{Hi: w.OIDHi, Lo: w.OIDLo},
		Dkey:        w.Dkey,
		Akey:        w.Akey,
		RecSize:     w.RecSize,
		Epoch:       w.Epoch,
		Stripenum:   w.Stripenum,
		MapVersion:  w.MapVersion,
		PriorLen:    w.PriorLen,
		AfterLen:    w.AfterLen,
		Bulk:        bulk,
	}, nil
}

func toReplicateWire(req aggregate.ReplicateRequest) replicateWire {
	recx := make([]wireExtent, len(req.Recx))
	for i, r := range req.Recx {
		recx[i] = wireExtent{Index: r.Index, Count: r.Count}
	}
	return replicateWire{
		PoolUUID:    req.PoolUUID,
		PoolHdlUUID: req.PoolHdlUUID,
		ContUUID:    req.ContUUID,
		ContHdlUUID: req.ContHdlUUID,
		OIDHi:       req.OID.Hi,
		OIDLo:       req.OID.Lo,
		Dkey:        req.Dkey,
		Akey:        req.Akey,
		Recx:        recx,
		Stripenum:   req.Stripenum,
		Epoch:       req.Epoch,
		MapVersion:  req.MapVersion,
	}
}

func fromReplicateWire(w replicateWire) (aggregate.ReplicateRequest, error) {
	bulk, err := decompressCells(w.Bulk)
	if err != nil {
		return aggregate.ReplicateRequest{}, fmt.Errorf("rpcpeer: decode EC_REPLICATE: %w", err)
	}
	recx := make([]vos.Extent, len(w.Recx))
	for i, r := range w.Recx {
		recx[i] = vos.Extent{Index: r.Index, Count: r.Count}
	}
	return aggregate.ReplicateRequest{
		PoolUUID:    w.PoolUUID,
		PoolHdlUUID: w.PoolHdlUUID,
		ContUUID:    w.ContUUID,
		ContHdlUUID: w.ContHdlUUID,
		OID:         vos.ObjectID{Hi: w.OIDHi, Lo: w.OIDLo},
		Dkey:        w.Dkey,
		Akey:        w.Akey,
		Recx:        recx,
		Stripenum:   w.Stripenum,
		Epoch:       w.Epoch,
		MapVersion:  w.MapVersion,
		Bulk:        bulk,
	}, nil
}
