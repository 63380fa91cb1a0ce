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

	"github.com/google/uuid"
	"github.com/launix-de/ecagg/vos"
)

// AggregateRequest is the EC_AGGREGATE wire message of spec.md §6: ship
// updated non-leader parity cells to the peer parity shard.
type AggregateRequest struct {
	PoolUUID, PoolHdlUUID uuid.UUID
	ContUUID, ContHdlUUID uuid.UUID
	OID                   vos.ObjectID // peer shard's object id
	Dkey, Akey            string
	RecSize               int
	Epoch                 uint64
	Stripenum             uint64
	MapVersion            uint32
	PriorLen, AfterLen    uint64
	Bulk                  [][]byte // one buffer per non-leader parity cell
}

// ReplicateRequest is the EC_REPLICATE wire message: ship re-replicated
// data ranges to the peer for hole-repair.
type ReplicateRequest struct {
	PoolUUID, PoolHdlUUID uuid.UUID
	ContUUID, ContHdlUUID uuid.UUID
	OID                   vos.ObjectID
	Dkey, Akey            string // Akey is carried in the iod the wire field names call out
	Recx                  []vos.Extent
	Stripenum             uint64
	Epoch                 uint64
	MapVersion            uint32
	Bulk                  [][]byte // one buffer per recx range
}

// PeerStatus is the {status} wire reply shared by both opcodes.
type PeerStatus struct {
	OK  bool
	Err string
}

// Peer is the Peer Coordinator's outbound surface: drive the two RPCs and
// await completion before the leader commits locally (spec.md §4.7).
// rpcpeer implements this over a websocket transport; NoPeer below
// satisfies it for p==1 classes that have no parity peer to coordinate
// with.
type Peer interface {
	Aggregate(ctx context.Context, req AggregateRequest) (PeerStatus, error)
	Replicate(ctx context.Context, req ReplicateRequest) (PeerStatus, error)
}

// NoPeer is the Peer implementation for single-parity (p==1) classes: there
// is no non-leader parity shard, so both RPCs are no-ops that always
// succeed.
type NoPeer struct{}

func (NoPeer) Aggregate(ctx context.Context, req AggregateRequest) (PeerStatus, error) {
	return PeerStatus{OK: true}, nil
}

func (NoPeer) Replicate(ctx context.Context, req ReplicateRequest) (PeerStatus, error) {
	return PeerStatus{OK: true}, nil
}
