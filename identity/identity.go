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

// Package identity is the pool/container bootstrap surface the aggregation
// engine needs before it may touch an object at all: who am I (this
// target's rank), who leads this object's redundancy group, and where do
// peer shards live. Grounded on the teacher's UUID-keyed partition/shard
// identifiers (storage/partition.go, storage/shard.go).
package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PoolUUID and ContainerUUID key a redundancy-group membership the same way
// the teacher keys partitions and shards: opaque UUIDs, never reused.
type PoolUUID = uuid.UUID
type ContainerUUID = uuid.UUID

// ShardRank identifies one target's position within an object's redundancy
// group: 0..k-1 are data shards, k..k+p-1 are parity shards.
type ShardRank int

// LeaderInfo answers the two questions the Iteration Driver asks before
// doing any work on an object (spec.md §4.1, §4.7): is this target the
// leader for the object's EC aggregation, and if not, who is.
type LeaderInfo struct {
	// IsLeader is true when this target owns aggregation duty for the
	// object, i.e. it holds the object's leader parity shard.
	IsLeader bool
	// LeaderRank is this object's aggregation leader, regardless of
	// whether it is us.
	LeaderRank ShardRank
	// Self is this target's own rank within the group.
	Self ShardRank
	// PeerRanks lists every shard rank with a parity role, in order.
	PeerRanks []ShardRank
}

// Service resolves pool/container membership and leadership. It stands in
// for the pool_iv_srv_hdl_fetch / pool_iv_prop_fetch / pool_check_leader
// collaborators: property and leadership state the aggregation engine
// reads but never writes.
type Service interface {
	// CheckLeader answers LeaderInfo for one object, scoped to a pool and
	// container. Implementations should cache aggressively: this is
	// called once per object per Aggregate() invocation (spec.md §4.1).
	CheckLeader(ctx context.Context, pool PoolUUID, cont ContainerUUID, objHi, objLo uint64) (LeaderInfo, error)

	// PeerAddr resolves the network address to dial for a given shard
	// rank within a pool, for rpcpeer's transport to use.
	PeerAddr(ctx context.Context, pool PoolUUID, rank ShardRank) (string, error)
}

// StaticService is a fixed-membership Service for tests and the
// single-process demo: one redundancy group, one fixed leader, addresses
// supplied up front.
type StaticService struct {
	Self       ShardRank
	LeaderRank ShardRank
	PeerRanks  []ShardRank
	Addrs      map[ShardRank]string
}

// NewStaticService builds a StaticService where self is always the leader
// and every other listed rank is a parity peer — the common case for a
// k+1 parity single-leader group.
func NewStaticService(self ShardRank, peerRanks []ShardRank, addrs map[ShardRank]string) *StaticService {
	return &StaticService{
		Self:       self,
		LeaderRank: self,
		PeerRanks:  peerRanks,
		Addrs:      addrs,
	}
}

func (s *StaticService) CheckLeader(ctx context.Context, pool PoolUUID, cont ContainerUUID, objHi, objLo uint64) (LeaderInfo, error) {
	if err := ctx.Err(); err != nil {
		return LeaderInfo{}, err
	}
	return LeaderInfo{
		IsLeader:   s.Self == s.LeaderRank,
		LeaderRank: s.LeaderRank,
		Self:       s.Self,
		PeerRanks:  s.PeerRanks,
	}, nil
}

func (s *StaticService) PeerAddr(ctx context.Context, pool PoolUUID, rank ShardRank) (string, error) {
	addr, ok := s.Addrs[rank]
	if !ok {
		return "", fmt.Errorf("identity: no address registered for shard rank %d", rank)
	}
	return addr, nil
}
