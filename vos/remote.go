package vos

import "context"

// Layout describes where an object's shards live; aggregation only needs
// enough of it to pick a shard hint when fetching cells that are not local.
type Layout struct {
	ShardRanks []int
}

// RemoteHandle is the small capability object the design notes call for in
// place of a generic dynamic-dispatch "resolve" mechanism: exactly the two
// operations the engine needs from a remote object path (fetch cells that
// are not on this target, and look up shard layout), nothing else.
type RemoteHandle interface {
	Fetch(ctx context.Context, epoch uint64, dkey, akey string, index, count uint64, shardHint int) ([]byte, error)
	Layout(ctx context.Context) (Layout, error)
	Close() error
}

// RemoteOpener opens a RemoteHandle for an object. The handle is lazily
// opened once per object aggregation context and reused across stripes,
// per spec §5.
type RemoteOpener interface {
	Open(ctx context.Context, oid ObjectID) (RemoteHandle, error)
}
