package vos

import "context"

// ObjectID identifies an object within a container.
type ObjectID struct {
	Hi, Lo uint64
}

// ObjectCursor enumerates objects, innermost to outermost the same way the
// real VOS iterator's pre/post callbacks do: Next advances, Err/ok report
// exhaustion.
type ObjectCursor interface {
	Next(ctx context.Context) (oid ObjectID, ok bool, err error)
}

// KeyCursor enumerates dkeys or akeys under whatever the caller scoped it to.
type KeyCursor interface {
	Next(ctx context.Context) (key string, ok bool, err error)
}

// ExtentCursor enumerates extents in index order within an epoch window.
type ExtentCursor interface {
	Next(ctx context.Context) (e Extent, ok bool, err error)
}

// Store is the subset of the local versioned object store the aggregation
// engine consumes: iteration, point fetch/update, and range delete, all
// epoch-scoped. It is an external collaborator (spec.md §1); this interface
// is the only thing the engine depends on, and vos.MemStore below is a
// reference implementation for tests and the single-node demo binary.
type Store interface {
	// Objects enumerates every EC object local to this target.
	Objects(ctx context.Context) (ObjectCursor, error)
	// Dkeys enumerates the dkeys present under an object.
	Dkeys(ctx context.Context, oid ObjectID) (KeyCursor, error)
	// Akeys enumerates the akeys present under (oid, dkey).
	Akeys(ctx context.Context, oid ObjectID, dkey string) (KeyCursor, error)
	// DataExtents enumerates data-namespace extents of (oid, dkey, akey)
	// visible within [epochLo, epochHi], in index order.
	DataExtents(ctx context.Context, oid ObjectID, dkey, akey string, epochLo, epochHi uint64) (ExtentCursor, error)
	// ProbeParity looks up the (at most one) parity extent covering
	// [stripenum*len, stripenum*len+len) within [0, epochHi].
	ProbeParity(ctx context.Context, oid ObjectID, dkey, akey string, stripenum, recLen, epochHi uint64) (ParityProbe, error)

	// Fetch reads count records starting at index (data or parity
	// namespace, as encoded in index) as of epoch.
	Fetch(ctx context.Context, oid ObjectID, dkey, akey string, epoch uint64, index, count uint64) ([]byte, error)
	// Update writes data at epoch, index (data or parity namespace).
	Update(ctx context.Context, oid ObjectID, dkey, akey string, epoch, index uint64, data []byte) error
	// RemoveRange deletes [index, index+count) across epochs [epochLo, epochHi].
	RemoveRange(ctx context.Context, oid ObjectID, dkey, akey string, epochLo, epochHi, index, count uint64) error
}

// ClassOf reports the (k, p, len, rsize) attributes for an object and
// whether it is EC-coded at all. Kept separate from Store because, in the
// real system, object class comes from the pool/container property service,
// not from VOS.
type ClassOf interface {
	ObjectClass(ctx context.Context, oid ObjectID) (class Class, isEC bool, err error)
}

// Class holds the attributes spec.md §3 calls out: k data cells, p parity
// cells, len records per cell, rsize bytes per record.
type Class struct {
	K, P, Len, RecSize int
}

// CellBytes is len*rsize, the byte size of one cell.
func (c Class) CellBytes() int { return c.Len * c.RecSize }

// StripeBytes is k*len*rsize, the byte size of a full stripe.
func (c Class) StripeBytes() int { return c.K * c.CellBytes() }
