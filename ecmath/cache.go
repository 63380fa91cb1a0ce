package ecmath

import "fmt"

// ClassID identifies an object class (the (k, p) attributes shared by every
// object of that class).
type ClassID struct {
	K, P int
}

// Cache is a read-mostly, per-context table of codecs keyed by object
// class. Per the design notes, codec tables are materialized on first use
// and cached inside the owning aggregation context — never as process-global
// state, since classes are scoped to whatever object the caller is
// currently aggregating.
type Cache struct {
	codecs map[ClassID]Codec
}

// NewCache returns an empty per-context codec cache.
func NewCache() *Cache {
	return &Cache{codecs: make(map[ClassID]Codec)}
}

// Get returns the cached codec for a class, building and caching it on
// first use.
func (c *Cache) Get(k, p int) (Codec, error) {
	id := ClassID{K: k, P: p}
	if codec, ok := c.codecs[id]; ok {
		return codec, nil
	}
	codec, err := NewCodec(k, p)
	if err != nil {
		return nil, fmt.Errorf("ecmath: codec_get(%v): %w", id, err)
	}
	c.codecs[id] = codec
	return codec, nil
}
