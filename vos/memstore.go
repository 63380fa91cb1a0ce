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

package vos

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/btree"
)

// extentItem is the btree element: ordered by the flagged index, exactly
// the way storage/index.go orders its delta btree by key for range scans.
type extentItem struct {
	idx  uint64 // includes ParityFlag for parity extents
	data []byte
	e    Extent
}

func lessExtentItem(a, b extentItem) bool { return a.idx < b.idx }

// akeyStore holds every extent (data and parity, distinguished by the
// ParityFlag bit baked into idx) ever written under one (oid, dkey, akey).
type akeyStore struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[extentItem]
}

func newAkeyStore() *akeyStore {
	return &akeyStore{tree: btree.NewG(32, lessExtentItem)}
}

// MemStore is the reference Store implementation: an in-memory stand-in for
// the real VOS used by tests and by cmd/ecaggd's single-process demo. It
// makes no attempt at MVCC shadow-extent coalescing; callers (tests, the
// demo loader) are expected to insert extents the way the real VOS's
// visibility filter would already have resolved them, matching Open
// Question 4's assumption.
type MemStore struct {
	mu      sync.RWMutex
	objects map[ObjectID]*objectEntry
}

type objectEntry struct {
	mu    sync.RWMutex
	dkeys map[string]*dkeyEntry
}

type dkeyEntry struct {
	mu    sync.RWMutex
	akeys map[string]*akeyStore
}

// NewMemStore returns an empty reference store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[ObjectID]*objectEntry)}
}

func (m *MemStore) akeyStoreFor(oid ObjectID, dkey, akey string, create bool) *akeyStore {
	m.mu.Lock()
	oe, ok := m.objects[oid]
	if !ok {
		if !create {
			m.mu.Unlock()
			return nil
		}
		oe = &objectEntry{dkeys: make(map[string]*dkeyEntry)}
		m.objects[oid] = oe
	}
	m.mu.Unlock()

	oe.mu.Lock()
	de, ok := oe.dkeys[dkey]
	if !ok {
		if !create {
			oe.mu.Unlock()
			return nil
		}
		de = &dkeyEntry{akeys: make(map[string]*akeyStore)}
		oe.dkeys[dkey] = de
	}
	oe.mu.Unlock()

	de.mu.Lock()
	defer de.mu.Unlock()
	as, ok := de.akeys[akey]
	if !ok {
		if !create {
			return nil
		}
		as = newAkeyStore()
		de.akeys[akey] = as
	}
	return as
}

// InsertExtent seeds the store with one extent, as a test fixture or the
// demo CSV-style loader would. isParity controls which index namespace the
// extent lands in.
func (m *MemStore) InsertExtent(oid ObjectID, dkey, akey string, e Extent, isParity bool, data []byte) {
	as := m.akeyStoreFor(oid, dkey, akey, true)
	idx := e.Index
	if isParity {
		idx |= ParityFlag
	}
	as.mu.Lock()
	as.tree.ReplaceOrInsert(extentItem{idx: idx, data: data, e: e})
	as.mu.Unlock()
}

// --- Store interface ---

type memObjectCursor struct {
	ids []ObjectID
	i   int
}

func (c *memObjectCursor) Next(ctx context.Context) (ObjectID, bool, error) {
	if err := ctx.Err(); err != nil {
		return ObjectID{}, false, err
	}
	if c.i >= len(c.ids) {
		return ObjectID{}, false, nil
	}
	oid := c.ids[c.i]
	c.i++
	return oid, true, nil
}

func (m *MemStore) Objects(ctx context.Context) (ObjectCursor, error) {
	m.mu.RLock()
	ids := make([]ObjectID, 0, len(m.objects))
	for oid := range m.objects {
		ids = append(ids, oid)
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Hi != ids[j].Hi {
			return ids[i].Hi < ids[j].Hi
		}
		return ids[i].Lo < ids[j].Lo
	})
	return &memObjectCursor{ids: ids}, nil
}

type memKeyCursor struct {
	keys []string
	i    int
}

func (c *memKeyCursor) Next(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if c.i >= len(c.keys) {
		return "", false, nil
	}
	k := c.keys[c.i]
	c.i++
	return k, true, nil
}

func (m *MemStore) Dkeys(ctx context.Context, oid ObjectID) (KeyCursor, error) {
	m.mu.RLock()
	oe, ok := m.objects[oid]
	m.mu.RUnlock()
	if !ok {
		return &memKeyCursor{}, nil
	}
	oe.mu.RLock()
	keys := make([]string, 0, len(oe.dkeys))
	for k := range oe.dkeys {
		keys = append(keys, k)
	}
	oe.mu.RUnlock()
	sort.Strings(keys)
	return &memKeyCursor{keys: keys}, nil
}

func (m *MemStore) Akeys(ctx context.Context, oid ObjectID, dkey string) (KeyCursor, error) {
	m.mu.RLock()
	oe, ok := m.objects[oid]
	m.mu.RUnlock()
	if !ok {
		return &memKeyCursor{}, nil
	}
	oe.mu.RLock()
	de, ok := oe.dkeys[dkey]
	oe.mu.RUnlock()
	if !ok {
		return &memKeyCursor{}, nil
	}
	de.mu.RLock()
	keys := make([]string, 0, len(de.akeys))
	for k := range de.akeys {
		keys = append(keys, k)
	}
	de.mu.RUnlock()
	sort.Strings(keys)
	return &memKeyCursor{keys: keys}, nil
}

type memExtentCursor struct {
	items []extentItem
	i     int
}

func (c *memExtentCursor) Next(ctx context.Context) (Extent, bool, error) {
	if err := ctx.Err(); err != nil {
		return Extent{}, false, err
	}
	if c.i >= len(c.items) {
		return Extent{}, false, nil
	}
	e := c.items[c.i].e
	c.i++
	return e, true, nil
}

func (m *MemStore) DataExtents(ctx context.Context, oid ObjectID, dkey, akey string, epochLo, epochHi uint64) (ExtentCursor, error) {
	as := m.akeyStoreFor(oid, dkey, akey, false)
	if as == nil {
		return &memExtentCursor{}, nil
	}
	as.mu.RLock()
	defer as.mu.RUnlock()
	var items []extentItem
	as.tree.Ascend(func(it extentItem) bool {
		if IsParityIndex(it.idx) {
			return true
		}
		if it.e.Epoch >= epochLo && it.e.Epoch <= epochHi {
			items = append(items, it)
		}
		return true
	})
	return &memExtentCursor{items: items}, nil
}

func (m *MemStore) ProbeParity(ctx context.Context, oid ObjectID, dkey, akey string, stripenum, recLen, epochHi uint64) (ParityProbe, error) {
	as := m.akeyStoreFor(oid, dkey, akey, false)
	if as == nil {
		return AbsentProbe, nil
	}
	flagged := ParityIndex(stripenum, recLen)
	as.mu.RLock()
	defer as.mu.RUnlock()
	item, ok := as.tree.Get(extentItem{idx: flagged})
	if !ok || item.e.Epoch > epochHi {
		return AbsentProbe, nil
	}
	return ParityProbe{Epoch: item.e.Epoch, Recx: item.e}, nil
}

func (m *MemStore) Fetch(ctx context.Context, oid ObjectID, dkey, akey string, epoch uint64, index, count uint64) ([]byte, error) {
	as := m.akeyStoreFor(oid, dkey, akey, false)
	if as == nil {
		return nil, fmt.Errorf("vos: fetch miss for akey %q", akey)
	}
	as.mu.RLock()
	defer as.mu.RUnlock()
	out := make([]byte, 0, count)
	remaining := count
	cur := index
	for remaining > 0 {
		item, ok := as.tree.Get(extentItem{idx: cur})
		if !ok {
			// fall back to a linear scan for extents that cover, but do not
			// start at, cur (the reference store keeps whole extents keyed
			// by their start index).
			var found *extentItem
			as.tree.Ascend(func(it extentItem) bool {
				if (it.idx&ParityFlag) != (cur & ParityFlag) {
					return true
				}
				if it.e.Index <= DataIndex(cur) && DataIndex(cur) < it.e.End() {
					c := it
					found = &c
					return false
				}
				return true
			})
			if found == nil {
				return nil, fmt.Errorf("vos: no extent covers index %d", cur)
			}
			item = *found
		}
		if item.e.Epoch > epoch {
			return nil, fmt.Errorf("vos: extent at %d postdates requested epoch %d", cur, epoch)
		}
		offset := DataIndex(cur) - item.e.Index
		avail := item.e.Count - offset
		take := avail
		if take > remaining {
			take = remaining
		}
		out = append(out, item.data[offset:offset+take]...)
		cur += take
		remaining -= take
	}
	return out, nil
}

func (m *MemStore) Update(ctx context.Context, oid ObjectID, dkey, akey string, epoch, index uint64, data []byte) error {
	as := m.akeyStoreFor(oid, dkey, akey, true)
	e := Extent{Index: DataIndex(index), Count: uint64(len(data)), Epoch: epoch}
	as.mu.Lock()
	as.tree.ReplaceOrInsert(extentItem{idx: index, data: append([]byte(nil), data...), e: e})
	as.mu.Unlock()
	return nil
}

func (m *MemStore) RemoveRange(ctx context.Context, oid ObjectID, dkey, akey string, epochLo, epochHi, index, count uint64) error {
	as := m.akeyStoreFor(oid, dkey, akey, false)
	if as == nil {
		return nil
	}
	parityNS := IsParityIndex(index)
	lo, hi := DataIndex(index), DataIndex(index)+count
	as.mu.Lock()
	defer as.mu.Unlock()
	var toDelete []uint64
	as.tree.Ascend(func(it extentItem) bool {
		if IsParityIndex(it.idx) != parityNS {
			return true
		}
		if it.e.Epoch >= epochLo && it.e.Epoch <= epochHi && it.e.Index >= lo && it.e.End() <= hi {
			toDelete = append(toDelete, it.idx)
		}
		return true
	})
	for _, idx := range toDelete {
		as.tree.Delete(extentItem{idx: idx})
	}
	return nil
}

