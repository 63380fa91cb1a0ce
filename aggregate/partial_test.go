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
	"bytes"
	"context"
	"testing"

	"github.com/launix-de/ecagg/ecmath"
	"github.com/launix-de/ecagg/identity"
	"github.com/launix-de/ecagg/vos"
)

// versionedEntry is one write in epochStore's history for a single index.
type versionedEntry struct {
	epoch uint64
	data  []byte
}

// epochStore is a minimal vos.Store fake that, unlike MemStore, keeps every
// version ever written at an index so Fetch can answer "what was here as of
// an older epoch" — exactly what the Partial-Update incremental path needs
// to diff old against new, and what a single-version reference store
// cannot represent.
type epochStore struct {
	byIndex map[uint64][]versionedEntry
}

func newEpochStore() *epochStore {
	return &epochStore{byIndex: make(map[uint64][]versionedEntry)}
}

func (s *epochStore) seed(index, epoch uint64, data []byte) {
	s.byIndex[index] = append(s.byIndex[index], versionedEntry{epoch: epoch, data: data})
}

func (s *epochStore) Objects(ctx context.Context) (vos.ObjectCursor, error)               { return nil, nil }
func (s *epochStore) Dkeys(ctx context.Context, oid vos.ObjectID) (vos.KeyCursor, error)   { return nil, nil }
func (s *epochStore) Akeys(ctx context.Context, oid vos.ObjectID, dkey string) (vos.KeyCursor, error) {
	return nil, nil
}
func (s *epochStore) DataExtents(ctx context.Context, oid vos.ObjectID, dkey, akey string, epochLo, epochHi uint64) (vos.ExtentCursor, error) {
	return nil, nil
}
func (s *epochStore) ProbeParity(ctx context.Context, oid vos.ObjectID, dkey, akey string, stripenum, recLen, epochHi uint64) (vos.ParityProbe, error) {
	return vos.AbsentProbe, nil
}

func (s *epochStore) Fetch(ctx context.Context, oid vos.ObjectID, dkey, akey string, epoch, index, count uint64) ([]byte, error) {
	entries := s.byIndex[index]
	var best *versionedEntry
	for i := range entries {
		e := entries[i]
		if e.epoch <= epoch && (best == nil || e.epoch > best.epoch) {
			best = &entries[i]
		}
	}
	if best == nil {
		return nil, context.DeadlineExceeded
	}
	out := make([]byte, count)
	copy(out, best.data)
	return out, nil
}

func (s *epochStore) Update(ctx context.Context, oid vos.ObjectID, dkey, akey string, epoch, index uint64, data []byte) error {
	s.seed(index, epoch, append([]byte(nil), data...))
	return nil
}

func (s *epochStore) RemoveRange(ctx context.Context, oid vos.ObjectID, dkey, akey string, epochLo, epochHi, index, count uint64) error {
	return nil
}

func TestRunIncrementalFoldsSingleCellDiff(t *testing.T) {
	ctx := context.Background()
	store := newEpochStore()
	class := vos.Class{K: 2, P: 1, Len: 4, RecSize: 1}
	oid := vos.ObjectID{Hi: 1, Lo: 1}

	cellA := []byte{1, 2, 3, 4}
	cellB := []byte{5, 6, 7, 8}
	store.seed(0, 1, cellA)
	store.seed(4, 1, cellB)
	oldParity, err := ecmath.XOR(cellA, cellB)
	if err != nil {
		t.Fatalf("XOR: %v", err)
	}
	store.seed(vos.ParityIndex(0, 4), 1, oldParity)

	newCellB := []byte{50, 60, 70, 80}
	store.seed(4, 2, newCellB)

	oc := NewObjectContext(oid, class, identity.LeaderInfo{IsLeader: true})
	oc.Dkey, oc.Akey = "dkey-0", "akey-0"
	oc.Stripe = StripeState{
		Stripenum: 0,
		HiEpoch:   2,
		Extents:   []vos.Extent{{Index: 4, Count: 4, Epoch: 2}},
	}

	probe := vos.ParityProbe{Epoch: 1}
	if aerr := runPartialUpdate(ctx, store, NoPeer{}, oc, probe); aerr != nil {
		t.Fatalf("runPartialUpdate: %v", aerr)
	}

	want, err := ecmath.XOR(cellA, newCellB)
	if err != nil {
		t.Fatalf("XOR: %v", err)
	}
	got, err := store.Fetch(ctx, oid, "dkey-0", "akey-0", 2, vos.ParityIndex(0, 4), 4)
	if err != nil {
		t.Fatalf("Fetch updated parity: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("incrementally-updated parity = %x, want %x", got, want)
	}
}

func TestRunPartialUpdateRecalcsWhenMajorityFull(t *testing.T) {
	ctx := context.Background()
	store := newEpochStore()
	class := vos.Class{K: 2, P: 1, Len: 4, RecSize: 1}
	oid := vos.ObjectID{Hi: 1, Lo: 1}

	cellA := []byte{1, 2, 3, 4}
	cellB := []byte{5, 6, 7, 8}
	store.seed(0, 1, cellA)
	store.seed(4, 1, cellB)
	oldParity, err := ecmath.XOR(cellA, cellB)
	if err != nil {
		t.Fatalf("XOR: %v", err)
	}
	store.seed(vos.ParityIndex(0, 4), 1, oldParity)

	newCellA := []byte{11, 12, 13, 14}
	newCellB := []byte{15, 16, 17, 18}
	store.seed(0, 2, newCellA)
	store.seed(4, 2, newCellB)

	oc := NewObjectContext(oid, class, identity.LeaderInfo{IsLeader: true})
	oc.Dkey, oc.Akey = "dkey-0", "akey-0"
	oc.Stripe = StripeState{
		Stripenum: 0,
		HiEpoch:   2,
		Extents: []vos.Extent{
			{Index: 0, Count: 4, Epoch: 2},
			{Index: 4, Count: 4, Epoch: 2},
		},
	}

	probe := vos.ParityProbe{Epoch: 1}
	if aerr := runPartialUpdate(ctx, store, NoPeer{}, oc, probe); aerr != nil {
		t.Fatalf("runPartialUpdate: %v", aerr)
	}

	want, err := ecmath.XOR(newCellA, newCellB)
	if err != nil {
		t.Fatalf("XOR: %v", err)
	}
	got, err := store.Fetch(ctx, oid, "dkey-0", "akey-0", 2, vos.ParityIndex(0, 4), 4)
	if err != nil {
		t.Fatalf("Fetch recalculated parity: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("recalculated parity = %x, want %x", got, want)
	}
}
