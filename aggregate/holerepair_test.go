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

	"github.com/launix-de/ecagg/identity"
	"github.com/launix-de/ecagg/vos"
)

func TestNonHoleRangesFindsSurvivingData(t *testing.T) {
	extents := []vos.Extent{
		{Index: 0, Count: 4},
		{Index: 4, Count: 2, IsHole: true},
		{Index: 6, Count: 2, IsHole: true},
	}
	ranges := nonHoleRanges(extents, 0, 8)
	if len(ranges) != 1 || ranges[0].Index != 0 || ranges[0].Count != 4 {
		t.Fatalf("ranges = %+v, want one [0,4) surviving range", ranges)
	}
}

func TestNonHoleRangesCoalescesOverlaps(t *testing.T) {
	extents := []vos.Extent{
		{Index: 0, Count: 5},
		{Index: 3, Count: 5},
	}
	ranges := nonHoleRanges(extents, 0, 8)
	if len(ranges) != 1 || ranges[0].Index != 0 || ranges[0].Count != 8 {
		t.Fatalf("ranges = %+v, want one coalesced [0,8) range", ranges)
	}
}

func TestNonHoleRangesNoneWhenFullyHoled(t *testing.T) {
	extents := []vos.Extent{{Index: 0, Count: 8, IsHole: true}}
	ranges := nonHoleRanges(extents, 0, 8)
	if len(ranges) != 0 {
		t.Fatalf("ranges = %+v, want none (stripe is entirely holes)", ranges)
	}
}

// fakeRemote answers Fetch with a fixed byte pattern keyed by index, for
// hole-repair's re-replication read path.
type fakeRemote struct {
	data map[uint64][]byte
}

func (f *fakeRemote) Fetch(ctx context.Context, epoch uint64, dkey, akey string, index, count uint64, shardHint int) ([]byte, error) {
	return f.data[index], nil
}
func (f *fakeRemote) Layout(ctx context.Context) (vos.Layout, error) { return vos.Layout{}, nil }
func (f *fakeRemote) Close() error                                  { return nil }

func TestRunHoleRepairReplicatesSurvivingDataAndDropsParity(t *testing.T) {
	store := vos.NewMemStore()
	class := vos.Class{K: 2, P: 1, Len: 4, RecSize: 1}
	oid := vos.ObjectID{Hi: 1, Lo: 1}
	ctx := context.Background()

	// The stripe has one hole, [4,8). The surviving non-hole range [0,4)
	// is what gets fetched over the remote path and re-replicated — the
	// hole itself is never fetched or written.
	replacement := []byte{9, 9, 9, 9}
	store.InsertExtent(oid, "dkey-0", "akey-0", vos.Extent{Index: 0, Count: 4, Epoch: 1}, true, []byte{1, 1, 1, 1})

	oc := NewObjectContext(oid, class, identity.LeaderInfo{IsLeader: true})
	oc.Dkey, oc.Akey = "dkey-0", "akey-0"
	oc.Remote = &fakeRemote{data: map[uint64][]byte{0: replacement}}
	oc.Stripe = StripeState{
		Stripenum: 0,
		HiEpoch:   2,
		HasHoles:  true,
		Extents: []vos.Extent{
			{Index: 0, Count: 4, Epoch: 2},
			{Index: 4, Count: 4, Epoch: 2, IsHole: true},
		},
	}

	if aerr := runHoleRepair(ctx, store, NoPeer{}, oc); aerr != nil {
		t.Fatalf("runHoleRepair: %v", aerr)
	}

	got, err := store.Fetch(ctx, oid, "dkey-0", "akey-0", 2, 0, 4)
	if err != nil {
		t.Fatalf("Fetch repaired range: %v", err)
	}
	if !bytes.Equal(got, replacement) {
		t.Fatalf("repaired data = %x, want %x", got, replacement)
	}
	if _, err := store.Fetch(ctx, oid, "dkey-0", "akey-0", 2, 4, 4); err == nil {
		t.Fatal("the hole range must never be fetched or written by hole-repair")
	}

	probe, err := store.ProbeParity(ctx, oid, "dkey-0", "akey-0", 0, 4, ^uint64(0))
	if err != nil {
		t.Fatalf("ProbeParity: %v", err)
	}
	if probe.Present() {
		t.Fatal("expected the parity extent to be removed after hole-repair")
	}
}
