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
/*
	ecaggd runs one pass of the erasure-coded aggregation engine against a
	local VOS over the epoch window given on the command line and exits;
	re-running it on a cadence is left to whatever invokes it. This binary
	wires an in-memory store for a single-process
	demonstration; a real deployment supplies vos.Store, identity.Service
	and rpcpeer.Conn backed by the actual cluster.
*/
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/launix-de/ecagg/aggregate"
	"github.com/launix-de/ecagg/identity"
	"github.com/launix-de/ecagg/vos"
)

func main() {
	fmt.Print(`ecaggd Copyright (C) 2023   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	epochLo := flag.Uint64("epoch-lo", 0, "inclusive lower bound of the epoch window to aggregate")
	epochHi := flag.Uint64("epoch-hi", ^uint64(0), "inclusive upper bound of the epoch window to aggregate")
	trace := flag.Bool("trace", false, "log stripe-level trace output")
	flag.Parse()

	aggregate.Settings.Trace = *trace
	aggregate.InitSettings()

	store := vos.NewMemStore()
	class := vos.Class{K: 2, P: 1, Len: 4, RecSize: 1}
	seedDemoObject(store, class)

	eng := &aggregate.Engine{
		Store:    store,
		ClassOf:  staticClassOf{class: class},
		Identity: identity.NewStaticService(0, nil, nil),
		Peer:     aggregate.NoPeer{},
	}

	status, err := eng.Aggregate(context.Background(), *epochLo, *epochHi)
	if err != nil {
		fmt.Println("aggregation stopped early:", err)
	}
	fmt.Printf("objects visited=%d skipped=%d; stripes encoded=%d updated=%d repaired=%d skipped=%d\n",
		status.ObjectsVisited, status.ObjectsSkipped,
		status.StripesEncoded, status.StripesUpdated, status.StripesRepaired, status.StripesSkipped)
}

// staticClassOf answers the same (k, p, len, rsize) for every object — a
// stand-in for the real pool/container property service.
type staticClassOf struct {
	class vos.Class
}

func (s staticClassOf) ObjectClass(ctx context.Context, oid vos.ObjectID) (vos.Class, bool, error) {
	return s.class, true, nil
}

// seedDemoObject loads the k=2,p=1 full-stripe scenario from spec.md §8's
// first concrete scenario: two replica extents filling stripe 0, no
// parity yet.
func seedDemoObject(store *vos.MemStore, class vos.Class) {
	oid := vos.ObjectID{Hi: 1, Lo: 1}
	a := make([]byte, 4)
	b := make([]byte, 4)
	for i := range a {
		a[i] = byte(i + 1)
		b[i] = byte(i + 5)
	}
	store.InsertExtent(oid, "dkey-0", "akey-0", vos.Extent{Index: 0, Count: 4, Epoch: 1}, false, a)
	store.InsertExtent(oid, "dkey-0", "akey-0", vos.Extent{Index: 4, Count: 4, Epoch: 1}, false, b)
}
