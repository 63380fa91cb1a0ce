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

// Package vos describes the local versioned object store as the external
// collaborator spec.md calls it out to be: an iterator plus point
// read/write/range-delete. This package only defines the surface the
// aggregation engine needs (Store) and the index/extent arithmetic that is
// genuinely part of the aggregation engine's own contract (parity flag
// encoding, stripe numbering) — plus one in-memory reference implementation
// used by tests and by cmd/ecaggd for the zero-cluster "try it" path.
package vos

// ParityFlag is the most significant index bit: a parity extent for a
// stripe lives at stripenum*len with this bit set, in a namespace disjoint
// from data. All index arithmetic must mask it off before doing numeric
// comparisons.
const ParityFlag = uint64(1) << 63

// IsParityIndex reports whether idx carries the parity flag.
func IsParityIndex(idx uint64) bool { return idx&ParityFlag != 0 }

// DataIndex strips the parity flag.
func DataIndex(idx uint64) uint64 { return idx &^ ParityFlag }

// ParityIndex builds the flagged index for the parity extent of a stripe.
func ParityIndex(stripenum uint64, recLen uint64) uint64 {
	return (stripenum * recLen) | ParityFlag
}

// StripeNum computes floor(index / (k*len)) for a data index.
func StripeNum(index uint64, k, recLen int) uint64 {
	return index / uint64(k*recLen)
}

// StripeStart is the first index of stripe s, i.e. s*k*len.
func StripeStart(stripenum uint64, k, recLen int) uint64 {
	return stripenum * uint64(k*recLen)
}

// Extent is a half-open span of a (dkey, akey) array: [Index, Index+Count).
// At most one extent in a scanning window may cross a stripe boundary, and
// only on its tail. Epochs are monotone per write.
type Extent struct {
	Index  uint64
	Count  uint64
	Epoch  uint64
	IsHole bool
}

// End is the first index past this extent.
func (e Extent) End() uint64 { return e.Index + e.Count }

// Overlaps reports whether this extent intersects [lo, hi).
func (e Extent) Overlaps(lo, hi uint64) bool {
	return e.Index < hi && lo < e.End()
}

// MaxEpoch is the sentinel "no epoch" value used by ParityProbe when no
// parity extent exists for a stripe.
const MaxEpoch = ^uint64(0)

// ParityProbe is the result of looking up the parity extent covering a
// stripe: {epoch, recx} or "none" encoded as Epoch == MaxEpoch.
type ParityProbe struct {
	Epoch uint64
	Recx  Extent
}

// Present reports whether a parity extent was found.
func (p ParityProbe) Present() bool { return p.Epoch != MaxEpoch }

// AbsentProbe is the canonical "no parity" result.
var AbsentProbe = ParityProbe{Epoch: MaxEpoch}
