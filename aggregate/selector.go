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

import "github.com/launix-de/ecagg/vos"

// Mode is the outcome of the stripe decision tree.
type Mode int

const (
	ModeNoOp Mode = iota
	ModeEncode
	ModePartialUpdate
	ModeHoleRepair
)

func (m Mode) String() string {
	switch m {
	case ModeNoOp:
		return "no-op"
	case ModeEncode:
		return "encode"
	case ModePartialUpdate:
		return "partial-update"
	case ModeHoleRepair:
		return "hole-repair"
	default:
		return "unknown"
	}
}

// allNewerThanParity reports whether every extent in the stripe postdates
// the probed parity epoch — the second disjunct of the Encode rule.
func allNewerThanParity(extents []vos.Extent, p vos.ParityProbe) bool {
	for _, e := range extents {
		if e.Epoch <= p.Epoch {
			return false
		}
	}
	return true
}

// SelectMode implements the decision tree. Parity at or above the stripe's
// high-water epoch (">=") makes the stripe a no-op; the Encode rule's
// "every extent newer than parity" test is a strict ">". The full-cells
// versus k/2 tie-break is not decided here but inside runPartialUpdate.
func SelectMode(s *StripeState, p vos.ParityProbe, stripeBytes uint64) Mode {
	full := s.Fill == stripeBytes

	if p.Present() && p.Epoch >= s.HiEpoch {
		return ModeNoOp
	}
	if (!p.Present() && full && !s.HasHoles) || (full && allNewerThanParity(s.Extents, p)) {
		return ModeEncode
	}
	if !p.Present() {
		return ModeNoOp
	}
	if s.HasHoles {
		return ModeHoleRepair
	}
	return ModePartialUpdate
}
