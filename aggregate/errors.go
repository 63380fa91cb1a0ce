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

import "fmt"

// Kind classifies an aggregation error by how far its damage propagates.
type Kind int

const (
	// InvalidInput marks a caller mistake (bad class attrs, malformed wire
	// fields). Never produced mid-stripe.
	InvalidInput Kind = iota
	// NotLeader means this target does not own aggregation for the current
	// object; the object is skipped silently, not logged as an error.
	NotLeader
	// Transient covers RPC and fetch failures: abandon the current stripe,
	// keep going.
	Transient
	// Fatal covers allocation and codec-init failures: abort the current
	// object, keep going to the next one.
	Fatal
	// ConsistencyViolated fires when a parity-flagged extent surfaces where
	// data was expected: abort the current object with a diagnostic.
	ConsistencyViolated
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case NotLeader:
		return "NotLeader"
	case Transient:
		return "Transient"
	case Fatal:
		return "Fatal"
	case ConsistencyViolated:
		return "ConsistencyViolated"
	default:
		return "Unknown"
	}
}

// Error is the one error type every path function in this package returns.
// Kind determines how the driver folds it: NotLeader is swallowed outright,
// Transient abandons a stripe, Fatal and ConsistencyViolated abort an
// object.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("aggregate: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("aggregate: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// abandonsStripe reports whether this error should stop the current stripe
// but let iteration continue within the same object.
func (e *Error) abandonsStripe() bool {
	return e.Kind == Transient
}

// abortsObject reports whether this error should stop processing the
// current object entirely but let iteration continue to the next object.
func (e *Error) abortsObject() bool {
	return e.Kind == Fatal || e.Kind == ConsistencyViolated
}
