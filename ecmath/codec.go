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

// Package ecmath adapts the erasure-code math library to the small set of
// calls the aggregation engine needs: encode a full stripe, fold a diff into
// existing parity, and XOR raw vectors together. Everything here is a thin
// call-out; the Galois-field tables themselves live inside the
// klauspost/reedsolomon encoder, keyed per object class.
package ecmath

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// MaxParity is the largest parity width the peer-fetch path knows how to
// drive. p > 2 is reserved in the source and intentionally left
// unimplemented rather than guessed at.
const MaxParity = 2

// Codec performs Reed-Solomon math for one (k, p) object class.
type Codec interface {
	// K is the number of data cells per stripe.
	K() int
	// P is the number of parity cells per stripe.
	P() int
	// Encode computes p parity cells from k full data cells, each cellBytes long.
	Encode(cellBytes int, data [][]byte) (parity [][]byte, err error)
	// EncodeUpdate folds a single cell's diff (old XOR new) into an existing
	// parity set. It must satisfy, for every parity cell j:
	//   newParity[j] = oldParity[j] XOR encodeOf(diff-at-cellIndex)[j]
	// parity is updated in place.
	EncodeUpdate(cellBytes int, cellIndex int, diff []byte, parity [][]byte) error
}

// XOR combines n equally-sized byte vectors into one via bytewise XOR. It is
// hand-rolled rather than pulled from a library: it is a single tight loop
// with no Galois-field structure, the kind of primitive every EC codebase
// (rclone's raid3 backend, AIStore's EC jogger) just writes inline.
func XOR(vectors ...[]byte) ([]byte, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	n := len(vectors[0])
	for _, v := range vectors {
		if len(v) != n {
			return nil, fmt.Errorf("ecmath: XOR vectors of mismatched length %d vs %d", len(v), n)
		}
	}
	out := make([]byte, n)
	copy(out, vectors[0])
	for _, v := range vectors[1:] {
		for i := range out {
			out[i] ^= v[i]
		}
	}
	return out, nil
}

// rsCodec wraps a cached reedsolomon.Encoder for a fixed (k, p) pair.
type rsCodec struct {
	k, p int
	enc  reedsolomon.Encoder
}

// NewCodec builds (or, via Cache, reuses) the Reed-Solomon tables for one
// object class. p > MaxParity is rejected per the reserved-but-unsupported
// contract in spec Open Question 1.
func NewCodec(k, p int) (Codec, error) {
	if k <= 0 {
		return nil, fmt.Errorf("ecmath: invalid k=%d", k)
	}
	if p <= 0 || p > MaxParity {
		return nil, fmt.Errorf("ecmath: unsupported parity width p=%d (max %d)", p, MaxParity)
	}
	// With a single parity cell the parity is the plain XOR of the data cells.
	enc, err := reedsolomon.New(k, p, reedsolomon.WithFastOneParityMatrix())
	if err != nil {
		return nil, fmt.Errorf("ecmath: codec_get(k=%d,p=%d): %w", k, p, err)
	}
	return &rsCodec{k: k, p: p, enc: enc}, nil
}

func (c *rsCodec) K() int { return c.k }
func (c *rsCodec) P() int { return c.p }

func (c *rsCodec) Encode(cellBytes int, data [][]byte) (parity [][]byte, err error) {
	if len(data) != c.k {
		return nil, fmt.Errorf("ecmath: encode expects %d data cells, got %d", c.k, len(data))
	}
	shards := make([][]byte, c.k+c.p)
	for i, d := range data {
		if len(d) != cellBytes {
			return nil, fmt.Errorf("ecmath: cell %d has %d bytes, want %d", i, len(d), cellBytes)
		}
		shards[i] = d
	}
	for i := 0; i < c.p; i++ {
		shards[c.k+i] = make([]byte, cellBytes)
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, err
	}
	return shards[c.k:], nil
}

// EncodeUpdate exploits RS linearity over GF(2^8): encoding a stripe that is
// all-zero except for `diff` at cellIndex yields exactly the delta that must
// be XORed into each existing parity cell to account for that one cell's
// change. This lets the adapter reuse the same Encode call for both the
// full-stripe and incremental-update paths instead of reimplementing GF
// arithmetic by hand.
func (c *rsCodec) EncodeUpdate(cellBytes int, cellIndex int, diff []byte, parity [][]byte) error {
	if cellIndex < 0 || cellIndex >= c.k {
		return fmt.Errorf("ecmath: cell index %d out of range [0,%d)", cellIndex, c.k)
	}
	if len(parity) != c.p {
		return fmt.Errorf("ecmath: encode_update expects %d parity cells, got %d", c.p, len(parity))
	}
	zeros := make([][]byte, c.k)
	for i := range zeros {
		if i == cellIndex {
			zeros[i] = diff
		} else {
			zeros[i] = make([]byte, cellBytes)
		}
	}
	delta, err := c.Encode(cellBytes, zeros)
	if err != nil {
		return err
	}
	for j := range parity {
		updated, err := XOR(parity[j], delta[j])
		if err != nil {
			return err
		}
		copy(parity[j], updated)
	}
	return nil
}
