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

package rpcpeer

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// compressCell lz4-block-compresses one bulk buffer. Parity and data cells
// are typically not very compressible (they're close to random after
// encoding), so an incompressible cell is carried raw rather than padded
// out by the compressor.
func compressCell(b []byte) bulkCell {
	dst := make([]byte, lz4.CompressBlockBound(len(b)))
	var c lz4.Compressor
	n, err := c.CompressBlock(b, dst)
	if err != nil || n == 0 || n >= len(b) {
		return bulkCell{Raw: true, Orig: len(b), Data: append([]byte(nil), b...)}
	}
	return bulkCell{Raw: false, Orig: len(b), Data: dst[:n]}
}

func compressCells(cells [][]byte) []bulkCell {
	out := make([]bulkCell, len(cells))
	for i, c := range cells {
		out[i] = compressCell(c)
	}
	return out
}

func decompressCell(bc bulkCell) ([]byte, error) {
	if bc.Raw {
		return bc.Data, nil
	}
	dst := make([]byte, bc.Orig)
	n, err := lz4.UncompressBlock(bc.Data, dst)
	if err != nil {
		return nil, fmt.Errorf("rpcpeer: lz4 decompress: %w", err)
	}
	return dst[:n], nil
}

func decompressCells(cells []bulkCell) ([][]byte, error) {
	out := make([][]byte, len(cells))
	for i, c := range cells {
		b, err := decompressCell(c)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
