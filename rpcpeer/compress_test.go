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
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTripCompressible(t *testing.T) {
	orig := bytes.Repeat([]byte("a"), 256)
	bc := compressCell(orig)
	if bc.Raw {
		t.Fatal("expected a highly repetitive buffer to compress, not fall back to raw")
	}
	got, err := decompressCell(bc)
	if err != nil {
		t.Fatalf("decompressCell: %v", err)
	}
	if !bytes.Equal(got, orig) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(orig))
	}
}

func TestCompressFallsBackToRawOnIncompressibleData(t *testing.T) {
	orig := []byte{0x9c, 0x12, 0x7f, 0x01, 0xee, 0x44, 0x88, 0x3a}
	bc := compressCell(orig)
	if !bc.Raw {
		t.Fatal("expected an incompressible buffer to be carried raw")
	}
	got, err := decompressCell(bc)
	if err != nil {
		t.Fatalf("decompressCell: %v", err)
	}
	if !bytes.Equal(got, orig) {
		t.Fatalf("round trip mismatch: got %x, want %x", got, orig)
	}
}

func TestCompressCellsDecompressCellsRoundTrip(t *testing.T) {
	cells := [][]byte{
		bytes.Repeat([]byte{0xAB}, 64),
		{1, 2, 3, 4},
		{},
	}
	bcs := compressCells(cells)
	got, err := decompressCells(bcs)
	if err != nil {
		t.Fatalf("decompressCells: %v", err)
	}
	if len(got) != len(cells) {
		t.Fatalf("got %d cells, want %d", len(got), len(cells))
	}
	for i := range cells {
		if !bytes.Equal(got[i], cells[i]) {
			t.Fatalf("cell %d: got %x, want %x", i, got[i], cells[i])
		}
	}
}
