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

// Package rpcpeer is the Peer Coordinator's transport: the EC_AGGREGATE and
// EC_REPLICATE opcodes of spec.md §6 carried over a websocket connection
// (the teacher's own wire choice, scm/network.go's "websocket" builtin),
// with bulk cell buffers compressed via lz4 before going on the wire.
package rpcpeer

import "github.com/google/uuid"

type opcode uint8

const (
	opAggregate opcode = iota + 1
	opReplicate
	opStatus
)

// frame is the outermost envelope: every message on the connection is one
// JSON frame, Op telling the reader how to unmarshal Body.
type frame struct {
	ReqID uint64      `json:"req_id"`
	Op    opcode      `json:"op"`
	Body  interface{} `json:"body"`
}

// bulkCell is one lz4-compressed (or, if incompressible, raw) buffer.
type bulkCell struct {
	Raw  bool   `json:"raw"`
	Orig int    `json:"orig"`
	Data []byte `json:"data"`
}

// aggregateWire is the EC_AGGREGATE request body of spec.md §6.
type aggregateWire struct {
	PoolUUID    uuid.UUID  `json:"pool_uuid"`
	PoolHdlUUID uuid.UUID  `json:"pool_hdl_uuid"`
	ContUUID    uuid.UUID  `json:"cont_uuid"`
	ContHdlUUID uuid.UUID  `json:"cont_hdl_uuid"`
	OIDHi       uint64     `json:"oid_hi"`
	OIDLo       uint64     `json:"oid_lo"`
	Dkey        string     `json:"dkey"`
	Akey        string     `json:"akey"`
	RecSize     int        `json:"rsize"`
	Epoch       uint64     `json:"epoch"`
	Stripenum   uint64     `json:"stripenum"`
	MapVersion  uint32     `json:"map_version"`
	PriorLen    uint64     `json:"prior_len"`
	AfterLen    uint64     `json:"after_len"`
	Bulk        []bulkCell `json:"bulk"`
}

// wireExtent is the over-the-wire form of vos.Extent used in EC_REPLICATE's
// recx list.
type wireExtent struct {
	Index uint64 `json:"index"`
	Count uint64 `json:"count"`
}

// replicateWire is the EC_REPLICATE request body of spec.md §6.
type replicateWire struct {
	PoolUUID    uuid.UUID    `json:"pool_uuid"`
	PoolHdlUUID uuid.UUID    `json:"pool_hdl_uuid"`
	ContUUID    uuid.UUID    `json:"cont_uuid"`
	ContHdlUUID uuid.UUID    `json:"cont_hdl_uuid"`
	OIDHi       uint64       `json:"oid_hi"`
	OIDLo       uint64       `json:"oid_lo"`
	Dkey        string       `json:"dkey"`
	Akey        string       `json:"akey"`
	Recx        []wireExtent `json:"recx"`
	Stripenum   uint64       `json:"stripenum"`
	Epoch       uint64       `json:"epoch"`
	MapVersion  uint32       `json:"map_version"`
	Bulk        []bulkCell   `json:"bulk"`
}

// statusWire is the shared {status} reply body.
type statusWire struct {
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
}
