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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// Conn wraps one websocket connection to a peer parity shard. A single
// read loop demultiplexes replies by req_id onto per-call channels; writes
// are serialized behind sendmutex the same way the teacher's "websocket"
// builtin guards ws.WriteMessage (scm/network.go).
type Conn struct {
	ws        *websocket.Conn
	sendmutex sync.Mutex
	nextReqID uint64

	pending   sync.Map // reqID -> chan frame
	handler   Handler  // non-nil on the accepting (peer) side
	closeOnce sync.Once
	closed    chan struct{}
}

// Handler is implemented by the peer-side receiver: it installs the
// outcome of an EC_AGGREGATE or EC_REPLICATE request and returns the
// status to reply with.
type Handler interface {
	HandleAggregate(req AggregateReq) (ok bool, err error)
	HandleReplicate(req ReplicateReq) (ok bool, err error)
}

var dialer = websocket.DefaultDialer

// Dial opens a client-side connection to a peer's rpcpeer listener.
func Dial(addr string) (*Conn, error) {
	ws, _, err := dialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("rpcpeer: dial %s: %w", addr, err)
	}
	c := newConn(ws, nil)
	go c.readLoop()
	return c, nil
}

// Accept upgrades an incoming HTTP request to a websocket connection on
// the peer side and starts serving req with handler.
func Accept(w http.ResponseWriter, r *http.Request, handler Handler) (*Conn, error) {
	upgrader := websocket.Upgrader{ReadBufferSize: 1 << 16, WriteBufferSize: 1 << 16}
	upgrader.CheckOrigin = func(*http.Request) bool { return true }
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("rpcpeer: upgrade: %w", err)
	}
	c := newConn(ws, handler)
	go c.readLoop()
	return c, nil
}

func newConn(ws *websocket.Conn, handler Handler) *Conn {
	return &Conn{ws: ws, handler: handler, closed: make(chan struct{})}
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) send(f frame) error {
	c.sendmutex.Lock()
	defer c.sendmutex.Unlock()
	return c.ws.WriteJSON(f)
}

// readLoop demultiplexes inbound frames: replies are routed to the pending
// call that sent the matching req_id, requests (on the accepting side) are
// dispatched to handler and replied to.
func (c *Conn) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			// mirrors the teacher's recover-and-log websocket read loop
			_ = r
		}
		c.Close()
	}()
	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			return
		}
		switch f.Op {
		case opStatus:
			if ch, ok := c.pending.LoadAndDelete(f.ReqID); ok {
				ch.(chan frame) <- f
			}
		case opAggregate:
			c.serveAggregate(f)
		case opReplicate:
			c.serveReplicate(f)
		}
	}
}

func (c *Conn) serveAggregate(f frame) {
	raw, _ := json.Marshal(f.Body)
	var body aggregateWire
	_ = json.Unmarshal(raw, &body)
	req, err := fromAggregateWire(body)
	status := statusWire{OK: true}
	if err != nil {
		status = statusWire{OK: false, Err: err.Error()}
	} else if c.handler != nil {
		ok, herr := c.handler.HandleAggregate(req)
		if herr != nil {
			status = statusWire{OK: false, Err: herr.Error()}
		} else {
			status = statusWire{OK: ok}
		}
	}
	_ = c.send(frame{ReqID: f.ReqID, Op: opStatus, Body: status})
}

func (c *Conn) serveReplicate(f frame) {
	raw, _ := json.Marshal(f.Body)
	var body replicateWire
	_ = json.Unmarshal(raw, &body)
	req, err := fromReplicateWire(body)
	status := statusWire{OK: true}
	if err != nil {
		status = statusWire{OK: false, Err: err.Error()}
	} else if c.handler != nil {
		ok, herr := c.handler.HandleReplicate(req)
		if herr != nil {
			status = statusWire{OK: false, Err: herr.Error()}
		} else {
			status = statusWire{OK: ok}
		}
	}
	_ = c.send(frame{ReqID: f.ReqID, Op: opStatus, Body: status})
}

func (c *Conn) call(op opcode, body interface{}) (statusWire, error) {
	reqID := atomic.AddUint64(&c.nextReqID, 1)
	ch := make(chan frame, 1)
	c.pending.Store(reqID, ch)
	defer c.pending.Delete(reqID)

	if err := c.send(frame{ReqID: reqID, Op: op, Body: body}); err != nil {
		return statusWire{}, err
	}
	select {
	case f := <-ch:
		raw, _ := json.Marshal(f.Body)
		var s statusWire
		if err := json.Unmarshal(raw, &s); err != nil {
			return statusWire{}, err
		}
		return s, nil
	case <-c.closed:
		return statusWire{}, fmt.Errorf("rpcpeer: connection closed while awaiting reply")
	}
}
