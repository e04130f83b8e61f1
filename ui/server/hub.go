// Portions of this code are:
// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import "context"

// hub maintains the set of active connections and broadcasts messages
// to them.
type hub struct {
	conns      map[*connection]struct{}
	broadcast  chan []byte
	register   chan *connection
	unregister chan *connection
	done       chan struct{}
}

func newHub() *hub {
	return &hub{
		conns:      make(map[*connection]struct{}),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *connection),
		unregister: make(chan *connection),
		done:       make(chan struct{}),
	}
}

func (h *hub) run(ctx context.Context) {
	defer func() {
		for c := range h.conns {
			delete(h.conns, c)
			close(c.send)
		}
		close(h.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.conns[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.conns[c]; ok {
				delete(h.conns, c)
				close(c.send)
			}
		case m := <-h.broadcast:
			for c := range h.conns {
				select {
				case c.send <- m:
				default:
					// Slow consumer
					delete(h.conns, c)
					close(c.send)
				}
			}
		}
	}
}

// publish hands m to the hub unless the hub has stopped.
func (h *hub) publish(m []byte) {
	select {
	case h.broadcast <- m:
	case <-h.done:
	}
}

// join registers c; it returns false if the hub has stopped.
func (h *hub) join(c *connection) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *hub) leave(c *connection) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
