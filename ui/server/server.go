// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package server streams the events and statistics of a jobloop.Loop to
// browsers via WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olivere/jobloop"
)

const (
	defaultInterval   = 1 * time.Second
	defaultEventQueue = 1024
)

// Server is a simple web server with a WebSocket backend. It implements
// jobloop.Observer; pass it to jobloop.SetObserver and
// jobloop.SetCollectorObserver.
type Server struct {
	logger   jobloop.Logger
	pool     *jobloop.Pool
	interval time.Duration
	hub      *hub
	events   chan jobloop.Event
	dropped  atomic.Int64

	mu   sync.RWMutex
	loop *jobloop.Loop
}

// ServerOption is an options provider for Server.
type ServerOption func(*Server)

// SetLogger specifies the logger to use.
func SetLogger(logger jobloop.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// SetInterval sets how often the state is broadcast. The default is 1s.
func SetInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// New initializes a new Server reporting on pool, which may be nil.
func New(pool *jobloop.Pool, options ...ServerOption) *Server {
	s := &Server{
		logger:   jobloop.NopLogger(),
		pool:     pool,
		interval: defaultInterval,
		hub:      newHub(),
		events:   make(chan jobloop.Event, defaultEventQueue),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Watch sets the loop whose statistics are reported.
func (srv *Server) Watch(l *jobloop.Loop) {
	srv.mu.Lock()
	srv.loop = l
	srv.mu.Unlock()
}

// Observe queues e for broadcasting. Events are dropped when the queue
// is full.
func (srv *Server) Observe(e jobloop.Event) {
	select {
	case srv.events <- e:
	default:
		srv.dropped.Add(1)
	}
}

// State is the current state of the loop and its pool.
type State struct {
	Type    string             `json:"type"`
	RunID   string             `json:"run,omitempty"`
	Loop    *jobloop.Stats     `json:"loop,omitempty"`
	Pool    *jobloop.PoolStats `json:"pool,omitempty"`
	Dropped int64              `json:"dropped"`
}

// EventMessage wraps a single event sent to the peers.
type EventMessage struct {
	Type  string        `json:"type"`
	Event jobloop.Event `json:"event"`
}

// State returns a snapshot of the current state.
func (srv *Server) State() *State {
	st := &State{Type: "SET_STATE", Dropped: srv.dropped.Load()}
	srv.mu.RLock()
	l := srv.loop
	srv.mu.RUnlock()
	if l != nil {
		st.RunID = l.RunID()
		st.Loop = l.Stats()
	}
	if srv.pool != nil {
		st.Pool = srv.pool.Stats()
	}
	return st
}

// Handler returns the HTTP handler serving /ws, /stats and the static
// files in ./public.
func (srv *Server) Handler() http.Handler {
	r := http.NewServeMux()
	r.HandleFunc("/ws", srv.serveWS)
	r.HandleFunc("/stats", srv.serveStats)
	r.Handle("/", http.FileServer(http.Dir("public")))
	return r
}

func (srv *Server) serveStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(srv.State()); err != nil {
		srv.logger.Printf("server: %v", err)
	}
}

// Run runs the hub and broadcasts events and the periodic state until
// ctx is done.
func (srv *Server) Run(ctx context.Context) {
	go srv.hub.run(ctx)

	t := time.NewTicker(srv.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-srv.events:
			srv.broadcast(&EventMessage{Type: "EVENT", Event: e})
		case <-t.C:
			srv.broadcast(srv.State())
		}
	}
}

func (srv *Server) broadcast(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		srv.logger.Printf("server: %v", err)
		return
	}
	srv.hub.publish(payload)
}

// Serve starts the web server at the given address and shuts it down
// when ctx is done.
func (srv *Server) Serve(ctx context.Context, addr string) error {
	hs := &http.Server{Addr: addr, Handler: srv.Handler()}
	go srv.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errc <- hs.Shutdown(shutdownCtx)
	}()

	if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-errc
}
