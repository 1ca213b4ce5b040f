// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package stat serves a driver's counters and the resources of its clients
// over HTTP, as JSON snapshots or as a WebSocket stream of snapshots.
package stat

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/shmlog/shmlog-go/pkg/client"
	"github.com/shmlog/shmlog-go/pkg/counters"
)

// Counter is one allocated counter.
type Counter struct {
	ID     int32  `json:"id"`
	TypeID int32  `json:"typeId"`
	Label  string `json:"label"`
	Value  int64  `json:"value"`
}

// Snapshot of all counters and registered resources.
type Snapshot struct {
	Timestamp time.Time                        `json:"timestamp"`
	Counters  []Counter                        `json:"counters"`
	Resources map[string][]client.ResourceInfo `json:"resources,omitempty"`
}

// ResourceLister is implemented by client.ClientConductor.
type ResourceLister interface {
	Resources() []client.ResourceInfo
}

// Server exposes snapshots on a mux.Router:
//
//	GET /counters   the current Snapshot
//	GET /ws         a WebSocket pushing a Snapshot every interval
type Server struct {
	router   *mux.Router
	reader   *counters.Reader
	interval time.Duration
	upgrader websocket.Upgrader

	listersMutex sync.Mutex
	listers      map[string]ResourceLister

	stopSyn  chan struct{}
	stopOnce sync.Once
	conns    sync.WaitGroup
}

// NewServer registering its handlers on router.
func NewServer(router *mux.Router, reader *counters.Reader, interval time.Duration) *Server {
	s := &Server{
		router:   router,
		reader:   reader,
		interval: interval,
		upgrader: websocket.Upgrader{},
		listers:  make(map[string]ResourceLister),
		stopSyn:  make(chan struct{}),
	}

	s.router.HandleFunc("/counters", s.handleCounters).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebsocket)

	return s
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint, e.g., /stat.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AddResources adds a named client to the snapshots.
func (s *Server) AddResources(name string, lister ResourceLister) {
	s.listersMutex.Lock()
	defer s.listersMutex.Unlock()
	s.listers[name] = lister
}

// Snapshot of the current state.
func (s *Server) Snapshot() (snapshot Snapshot) {
	snapshot.Timestamp = time.Now()
	snapshot.Counters = []Counter{}

	s.reader.ForEach(func(counterID, typeID int32, label string) {
		snapshot.Counters = append(snapshot.Counters, Counter{
			ID:     counterID,
			TypeID: typeID,
			Label:  label,
			Value:  s.reader.CounterValue(counterID),
		})
	})

	s.listersMutex.Lock()
	defer s.listersMutex.Unlock()

	if len(s.listers) > 0 {
		snapshot.Resources = make(map[string][]client.ResourceInfo, len(s.listers))
		for name, lister := range s.listers {
			resources := lister.Resources()
			sort.Slice(resources, func(i, j int) bool {
				return resources[i].RegistrationID < resources[j].RegistrationID
			})
			snapshot.Resources[name] = resources
		}
	}
	return
}

func (s *Server) handleCounters(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
		log.WithError(err).Warn("Failed to write counters snapshot")
	}
}

// handleWebsocket pushes snapshots until the peer leaves or the server is
// closed.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	s.conns.Add(1)
	defer s.conns.Done()
	defer conn.Close()

	logger := log.WithField("peer", r.RemoteAddr)
	logger.Debug("Stat WebSocket connected")

	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.Snapshot()); err != nil {
			logger.WithError(err).Debug("Writing snapshot failed")
			return
		}

		select {
		case <-ticker.C:
		case <-peerGone:
			logger.Debug("Stat WebSocket peer left")
			return
		case <-s.stopSyn:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "closing"),
				time.Now().Add(time.Second))
			return
		}
	}
}

// Close ends all WebSocket streams and waits for them.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.stopSyn)
	})
	s.conns.Wait()
}
