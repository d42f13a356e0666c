package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Signal   core.SignalConnection
	Cancel   context.CancelFunc
	OpenedAt time.Time
}

// Registry is the session registry: open connections and, per room id, the
// broadcast room and viewer sessions. Structural changes happen under mu;
// media handles are guarded by the rooms and sessions themselves.
// Lock order: Registry.mu before BroadcastRoom.mu or ViewerSession.mu.
type Registry struct {
	mu     sync.RWMutex
	conns  map[core.ConnectionID]*connEntry
	stages map[domain.RoomID]*Stage
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[core.ConnectionID]*connEntry),
		stages: make(map[domain.RoomID]*Stage),
	}
}

// BindConnection registers a connection. The returned context is cancelled
// when the connection is unbound, abandoning engine work issued on its behalf.
func (r *Registry) BindConnection(id core.ConnectionID, sc core.SignalConnection, parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[id]; ok && old.Cancel != nil {
		old.Cancel()
	}
	r.conns[id] = &connEntry{Signal: sc, Cancel: cancel, OpenedAt: time.Now()}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("bound connection")
	return ctx
}

func (r *Registry) IsBound(id core.ConnectionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Cancel aborts the connection's context without unbinding it. The adapter
// notices, closes the socket and the disconnect path unbinds.
func (r *Registry) Cancel(id core.ConnectionID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}

// Unbind cancels and forgets the connection. Reports whether it was bound.
func (r *Registry) Unbind(id core.ConnectionID) bool {
	r.mu.Lock()
	e, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Dur("open", time.Since(e.OpenedAt)).Msg("unbind connection")
	return true
}

// Close cancels and closes every connection and releases every media handle.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := r.conns
	stages := r.stages
	r.conns = make(map[core.ConnectionID]*connEntry)
	r.stages = make(map[domain.RoomID]*Stage)
	r.mu.Unlock()

	for _, e := range conns {
		if e.Cancel != nil {
			e.Cancel()
		}
		if e.Signal != nil {
			e.Signal.Close()
		}
	}
	for _, st := range stages {
		for _, vs := range st.viewers {
			vs.close()
		}
		if st.live != nil {
			st.live.release()
		}
	}
	log.Info().Str("module", "app.registry").Int("connections", len(conns)).Int("rooms", len(stages)).Msg("registry closed")
}

func (r *Registry) stageLocked(roomID domain.RoomID) *Stage {
	st, ok := r.stages[roomID]
	if !ok {
		st = newStage(roomID)
		r.stages[roomID] = st
	}
	return st
}

func (r *Registry) pruneLocked(st *Stage) {
	if st.empty() {
		delete(r.stages, st.ID)
	}
}
