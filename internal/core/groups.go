package core

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Groups is a threadsafe in-memory registry of named connection groups.
// It never closes adapter-owned resources.
type Groups struct {
	mu      sync.RWMutex
	conns   map[ConnectionID]SignalConnection
	members map[string]map[ConnectionID]struct{}
	byConn  map[ConnectionID]map[string]struct{}
}

func NewGroups() *Groups {
	return &Groups{
		conns:   make(map[ConnectionID]SignalConnection),
		members: make(map[string]map[ConnectionID]struct{}),
		byConn:  make(map[ConnectionID]map[string]struct{}),
	}
}

func (g *Groups) Register(id ConnectionID, sc SignalConnection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[id] = sc
	if _, ok := g.byConn[id]; !ok {
		g.byConn[id] = make(map[string]struct{})
	}
}

// Unregister drops the connection and leaves every group it was in.
func (g *Groups) Unregister(id ConnectionID) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	left := make([]string, 0, len(g.byConn[id]))
	for name := range g.byConn[id] {
		g.removeLocked(id, name)
		left = append(left, name)
	}
	delete(g.byConn, id)
	delete(g.conns, id)
	if len(left) > 0 {
		log.Debug().Str("module", "core.groups").Str("conn", string(id)).Strs("groups", left).Msg("left all groups")
	}
	return left
}

// Join adds id to the group. It reports false if id was already a member
// or is not registered.
func (g *Groups) Join(id ConnectionID, name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.joinLocked(id, name)
}

// JoinCapped joins id only while the group holds fewer than limit members.
// size is the group size observed before the call.
func (g *Groups) JoinCapped(id ConnectionID, name string, limit int) (joined bool, size int, member bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	size = len(g.members[name])
	if _, ok := g.members[name][id]; ok {
		return false, size, true
	}
	if size >= limit {
		return false, size, false
	}
	return g.joinLocked(id, name), size, false
}

func (g *Groups) joinLocked(id ConnectionID, name string) bool {
	if _, ok := g.conns[id]; !ok {
		return false
	}
	set, ok := g.members[name]
	if !ok {
		set = make(map[ConnectionID]struct{})
		g.members[name] = set
	}
	if _, ok := set[id]; ok {
		return false
	}
	set[id] = struct{}{}
	g.byConn[id][name] = struct{}{}
	return true
}

func (g *Groups) Leave(id ConnectionID, name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(id, name)
}

func (g *Groups) removeLocked(id ConnectionID, name string) bool {
	set, ok := g.members[name]
	if !ok {
		return false
	}
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(g.members, name)
	}
	if names, ok := g.byConn[id]; ok {
		delete(names, name)
	}
	return true
}

// Drain evicts every member of the group and returns who was in it.
func (g *Groups) Drain(name string) []ConnectionID {
	g.mu.Lock()
	defer g.mu.Unlock()
	set := g.members[name]
	out := make([]ConnectionID, 0, len(set))
	for id := range set {
		out = append(out, id)
		if names, ok := g.byConn[id]; ok {
			delete(names, name)
		}
	}
	delete(g.members, name)
	return out
}

func (g *Groups) Has(id ConnectionID, name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.members[name][id]
	return ok
}

func (g *Groups) Size(name string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members[name])
}

func (g *Groups) GroupsOf(id ConnectionID) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.byConn[id]))
	for name := range g.byConn[id] {
		out = append(out, name)
	}
	return out
}

// SendTo delivers f to a single connection.
func (g *Groups) SendTo(id ConnectionID, f Frame) error {
	g.mu.RLock()
	sc, ok := g.conns[id]
	g.mu.RUnlock()
	if !ok {
		return ErrConnectionClosed
	}
	return sc.TrySend(f)
}

// Emit delivers f to every member of the group except one (pass "" to reach all).
func (g *Groups) Emit(name string, except ConnectionID, f Frame) PublishResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := PublishResult{}
	for id := range g.members[name] {
		if id == except {
			continue
		}
		res.merge(g.sendLocked(id, f))
	}
	log.Debug().Str("module", "core.groups").Str("group", name).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("emit result")
	return res
}

// Broadcast delivers f to every registered connection except one.
func (g *Groups) Broadcast(except ConnectionID, f Frame) PublishResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := PublishResult{}
	for id := range g.conns {
		if id == except {
			continue
		}
		res.merge(g.sendLocked(id, f))
	}
	return res
}

func (g *Groups) sendLocked(id ConnectionID, f Frame) PublishResult {
	sc, ok := g.conns[id]
	if !ok {
		return PublishResult{}
	}
	if err := sc.TrySend(f); err != nil {
		return PublishResult{Dropped: []ConnectionID{id}}
	}
	return PublishResult{SendTo: 1}
}
