package app

import (
	"context"
	"time"

	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
	"github.com/rs/zerolog/log"
)

// ReserveBroadcast returns the broadcast of roomID, reserving it for conn when
// the room has none. created reports whether this call made the reservation;
// the caller then owns CompleteBroadcast.
func (r *Registry) ReserveBroadcast(roomID domain.RoomID, conn core.ConnectionID) (room *BroadcastRoom, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn]; !ok {
		return nil, false, ErrConnectionNotBound
	}
	st := r.stageLocked(roomID)
	if st.live != nil {
		return st.live, false, nil
	}
	st.live = newBroadcastRoom(roomID, conn)
	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("conn", string(conn)).Msg("broadcast reserved")
	return st.live, true, nil
}

// CompleteBroadcast settles a reservation with the router creation outcome.
// A failed reservation is withdrawn so a later request may retry.
func (r *Registry) CompleteBroadcast(room *BroadcastRoom, router core.Router, err error) error {
	if err != nil {
		r.mu.Lock()
		if st, ok := r.stages[room.ID]; ok && st.live == room {
			st.live = nil
			r.pruneLocked(st)
		}
		r.mu.Unlock()
		room.settle(nil, err)
		return err
	}
	if !room.settle(router, nil) {
		router.Close()
		return ErrRoomClosed
	}
	return nil
}

// LiveRoom returns the settled broadcast of roomID.
func (r *Registry) LiveRoom(ctx context.Context, roomID domain.RoomID) (*BroadcastRoom, error) {
	r.mu.RLock()
	var room *BroadcastRoom
	if st, ok := r.stages[roomID]; ok {
		room = st.live
	}
	r.mu.RUnlock()
	if room == nil {
		return nil, ErrRoomNotFound
	}
	if err := room.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// IsLive reports whether roomID has a broadcast, settled or not.
func (r *Registry) IsLive(roomID domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stages[roomID]
	return ok && st.live != nil
}

// EndBroadcast removes the broadcast of roomID if conn runs it and releases
// its media along with the media of its viewers.
func (r *Registry) EndBroadcast(roomID domain.RoomID, conn core.ConnectionID) (*BroadcastRoom, error) {
	r.mu.Lock()
	st, ok := r.stages[roomID]
	if !ok || st.live == nil {
		r.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	if st.live.Broadcaster != conn {
		r.mu.Unlock()
		return nil, ErrNotBroadcaster
	}
	room, viewers := r.detachLocked(st)
	r.mu.Unlock()

	releaseBroadcast(room, viewers)
	return room, nil
}

// RemoveBroadcastsOf ends every broadcast conn runs.
func (r *Registry) RemoveBroadcastsOf(conn core.ConnectionID) []*BroadcastRoom {
	var rooms []*BroadcastRoom
	var viewers [][]*ViewerSession
	r.mu.Lock()
	for _, st := range r.stages {
		if st.live == nil || st.live.Broadcaster != conn {
			continue
		}
		room, vs := r.detachLocked(st)
		rooms = append(rooms, room)
		viewers = append(viewers, vs)
	}
	r.mu.Unlock()

	for i, room := range rooms {
		releaseBroadcast(room, viewers[i])
	}
	return rooms
}

func (r *Registry) detachLocked(st *Stage) (*BroadcastRoom, []*ViewerSession) {
	room := st.live
	room.shut()
	st.live = nil
	viewers := make([]*ViewerSession, 0, len(st.viewers))
	for _, vs := range st.viewers {
		viewers = append(viewers, vs)
	}
	r.pruneLocked(st)
	return room, viewers
}

// releaseBroadcast closes viewer media before the producers they read from.
func releaseBroadcast(room *BroadcastRoom, viewers []*ViewerSession) {
	for _, vs := range viewers {
		vs.ReleaseMedia()
	}
	room.release()
}

// DropConsumersOf closes every viewer consumer pair of roomID that reads from
// producerID.
func (r *Registry) DropConsumersOf(roomID domain.RoomID, producerID string) int {
	r.mu.RLock()
	var sessions []*ViewerSession
	if st, ok := r.stages[roomID]; ok {
		for _, vs := range st.viewers {
			sessions = append(sessions, vs)
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, vs := range sessions {
		if vs.DropConsumersOf(producerID) {
			n++
		}
	}
	return n
}

// EnsureViewer returns conn's session in roomID, creating it when missing.
func (r *Registry) EnsureViewer(roomID domain.RoomID, conn core.ConnectionID) (*ViewerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn]; !ok {
		return nil, ErrConnectionNotBound
	}
	st := r.stageLocked(roomID)
	vs, ok := st.viewers[conn]
	if !ok {
		vs = newViewerSession(roomID, conn)
		st.viewers[conn] = vs
	}
	return vs, nil
}

// PruneViewer removes conn's session in roomID when it neither watches nor
// holds media. Reports whether it was removed.
func (r *Registry) PruneViewer(roomID domain.RoomID, conn core.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stages[roomID]
	if !ok {
		return false
	}
	vs, ok := st.viewers[conn]
	if !ok || vs.watching || vs.hasMedia() {
		return false
	}
	delete(st.viewers, conn)
	r.pruneLocked(st)
	return true
}

func (r *Registry) Viewer(roomID domain.RoomID, conn core.ConnectionID) (*ViewerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stages[roomID]
	if !ok {
		return nil, false
	}
	vs, ok := st.viewers[conn]
	return vs, ok
}

// SetWatching flips whether conn counts as a viewer of roomID. changed is
// false when the flag already had that value; count is the room's view count
// afterwards.
func (r *Registry) SetWatching(roomID domain.RoomID, conn core.ConnectionID, watching bool) (changed bool, count int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if watching {
		if _, ok := r.conns[conn]; !ok {
			return false, 0, ErrConnectionNotBound
		}
		st := r.stageLocked(roomID)
		vs, ok := st.viewers[conn]
		if !ok {
			vs = newViewerSession(roomID, conn)
			st.viewers[conn] = vs
		}
		changed = !vs.watching
		vs.watching = true
		return changed, st.watching(), nil
	}

	st, ok := r.stages[roomID]
	if !ok {
		return false, 0, nil
	}
	vs, ok := st.viewers[conn]
	if ok && vs.watching {
		changed = true
		vs.watching = false
		if !vs.hasMedia() {
			delete(st.viewers, conn)
		}
	}
	count = st.watching()
	r.pruneLocked(st)
	return changed, count, nil
}

// ViewerRemoval describes one room a departing connection was part of.
type ViewerRemoval struct {
	RoomID      domain.RoomID
	WasWatching bool
	Count       int
}

// RemoveViewerEverywhere drops every session of conn and releases its media.
func (r *Registry) RemoveViewerEverywhere(conn core.ConnectionID) []ViewerRemoval {
	var out []ViewerRemoval
	var sessions []*ViewerSession
	r.mu.Lock()
	for _, st := range r.stages {
		vs, ok := st.viewers[conn]
		if !ok {
			continue
		}
		delete(st.viewers, conn)
		sessions = append(sessions, vs)
		out = append(out, ViewerRemoval{RoomID: st.ID, WasWatching: vs.watching, Count: st.watching()})
		r.pruneLocked(st)
	}
	r.mu.Unlock()

	for _, vs := range sessions {
		vs.close()
	}
	return out
}

// Count is the number of viewers watching roomID.
func (r *Registry) Count(roomID domain.RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.stages[roomID]; ok {
		return st.watching()
	}
	return 0
}

// LiveRoomInfo is a snapshot of one live broadcast.
type LiveRoomInfo struct {
	RoomID      domain.RoomID     `json:"roomId"`
	Broadcaster core.ConnectionID `json:"-"`
	Viewers     int               `json:"viewers"`
	Since       time.Time         `json:"since"`
}

// LiveRooms lists the broadcasts currently known.
func (r *Registry) LiveRooms() []LiveRoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LiveRoomInfo, 0, len(r.stages))
	for _, st := range r.stages {
		if st.live == nil {
			continue
		}
		out = append(out, LiveRoomInfo{
			RoomID:      st.ID,
			Broadcaster: st.live.Broadcaster,
			Viewers:     st.watching(),
			Since:       st.live.CreatedAt,
		})
	}
	return out
}
