package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
	"github.com/rs/zerolog/log"
)

// Stage holds everything the registry knows about one room id.
type Stage struct {
	ID      domain.RoomID
	live    *BroadcastRoom
	viewers map[core.ConnectionID]*ViewerSession
}

func newStage(id domain.RoomID) *Stage {
	return &Stage{ID: id, viewers: make(map[core.ConnectionID]*ViewerSession)}
}

func (s *Stage) empty() bool {
	return s.live == nil && len(s.viewers) == 0
}

func (s *Stage) watching() int {
	n := 0
	for _, vs := range s.viewers {
		if vs.watching {
			n++
		}
	}
	return n
}

// BroadcastRoom is a live broadcast. It is visible as soon as it is reserved;
// the router arrives later and Wait blocks until it does.
type BroadcastRoom struct {
	ID          domain.RoomID
	Broadcaster core.ConnectionID
	CreatedAt   time.Time

	ready     chan struct{}
	readyOnce sync.Once

	mu                sync.RWMutex
	err               error
	closed            bool
	router            core.Router
	producerTransport core.Transport
	producers         map[domain.MediaKind]core.Producer
}

func newBroadcastRoom(id domain.RoomID, broadcaster core.ConnectionID) *BroadcastRoom {
	return &BroadcastRoom{
		ID:          id,
		Broadcaster: broadcaster,
		CreatedAt:   time.Now(),
		ready:       make(chan struct{}),
		producers:   make(map[domain.MediaKind]core.Producer),
	}
}

func (b *BroadcastRoom) markReady() {
	b.readyOnce.Do(func() { close(b.ready) })
}

// Wait blocks until the router is settled. It returns ErrRoomClosed when the
// broadcast ended and the creation error when the router never came up.
func (b *BroadcastRoom) Wait(ctx context.Context) error {
	select {
	case <-b.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrRoomClosed
	}
	return b.err
}

func (b *BroadcastRoom) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *BroadcastRoom) Router() core.Router {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.router
}

func (b *BroadcastRoom) ProducerTransport() core.Transport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.producerTransport
}

// SetProducerTransport installs t. The transport it replaces is returned
// together with the producers created on it; the caller drops their consumers
// and closes them.
func (b *BroadcastRoom) SetProducerTransport(t core.Transport) (old core.Transport, stale []core.Producer, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrRoomClosed
	}
	old = b.producerTransport
	if old != nil {
		for kind, p := range b.producers {
			stale = append(stale, p)
			delete(b.producers, kind)
		}
	}
	b.producerTransport = t
	return old, stale, nil
}

func (b *BroadcastRoom) Producer(kind domain.MediaKind) core.Producer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.producers[kind]
}

// SetProducer records p as the room's producer for its kind and returns the
// producer it replaces, which the caller must close.
func (b *BroadcastRoom) SetProducer(p core.Producer) (core.Producer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrRoomClosed
	}
	old := b.producers[p.Kind()]
	b.producers[p.Kind()] = p
	return old, nil
}

// ProducerByID looks a producer up by its engine id.
func (b *BroadcastRoom) ProducerByID(id string) (core.Producer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.producers {
		if p.ID() == id {
			return p, true
		}
	}
	return nil, false
}

// settle records the router creation outcome. Reports false when the room was
// closed meanwhile; the router is then not adopted.
func (b *BroadcastRoom) settle(router core.Router, err error) bool {
	b.mu.Lock()
	ok := !b.closed
	if ok {
		b.router = router
		b.err = err
	}
	b.mu.Unlock()
	b.markReady()
	return ok
}

// shut marks the room closed. Handles installed afterwards are refused.
func (b *BroadcastRoom) shut() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.markReady()
}

// release shuts the room and closes every media handle. Safe to call more
// than once.
func (b *BroadcastRoom) release() {
	b.shut()
	b.mu.Lock()
	producers := b.producers
	b.producers = make(map[domain.MediaKind]core.Producer)
	transport := b.producerTransport
	b.producerTransport = nil
	router := b.router
	b.router = nil
	b.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	if transport != nil {
		transport.Close()
	}
	if router == nil {
		return
	}
	router.Close()
	log.Info().Str("module", "app.stage").Str("room", string(b.ID)).Int("producers", len(producers)).Msg("broadcast released")
}

// ViewerSession is one connection's relationship to one room: whether it is
// counted as watching and the media it receives. watching is guarded by the
// registry lock, the media handles by mu.
type ViewerSession struct {
	Viewer   core.ConnectionID
	RoomID   domain.RoomID
	JoinedAt time.Time

	watching bool

	mu        sync.Mutex
	closed    bool
	transport core.Transport
	video     core.Consumer
	audio     core.Consumer
}

func newViewerSession(roomID domain.RoomID, viewer core.ConnectionID) *ViewerSession {
	return &ViewerSession{Viewer: viewer, RoomID: roomID, JoinedAt: time.Now()}
}

func (s *ViewerSession) Transport() core.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// SetTransport installs t, closing the previous transport and its consumers.
func (s *ViewerSession) SetTransport(t core.Transport) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrViewerNotFound
	}
	oldT, oldV, oldA := s.transport, s.video, s.audio
	s.transport, s.video, s.audio = t, nil, nil
	s.mu.Unlock()

	closeConsumers(oldV, oldA)
	if oldT != nil {
		oldT.Close()
	}
	return nil
}

// SetConsumers installs a consumer pair, replacing any previous pair.
func (s *ViewerSession) SetConsumers(video, audio core.Consumer) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrViewerNotFound
	}
	oldV, oldA := s.video, s.audio
	s.video, s.audio = video, audio
	s.mu.Unlock()

	closeConsumers(oldV, oldA)
	return nil
}

func (s *ViewerSession) Consumers() (video, audio core.Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video, s.audio
}

// Consumer finds a consumer of this session by id.
func (s *ViewerSession) Consumer(id string) (core.Consumer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range []core.Consumer{s.video, s.audio} {
		if c != nil && c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// DropConsumersOf closes the consumer pair when either consumer reads from
// producerID. Reports whether anything was dropped.
func (s *ViewerSession) DropConsumersOf(producerID string) bool {
	s.mu.Lock()
	v, a := s.video, s.audio
	hit := (v != nil && v.ProducerID() == producerID) || (a != nil && a.ProducerID() == producerID)
	if hit {
		s.video, s.audio = nil, nil
	}
	s.mu.Unlock()
	if hit {
		closeConsumers(v, a)
	}
	return hit
}

// ReleaseMedia closes the transport and consumers but keeps the session.
func (s *ViewerSession) ReleaseMedia() {
	s.mu.Lock()
	t, v, a := s.transport, s.video, s.audio
	s.transport, s.video, s.audio = nil, nil, nil
	s.mu.Unlock()

	closeConsumers(v, a)
	if t != nil {
		t.Close()
	}
}

func (s *ViewerSession) hasMedia() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil || s.video != nil || s.audio != nil
}

func (s *ViewerSession) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ReleaseMedia()
}

func closeConsumers(cs ...core.Consumer) {
	for _, c := range cs {
		if c != nil {
			c.Close()
		}
	}
}
