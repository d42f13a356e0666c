package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Live/internal/app"
	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
)

type recordedEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type recorder struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (r *recorder) TrySend(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return core.ErrBackpressure
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) Close() {}

func (r *recorder) events(typ string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, f := range r.frames {
		var ev recordedEvent
		if err := json.Unmarshal(f, &ev); err != nil {
			continue
		}
		if typ == "" || ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

type handle struct {
	id     string
	closed atomic.Int32
}

func (h *handle) ID() string     { return h.id }
func (h *handle) Close()         { h.closed.Add(1) }
func (h *handle) isClosed() bool { return h.closed.Load() > 0 }

type fakeEngine struct {
	routers atomic.Int32
	delay   time.Duration
	fail    error

	mu   sync.Mutex
	last *fakeRouter
}

func (e *fakeEngine) CreateRouter(ctx context.Context, codecs []domain.RTPCodec) (core.Router, error) {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.fail != nil {
		return nil, e.fail
	}
	n := e.routers.Add(1)
	r := &fakeRouter{
		handle:    handle{id: fmt.Sprintf("router-%d", n)},
		caps:      domain.RTPCapabilities{Codecs: codecs},
		producers: make(map[string]domain.RTPCodec),
	}
	e.mu.Lock()
	e.last = r
	e.mu.Unlock()
	return r, nil
}

func (e *fakeEngine) router() *fakeRouter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

type fakeRouter struct {
	handle
	caps domain.RTPCapabilities

	mu          sync.Mutex
	producers   map[string]domain.RTPCodec
	transports  []*fakeTransport
	failConsume   domain.MediaKind
	failTransport error
	seq           int
}

func (r *fakeRouter) Capabilities() domain.RTPCapabilities { return r.caps }

func (r *fakeRouter) CreateTransport(context.Context) (core.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTransport != nil {
		return nil, r.failTransport
	}
	r.seq++
	t := &fakeTransport{handle: handle{id: fmt.Sprintf("%s-t%d", r.id, r.seq)}, router: r}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *fakeRouter) CanConsume(producerID string, caps domain.RTPCapabilities) bool {
	r.mu.Lock()
	codec, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	_, ok = caps.Find(codec)
	return ok
}

func (r *fakeRouter) nextID(prefix string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return fmt.Sprintf("%s-%s%d", r.id, prefix, r.seq)
}

type fakeTransport struct {
	handle
	router    *fakeRouter
	connected atomic.Bool
	consumed  atomic.Int32
}

func (t *fakeTransport) Params() domain.TransportParams { return domain.TransportParams{ID: t.id} }

func (t *fakeTransport) Connect(context.Context, domain.ConnectParams) error {
	t.connected.Store(true)
	return nil
}

func (t *fakeTransport) Produce(_ context.Context, kind domain.MediaKind, params domain.RTPParameters) (core.Producer, error) {
	p := &fakeProducer{handle: handle{id: t.router.nextID("p")}, kind: kind}
	t.router.mu.Lock()
	t.router.producers[p.id] = params.Codecs[0]
	t.router.mu.Unlock()
	return p, nil
}

var errConsumeFailed = errors.New("consume failed")

func (t *fakeTransport) Consume(_ context.Context, p core.Producer, _ domain.RTPCapabilities) (core.Consumer, error) {
	t.router.mu.Lock()
	fail := t.router.failConsume
	t.router.mu.Unlock()
	if fail == p.Kind() {
		return nil, errConsumeFailed
	}
	t.consumed.Add(1)
	return &fakeConsumer{handle: handle{id: t.router.nextID("c")}, producer: p}, nil
}

type fakeProducer struct {
	handle
	kind domain.MediaKind
}

func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }

type fakeConsumer struct {
	handle
	producer core.Producer
	resumed  atomic.Bool
}

func (c *fakeConsumer) ProducerID() string     { return c.producer.ID() }
func (c *fakeConsumer) Kind() domain.MediaKind { return c.producer.Kind() }
func (c *fakeConsumer) Params() domain.ConsumerParams {
	return domain.ConsumerParams{ID: c.id, ProducerID: c.producer.ID(), Kind: c.producer.Kind()}
}
func (c *fakeConsumer) Resume(context.Context) error {
	c.resumed.Store(true)
	return nil
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newFakeUsers(names ...string) *fakeUsers {
	u := &fakeUsers{users: make(map[string]*domain.User)}
	for _, n := range names {
		u.users[n] = &domain.User{Username: n, OnlineStatus: domain.StatusActive}
	}
	return u
}

func (f *fakeUsers) get(name string) (*domain.User, error) {
	u, ok := f.users[name]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) FindByUsername(_ context.Context, name string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.get(name)
	if err != nil {
		return nil, err
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) FindByLiveRoom(_ context.Context, roomID domain.RoomID) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.LiveRoomID == roomID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, core.ErrUserNotFound
}

func (f *fakeUsers) UpdateStatus(_ context.Context, name string, status domain.OnlineStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.get(name)
	if err != nil {
		return err
	}
	u.OnlineStatus = status
	return nil
}

func (f *fakeUsers) UpdateLive(_ context.Context, name string, status domain.OnlineStatus, room domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.get(name)
	if err != nil {
		return err
	}
	u.OnlineStatus = status
	u.LiveRoomID = room
	return nil
}

func (f *fakeUsers) PushRequest(_ context.Context, name, requester string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.get(name)
	if err != nil {
		return err
	}
	u.Requests = append(u.Requests, requester)
	return nil
}

func (f *fakeUsers) PullRequest(_ context.Context, name, requester string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.get(name)
	if err != nil {
		return err
	}
	kept := u.Requests[:0]
	for _, r := range u.Requests {
		if r != requester {
			kept = append(kept, r)
		}
	}
	u.Requests = kept
	return nil
}

func (f *fakeUsers) status(name string) domain.OnlineStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[name].OnlineStatus
}

type harness struct {
	o      *Orchestrator
	engine *fakeEngine
	users  *fakeUsers
	conns  map[core.ConnectionID]*recorder
	ctxs   map[core.ConnectionID]context.Context
}

func newHarness(t *testing.T, ids ...core.ConnectionID) *harness {
	t.Helper()
	h := &harness{
		engine: &fakeEngine{},
		users:  newFakeUsers("alice", "bob"),
		conns:  make(map[core.ConnectionID]*recorder),
		ctxs:   make(map[core.ConnectionID]context.Context),
	}
	h.o = &Orchestrator{
		Registry: app.NewRegistry(),
		Groups:   core.NewGroups(),
		Chat:     app.NewChatLogs(),
		Offers:   app.NewOfferBook(),
		Policy:   app.LenientPolicy{},
		Engine:   h.engine,
		Users:    h.users,
	}
	for _, id := range ids {
		h.connect(id)
	}
	return h
}

func (h *harness) connect(id core.ConnectionID) *recorder {
	rec := &recorder{}
	h.conns[id] = rec
	h.ctxs[id] = h.o.OnConnect(context.Background(), id, rec)
	return rec
}

func (h *harness) ctx(id core.ConnectionID) context.Context {
	return h.ctxs[id]
}

func videoParams() domain.RTPParameters {
	return domain.RTPParameters{
		Codecs:    []domain.RTPCodec{{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}},
		Encodings: []domain.RTPEncoding{{SSRC: 1111}},
	}
}

func audioParams() domain.RTPParameters {
	return domain.RTPParameters{
		Codecs:    []domain.RTPCodec{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
		Encodings: []domain.RTPEncoding{{SSRC: 2222}},
	}
}

func viewerCaps() domain.RTPCapabilities {
	return domain.RTPCapabilities{Codecs: domain.DefaultCodecs()}
}

// startBroadcast runs the broadcaster side of the handshake up to both producers.
func (h *harness) startBroadcast(t *testing.T, conn core.ConnectionID, roomID domain.RoomID) {
	t.Helper()
	ctx := h.ctx(conn)
	if _, err := h.o.RequestCapabilities(ctx, conn, roomID); err != nil {
		t.Fatalf("RequestCapabilities: %v", err)
	}
	if _, err := h.o.CreateProducerTransport(ctx, conn, roomID); err != nil {
		t.Fatalf("CreateProducerTransport: %v", err)
	}
	if err := h.o.ConnectProducer(ctx, conn, roomID, domain.ConnectParams{}); err != nil {
		t.Fatalf("ConnectProducer: %v", err)
	}
	if _, err := h.o.Produce(ctx, conn, roomID, domain.KindVideo, videoParams()); err != nil {
		t.Fatalf("Produce video: %v", err)
	}
	if _, err := h.o.Produce(ctx, conn, roomID, domain.KindAudio, audioParams()); err != nil {
		t.Fatalf("Produce audio: %v", err)
	}
}

// watch runs the viewer side of the handshake through resume.
func (h *harness) watch(t *testing.T, conn core.ConnectionID, roomID domain.RoomID) ConsumeParams {
	t.Helper()
	ctx := h.ctx(conn)
	if _, err := h.o.FetchCapabilities(ctx, roomID); err != nil {
		t.Fatalf("FetchCapabilities: %v", err)
	}
	if _, err := h.o.CreateConsumerTransport(ctx, conn, roomID); err != nil {
		t.Fatalf("CreateConsumerTransport: %v", err)
	}
	params, err := h.o.Consume(ctx, conn, roomID, viewerCaps())
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := h.o.ConnectConsumer(ctx, conn, roomID, domain.ConnectParams{}); err != nil {
		t.Fatalf("ConnectConsumer: %v", err)
	}
	if err := h.o.Resume(ctx, conn, roomID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	return params
}
