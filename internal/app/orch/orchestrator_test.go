package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Live/internal/app"
	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
)

func TestRequestCapabilities_SecondConnectionGetsAlreadyLive(t *testing.T) {
	h := newHarness(t, "x", "y")

	caps, err := h.o.RequestCapabilities(h.ctx("x"), "x", "r1")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if len(caps.Codecs) == 0 {
		t.Fatal("capabilities must list codecs")
	}
	if _, err := h.o.RequestCapabilities(h.ctx("y"), "y", "r1"); !errors.Is(err, app.ErrAlreadyLive) {
		t.Fatalf("second request err = %v, want %v", err, app.ErrAlreadyLive)
	}
	if n := h.engine.routers.Load(); n != 1 {
		t.Errorf("routers created = %d, want 1", n)
	}
	if got := h.o.LiveRooms(); len(got) != 1 || got[0].Broadcaster != "x" {
		t.Errorf("LiveRooms = %+v", got)
	}
}

func TestRequestCapabilities_ConcurrentFirstCallersCreateOneRouter(t *testing.T) {
	ids := []core.ConnectionID{"a", "b", "c", "d", "e", "f"}
	h := newHarness(t, ids...)
	h.engine.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, live := 0, 0
	for _, id := range ids {
		wg.Add(1)
		go func(id core.ConnectionID) {
			defer wg.Done()
			_, err := h.o.RequestCapabilities(h.ctx(id), id, "r1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, app.ErrAlreadyLive):
				live++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	if ok != 1 || live != len(ids)-1 {
		t.Errorf("ok=%d alreadyLive=%d", ok, live)
	}
	if n := h.engine.routers.Load(); n != 1 {
		t.Errorf("routers created = %d, want 1", n)
	}
}

func TestRequestCapabilities_DuplicateFromBroadcasterSharesRouter(t *testing.T) {
	h := newHarness(t, "x")
	h.engine.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.o.RequestCapabilities(h.ctx("x"), "x", "r1")
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d: %v", i, err)
		}
	}
	if n := h.engine.routers.Load(); n != 1 {
		t.Errorf("routers created = %d, want 1", n)
	}
}

func TestRequestCapabilities_EngineFailureFreesRoom(t *testing.T) {
	h := newHarness(t, "x")
	h.engine.fail = errors.New("worker busy")

	if _, err := h.o.RequestCapabilities(h.ctx("x"), "x", "r1"); err == nil {
		t.Fatal("expected engine error")
	}
	if _, err := h.o.FetchCapabilities(context.Background(), "r1"); !errors.Is(err, app.ErrRoomNotFound) {
		t.Errorf("FetchCapabilities err = %v", err)
	}

	h.engine.fail = nil
	if _, err := h.o.RequestCapabilities(h.ctx("x"), "x", "r1"); err != nil {
		t.Errorf("retry failed: %v", err)
	}
}

func TestValidation(t *testing.T) {
	h := newHarness(t, "x")
	if _, err := h.o.RequestCapabilities(h.ctx("x"), "x", ""); !errors.Is(err, app.ErrValidation) {
		t.Errorf("empty room id err = %v", err)
	}
	if _, err := h.o.JoinViewer("x", ""); !errors.Is(err, app.ErrValidation) {
		t.Errorf("JoinViewer err = %v", err)
	}
	if _, _, err := h.o.AcceptConnection("x", ""); !errors.Is(err, app.ErrValidation) {
		t.Errorf("AcceptConnection err = %v", err)
	}
}

func TestOnlyBroadcasterMayProduce(t *testing.T) {
	h := newHarness(t, "x", "y")
	h.startBroadcast(t, "x", "r1")

	if _, err := h.o.CreateProducerTransport(h.ctx("y"), "y", "r1"); !errors.Is(err, app.ErrNotBroadcaster) {
		t.Errorf("CreateProducerTransport by viewer err = %v", err)
	}
	if _, err := h.o.Produce(h.ctx("y"), "y", "r1", domain.KindVideo, videoParams()); !errors.Is(err, app.ErrNotBroadcaster) {
		t.Errorf("Produce by viewer err = %v", err)
	}
	if _, err := h.o.Produce(h.ctx("x"), "x", "r1", domain.KindAudio, videoParams()); !errors.Is(err, app.ErrValidation) {
		t.Errorf("mismatched kind err = %v", err)
	}
}

func TestConsumeBeforeProducers(t *testing.T) {
	h := newHarness(t, "x", "v")
	if _, err := h.o.RequestCapabilities(h.ctx("x"), "x", "r1"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.o.CreateConsumerTransport(h.ctx("v"), "v", "r1"); err != nil {
		t.Fatal(err)
	}

	_, err := h.o.Consume(h.ctx("v"), "v", "r1", viewerCaps())
	if !errors.Is(err, app.ErrProducerNotFound) {
		t.Fatalf("Consume err = %v, want %v", err, app.ErrProducerNotFound)
	}
	vs, ok := h.o.Registry.Viewer("r1", "v")
	if !ok {
		t.Fatal("viewer session missing")
	}
	if v, a := vs.Consumers(); v != nil || a != nil {
		t.Error("no consumer may be stored")
	}
	// The dispatch path keeps working.
	if _, err := h.o.JoinViewer("v", "r1"); err != nil {
		t.Errorf("JoinViewer after failed consume: %v", err)
	}
}

func TestConsume_AllOrNothing(t *testing.T) {
	h := newHarness(t, "x", "v")
	h.startBroadcast(t, "x", "r1")
	if _, err := h.o.CreateConsumerTransport(h.ctx("v"), "v", "r1"); err != nil {
		t.Fatal(err)
	}

	router := h.engine.router()
	router.mu.Lock()
	router.failConsume = domain.KindAudio
	router.mu.Unlock()

	if _, err := h.o.Consume(h.ctx("v"), "v", "r1", viewerCaps()); !errors.Is(err, errConsumeFailed) {
		t.Fatalf("Consume err = %v", err)
	}
	vs, _ := h.o.Registry.Viewer("r1", "v")
	if v, a := vs.Consumers(); v != nil || a != nil {
		t.Error("a half-created pair must not be stored")
	}
}

func TestConsume_IncompatibleCapabilities(t *testing.T) {
	h := newHarness(t, "x", "v")
	h.startBroadcast(t, "x", "r1")
	if _, err := h.o.CreateConsumerTransport(h.ctx("v"), "v", "r1"); err != nil {
		t.Fatal(err)
	}

	videoOnly := domain.RTPCapabilities{Codecs: []domain.RTPCodec{{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000}}}
	if _, err := h.o.Consume(h.ctx("v"), "v", "r1", videoOnly); !errors.Is(err, app.ErrIncompatibleCapabilities) {
		t.Fatalf("Consume err = %v", err)
	}
	vs, _ := h.o.Registry.Viewer("r1", "v")
	if vs.Transport().(*fakeTransport).consumed.Load() != 0 {
		t.Error("no consumer may be created when either kind is incompatible")
	}
}

func TestFullBroadcastFlow(t *testing.T) {
	h := newHarness(t, "x", "v")
	h.startBroadcast(t, "x", "r1")
	params := h.watch(t, "v", "r1")

	if params.VideoID == "" || params.AudioID == "" || params.VideoProducerID == params.AudioProducerID {
		t.Fatalf("unexpected params %+v", params)
	}
	vs, _ := h.o.Registry.Viewer("r1", "v")
	v, a := vs.Consumers()
	if !v.(*fakeConsumer).resumed.Load() || !a.(*fakeConsumer).resumed.Load() {
		t.Error("both consumers must be resumed")
	}
}

func TestProduceReplacesAndDropsConsumers(t *testing.T) {
	h := newHarness(t, "x", "v")
	h.startBroadcast(t, "x", "r1")
	h.watch(t, "v", "r1")

	vs, _ := h.o.Registry.Viewer("r1", "v")
	oldVideo, oldAudio := vs.Consumers()

	if _, err := h.o.Produce(h.ctx("x"), "x", "r1", domain.KindVideo, videoParams()); err != nil {
		t.Fatal(err)
	}
	if !oldVideo.(*fakeConsumer).isClosed() || !oldAudio.(*fakeConsumer).isClosed() {
		t.Error("consumers of the replaced producer must be closed as a pair")
	}
	if !oldVideo.(*fakeConsumer).producer.(*fakeProducer).isClosed() {
		t.Error("replaced producer must be closed")
	}
	if err := h.o.Resume(h.ctx("v"), "v", "r1"); !errors.Is(err, app.ErrConsumerNotFound) {
		t.Errorf("Resume after replacement err = %v", err)
	}
	h.watch(t, "v", "r1")
}

func TestProducerTransportReplacementDropsConsumers(t *testing.T) {
	h := newHarness(t, "x", "v")
	h.startBroadcast(t, "x", "r1")
	h.watch(t, "v", "r1")

	room, err := h.o.Registry.LiveRoom(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	oldTransport := room.ProducerTransport().(*fakeTransport)
	oldVideo := room.Producer(domain.KindVideo).(*fakeProducer)
	oldAudio := room.Producer(domain.KindAudio).(*fakeProducer)
	vs, _ := h.o.Registry.Viewer("r1", "v")
	vc, ac := vs.Consumers()

	if _, err := h.o.CreateProducerTransport(h.ctx("x"), "x", "r1"); err != nil {
		t.Fatal(err)
	}
	if !oldTransport.isClosed() || !oldVideo.isClosed() || !oldAudio.isClosed() {
		t.Error("old transport and its producers must be closed")
	}
	if room.Producer(domain.KindVideo) != nil || room.Producer(domain.KindAudio) != nil {
		t.Error("room must hold no producers after the transport is replaced")
	}
	if !vc.(*fakeConsumer).isClosed() || !ac.(*fakeConsumer).isClosed() {
		t.Error("consumers of the dropped producers must be closed")
	}
	if v, a := vs.Consumers(); v != nil || a != nil {
		t.Error("viewer still holds consumers of closed producers")
	}
	if err := h.o.Resume(h.ctx("v"), "v", "r1"); !errors.Is(err, app.ErrConsumerNotFound) {
		t.Errorf("Resume after transport replacement err = %v", err)
	}

	// The broadcaster produces again and the viewer can consume anew.
	ctx := h.ctx("x")
	if _, err := h.o.Produce(ctx, "x", "r1", domain.KindVideo, videoParams()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.o.Produce(ctx, "x", "r1", domain.KindAudio, audioParams()); err != nil {
		t.Fatal(err)
	}
	h.watch(t, "v", "r1")
}

func TestConsumerTransportFailureLeavesNoSession(t *testing.T) {
	h := newHarness(t, "x", "v")
	h.startBroadcast(t, "x", "r1")

	errEngine := errors.New("engine down")
	router := h.engine.router()
	router.mu.Lock()
	router.failTransport = errEngine
	router.mu.Unlock()

	if _, err := h.o.CreateConsumerTransport(h.ctx("v"), "v", "r1"); !errors.Is(err, errEngine) {
		t.Fatalf("err = %v, want %v", err, errEngine)
	}
	if _, ok := h.o.Registry.Viewer("r1", "v"); ok {
		t.Error("failed transport creation must not leave a viewer session")
	}

	router.mu.Lock()
	router.failTransport = nil
	router.mu.Unlock()
	h.watch(t, "v", "r1")
}

func TestViewCountBroadcasts(t *testing.T) {
	h := newHarness(t, "x", "v1", "v2", "v3")
	h.startBroadcast(t, "x", "r1")

	for i, v := range []core.ConnectionID{"v1", "v2", "v3"} {
		n, err := h.o.JoinViewer(v, "r1")
		if err != nil {
			t.Fatal(err)
		}
		if n != i+1 {
			t.Errorf("JoinViewer(%s) = %d, want %d", v, n, i+1)
		}
	}

	var counts []int
	for _, ev := range h.conns["x"].events(EvViewCount) {
		var n int
		if err := json.Unmarshal(ev.Data, &n); err != nil {
			t.Fatal(err)
		}
		counts = append(counts, n)
	}
	if len(counts) != 3 || counts[0] != 1 || counts[1] != 2 || counts[2] != 3 {
		t.Errorf("observed counts %v, want [1 2 3]", counts)
	}

	// A repeated join changes nothing and announces nothing.
	if _, err := h.o.JoinViewer("v1", "r1"); err != nil {
		t.Fatal(err)
	}
	if got := len(h.conns["x"].events(EvViewCount)); got != 3 {
		t.Errorf("repeated join announced a count (%d events)", got)
	}
	if h.o.ViewCount("r1") != 3 {
		t.Errorf("ViewCount = %d", h.o.ViewCount("r1"))
	}
}

func TestLeaveViewerNeverJoinedIsNoop(t *testing.T) {
	h := newHarness(t, "x", "v")
	h.o.JoinViewer("x", "r1")
	before := h.conns["x"].count()

	n, err := h.o.LeaveViewer("v", "r1")
	if err != nil || n != 1 {
		t.Errorf("LeaveViewer = %d, %v", n, err)
	}
	if h.conns["x"].count() != before {
		t.Error("leaving a room never joined must not announce anything")
	}
	if n, _ := h.o.LeaveViewer("v", "nowhere"); n != 0 {
		t.Errorf("unknown room count = %d", n)
	}
}

func TestPairingHandshake(t *testing.T) {
	h := newHarness(t, "a", "b", "c")

	token := h.o.RequestConnection("a", "alice", "bob")
	invites := h.conns["b"].events(EvInviteReceived)
	if len(invites) != 1 {
		t.Fatalf("b received %d invites", len(invites))
	}
	var inv Invite
	_ = json.Unmarshal(invites[0].Data, &inv)
	if inv.ConnectionID != token || inv.ConnectedUser != "alice" {
		t.Errorf("invite = %+v", inv)
	}
	if len(h.conns["a"].events(EvInviteReceived)) != 0 {
		t.Error("initiator must not be invited")
	}

	roomID, ok, err := h.o.AcceptConnection("b", token)
	if err != nil || !ok {
		t.Fatalf("accept: ok=%v err=%v", ok, err)
	}
	if string(roomID) == string(token) || len(roomID) != 64 {
		t.Errorf("room id %q must be fresh and 64 hex chars", roomID)
	}
	for _, id := range []core.ConnectionID{"a", "b"} {
		evs := h.conns[id].events(EvSecureConnection)
		if len(evs) != 1 {
			t.Fatalf("%s received %d secureConnection events", id, len(evs))
		}
		var sc SecureConnection
		_ = json.Unmarshal(evs[0].Data, &sc)
		if sc.RoomID != roomID {
			t.Errorf("%s got room %q, want %q", id, sc.RoomID, roomID)
		}
	}

	before := h.conns["c"].count()
	if _, ok, _ := h.o.AcceptConnection("c", token); ok {
		t.Error("second accept must have no effect")
	}
	if h.conns["c"].count() != before || h.o.Groups.Has("c", string(token)) {
		t.Error("second accept leaked state")
	}
}

func TestCancelConnectionPullsRequest(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.o.RequestConnection("a", "alice", "bob")
	if u, _ := h.users.FindByUsername(context.Background(), "alice"); len(u.Requests) != 1 {
		t.Fatalf("requests = %v", u.Requests)
	}
	if err := h.o.CancelConnection("a", "Alice", "bob"); err != nil {
		t.Fatal(err)
	}
	if u, _ := h.users.FindByUsername(context.Background(), "alice"); len(u.Requests) != 0 {
		t.Errorf("requests after cancel = %v", u.Requests)
	}
	if len(h.conns["a"].events(EvConnectionCancelled)) != 1 || len(h.conns["b"].events(EvConnectionCancelled)) != 1 {
		t.Error("cancellation goes to everyone")
	}
}

func TestInitializeOfferExchange(t *testing.T) {
	h := newHarness(t, "a", "b")
	offer := json.RawMessage(`{"sdp":"offer-a"}`)

	ack, err := h.o.Initialize("a", "pair", offer)
	if err != nil || string(ack) != string(offer) {
		t.Fatalf("first initialize ack=%s err=%v", ack, err)
	}
	ack, err = h.o.Initialize("b", "pair", json.RawMessage(`{"sdp":"offer-b"}`))
	if err != nil || ack != nil {
		t.Fatalf("second initialize ack=%s err=%v", ack, err)
	}
	got := h.conns["b"].events(EvInitialized)
	if len(got) != 1 || string(got[0].Data) != string(offer) {
		t.Errorf("b should receive the stored offer, got %+v", got)
	}
}

func TestJoinLiveChatCap(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	for _, id := range []core.ConnectionID{"a", "b"} {
		if err := h.o.JoinLiveChat(id, "call", map[core.ConnectionID]string{"a": "alice", "b": "bob"}[id]); err != nil {
			t.Fatal(err)
		}
	}
	for _, id := range []core.ConnectionID{"a", "b"} {
		if len(h.conns[id].events(EvStartLiveChat)) != 1 {
			t.Errorf("%s must receive startLiveChat", id)
		}
	}
	if h.users.status("alice") != domain.StatusInCall {
		t.Errorf("alice status = %q", h.users.status("alice"))
	}
	if err := h.o.JoinLiveChat("c", "call", "carol"); err != nil {
		t.Fatal(err)
	}
	if len(h.conns["c"].events(EvFullRoom)) != 1 {
		t.Error("third member must get fullRoom")
	}

	h.o.LeaveLiveChat("a", "call", "alice")
	if h.users.status("alice") != domain.StatusActive {
		t.Errorf("alice status after leave = %q", h.users.status("alice"))
	}
	if len(h.conns["b"].events(EvLiveChatDisconnection)) != 1 {
		t.Error("peer must be told about the disconnection")
	}
}

func TestChatRoundTrip(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.o.JoinViewer("b", "r1")

	if _, err := h.o.AppendChatMessage("a", "r1", "alice", "first"); err != nil {
		t.Fatal(err)
	}
	m, err := h.o.AppendChatMessage("a", "r1", "alice", "second")
	if err != nil {
		t.Fatal(err)
	}
	got, _ := h.o.FetchChatMessages("r1")
	if len(got) != 2 || got[0].ID != m.ID {
		t.Fatalf("fetch = %+v, want %s first", got, m.ID)
	}
	if len(h.conns["b"].events(EvChatLog)) != 2 {
		t.Error("room members must receive the log on every append")
	}
	if fresh, _ := h.o.FetchChatMessages("empty"); len(fresh) != 0 {
		t.Error("fetch of unknown room must return an empty log")
	}
}

func TestTypingExcludesSender(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.o.JoinChat("a", "pair")
	h.o.JoinChat("b", "pair")

	h.o.Typing("a", "pair", "alice", true)
	h.o.Typing("a", "pair", "alice", false)
	if len(h.conns["b"].events(EvHasTyped)) != 1 || len(h.conns["b"].events(EvHasNotTyped)) != 1 {
		t.Error("peer must see both typing notices")
	}
	if h.conns["a"].count() != 0 {
		t.Error("sender must not see its own typing notice")
	}
}

func TestStreamerJoinAndLookup(t *testing.T) {
	h := newHarness(t, "x")
	roomID := h.o.StartLiveStream()
	if err := h.o.StreamerJoin("x", roomID, "Alice"); err != nil {
		t.Fatal(err)
	}
	name, err := h.o.GetStreamer(roomID)
	if err != nil || name != "alice" {
		t.Fatalf("GetStreamer = %q, %v", name, err)
	}
	if err := h.o.StreamerLeave("x", roomID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.o.GetStreamer(roomID); !errors.Is(err, core.ErrUserNotFound) {
		t.Errorf("GetStreamer after leave err = %v", err)
	}
}

func TestBroadcasterDisconnectEndsRoom(t *testing.T) {
	h := newHarness(t, "x", "v")
	h.startBroadcast(t, "x", "r1")
	h.watch(t, "v", "r1")
	h.o.JoinViewer("v", "r1")
	router := h.engine.router()
	vs, _ := h.o.Registry.Viewer("r1", "v")
	vc, _ := vs.Consumers()

	h.o.OnDisconnect("x")

	if err := h.o.Resume(h.ctx("v"), "v", "r1"); !errors.Is(err, app.ErrRoomNotFound) {
		t.Fatalf("Resume err = %v, want %v", err, app.ErrRoomNotFound)
	}
	if len(h.conns["v"].events(EvLiveStreamEnded)) != 1 {
		t.Error("viewer must be told the stream ended")
	}
	if !router.isClosed() || !vc.(*fakeConsumer).isClosed() {
		t.Error("router and viewer consumers must be released")
	}
	select {
	case <-h.ctx("x").Done():
	default:
		t.Error("broadcaster context must be cancelled")
	}
	if len(h.o.LiveRooms()) != 0 {
		t.Error("room must be gone")
	}
}

func TestReaperIsIdempotent(t *testing.T) {
	h := newHarness(t, "x", "v", "w")
	h.startBroadcast(t, "x", "r1")
	h.watch(t, "v", "r1")
	h.o.JoinViewer("v", "r1")
	h.o.JoinViewer("w", "r1")

	h.o.OnDisconnect("v")
	frames := h.conns["w"].count()
	count := h.o.ViewCount("r1")
	if count != 1 {
		t.Errorf("count after viewer left = %d, want 1", count)
	}
	if _, ok := h.o.Registry.Viewer("r1", "v"); ok {
		t.Error("viewer session must be removed")
	}

	h.o.OnDisconnect("v")
	if h.conns["w"].count() != frames || h.o.ViewCount("r1") != count {
		t.Error("second reap changed observable state")
	}
	if h.o.Registry.IsBound("v") || len(h.o.Groups.GroupsOf("v")) != 0 {
		t.Error("connection must be fully unbound")
	}
}

func TestBackpressureKicksSlowConnection(t *testing.T) {
	h := newHarness(t, "a", "slow")
	h.o.Policy = app.SimplePolicy{}
	h.o.JoinChat("a", "room")
	h.o.JoinChat("slow", "room")
	h.conns["slow"].full = true

	h.o.Typing("a", "room", "alice", true)
	select {
	case <-h.ctx("slow").Done():
	default:
		t.Fatal("slow connection must be kicked")
	}
	if h.ctx("a").Err() != nil {
		t.Error("healthy connection must stay")
	}
}

type indexStub struct {
	rooms []domain.RoomID
	err   error
}

func (indexStub) SetRoomLive(context.Context, domain.RoomID, core.ConnectionID) error { return nil }
func (indexStub) SetRoomOffline(context.Context, domain.RoomID) error                  { return nil }
func (indexStub) PublishViewCount(context.Context, domain.RoomID, int) error           { return nil }
func (s indexStub) LiveRooms(context.Context) ([]domain.RoomID, error)                 { return s.rooms, s.err }
func (indexStub) Close() error                                                         { return nil }

func TestRemoteLiveRoomsSkipsLocalBroadcasts(t *testing.T) {
	h := newHarness(t, "x")
	h.startBroadcast(t, "x", "r1")

	h.o.Status = indexStub{rooms: []domain.RoomID{"r1", "r2"}}
	got := h.o.RemoteLiveRooms(context.Background())
	if len(got) != 1 || got[0] != "r2" {
		t.Errorf("RemoteLiveRooms = %v, want [r2]", got)
	}

	h.o.Status = indexStub{err: errors.New("index down")}
	if got := h.o.RemoteLiveRooms(context.Background()); len(got) != 0 {
		t.Errorf("failing index listed %v", got)
	}
}
