package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Live/internal/app"
	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
	"github.com/rs/zerolog/log"
)

// ConsumeParams is what a viewer needs to receive a broadcast.
type ConsumeParams struct {
	VideoID            string               `json:"videoId"`
	AudioID            string               `json:"audioId"`
	VideoProducerID    string               `json:"videoProducerId"`
	AudioProducerID    string               `json:"audioProducerId"`
	VideoRTPParameters domain.RTPParameters `json:"videoRtpParameters"`
	AudioRTPParameters domain.RTPParameters `json:"audioRtpParameters"`
}

// RequestCapabilities opens the broadcast of roomID for conn. The room is
// reserved before the router exists, so concurrent first callers never create
// two routers. A second call by the broadcaster returns the same capabilities;
// any other connection gets ErrAlreadyLive.
func (o *Orchestrator) RequestCapabilities(ctx context.Context, conn core.ConnectionID, roomID domain.RoomID) (domain.RTPCapabilities, error) {
	if roomID == "" {
		return domain.RTPCapabilities{}, app.ErrValidation
	}
	logger := log.With().Str("module", "orch.live").Str("conn", string(conn)).Str("room", string(roomID)).Logger()

	room, created, err := o.Registry.ReserveBroadcast(roomID, conn)
	if err != nil {
		return domain.RTPCapabilities{}, err
	}
	if !created {
		if room.Broadcaster != conn {
			logger.Info().Msg("room already live")
			return domain.RTPCapabilities{}, app.ErrAlreadyLive
		}
		if err := room.Wait(ctx); err != nil {
			return domain.RTPCapabilities{}, err
		}
		router := room.Router()
		if router == nil {
			return domain.RTPCapabilities{}, app.ErrRoomClosed
		}
		return router.Capabilities(), nil
	}

	router, err := o.Engine.CreateRouter(ctx, o.codecs())
	if err == nil && ctx.Err() != nil {
		router.Close()
		router, err = nil, ctx.Err()
	}
	if err != nil {
		_ = o.Registry.CompleteBroadcast(room, nil, err)
		logger.Error().Err(err).Msg("create router failed")
		return domain.RTPCapabilities{}, fmt.Errorf("create router: %w", err)
	}
	if err := o.Registry.CompleteBroadcast(room, router, nil); err != nil {
		return domain.RTPCapabilities{}, err
	}

	o.Groups.Join(conn, string(roomID))
	o.markRoomLive(roomID, conn)
	logger.Info().Str("router", router.ID()).Msg("broadcast created")
	return router.Capabilities(), nil
}

// FetchCapabilities returns the router capabilities of a live room to a viewer.
func (o *Orchestrator) FetchCapabilities(ctx context.Context, roomID domain.RoomID) (domain.RTPCapabilities, error) {
	if roomID == "" {
		return domain.RTPCapabilities{}, app.ErrValidation
	}
	room, err := o.Registry.LiveRoom(ctx, roomID)
	if err != nil {
		return domain.RTPCapabilities{}, err
	}
	router := room.Router()
	if router == nil {
		return domain.RTPCapabilities{}, app.ErrRoomNotFound
	}
	return router.Capabilities(), nil
}

func (o *Orchestrator) broadcasterRoom(ctx context.Context, conn core.ConnectionID, roomID domain.RoomID) (*app.BroadcastRoom, core.Router, error) {
	if roomID == "" {
		return nil, nil, app.ErrValidation
	}
	room, err := o.Registry.LiveRoom(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	if room.Broadcaster != conn {
		return nil, nil, app.ErrNotBroadcaster
	}
	router := room.Router()
	if router == nil {
		return nil, nil, app.ErrRoomClosed
	}
	return room, router, nil
}

func (o *Orchestrator) viewerRoom(ctx context.Context, roomID domain.RoomID) (*app.BroadcastRoom, core.Router, error) {
	if roomID == "" {
		return nil, nil, app.ErrValidation
	}
	room, err := o.Registry.LiveRoom(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	router := room.Router()
	if router == nil {
		return nil, nil, app.ErrRoomNotFound
	}
	return room, router, nil
}

func (o *Orchestrator) CreateProducerTransport(ctx context.Context, conn core.ConnectionID, roomID domain.RoomID) (domain.TransportParams, error) {
	room, router, err := o.broadcasterRoom(ctx, conn, roomID)
	if err != nil {
		return domain.TransportParams{}, err
	}
	t, err := router.CreateTransport(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "orch.live").Str("room", string(roomID)).Msg("create producer transport")
		return domain.TransportParams{}, fmt.Errorf("create producer transport: %w", err)
	}
	if err := ctx.Err(); err != nil {
		t.Close()
		return domain.TransportParams{}, err
	}
	old, stale, err := room.SetProducerTransport(t)
	if err != nil {
		t.Close()
		return domain.TransportParams{}, err
	}
	for _, p := range stale {
		dropped := o.Registry.DropConsumersOf(roomID, p.ID())
		p.Close()
		log.Info().Str("module", "orch.live").Str("room", string(roomID)).Str("kind", string(p.Kind())).Int("viewers", dropped).Msg("producer dropped with transport")
	}
	if old != nil {
		old.Close()
	}
	return t.Params(), nil
}

// CreateConsumerTransport gives conn a receiving transport in roomID and
// joins it to the room group.
func (o *Orchestrator) CreateConsumerTransport(ctx context.Context, conn core.ConnectionID, roomID domain.RoomID) (domain.TransportParams, error) {
	room, router, err := o.viewerRoom(ctx, roomID)
	if err != nil {
		return domain.TransportParams{}, err
	}
	o.Groups.Join(conn, string(roomID))

	t, err := router.CreateTransport(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "orch.live").Str("room", string(roomID)).Str("viewer", string(conn)).Msg("create consumer transport")
		return domain.TransportParams{}, fmt.Errorf("create consumer transport: %w", err)
	}
	if err := ctx.Err(); err != nil {
		t.Close()
		return domain.TransportParams{}, err
	}
	vs, err := o.Registry.EnsureViewer(roomID, conn)
	if err != nil {
		t.Close()
		return domain.TransportParams{}, err
	}
	if err := vs.SetTransport(t); err != nil {
		t.Close()
		o.Registry.PruneViewer(roomID, conn)
		return domain.TransportParams{}, err
	}
	if room.Closed() {
		vs.ReleaseMedia()
		o.Registry.PruneViewer(roomID, conn)
		return domain.TransportParams{}, app.ErrRoomNotFound
	}
	return t.Params(), nil
}

func (o *Orchestrator) ConnectProducer(ctx context.Context, conn core.ConnectionID, roomID domain.RoomID, params domain.ConnectParams) error {
	room, _, err := o.broadcasterRoom(ctx, conn, roomID)
	if err != nil {
		return err
	}
	t := room.ProducerTransport()
	if t == nil {
		return app.ErrTransportNotFound
	}
	if err := t.Connect(ctx, params); err != nil {
		log.Error().Err(err).Str("module", "orch.live").Str("room", string(roomID)).Msg("connect producer transport")
		return fmt.Errorf("connect producer transport: %w", err)
	}
	return nil
}

func (o *Orchestrator) ConnectConsumer(ctx context.Context, conn core.ConnectionID, roomID domain.RoomID, params domain.ConnectParams) error {
	if _, _, err := o.viewerRoom(ctx, roomID); err != nil {
		return err
	}
	vs, ok := o.Registry.Viewer(roomID, conn)
	if !ok {
		return app.ErrViewerNotFound
	}
	t := vs.Transport()
	if t == nil {
		return app.ErrTransportNotFound
	}
	if err := t.Connect(ctx, params); err != nil {
		log.Error().Err(err).Str("module", "orch.live").Str("room", string(roomID)).Str("viewer", string(conn)).Msg("connect consumer transport")
		return fmt.Errorf("connect consumer transport: %w", err)
	}
	return nil
}

// Produce creates the broadcaster's producer of kind. A producer of the same
// kind is replaced; consumers reading from it are closed.
func (o *Orchestrator) Produce(ctx context.Context, conn core.ConnectionID, roomID domain.RoomID, kind domain.MediaKind, params domain.RTPParameters) (string, error) {
	if err := params.Validate(kind); err != nil {
		return "", fmt.Errorf("%w: %v", app.ErrValidation, err)
	}
	room, _, err := o.broadcasterRoom(ctx, conn, roomID)
	if err != nil {
		return "", err
	}
	t := room.ProducerTransport()
	if t == nil {
		return "", app.ErrTransportNotFound
	}

	p, err := t.Produce(ctx, kind, params)
	if err != nil {
		log.Error().Err(err).Str("module", "orch.live").Str("room", string(roomID)).Str("kind", string(kind)).Msg("produce")
		return "", fmt.Errorf("produce %s: %w", kind, err)
	}
	if err := ctx.Err(); err != nil {
		p.Close()
		return "", err
	}
	old, err := room.SetProducer(p)
	if err != nil {
		p.Close()
		return "", err
	}
	if old != nil {
		dropped := o.Registry.DropConsumersOf(roomID, old.ID())
		old.Close()
		log.Info().Str("module", "orch.live").Str("room", string(roomID)).Str("kind", string(kind)).Int("viewers", dropped).Msg("producer replaced")
	}
	return p.ID(), nil
}

// Consume creates the viewer's video and audio consumers, both or neither.
// They start paused until Resume.
func (o *Orchestrator) Consume(ctx context.Context, conn core.ConnectionID, roomID domain.RoomID, caps domain.RTPCapabilities) (ConsumeParams, error) {
	room, router, err := o.viewerRoom(ctx, roomID)
	if err != nil {
		return ConsumeParams{}, err
	}
	video, audio := room.Producer(domain.KindVideo), room.Producer(domain.KindAudio)
	if video == nil || audio == nil {
		return ConsumeParams{}, app.ErrProducerNotFound
	}
	vs, ok := o.Registry.Viewer(roomID, conn)
	if !ok {
		return ConsumeParams{}, app.ErrViewerNotFound
	}
	t := vs.Transport()
	if t == nil {
		return ConsumeParams{}, app.ErrTransportNotFound
	}
	if !router.CanConsume(video.ID(), caps) || !router.CanConsume(audio.ID(), caps) {
		return ConsumeParams{}, app.ErrIncompatibleCapabilities
	}

	vc, err := t.Consume(ctx, video, caps)
	if err != nil {
		log.Error().Err(err).Str("module", "orch.live").Str("room", string(roomID)).Str("viewer", string(conn)).Msg("consume video")
		return ConsumeParams{}, fmt.Errorf("consume video: %w", err)
	}
	ac, err := t.Consume(ctx, audio, caps)
	if err != nil {
		vc.Close()
		log.Error().Err(err).Str("module", "orch.live").Str("room", string(roomID)).Str("viewer", string(conn)).Msg("consume audio")
		return ConsumeParams{}, fmt.Errorf("consume audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		vc.Close()
		ac.Close()
		return ConsumeParams{}, err
	}
	if err := vs.SetConsumers(vc, ac); err != nil {
		vc.Close()
		ac.Close()
		return ConsumeParams{}, err
	}
	if room.Closed() {
		vs.ReleaseMedia()
		return ConsumeParams{}, app.ErrRoomNotFound
	}
	if room.Producer(domain.KindVideo) != video || room.Producer(domain.KindAudio) != audio {
		vs.DropConsumersOf(video.ID())
		vs.DropConsumersOf(audio.ID())
		return ConsumeParams{}, app.ErrProducerNotFound
	}

	vp, ap := vc.Params(), ac.Params()
	return ConsumeParams{
		VideoID:            vc.ID(),
		AudioID:            ac.ID(),
		VideoProducerID:    video.ID(),
		AudioProducerID:    audio.ID(),
		VideoRTPParameters: vp.RTPParameters,
		AudioRTPParameters: ap.RTPParameters,
	}, nil
}

// Resume starts media flowing to the viewer.
func (o *Orchestrator) Resume(ctx context.Context, conn core.ConnectionID, roomID domain.RoomID) error {
	if _, _, err := o.viewerRoom(ctx, roomID); err != nil {
		return err
	}
	vs, ok := o.Registry.Viewer(roomID, conn)
	if !ok {
		return app.ErrViewerNotFound
	}
	video, audio := vs.Consumers()
	if video == nil || audio == nil {
		return app.ErrConsumerNotFound
	}
	for _, c := range []core.Consumer{video, audio} {
		if err := c.Resume(ctx); err != nil {
			log.Error().Err(err).Str("module", "orch.live").Str("room", string(roomID)).Str("consumer", c.ID()).Msg("resume")
			return fmt.Errorf("resume %s: %w", c.Kind(), err)
		}
	}
	return nil
}

// StartLiveStream mints the id of a new broadcast.
func (o *Orchestrator) StartLiveStream() domain.RoomID {
	return domain.NewRoomID()
}

// StreamerJoin marks the user live in roomID.
func (o *Orchestrator) StreamerJoin(conn core.ConnectionID, roomID domain.RoomID, userID string) error {
	if roomID == "" {
		return app.ErrValidation
	}
	o.Groups.Join(conn, string(roomID))
	o.setUserLive(userID, domain.StatusLive, roomID)
	return nil
}

// StreamerLeave ends conn's broadcast of roomID, if any, and notifies viewers.
func (o *Orchestrator) StreamerLeave(conn core.ConnectionID, roomID domain.RoomID, userID string) error {
	if roomID == "" {
		return app.ErrValidation
	}
	o.setUserLive(userID, domain.StatusActive, "")
	if _, err := o.Registry.EndBroadcast(roomID, conn); err == nil {
		o.markRoomOffline(roomID)
	}
	o.emit(string(roomID), conn, EvLiveStreamDisconnected, nil)
	return nil
}

// GetStreamer returns the username broadcasting in roomID.
func (o *Orchestrator) GetStreamer(roomID domain.RoomID) (string, error) {
	if roomID == "" {
		return "", app.ErrValidation
	}
	if o.Users == nil {
		return "", core.ErrUserNotFound
	}
	ctx, cancel := o.storeCtx()
	defer cancel()
	u, err := o.Users.FindByLiveRoom(ctx, roomID)
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// RelayPauseState forwards the broadcaster's pause toggle to the room.
func (o *Orchestrator) RelayPauseState(conn core.ConnectionID, roomID domain.RoomID, paused json.RawMessage) error {
	if roomID == "" {
		return app.ErrValidation
	}
	o.emit(string(roomID), conn, EvPauseState, paused)
	return nil
}

// RelayMuteState forwards the broadcaster's mute toggle to the room.
func (o *Orchestrator) RelayMuteState(conn core.ConnectionID, roomID domain.RoomID, muted json.RawMessage) error {
	if roomID == "" {
		return app.ErrValidation
	}
	o.emit(string(roomID), conn, EvMuteState, muted)
	return nil
}
