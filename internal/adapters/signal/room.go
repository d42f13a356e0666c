package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/Live/internal/app"
	"github.com/dkeye/Live/internal/app/orch"
	"github.com/dkeye/Live/internal/domain"
	"github.com/rs/zerolog/log"
)

type roomPayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

type connectPayload struct {
	RoomID domain.RoomID `json:"roomId"`
	domain.ConnectParams
}

func (ctl *SignalWSController) handleRequestCapabilities(ctx context.Context, c *WsSignalConn, req request) {
	var p roomPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	caps, err := ctl.Orch.RequestCapabilities(ctx, c.id, p.RoomID)
	if errors.Is(err, app.ErrAlreadyLive) {
		ctl.sendEvent(c, orch.EvAlreadyLive, p)
		ctl.replyErr(c, req, err)
		return
	}
	if err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, map[string]any{"rtpCapabilities": caps})
}

func (ctl *SignalWSController) handleFetchCapabilities(ctx context.Context, c *WsSignalConn, req request) {
	var p roomPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	caps, err := ctl.Orch.FetchCapabilities(ctx, p.RoomID)
	if errors.Is(err, app.ErrRoomNotFound) {
		ctl.sendEvent(c, orch.EvNoSuchRoom, p)
		ctl.replyErr(c, req, err)
		return
	}
	if err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, map[string]any{"rtpCapabilities": caps})
}

func (ctl *SignalWSController) handleCreateProducerTransport(ctx context.Context, c *WsSignalConn, req request) {
	var p roomPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	params, err := ctl.Orch.CreateProducerTransport(ctx, c.id, p.RoomID)
	if err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, map[string]any{"params": params})
}

func (ctl *SignalWSController) handleCreateConsumerTransport(ctx context.Context, c *WsSignalConn, req request) {
	var p roomPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	params, err := ctl.Orch.CreateConsumerTransport(ctx, c.id, p.RoomID)
	if err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, map[string]any{"params": params})
}

func (ctl *SignalWSController) handleConnectProducer(ctx context.Context, c *WsSignalConn, req request) {
	var p connectPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.ConnectProducer(ctx, c.id, p.RoomID, p.ConnectParams); err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, struct{}{})
}

func (ctl *SignalWSController) handleConnectConsumer(ctx context.Context, c *WsSignalConn, req request) {
	var p connectPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.ConnectConsumer(ctx, c.id, p.RoomID, p.ConnectParams); err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, struct{}{})
}

func (ctl *SignalWSController) handleProduce(ctx context.Context, c *WsSignalConn, req request) {
	var p struct {
		RoomID        domain.RoomID        `json:"roomId"`
		Kind          domain.MediaKind     `json:"kind"`
		RTPParameters domain.RTPParameters `json:"rtpParameters"`
	}
	if !ctl.bind(c, req, &p) {
		return
	}
	id, err := ctl.Orch.Produce(ctx, c.id, p.RoomID, p.Kind, p.RTPParameters)
	if err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, map[string]string{"id": id})
}

// handleConsume answers failures inside params, where viewers look for them.
func (ctl *SignalWSController) handleConsume(ctx context.Context, c *WsSignalConn, req request) {
	var p struct {
		RoomID          domain.RoomID          `json:"roomId"`
		RTPCapabilities domain.RTPCapabilities `json:"rtpCapabilities"`
	}
	if !ctl.bind(c, req, &p) {
		return
	}
	params, err := ctl.Orch.Consume(ctx, c.id, p.RoomID, p.RTPCapabilities)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("room", string(p.RoomID)).Msg("consume")
		ctl.reply(c, req, map[string]any{"params": ackError{Error: errorCode(err)}})
		return
	}
	ctl.reply(c, req, map[string]orch.ConsumeParams{"params": params})
}

func (ctl *SignalWSController) handleResume(ctx context.Context, c *WsSignalConn, req request) {
	var p roomPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.Resume(ctx, c.id, p.RoomID); err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, true)
}

func (ctl *SignalWSController) handleStartLiveStream(c *WsSignalConn, req request) {
	ctl.reply(c, req, map[string]domain.RoomID{"roomId": ctl.Orch.StartLiveStream()})
}

func (ctl *SignalWSController) handlePauseState(c *WsSignalConn, req request) {
	var p struct {
		RoomID domain.RoomID   `json:"roomId"`
		Paused json.RawMessage `json:"paused"`
	}
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.RelayPauseState(c.id, p.RoomID, p.Paused); err != nil {
		ctl.replyErr(c, req, err)
	}
}

func (ctl *SignalWSController) handleMuteState(c *WsSignalConn, req request) {
	var p struct {
		RoomID domain.RoomID   `json:"roomId"`
		Muted  json.RawMessage `json:"muted"`
	}
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.RelayMuteState(c.id, p.RoomID, p.Muted); err != nil {
		ctl.replyErr(c, req, err)
	}
}
