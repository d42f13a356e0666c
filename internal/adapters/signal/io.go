package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/Live/internal/app"
	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// request is the envelope of every client message.
type request struct {
	Type string          `json:"type"`
	Ack  *int64          `json:"ack,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type errorReply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type ackError struct {
	Error string `json:"error"`
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		t := time.NewTicker(ctl.opts.PingPeriod)
		defer t.Stop()
		ping = t.C
	}
	// A kicked or reaped connection loses its socket here; the read pump then
	// fails and runs the disconnect path.
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump closing")
		c.Close()
		ctl.Orch.OnDisconnect(c.id)
		if ctl.Chat != nil {
			ctl.Chat.Forget(c.id)
		}
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	if ctl.opts.PingPeriod > 0 {
		pongWait := ctl.opts.PingPeriod * 10 / 9
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(ctx, c, data)
	}
}

// handleSignal dispatches one message. A failing handler never takes the
// connection down.
func (ctl *SignalWSController) handleSignal(ctx context.Context, c *WsSignalConn, data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("bad json")
		ctl.sendError(c, "bad_json")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("module", "signal").Str("conn", string(c.id)).Str("type", req.Type).Msg("handler panic")
			ctl.replyErr(c, req, errors.New("internal error"))
		}
	}()

	switch req.Type {
	case "ping":
		ctl.handlePing(c)

	case "requestConnection":
		ctl.handleRequestConnection(c, req)
	case "acceptConnection":
		ctl.handleAcceptConnection(c, req)
	case "rejectConnection":
		ctl.handleRejectConnection(c, req)
	case "cancelConnection":
		ctl.handleCancelConnection(c, req)
	case "joinLiveChat":
		ctl.handleJoinLiveChat(c, req)
	case "leaveLiveChat":
		ctl.handleLeaveLiveChat(c, req)
	case "swapUserData":
		ctl.handleSwapUserData(c, req)
	case "updateTimer":
		ctl.handleUpdateTimer(c, req)
	case "viewableState":
		ctl.handleViewableState(c, req)

	case "initialize":
		ctl.handleInitialize(c, req)
	case "answer":
		ctl.handleAnswer(c, req)
	case "candidate":
		ctl.handleCandidate(c, req)

	case "requestCapabilities":
		ctl.handleRequestCapabilities(ctx, c, req)
	case "fetchCapabilities":
		ctl.handleFetchCapabilities(ctx, c, req)
	case "createProducerTransport":
		ctl.handleCreateProducerTransport(ctx, c, req)
	case "createConsumerTransport":
		ctl.handleCreateConsumerTransport(ctx, c, req)
	case "connectProducer":
		ctl.handleConnectProducer(ctx, c, req)
	case "connectConsumer":
		ctl.handleConnectConsumer(ctx, c, req)
	case "produce":
		ctl.handleProduce(ctx, c, req)
	case "consume":
		ctl.handleConsume(ctx, c, req)
	case "resume":
		ctl.handleResume(ctx, c, req)
	case "startLiveStream":
		ctl.handleStartLiveStream(c, req)
	case "streamerJoin":
		ctl.handleStreamerJoin(c, req)
	case "streamerLeave":
		ctl.handleStreamerLeave(c, req)
	case "getStreamer":
		ctl.handleGetStreamer(c, req)
	case "pauseState":
		ctl.handlePauseState(c, req)
	case "muteState":
		ctl.handleMuteState(c, req)

	case "joinViewer":
		ctl.handleJoinViewer(c, req)
	case "leaveViewer":
		ctl.handleLeaveViewer(c, req)
	case "getViewCount":
		ctl.handleGetViewCount(c, req)

	case "appendChatMessage":
		ctl.handleAppendChatMessage(c, req)
	case "fetchChatMessages":
		ctl.handleFetchChatMessages(c, req)
	case "joinChat":
		ctl.handleJoinChat(c, req)
	case "leaveChat":
		ctl.handleLeaveChat(c, req)
	case "refreshChat":
		ctl.handleRefreshChat(c, req)
	case "typing":
		ctl.handleTyping(c, req)

	case "setStatus":
		ctl.handleSetStatus(c, req)

	default:
		log.Warn().Str("module", "signal").Str("type", req.Type).Msg("unknown signal")
		ctl.sendError(c, "unknown_type")
	}
}

// bind decodes the request payload into v, telling the client when it cannot.
func (ctl *SignalWSController) bind(c *WsSignalConn, req request, v any) bool {
	if len(req.Data) == 0 {
		req.Data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", req.Type).Msg("bad payload")
		ctl.replyErr(c, req, app.ErrValidation)
		return false
	}
	return true
}

// reply acknowledges req with data. Requests without an ack id get nothing.
func (ctl *SignalWSController) reply(c *WsSignalConn, req request, data any) {
	if req.Ack == nil {
		return
	}
	f, err := core.EncodeAck(*req.Ack, data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", req.Type).Msg("encode ack")
		return
	}
	ctl.trySend(c, f)
}

// replyErr reports err as the ack payload when the client waits for one, and
// as an error event otherwise.
func (ctl *SignalWSController) replyErr(c *WsSignalConn, req request, err error) {
	if req.Ack != nil {
		ctl.reply(c, req, ackError{Error: errorCode(err)})
		return
	}
	ctl.sendError(c, errorCode(err))
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code string) {
	ctl.sendJSON(c, errorReply{Type: "error", Error: code})
}

func (ctl *SignalWSController) sendEvent(c *WsSignalConn, typ string, data any) {
	f, err := core.EncodeEvent(typ, data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", typ).Msg("encode event")
		return
	}
	ctl.trySend(c, f)
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	ctl.trySend(c, b)
}

func (ctl *SignalWSController) trySend(c *WsSignalConn, f core.Frame) {
	if err := c.TrySend(f); errors.Is(err, core.ErrBackpressure) {
		log.Warn().Str("module", "signal").Str("conn", string(c.id)).Msg("reply dropped, kicking slow connection")
		ctl.Orch.Kick(c.id)
	}
}

var errorCodes = []struct {
	err  error
	code string
}{
	{app.ErrValidation, "invalid_request"},
	{app.ErrConnectionNotBound, "not_connected"},
	{app.ErrRoomNotFound, "room_not_found"},
	{app.ErrRoomClosed, "room_closed"},
	{app.ErrAlreadyLive, "already_live"},
	{app.ErrNotBroadcaster, "not_broadcaster"},
	{app.ErrTransportNotFound, "transport_not_found"},
	{app.ErrProducerNotFound, "producer_not_found"},
	{app.ErrViewerNotFound, "viewer_not_found"},
	{app.ErrConsumerNotFound, "consumer_not_found"},
	{app.ErrIncompatibleCapabilities, "incompatible_capabilities"},
	{core.ErrUserNotFound, "user_not_found"},
	{core.ErrConversationNotFound, "conversation_not_found"},
	{domain.ErrChatMessageEmpty, "empty_message"},
	{domain.ErrChatMessageTooLong, "message_too_long"},
	{errRateLimited, "rate_limited"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "timeout"},
}

func errorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal_error"
}
