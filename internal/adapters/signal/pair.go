package signal

import (
	"encoding/json"

	"github.com/dkeye/Live/internal/domain"
	"github.com/rs/zerolog/log"
)

type pairPayload struct {
	ConnectedUser  string `json:"connectedUser"`
	ConnectingUser string `json:"connectingUser"`
}

type roomUserPayload struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID string        `json:"userId"`
}

func (ctl *SignalWSController) handleRequestConnection(c *WsSignalConn, req request) {
	var p pairPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	token := ctl.Orch.RequestConnection(c.id, p.ConnectedUser, p.ConnectingUser)
	ctl.reply(c, req, map[string]domain.ConnectionToken{"connectionId": token})
}

func (ctl *SignalWSController) handleAcceptConnection(c *WsSignalConn, req request) {
	var p struct {
		ConnectionID   domain.ConnectionToken `json:"connectionId"`
		ConnectingUser string                 `json:"connectingUser"`
	}
	if !ctl.bind(c, req, &p) {
		return
	}
	roomID, ok, err := ctl.Orch.AcceptConnection(c.id, p.ConnectionID)
	if err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	if !ok {
		log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("accept ignored")
		ctl.reply(c, req, map[string]any{"accepted": false})
		return
	}
	ctl.reply(c, req, map[string]any{"accepted": true, "roomId": roomID})
}

func (ctl *SignalWSController) handleRejectConnection(c *WsSignalConn, req request) {
	var p pairPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	ctl.Orch.RejectConnection(c.id, p.ConnectedUser, p.ConnectingUser)
	ctl.reply(c, req, true)
}

func (ctl *SignalWSController) handleCancelConnection(c *WsSignalConn, req request) {
	var p pairPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.CancelConnection(c.id, p.ConnectedUser, p.ConnectingUser); err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, true)
}

func (ctl *SignalWSController) handleJoinLiveChat(c *WsSignalConn, req request) {
	var p roomUserPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.JoinLiveChat(c.id, p.RoomID, p.UserID); err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, true)
}

func (ctl *SignalWSController) handleLeaveLiveChat(c *WsSignalConn, req request) {
	var p roomUserPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.LeaveLiveChat(c.id, p.RoomID, p.UserID); err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, true)
}

func (ctl *SignalWSController) handleSwapUserData(c *WsSignalConn, req request) {
	var p roomUserPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	ctl.Orch.SwapUserData(c.id, p.RoomID, p.UserID)
}

func (ctl *SignalWSController) handleUpdateTimer(c *WsSignalConn, req request) {
	var p struct {
		RoomID domain.RoomID `json:"roomId"`
	}
	if !ctl.bind(c, req, &p) {
		return
	}
	ctl.Orch.ExtendTimer(c.id, p.RoomID)
}

func (ctl *SignalWSController) handleViewableState(c *WsSignalConn, req request) {
	var p struct {
		RoomID domain.RoomID   `json:"roomId"`
		State  json.RawMessage `json:"state"`
	}
	if !ctl.bind(c, req, &p) {
		return
	}
	ctl.Orch.RelayViewableState(c.id, p.RoomID, p.State)
}
