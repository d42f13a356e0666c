package signal

import (
	"github.com/dkeye/Live/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleSetStatus(c *WsSignalConn, req request) {
	var p struct {
		UserID       string              `json:"userId"`
		OnlineStatus domain.OnlineStatus `json:"onlineStatus"`
	}
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.SetStatus(p.UserID, p.OnlineStatus); err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	log.Debug().Str("module", "signal").Str("conn", string(c.id)).Str("status", string(p.OnlineStatus)).Msg("status set")
	ctl.reply(c, req, true)
}

func (ctl *SignalWSController) handleStreamerJoin(c *WsSignalConn, req request) {
	var p roomUserPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.StreamerJoin(c.id, p.RoomID, p.UserID); err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, true)
}

func (ctl *SignalWSController) handleStreamerLeave(c *WsSignalConn, req request) {
	var p roomUserPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.StreamerLeave(c.id, p.RoomID, p.UserID); err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, true)
}

func (ctl *SignalWSController) handleGetStreamer(c *WsSignalConn, req request) {
	var p roomPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	name, err := ctl.Orch.GetStreamer(p.RoomID)
	if err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, name)
}
