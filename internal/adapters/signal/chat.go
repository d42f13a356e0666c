package signal

import (
	"github.com/dkeye/Live/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleAppendChatMessage(c *WsSignalConn, req request) {
	var p struct {
		RoomID  domain.RoomID `json:"roomId"`
		Author  string        `json:"author"`
		Message string        `json:"message"`
	}
	if !ctl.bind(c, req, &p) {
		return
	}
	if ctl.Chat != nil && !ctl.Chat.Allow(c.id) {
		log.Warn().Str("module", "signal").Str("conn", string(c.id)).Str("room", string(p.RoomID)).Msg("chat rate limited")
		ctl.replyErr(c, req, errRateLimited)
		return
	}
	msg, err := ctl.Orch.AppendChatMessage(c.id, p.RoomID, p.Author, p.Message)
	if err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, msg)
}

func (ctl *SignalWSController) handleFetchChatMessages(c *WsSignalConn, req request) {
	var p roomPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	msgs, err := ctl.Orch.FetchChatMessages(p.RoomID)
	if err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, msgs)
}

func (ctl *SignalWSController) handleJoinChat(c *WsSignalConn, req request) {
	var p roomPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.JoinChat(c.id, p.RoomID); err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, true)
}

func (ctl *SignalWSController) handleLeaveChat(c *WsSignalConn, req request) {
	var p roomPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.LeaveChat(c.id, p.RoomID); err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, true)
}

func (ctl *SignalWSController) handleRefreshChat(c *WsSignalConn, req request) {
	var p struct {
		RoomID domain.RoomID `json:"roomId"`
		Model  string        `json:"model"`
		Fan    string        `json:"fan"`
	}
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.RefreshChat(c.id, p.RoomID, p.Model, p.Fan); err != nil {
		ctl.replyErr(c, req, err)
	}
}

func (ctl *SignalWSController) handleTyping(c *WsSignalConn, req request) {
	var p struct {
		RoomID     domain.RoomID `json:"roomId"`
		UserTyping string        `json:"userTyping"`
		IsTyping   bool          `json:"isTyping"`
	}
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.Typing(c.id, p.RoomID, p.UserTyping, p.IsTyping); err != nil {
		ctl.replyErr(c, req, err)
	}
}
