package signal

import (
	"encoding/json"

	"github.com/dkeye/Live/internal/domain"
	"github.com/rs/zerolog/log"
)

// Session descriptions and candidates of a paired call travel through the
// server untouched; the browsers negotiate with each other.

func (ctl *SignalWSController) handleInitialize(c *WsSignalConn, req request) {
	var p struct {
		RoomID domain.RoomID   `json:"roomId"`
		Offer  json.RawMessage `json:"offer"`
	}
	if !ctl.bind(c, req, &p) {
		return
	}
	ack, err := ctl.Orch.Initialize(c.id, p.RoomID, p.Offer)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("initialize")
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, ack)
}

func (ctl *SignalWSController) handleAnswer(c *WsSignalConn, req request) {
	var p struct {
		RoomID domain.RoomID   `json:"roomId"`
		Answer json.RawMessage `json:"answer"`
	}
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.RelayAnswer(c.id, p.RoomID, p.Answer); err != nil {
		ctl.replyErr(c, req, err)
	}
}

func (ctl *SignalWSController) handleCandidate(c *WsSignalConn, req request) {
	var p struct {
		RoomID    domain.RoomID   `json:"roomId"`
		Candidate json.RawMessage `json:"candidate"`
	}
	if !ctl.bind(c, req, &p) {
		return
	}
	if err := ctl.Orch.RelayCandidate(c.id, p.RoomID, p.Candidate); err != nil {
		ctl.replyErr(c, req, err)
	}
}
