package signal

func (ctl *SignalWSController) handleJoinViewer(c *WsSignalConn, req request) {
	var p roomPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	n, err := ctl.Orch.JoinViewer(c.id, p.RoomID)
	if err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, n)
}

func (ctl *SignalWSController) handleLeaveViewer(c *WsSignalConn, req request) {
	var p roomPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	n, err := ctl.Orch.LeaveViewer(c.id, p.RoomID)
	if err != nil {
		ctl.replyErr(c, req, err)
		return
	}
	ctl.reply(c, req, n)
}

func (ctl *SignalWSController) handleGetViewCount(c *WsSignalConn, req request) {
	var p roomPayload
	if !ctl.bind(c, req, &p) {
		return
	}
	ctl.reply(c, req, ctl.Orch.ViewCount(p.RoomID))
}
