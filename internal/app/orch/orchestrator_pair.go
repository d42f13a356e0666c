package orch

import (
	"encoding/json"

	"github.com/dkeye/Live/internal/app"
	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
	"github.com/rs/zerolog/log"
)

type Invite struct {
	ConnectedUser  string                 `json:"connectedUser"`
	ConnectingUser string                 `json:"connectingUser"`
	ConnectionID   domain.ConnectionToken `json:"connectionId,omitempty"`
}

type SecureConnection struct {
	RoomID domain.RoomID `json:"roomId"`
}

// RequestConnection opens a pairing handshake: the initiator joins a fresh
// handshake group and every other connection is invited to it.
func (o *Orchestrator) RequestConnection(conn core.ConnectionID, connectedUser, connectingUser string) domain.ConnectionToken {
	token := domain.NewConnectionToken()
	o.Groups.Join(conn, string(token))
	o.broadcast(conn, EvInviteReceived, Invite{
		ConnectedUser:  connectedUser,
		ConnectingUser: connectingUser,
		ConnectionID:   token,
	})

	if target, err := domain.NormalizeUsername(connectedUser); err == nil && connectingUser != "" && o.Users != nil {
		ctx, cancel := o.storeCtx()
		defer cancel()
		if err := o.Users.PushRequest(ctx, target, connectingUser); err != nil {
			log.Warn().Err(err).Str("module", "orch.pair").Str("user", target).Msg("record connection request")
		}
	}
	log.Info().Str("module", "orch.pair").Str("conn", string(conn)).Str("token", string(token)).Msg("connection requested")
	return token
}

// AcceptConnection mints the media room of a pairing and empties the
// handshake group, so a token can be accepted once. Reports false when the
// token no longer names a live handshake.
func (o *Orchestrator) AcceptConnection(conn core.ConnectionID, token domain.ConnectionToken) (domain.RoomID, bool, error) {
	if token == "" {
		return "", false, app.ErrValidation
	}
	members := o.Groups.Drain(string(token))
	if len(members) == 0 {
		log.Debug().Str("module", "orch.pair").Str("conn", string(conn)).Str("token", string(token)).Msg("accept on spent token")
		return "", false, nil
	}

	roomID := domain.NewRoomID()
	recipients := members
	found := false
	for _, m := range members {
		if m == conn {
			found = true
			break
		}
	}
	if !found {
		recipients = append(recipients, conn)
	}
	for _, m := range recipients {
		if err := o.send(m, EvSecureConnection, SecureConnection{RoomID: roomID}); err != nil {
			log.Debug().Err(err).Str("module", "orch.pair").Str("conn", string(m)).Msg("secureConnection not delivered")
		}
	}
	log.Info().Str("module", "orch.pair").Str("token", string(token)).Str("room", string(roomID)).Int("members", len(recipients)).Msg("connection accepted")
	return roomID, true, nil
}

func (o *Orchestrator) RejectConnection(conn core.ConnectionID, connectedUser, connectingUser string) {
	o.broadcast(conn, EvConnectionRejected, Invite{ConnectedUser: connectedUser, ConnectingUser: connectingUser})
}

// CancelConnection withdraws a pending request by identity and tells everyone.
func (o *Orchestrator) CancelConnection(conn core.ConnectionID, connectedUser, connectingUser string) error {
	target, err := domain.NormalizeUsername(connectedUser)
	if err != nil {
		return app.ErrValidation
	}
	if o.Users != nil {
		ctx, cancel := o.storeCtx()
		defer cancel()
		if err := o.Users.PullRequest(ctx, target, connectingUser); err != nil {
			log.Warn().Err(err).Str("module", "orch.pair").Str("user", target).Msg("withdraw connection request")
		}
	}
	o.broadcast("", EvConnectionCancelled, Invite{ConnectedUser: connectedUser, ConnectingUser: connectingUser})
	return nil
}

// Initialize exchanges the session offer of a paired room. The first offer is
// kept until the second party arrives; a late joiner receives it directly.
// The returned offer is the acknowledgment payload, nil for a late joiner.
func (o *Orchestrator) Initialize(conn core.ConnectionID, roomID domain.RoomID, offer json.RawMessage) (json.RawMessage, error) {
	if roomID == "" {
		return nil, app.ErrValidation
	}
	o.Groups.Join(conn, string(roomID))

	existing, stored := o.Offers.Put(roomID, conn, offer)
	if !stored {
		if err := o.send(conn, EvInitialized, existing.Offer); err != nil {
			log.Debug().Err(err).Str("module", "orch.pair").Str("conn", string(conn)).Msg("stored offer not delivered")
		}
		return nil, nil
	}

	o.emit(string(roomID), conn, EvInitialized, offer)
	if o.Groups.Size(string(roomID)) >= 2 {
		o.Offers.Drop(roomID)
	}
	return offer, nil
}

// RelayAnswer passes an answer through to the rest of the room.
func (o *Orchestrator) RelayAnswer(conn core.ConnectionID, roomID domain.RoomID, answer json.RawMessage) error {
	if roomID == "" {
		return app.ErrValidation
	}
	o.emit(string(roomID), conn, EvAnswered, answer)
	return nil
}

// RelayCandidate passes an ICE candidate through to the rest of the room.
func (o *Orchestrator) RelayCandidate(conn core.ConnectionID, roomID domain.RoomID, candidate json.RawMessage) error {
	if roomID == "" {
		return app.ErrValidation
	}
	o.emit(string(roomID), conn, EvCandidate, candidate)
	return nil
}

// JoinLiveChat admits at most two members to a paired call. The second
// arrival starts the call timer for both; a third gets fullRoom.
func (o *Orchestrator) JoinLiveChat(conn core.ConnectionID, roomID domain.RoomID, userID string) error {
	if roomID == "" {
		return app.ErrValidation
	}
	joined, before, member := o.Groups.JoinCapped(conn, string(roomID), 2)
	if !joined {
		if !member {
			return o.send(conn, EvFullRoom, roomID)
		}
		return nil
	}
	o.setUserStatus(userID, domain.StatusInCall)
	if before == 1 {
		o.emit(string(roomID), "", EvStartLiveChat, LiveChatSeconds)
	}
	return nil
}

func (o *Orchestrator) LeaveLiveChat(conn core.ConnectionID, roomID domain.RoomID, userID string) error {
	if roomID == "" {
		return app.ErrValidation
	}
	o.setUserStatus(userID, domain.StatusActive)
	o.emit(string(roomID), conn, EvLiveChatDisconnection, nil)
	return nil
}

// SwapUserData tells the other party of a call who joined. Members only.
func (o *Orchestrator) SwapUserData(conn core.ConnectionID, roomID domain.RoomID, userID string) {
	if !o.Groups.Has(conn, string(roomID)) {
		return
	}
	o.emit(string(roomID), conn, EvUserDataSwapped, map[string]string{"userId": userID})
}

// ExtendTimer adds a minute to a running call. Members only.
func (o *Orchestrator) ExtendTimer(conn core.ConnectionID, roomID domain.RoomID) {
	if !o.Groups.Has(conn, string(roomID)) {
		return
	}
	o.emit(string(roomID), "", EvAddMinute, LiveChatSeconds)
}

// RelayViewableState forwards camera visibility to the other party. Members only.
func (o *Orchestrator) RelayViewableState(conn core.ConnectionID, roomID domain.RoomID, state json.RawMessage) {
	if !o.Groups.Has(conn, string(roomID)) {
		return
	}
	o.emit(string(roomID), conn, EvViewableState, state)
}

func (o *Orchestrator) setUserStatus(userID string, status domain.OnlineStatus) {
	if o.Users == nil {
		return
	}
	name, err := domain.NormalizeUsername(userID)
	if err != nil {
		return
	}
	ctx, cancel := o.storeCtx()
	defer cancel()
	if err := o.Users.UpdateStatus(ctx, name, status); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("user", name).Str("status", string(status)).Msg("update status")
	}
}

func (o *Orchestrator) setUserLive(userID string, status domain.OnlineStatus, roomID domain.RoomID) {
	if o.Users == nil {
		return
	}
	name, err := domain.NormalizeUsername(userID)
	if err != nil {
		return
	}
	ctx, cancel := o.storeCtx()
	defer cancel()
	if err := o.Users.UpdateLive(ctx, name, status, roomID); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("user", name).Str("room", string(roomID)).Msg("update live status")
	}
}
