package orch

import (
	"context"
	"time"

	"github.com/dkeye/Live/internal/app"
	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
	"github.com/rs/zerolog/log"
)

// Events pushed to clients.
const (
	EvInviteReceived         = "inviteReceived"
	EvSecureConnection       = "secureConnection"
	EvConnectionRejected     = "connectionRejected"
	EvConnectionCancelled    = "connectionCancelled"
	EvInitialized            = "initialized"
	EvAnswered               = "answered"
	EvCandidate              = "candidate"
	EvStartLiveChat          = "startLiveChat"
	EvFullRoom               = "fullRoom"
	EvLiveChatDisconnection  = "liveChatDisconnection"
	EvUserDataSwapped        = "userDataSwapped"
	EvAddMinute              = "addMinute"
	EvViewableState          = "getViewableState"
	EvAlreadyLive            = "alreadyLive"
	EvNoSuchRoom             = "noSuchRoom"
	EvViewCount              = "viewCount"
	EvChatLog                = "chatLog"
	EvRefreshChat            = "refreshChat"
	EvHasTyped               = "hasTyped"
	EvHasNotTyped            = "hasNotTyped"
	EvLiveStreamDisconnected = "liveStreamDisconnection"
	EvLiveStreamEnded        = "liveStreamEnded"
	EvPauseState             = "getPauseState"
	EvMuteState              = "getMuteState"
)

// LiveChatSeconds is the call time granted when a paired live chat starts
// and on every timer extension.
const LiveChatSeconds = 60

const defaultStoreTimeout = 5 * time.Second

// Orchestrator wires the registries, the transport groups and the external
// collaborators together. One instance serves every connection.
type Orchestrator struct {
	Registry *app.Registry
	Groups   *core.Groups
	Chat     *app.ChatLogs
	Offers   *app.OfferBook
	Policy   app.Policy

	Engine   core.MediaEngine
	Codecs   []domain.RTPCodec
	Users    core.UserStore
	Messages core.MessageStore
	Status   core.LiveStatusPublisher

	StoreTimeout time.Duration
}

// OnConnect registers a freshly opened connection. The returned context lives
// until the connection is reaped or kicked.
func (o *Orchestrator) OnConnect(parent context.Context, conn core.ConnectionID, sc core.SignalConnection) context.Context {
	ctx := o.Registry.BindConnection(conn, sc, parent)
	o.Groups.Register(conn, sc)
	return ctx
}

// Kick cancels the connection; its adapter closes the socket and the
// disconnect path cleans up.
func (o *Orchestrator) Kick(conn core.ConnectionID) {
	if o.Registry.Cancel(conn) {
		log.Info().Str("module", "orch").Str("conn", string(conn)).Msg("kicked connection")
	}
}

func (o *Orchestrator) codecs() []domain.RTPCodec {
	if len(o.Codecs) > 0 {
		return o.Codecs
	}
	return domain.DefaultCodecs()
}

// storeCtx bounds calls to the document store and the status index. They are
// not tied to the connection so that status updates survive a disconnect.
func (o *Orchestrator) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.storeTimeout())
}

func (o *Orchestrator) storeTimeout() time.Duration {
	if o.StoreTimeout <= 0 {
		return defaultStoreTimeout
	}
	return o.StoreTimeout
}

func (o *Orchestrator) emit(group string, except core.ConnectionID, typ string, data any) core.PublishResult {
	f, err := core.EncodeEvent(typ, data)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", typ).Msg("encode event")
		return core.PublishResult{}
	}
	res := o.Groups.Emit(group, except, f)
	o.applyPolicy(group, res)
	return res
}

func (o *Orchestrator) broadcast(except core.ConnectionID, typ string, data any) core.PublishResult {
	f, err := core.EncodeEvent(typ, data)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", typ).Msg("encode event")
		return core.PublishResult{}
	}
	res := o.Groups.Broadcast(except, f)
	o.applyPolicy("", res)
	return res
}

func (o *Orchestrator) send(conn core.ConnectionID, typ string, data any) error {
	f, err := core.EncodeEvent(typ, data)
	if err != nil {
		return err
	}
	err = o.Groups.SendTo(conn, f)
	if err == core.ErrBackpressure {
		o.applyPolicy("", core.PublishResult{Dropped: []core.ConnectionID{conn}})
	}
	return err
}

func (o *Orchestrator) applyPolicy(group string, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(group, slow) {
		case app.KickMember:
			o.Kick(slow)
		case app.NoAction:
		}
	}
}
