package orch

import (
	"time"

	"github.com/dkeye/Live/internal/app"
	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
	"github.com/rs/zerolog/log"
)

type TypingNotice struct {
	RoomID     domain.RoomID `json:"roomId"`
	UserTyping string        `json:"userTyping"`
}

// AppendChatMessage adds a message to the head of the room's log and sends
// the whole log to the room.
func (o *Orchestrator) AppendChatMessage(conn core.ConnectionID, roomID domain.RoomID, author, text string) (domain.ChatMessage, error) {
	if roomID == "" {
		return domain.ChatMessage{}, app.ErrValidation
	}
	msg, err := domain.NewChatMessage(author, text, time.Now().UTC())
	if err != nil {
		return domain.ChatMessage{}, err
	}
	chatLog := o.Chat.Append(roomID, msg)
	o.emit(string(roomID), "", EvChatLog, chatLog)
	log.Debug().Str("module", "orch.chat").Str("conn", string(conn)).Str("room", string(roomID)).Str("msg", msg.ID).Msg("chat message appended")
	return msg, nil
}

// FetchChatMessages returns the room's log, newest first.
func (o *Orchestrator) FetchChatMessages(roomID domain.RoomID) ([]domain.ChatMessage, error) {
	if roomID == "" {
		return nil, app.ErrValidation
	}
	return o.Chat.Messages(roomID), nil
}

func (o *Orchestrator) JoinChat(conn core.ConnectionID, roomID domain.RoomID) error {
	if roomID == "" {
		return app.ErrValidation
	}
	o.Groups.Join(conn, string(roomID))
	return nil
}

func (o *Orchestrator) LeaveChat(conn core.ConnectionID, roomID domain.RoomID) error {
	if roomID == "" {
		return app.ErrValidation
	}
	o.Groups.Leave(conn, string(roomID))
	return nil
}

// RefreshChat reloads a paired conversation from the store and pushes it to
// the other members of the chat.
func (o *Orchestrator) RefreshChat(conn core.ConnectionID, roomID domain.RoomID, model, fan string) error {
	if roomID == "" {
		return app.ErrValidation
	}
	modelName, err := domain.NormalizeUsername(model)
	if err != nil {
		return app.ErrValidation
	}
	fanName, err := domain.NormalizeUsername(fan)
	if err != nil {
		return app.ErrValidation
	}
	if o.Messages == nil {
		return core.ErrConversationNotFound
	}
	ctx, cancel := o.storeCtx()
	defer cancel()
	conv, err := o.Messages.FindConversation(ctx, modelName, fanName)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch.chat").Str("room", string(roomID)).Msg("load conversation")
		return err
	}
	o.emit(string(roomID), conn, EvRefreshChat, conv.Messages)
	return nil
}

// Typing relays a typing indicator to the other members of the chat.
func (o *Orchestrator) Typing(conn core.ConnectionID, roomID domain.RoomID, user string, typing bool) error {
	if roomID == "" {
		return app.ErrValidation
	}
	ev := EvHasNotTyped
	if typing {
		ev = EvHasTyped
	}
	o.emit(string(roomID), conn, ev, TypingNotice{RoomID: roomID, UserTyping: user})
	return nil
}
