package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const MaxChatMessageLen = 500

var (
	ErrChatMessageEmpty   = errors.New("chat message empty")
	ErrChatMessageTooLong = errors.New("chat message too long")
)

// ChatMessage is one entry of a broadcast room's ephemeral chat log.
type ChatMessage struct {
	ID     string    `json:"id"`
	Author string    `json:"author"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// NewChatMessage validates the text and stamps an id and a server-side time.
func NewChatMessage(author, text string, now time.Time) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, ErrChatMessageEmpty
	}
	if len([]rune(text)) > MaxChatMessageLen {
		return ChatMessage{}, ErrChatMessageTooLong
	}
	return ChatMessage{
		ID:     ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Author: author,
		Text:   text,
		SentAt: now,
	}, nil
}

// ConversationMessage is a durable paired-chat message owned by the document store.
type ConversationMessage struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// Conversation is the stored chat between a model and a fan.
type Conversation struct {
	Model       string                `json:"model"`
	Fan         string                `json:"fan"`
	Messages    []ConversationMessage `json:"chatMessages"`
	LastUpdated time.Time             `json:"lastUpdated"`
}
