package core

import (
	"context"
	"errors"

	"github.com/dkeye/Live/internal/domain"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrConversationNotFound = errors.New("conversation not found")
)

// UserStore is the document-store view of users the session layer needs.
// Usernames are passed normalized (lower case).
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindByLiveRoom(ctx context.Context, roomID domain.RoomID) (*domain.User, error)
	// UpdateStatus sets the online status. Going offline also stamps the
	// last-seen time.
	UpdateStatus(ctx context.Context, username string, status domain.OnlineStatus) error
	// UpdateLive sets the online status together with the live room id; an
	// empty id clears it.
	UpdateLive(ctx context.Context, username string, status domain.OnlineStatus, liveRoom domain.RoomID) error
	// PushRequest adds requester to the user's pending requests.
	PushRequest(ctx context.Context, username, requester string) error
	// PullRequest removes requester from the user's pending requests.
	PullRequest(ctx context.Context, username, requester string) error
}

// MessageStore holds the durable paired-chat conversations.
type MessageStore interface {
	FindConversation(ctx context.Context, model, fan string) (*domain.Conversation, error)
}

// LiveStatusPublisher exposes which rooms are live to other services.
type LiveStatusPublisher interface {
	SetRoomLive(ctx context.Context, roomID domain.RoomID, broadcaster ConnectionID) error
	SetRoomOffline(ctx context.Context, roomID domain.RoomID) error
	PublishViewCount(ctx context.Context, roomID domain.RoomID, count int) error
	LiveRooms(ctx context.Context) ([]domain.RoomID, error)
	Close() error
}
