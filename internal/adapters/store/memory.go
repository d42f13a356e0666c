// Package store holds the document store and live status index backends.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
)

// MemoryUserStore keeps users in process. Used in development and tests.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*domain.User
	now   func() time.Time
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*domain.User), now: time.Now}
}

// Put adds or replaces a user. The username is stored lower-cased.
func (s *MemoryUserStore) Put(u domain.User) {
	u.Username = strings.ToLower(u.Username)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Username] = &u
}

func (s *MemoryUserStore) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.ToLower(username)]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return copyUser(u), nil
}

func (s *MemoryUserStore) FindByLiveRoom(_ context.Context, roomID domain.RoomID) (*domain.User, error) {
	if roomID == "" {
		return nil, core.ErrUserNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.LiveRoomID == roomID {
			return copyUser(u), nil
		}
	}
	return nil, core.ErrUserNotFound
}

func (s *MemoryUserStore) UpdateStatus(_ context.Context, username string, status domain.OnlineStatus) error {
	return s.update(username, func(u *domain.User) {
		u.OnlineStatus = status
		if status == domain.StatusOffline {
			u.LastIn = s.now().UTC()
		}
	})
}

func (s *MemoryUserStore) UpdateLive(_ context.Context, username string, status domain.OnlineStatus, liveRoom domain.RoomID) error {
	return s.update(username, func(u *domain.User) {
		u.OnlineStatus = status
		u.LiveRoomID = liveRoom
	})
}

func (s *MemoryUserStore) PushRequest(_ context.Context, username, requester string) error {
	return s.update(username, func(u *domain.User) {
		u.Requests = append(u.Requests, requester)
	})
}

func (s *MemoryUserStore) PullRequest(_ context.Context, username, requester string) error {
	return s.update(username, func(u *domain.User) {
		kept := u.Requests[:0]
		for _, r := range u.Requests {
			if r != requester {
				kept = append(kept, r)
			}
		}
		u.Requests = kept
	})
}

func (s *MemoryUserStore) update(username string, fn func(*domain.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(username)]
	if !ok {
		return core.ErrUserNotFound
	}
	fn(u)
	return nil
}

func copyUser(u *domain.User) *domain.User {
	cp := *u
	cp.Requests = append([]string(nil), u.Requests...)
	return &cp
}

type conversationKey struct{ model, fan string }

// MemoryMessageStore keeps paired conversations in process.
type MemoryMessageStore struct {
	mu    sync.RWMutex
	convs map[conversationKey]*domain.Conversation
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{convs: make(map[conversationKey]*domain.Conversation)}
}

func (s *MemoryMessageStore) Put(c domain.Conversation) {
	c.Model, c.Fan = strings.ToLower(c.Model), strings.ToLower(c.Fan)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conversationKey{c.Model, c.Fan}] = &c
}

func (s *MemoryMessageStore) FindConversation(_ context.Context, model, fan string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[conversationKey{strings.ToLower(model), strings.ToLower(fan)}]
	if !ok {
		return nil, core.ErrConversationNotFound
	}
	cp := *c
	cp.Messages = append([]domain.ConversationMessage(nil), c.Messages...)
	return &cp, nil
}

// NoopStatus is the status index used when no external index is configured.
type NoopStatus struct{}

func (NoopStatus) SetRoomLive(context.Context, domain.RoomID, core.ConnectionID) error { return nil }
func (NoopStatus) SetRoomOffline(context.Context, domain.RoomID) error                  { return nil }
func (NoopStatus) PublishViewCount(context.Context, domain.RoomID, int) error           { return nil }
func (NoopStatus) LiveRooms(context.Context) ([]domain.RoomID, error)                   { return nil, nil }
func (NoopStatus) Close() error                                                         { return nil }
