package app

import (
	"sync"

	"github.com/dkeye/Live/internal/domain"
)

// ChatLogs keeps the in-memory chat history of every room, newest first.
// Logs live as long as the process; they are not persisted.
type ChatLogs struct {
	mu   sync.RWMutex
	logs map[domain.RoomID]*chatLog
}

type chatLog struct {
	mu       sync.Mutex
	messages []domain.ChatMessage
}

func NewChatLogs() *ChatLogs {
	return &ChatLogs{logs: make(map[domain.RoomID]*chatLog)}
}

func (c *ChatLogs) getOrCreate(roomID domain.RoomID) *chatLog {
	c.mu.RLock()
	l, ok := c.logs[roomID]
	c.mu.RUnlock()
	if ok {
		return l
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok = c.logs[roomID]; ok {
		return l
	}
	l = &chatLog{}
	c.logs[roomID] = l
	return l
}

// Append puts msg at the head of the room's log and returns the whole log.
func (c *ChatLogs) Append(roomID domain.RoomID, msg domain.ChatMessage) []domain.ChatMessage {
	l := c.getOrCreate(roomID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append([]domain.ChatMessage{msg}, l.messages...)
	return l.snapshot()
}

// Messages returns the room's log, creating an empty one on first access.
func (c *ChatLogs) Messages(roomID domain.RoomID) []domain.ChatMessage {
	l := c.getOrCreate(roomID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

func (c *ChatLogs) Rooms() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.logs)
}

func (l *chatLog) snapshot() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(l.messages))
	copy(out, l.messages)
	return out
}
