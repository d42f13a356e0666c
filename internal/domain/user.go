// Package domain contains entities without transport logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// OnlineStatus is the activity marker stored on a user document.
type OnlineStatus string

const (
	StatusActive  OnlineStatus = "Active"
	StatusLive    OnlineStatus = "Live"
	StatusInCall  OnlineStatus = "In call"
	StatusOffline OnlineStatus = "Offline"
)

// User is the subset of the stored user document the session layer reads and writes.
type User struct {
	Username     string       `json:"username"`
	OnlineStatus OnlineStatus `json:"onlineStatus"`
	LiveRoomID   RoomID       `json:"liveRoomId,omitempty"`
	Requests     []string     `json:"requests,omitempty"`
	LastIn       time.Time    `json:"lastIn,omitzero"`
}

// NormalizeUsername lower-cases and validates a username the way the store indexes it.
func NormalizeUsername(username string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(username))
	if len(name) == 0 {
		return "", ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	return name, nil
}
