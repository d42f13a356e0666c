package domain

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

type (
	// RoomID addresses a media room: a paired video chat or a live broadcast.
	RoomID string
	// ConnectionToken names the short-lived handshake group of a pairing request.
	ConnectionToken string
)

// RoomIDBytes is the entropy behind every minted RoomID.
const RoomIDBytes = 32

// NewRoomID returns a 256-bit pseudo-random token encoded as 64 hex characters.
// Collision probability is treated as negligible and is not checked.
func NewRoomID() RoomID {
	var b [RoomIDBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return RoomID(hex.EncodeToString(b[:]))
}

// NewConnectionToken returns a fresh, unused handshake group name.
func NewConnectionToken() ConnectionToken {
	return ConnectionToken(uuid.NewString())
}
