package app

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
)

// PendingOffer is the first session offer posted to a paired room, kept
// until the second party arrives.
type PendingOffer struct {
	From  core.ConnectionID
	Offer json.RawMessage
}

type OfferBook struct {
	mu     sync.Mutex
	offers map[domain.RoomID]PendingOffer
}

func NewOfferBook() *OfferBook {
	return &OfferBook{offers: make(map[domain.RoomID]PendingOffer)}
}

// Put stores offer unless the room already has one, in which case the stored
// offer is returned and stored is false.
func (b *OfferBook) Put(roomID domain.RoomID, from core.ConnectionID, offer json.RawMessage) (existing PendingOffer, stored bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if have, ok := b.offers[roomID]; ok {
		return have, false
	}
	b.offers[roomID] = PendingOffer{From: from, Offer: offer}
	return PendingOffer{}, true
}

func (b *OfferBook) Get(roomID domain.RoomID) (PendingOffer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.offers[roomID]
	return o, ok
}

func (b *OfferBook) Drop(roomID domain.RoomID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.offers, roomID)
}

// DropBy forgets every offer posted by conn.
func (b *OfferBook) DropBy(conn core.ConnectionID) []domain.RoomID {
	b.mu.Lock()
	defer b.mu.Unlock()
	var rooms []domain.RoomID
	for id, o := range b.offers {
		if o.From == conn {
			delete(b.offers, id)
			rooms = append(rooms, id)
		}
	}
	return rooms
}
