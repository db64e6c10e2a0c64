package relay

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"sync"
	"time"
)

const (
	locatorAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	locatorLength   = 8

	// Attempts before Create gives up on finding an unused locator.
	locatorRetries = 16
)

// Event is one entry in a room's append-only log. The payload is opaque to
// the relay; it is stored and replayed verbatim, never inspected or merged.
type Event struct {
	AuthorUserID string          `json:"userId"`
	TS           string          `json:"ts"`
	Payload      json.RawMessage `json:"payload"`
}

// Room is a named ordered log of edit events plus an owner identity. The log
// order is immutable history: entries are never reordered or removed
// individually, only whole-room deletion clears them.
type Room struct {
	Locator      string          `json:"locator"`
	OwnerID      string          `json:"ownerId"`
	InitialModel json.RawMessage `json:"initialModel,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`

	events []Event
}

// Events returns the room's log in append order.
func (r *Room) Events() []Event {
	return r.events
}

// RoomRegistry tracks rooms keyed by locator.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]*Room),
	}
}

// Create allocates a room with a fresh locator, the requester as owner and an
// empty log. The initial model is stored verbatim.
func (r *RoomRegistry) Create(ownerID string, initialModel json.RawMessage) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	locator, err := r.newLocatorLocked()
	if err != nil {
		return nil, err
	}

	room := &Room{
		Locator:      locator,
		OwnerID:      ownerID,
		InitialModel: initialModel,
		CreatedAt:    time.Now(),
	}
	r.rooms[locator] = room
	return room.snapshot(), nil
}

// Get returns a snapshot of the room, including a copy of its event log.
func (r *RoomRegistry) Get(locator string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[locator]
	if !ok {
		return nil, false
	}
	return room.snapshot(), true
}

// DeleteIfOwner removes the room only when the requester is its owner.
// Anything else, including an unknown locator, leaves the registry untouched
// and returns false.
func (r *RoomRegistry) DeleteIfOwner(locator, requesterUserID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[locator]
	if !ok || room.OwnerID != requesterUserID {
		return false
	}
	delete(r.rooms, locator)
	return true
}

// Append adds one event to the end of a room's log.
func (r *RoomRegistry) Append(locator string, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[locator]
	if !ok {
		return ErrUnknownRoom
	}
	room.events = append(room.events, ev)
	return nil
}

// All returns a snapshot of every room, in no particular order.
func (r *RoomRegistry) All() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		result = append(result, room.snapshot())
	}
	return result
}

func (r *RoomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// EventCount totals the logged events across all rooms.
func (r *RoomRegistry) EventCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, room := range r.rooms {
		n += len(room.events)
	}
	return n
}

func (room *Room) snapshot() *Room {
	copy := *room
	copy.events = append([]Event(nil), room.events...)
	return &copy
}

// newLocatorLocked draws fresh locators until one misses the registry.
// A single draw collides only at birthday-bound scale, but a map lookup is
// cheap enough to make uniqueness a guarantee instead of a probability.
func (r *RoomRegistry) newLocatorLocked() (string, error) {
	for attempt := 0; attempt < locatorRetries; attempt++ {
		locator, err := generateLocator()
		if err != nil {
			return "", err
		}
		if _, taken := r.rooms[locator]; !taken {
			return locator, nil
		}
	}
	return "", ErrLocatorSpace
}

// generateLocator draws locatorLength symbols uniformly from the 36-symbol
// alphabet using the crypto random source, one symbol at a time.
func generateLocator() (string, error) {
	max := big.NewInt(int64(len(locatorAlphabet)))
	buf := make([]byte, locatorLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = locatorAlphabet[n.Int64()]
	}
	return string(buf), nil
}
