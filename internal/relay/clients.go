package relay

import (
	"sync"
	"time"
)

// Sender is the delivery capability the transport hands over for each
// accepted connection. The relay never touches the socket itself; a failed
// Send marks the session for removal from future deliveries.
type Sender interface {
	Send(data []byte) error
}

// Session is the relay-side record of one live connection. Identity fields
// stay empty until the client completes the HELO handshake.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	ConnectedAt time.Time `json:"connectedAt"`

	sender Sender
}

// Send delivers a serialized frame through the session's transport
// capability.
func (s *Session) Send(data []byte) error {
	return s.sender.Send(data)
}

// ClientRegistry tracks connected sessions keyed by their transport-assigned
// session ID.
type ClientRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		sessions: make(map[string]*Session),
	}
}

// Register inserts a session with empty identity. The sender is the only way
// the relay will ever reach this connection.
func (r *ClientRegistry) Register(id string, sender Sender) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return nil, ErrDuplicateSession
	}
	s := &Session{
		ID:          id,
		ConnectedAt: time.Now(),
		sender:      sender,
	}
	r.sessions[id] = s
	copy := *s
	return &copy, nil
}

// SetIdentity records the identity established by a HELO handshake.
// Idempotent; repeating the handshake just overwrites the same fields.
func (r *ClientRegistry) SetIdentity(id, userID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	s.UserID = userID
	s.Username = username
	return nil
}

// Remove deletes a session. A BYE frame and the transport's disconnect
// callback may race, so removing an absent session reports ErrUnknownSession
// and callers are free to ignore it.
func (r *ClientRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrUnknownSession
	}
	delete(r.sessions, id)
	return nil
}

func (r *ClientRegistry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	copy := *s
	return &copy, true
}

// All returns a snapshot of every registered session, in no particular order.
func (r *ClientRegistry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		copy := *s
		result = append(result, &copy)
	}
	return result
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
