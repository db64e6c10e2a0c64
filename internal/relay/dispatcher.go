package relay

import (
	"log"
	"sync"

	"github.com/esgrima/relay/internal/protocol"
)

// Stats are the dispatcher's running counters, exposed by the stats endpoint.
type Stats struct {
	MessagesIn     uint64 `json:"messagesIn"`
	Malformed      uint64 `json:"malformed"`
	EventsAppended uint64 `json:"eventsAppended"`
}

// Dispatcher interprets inbound protocol frames, keeps the client and room
// registries consistent, and drives the delivery fan-out.
//
// mu is held across every full dispatch: state lookup, mutation and recipient
// enumeration happen under one critical section. That is what makes the
// replay guarantee hold: an event appended before an ENRO is in the replay,
// an event appended after arrives via broadcast, and never both or neither.
// Sends only enqueue onto the transport's buffered writers, so holding the
// lock across them does not block on socket I/O.
type Dispatcher struct {
	mu      sync.Mutex
	clients *ClientRegistry
	rooms   *RoomRegistry
	fanout  *Fanout
	stats   Stats
}

func NewDispatcher(clients *ClientRegistry, rooms *RoomRegistry, fanout *Fanout) *Dispatcher {
	return &Dispatcher{
		clients: clients,
		rooms:   rooms,
		fanout:  fanout,
	}
}

// OnConnect registers a freshly accepted connection. A duplicate session ID
// means the transport misbehaved; the error tells it to close the connection
// rather than panic the relay.
func (d *Dispatcher) OnConnect(sessionID string, sender Sender) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.clients.Register(sessionID, sender); err != nil {
		log.Printf("register %s: %v", sessionID, err)
		return err
	}
	return nil
}

// OnDisconnect removes the session. It may already be gone when a BYE raced
// the transport teardown; that is fine.
func (d *Dispatcher) OnDisconnect(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients.Remove(sessionID)
}

// OnMessage is the single entry point for inbound frames. Frames that fail to
// parse are answered with an ERR instead of killing the connection.
func (d *Dispatcher) OnMessage(sessionID string, data []byte) {
	msg, err := protocol.Decode(data)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.MessagesIn++

	if err != nil {
		d.stats.Malformed++
		log.Printf("malformed frame from %s: %v", sessionID, err)
		d.sendError(sessionID, "", "", protocol.StatusBadRequest, err.Error())
		return
	}

	switch msg.Type {
	case protocol.MsgHello:
		d.handleHello(sessionID, msg)
	case protocol.MsgBye:
		d.handleBye(sessionID, msg)
	case protocol.MsgCreate:
		d.handleCreate(sessionID, msg)
	case protocol.MsgEnroll:
		d.handleEnroll(sessionID, msg)
	case protocol.MsgDelete:
		d.handleDelete(sessionID, msg)
	case protocol.MsgAdd:
		d.handleAdd(sessionID, msg)
	case protocol.MsgError:
		// A client reporting its own failure. Diagnostic only.
		log.Printf("client error from %s: status=%d %s", sessionID, msg.Status, msg.Description)
	default:
		// OK, CACK, EACK are server-to-client; a client sending one is
		// noise, not an offense worth a reply.
		log.Printf("unexpected %s frame from %s", msg.Type, sessionID)
	}
}

// RelayStats snapshots the dispatch counters.
func (d *Dispatcher) RelayStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// handleHello establishes the session's identity and acknowledges. Presence
// is deliberately not broadcast; nobody else learns about the arrival.
func (d *Dispatcher) handleHello(sessionID string, msg *protocol.Message) {
	userID := msg.UserID
	if userID == "" {
		userID = msg.ClientID
	}
	username := msg.Username
	if username == "" {
		username = userID
	}
	if err := d.clients.SetIdentity(sessionID, userID, username); err != nil {
		log.Printf("hello from %s: %v", sessionID, err)
		return
	}
	d.sendOK(sessionID, msg.Hash())
}

// handleBye acknowledges and removes the session. The OK goes out first; once
// the session is removed there is no way to address it.
func (d *Dispatcher) handleBye(sessionID string, msg *protocol.Message) {
	d.sendOK(sessionID, msg.Hash())
	d.clients.Remove(sessionID)
}

func (d *Dispatcher) handleCreate(sessionID string, msg *protocol.Message) {
	s, ok := d.clients.Get(sessionID)
	if !ok {
		log.Printf("create from unknown session %s", sessionID)
		return
	}
	room, err := d.rooms.Create(s.UserID, msg.InitialModel)
	if err != nil {
		log.Printf("create room for %s: %v", sessionID, err)
		d.sendError(sessionID, msg.Hash(), "", protocol.StatusInternal, "could not allocate room")
		return
	}
	ack := &protocol.Message{
		Type:       protocol.MsgCreateAck,
		ClientID:   sessionID,
		UserID:     s.UserID,
		TS:         protocol.Timestamp(),
		ResponseTo: msg.Hash(),
		Locator:    room.Locator,
	}
	d.send(sessionID, ack)
}

// handleEnroll acks the join and replays the room's full history, in append
// order, to the joining client alone. Both happen under the dispatch lock, so
// the replay is gap-free with respect to concurrent ADDs.
func (d *Dispatcher) handleEnroll(sessionID string, msg *protocol.Message) {
	s, ok := d.clients.Get(sessionID)
	if !ok {
		log.Printf("enroll from unknown session %s", sessionID)
		return
	}
	room, ok := d.rooms.Get(msg.Locator)
	if !ok {
		d.sendError(sessionID, msg.Hash(), msg.Locator, protocol.StatusNotFound, "no such room")
		return
	}
	ack := &protocol.Message{
		Type:         protocol.MsgEnrollAck,
		ClientID:     sessionID,
		UserID:       s.UserID,
		TS:           protocol.Timestamp(),
		ResponseTo:   msg.Hash(),
		Locator:      room.Locator,
		InitialModel: room.InitialModel,
		UserIDs:      participantIDs(room),
	}
	d.send(sessionID, ack)
	if err := d.fanout.Replay(sessionID, room.Locator, room.Events()); err != nil {
		log.Printf("replay %s to %s: %v", room.Locator, sessionID, err)
	}
}

// handleDelete tears the room down only for its owner. The original protocol
// swallowed failures here; answering with an ERR is a deliberate tightening
// so the requester can tell a typo from a permission problem.
func (d *Dispatcher) handleDelete(sessionID string, msg *protocol.Message) {
	s, ok := d.clients.Get(sessionID)
	if !ok {
		log.Printf("delete from unknown session %s", sessionID)
		return
	}
	if _, exists := d.rooms.Get(msg.Locator); !exists {
		d.sendError(sessionID, msg.Hash(), msg.Locator, protocol.StatusNotFound, "no such room")
		return
	}
	if !d.rooms.DeleteIfOwner(msg.Locator, s.UserID) {
		d.sendError(sessionID, msg.Hash(), msg.Locator, protocol.StatusUnauthorized, "only the owner may delete a room")
		return
	}
}

// handleAdd appends the event and rebroadcasts the frame to everyone except
// its sender. The sender never sees its own event echoed back.
func (d *Dispatcher) handleAdd(sessionID string, msg *protocol.Message) {
	ev := Event{
		AuthorUserID: msg.UserID,
		TS:           msg.TS,
		Payload:      msg.Payload,
	}
	if err := d.rooms.Append(msg.Locator, ev); err != nil {
		log.Printf("add to %s from %s: %v", msg.Locator, sessionID, err)
		d.sendError(sessionID, msg.Hash(), msg.Locator, protocol.StatusNotFound, "no such room")
		return
	}
	d.stats.EventsAppended++
	d.fanout.BroadcastExcept(sessionID, msg)
}

func (d *Dispatcher) sendOK(sessionID, responseTo string) {
	s, _ := d.clients.Get(sessionID)
	userID := ""
	if s != nil {
		userID = s.UserID
	}
	d.send(sessionID, &protocol.Message{
		Type:       protocol.MsgOK,
		ClientID:   sessionID,
		UserID:     userID,
		TS:         protocol.Timestamp(),
		ResponseTo: responseTo,
	})
}

func (d *Dispatcher) sendError(sessionID, responseTo, locator string, status int, description string) {
	d.send(sessionID, &protocol.Message{
		Type:        protocol.MsgError,
		ClientID:    sessionID,
		TS:          protocol.Timestamp(),
		ResponseTo:  responseTo,
		Locator:     locator,
		Status:      status,
		Description: description,
	})
}

func (d *Dispatcher) send(sessionID string, msg *protocol.Message) {
	if err := d.fanout.SendTo(sessionID, msg); err != nil {
		log.Printf("send %s to %s: %v", msg.Type, sessionID, err)
	}
}

// participantIDs derives the EACK userIds field: the owner plus the distinct
// event authors, in first-appearance order. There is no stored membership
// set, so this is the only participant list the log can support.
func participantIDs(room *Room) []string {
	seen := map[string]bool{}
	ids := []string{}
	if room.OwnerID != "" {
		seen[room.OwnerID] = true
		ids = append(ids, room.OwnerID)
	}
	for _, ev := range room.Events() {
		if ev.AuthorUserID == "" || seen[ev.AuthorUserID] {
			continue
		}
		seen[ev.AuthorUserID] = true
		ids = append(ids, ev.AuthorUserID)
	}
	return ids
}
