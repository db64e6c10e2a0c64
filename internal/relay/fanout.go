package relay

import (
	"log"

	"github.com/esgrima/relay/internal/protocol"
)

// Fanout owns the addressing primitives: one recipient, everyone, everyone
// but the sender, and ordered replay. Delivery is best effort; a session
// whose Send fails is dropped from the registry so later broadcasts skip it.
type Fanout struct {
	clients *ClientRegistry
}

func NewFanout(clients *ClientRegistry) *Fanout {
	return &Fanout{clients: clients}
}

// SendTo delivers one frame to one session. The target may have disconnected
// between dispatch start and delivery; that surfaces as ErrUnknownSession and
// is tolerated by callers.
func (f *Fanout) SendTo(sessionID string, msg *protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return f.sendRaw(sessionID, data)
}

// BroadcastAll delivers a frame to every registered session. One broken
// connection must not abort delivery to the rest.
func (f *Fanout) BroadcastAll(msg *protocol.Message) {
	f.broadcast("", msg)
}

// BroadcastExcept delivers a frame to every registered session but one,
// normally the frame's originator.
func (f *Fanout) BroadcastExcept(sessionID string, msg *protocol.Message) {
	f.broadcast(sessionID, msg)
}

func (f *Fanout) broadcast(exceptID string, msg *protocol.Message) {
	data, err := msg.Encode()
	if err != nil {
		log.Printf("broadcast encode error: %v", err)
		return
	}
	for _, s := range f.clients.All() {
		if s.ID == exceptID {
			continue
		}
		if err := s.Send(data); err != nil {
			log.Printf("broadcast to %s failed, dropping session: %v", s.ID, err)
			f.clients.Remove(s.ID)
		}
	}
}

// Replay delivers a room's logged events to one session as a sequence of ADD
// frames, strictly in append order. Callers serialize Replay against Append
// for the same room, so no newer event can overtake an older replayed one.
func (f *Fanout) Replay(sessionID, locator string, events []Event) error {
	for _, ev := range events {
		frame := &protocol.Message{
			Type:     protocol.MsgAdd,
			ClientID: ev.AuthorUserID,
			UserID:   ev.AuthorUserID,
			TS:       ev.TS,
			Locator:  locator,
			Payload:  ev.Payload,
		}
		if err := f.SendTo(sessionID, frame); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fanout) sendRaw(sessionID string, data []byte) error {
	s, ok := f.clients.Get(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	if err := s.Send(data); err != nil {
		f.clients.Remove(sessionID)
		return err
	}
	return nil
}
