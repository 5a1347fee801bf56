package session

import "context"

// Event names emitted by the session.
const (
	// EventMessage carries a resolved *models.Message.
	EventMessage = "message"
	// EventSharedItemSync carries the *models.Item that was synced after an
	// itemUpdate notification.
	EventSharedItemSync = "onSharedItemSync"
)

// Listener receives event data.
type Listener func(data any)

// On registers l for event, replacing any previous listener. Only one
// listener is kept per event; a nil l unregisters.
func (s *Session) On(event string, l Listener) {
	_ = s.exec(context.Background(), func() {
		if l == nil {
			delete(s.events, event)
			return
		}
		s.events[event] = l
	})
}

// Emit calls the listener registered for event, if any.
func (s *Session) Emit(event string, data any) {
	var l Listener
	if err := s.exec(context.Background(), func() { l = s.events[event] }); err != nil || l == nil {
		return
	}
	s.safeCall(event, func() { l(data) })
}
