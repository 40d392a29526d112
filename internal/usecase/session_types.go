package usecase

import (
	"modsy/internal/domain"
	"modsy/internal/ports"
)

// session is the live state of one listening attempt. It is only read or
// written with SessionController.mu held.
type session struct {
	id            string
	status        domain.SessionStatus
	transcript    string
	subscriptions []ports.Subscription
	onUpdate      func(string)

	// detached is set once unsubscription has begun; later events are dropped.
	detached bool
}

func idleSession() session {
	return session{status: domain.SessionStatusIdle}
}

// acceptsEvents reports whether a transcript event for id may update state.
func (s *session) acceptsEvents(id string) bool {
	if s.id != id || s.detached {
		return false
	}
	return s.status == domain.SessionStatusListening || s.status == domain.SessionStatusStopping
}

func releaseSubscriptions(subs []ports.Subscription) {
	for _, sub := range subs {
		if sub != nil {
			sub.Remove()
		}
	}
}
