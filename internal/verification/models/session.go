package models

// SessionStatus is the provider-side lifecycle of a verification session.
// It progresses requires_input -> processing -> {verified | canceled}
// entirely inside the provider; the application only observes it.
type SessionStatus string

const (
	SessionStatusRequiresInput SessionStatus = "requires_input"
	SessionStatusProcessing    SessionStatus = "processing"
	SessionStatusVerified      SessionStatus = "verified"
	SessionStatusCanceled      SessionStatus = "canceled"
)

// IsValid reports whether s is a status the provider is known to emit.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusRequiresInput, SessionStatusProcessing, SessionStatusVerified, SessionStatusCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether no further provider transitions can occur.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusVerified || s == SessionStatusCanceled
}

func (s SessionStatus) String() string { return string(s) }

// Session is a provider-owned verification session as seen by this service.
// OwnerUserID is read back from provider metadata and is never taken from
// client input.
type Session struct {
	ID          string
	Status      SessionStatus
	RedirectURL string
	OwnerUserID string
	LastError   string
}

// StartResult is returned to the caller of StartVerification.
type StartResult struct {
	SessionID   string
	RedirectURL string
}

// PollResult is the client-facing view of a polled session.
type PollResult struct {
	Status   string
	Verified bool
}
