package models

import (
	"encoding/json"
	"time"
)

// Provider webhook event types this service acts on. Any other type is
// accepted and ignored.
const (
	EventSessionVerified      = "identity.verification_session.verified"
	EventSessionCanceled      = "identity.verification_session.canceled"
	EventSessionRequiresInput = "identity.verification_session.requires_input"
	EventSessionProcessing    = "identity.verification_session.processing"
	EventSessionCreated       = "identity.verification_session.created"
)

// MetadataUserID is the session metadata key binding a session to its owner.
const MetadataUserID = "user_id"

// WebhookEvent is the provider's event envelope. Data stays raw until the
// event type is known to be one this service acts on, so unrelated events
// never fail to decode.
type WebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// SessionEvent reports whether the event type carries a verification
// session this service reconciles.
func (e WebhookEvent) SessionEvent() bool {
	switch e.Type {
	case EventSessionVerified, EventSessionCanceled, EventSessionRequiresInput:
		return true
	}
	return false
}

// Session decodes data.object as a verification session.
func (e WebhookEvent) Session() (WebhookSession, error) {
	var data struct {
		Object WebhookSession `json:"object"`
	}
	if len(e.Data) == 0 {
		return data.Object, nil
	}
	err := json.Unmarshal(e.Data, &data)
	return data.Object, err
}

// WebhookSession is the session object embedded in a webhook event.
type WebhookSession struct {
	ID        string            `json:"id"`
	Status    SessionStatus     `json:"status"`
	Metadata  map[string]string `json:"metadata"`
	LastError *struct {
		Code   string `json:"code"`
		Reason string `json:"reason"`
	} `json:"last_error"`
}

// OwnerUserID returns the user id carried in session metadata.
func (o WebhookSession) OwnerUserID() string {
	return o.Metadata[MetadataUserID]
}

// HasLastError reports whether the provider attached a failure reason.
func (o WebhookSession) HasLastError() bool {
	return o.LastError != nil && o.LastError.Code != ""
}

// Reconciliation describes one authoritative status update applied to a
// profile, from either the webhook or the poll channel.
type Reconciliation struct {
	UserID    string
	SessionID string
	EventID   string
	Status    ProfileStatus
	Source    ReconcileSource
	At        time.Time
}

// ReconcileSource identifies the channel that produced a reconciliation.
type ReconcileSource string

const (
	SourceWebhook ReconcileSource = "webhook"
	SourcePoll    ReconcileSource = "poll"
)

// DedupKey identifies a reconciliation for side-effect suppression. Poll
// reconciliations have no provider event id, so the session id stands in;
// the webhook path uses the same key so a poll and a webhook for one session
// fan out once.
func (r Reconciliation) DedupKey() string {
	return r.UserID + ":" + r.SessionID + ":" + string(r.Status)
}
