package models

import "time"

// ProfileStatus is the application-side verification state of a user.
type ProfileStatus string

const (
	ProfileStatusUnverified ProfileStatus = "unverified"
	ProfileStatusPending    ProfileStatus = "pending"
	ProfileStatusVerified   ProfileStatus = "verified"
	ProfileStatusFailed     ProfileStatus = "failed"
)

func (s ProfileStatus) IsValid() bool {
	switch s {
	case ProfileStatusUnverified, ProfileStatusPending, ProfileStatusVerified, ProfileStatusFailed:
		return true
	}
	return false
}

func (s ProfileStatus) String() string { return string(s) }

// ProfileState is the durable per-user verification record.
//
// Verified is denormalized from VerificationStatus and must equal
// VerificationStatus == ProfileStatusVerified. Build values with
// NewProfileState so the two fields are never set independently.
type ProfileState struct {
	UserID             string
	VerificationStatus ProfileStatus
	Verified           bool
	// SessionID is the provider session the record currently tracks.
	SessionID string
	UpdatedAt time.Time
}

// NewProfileState returns a state whose Verified flag is derived from status.
func NewProfileState(userID string, status ProfileStatus, at time.Time) ProfileState {
	return ProfileState{
		UserID:             userID,
		VerificationStatus: status,
		Verified:           status == ProfileStatusVerified,
		UpdatedAt:          at,
	}
}

// WithSession returns a copy of p bound to sessionID.
func (p ProfileState) WithSession(sessionID string) ProfileState {
	p.SessionID = sessionID
	return p
}

// UnverifiedProfile is the implicit state of a user with no record.
func UnverifiedProfile(userID string) ProfileState {
	return ProfileState{UserID: userID, VerificationStatus: ProfileStatusUnverified}
}

// Consistent reports whether the verified flag agrees with the status.
func (p ProfileState) Consistent() bool {
	return p.Verified == (p.VerificationStatus == ProfileStatusVerified)
}
