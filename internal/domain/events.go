package domain

import "time"

// Client to server realtime events.
const (
	EventJoinChallenge = "join_challenge"
	EventAdminJoin     = "admin_join"
	EventSyncCode      = "sync_code"
	EventViolation     = "violation"
)

// Server to client realtime events.
const (
	EventParticipantUpdate = "participant_update"
	EventInitParticipants  = "init_participants"
	EventCodeUpdate        = "code_update"
	EventViolationAlert    = "violation_alert"
	EventNewSubmission     = "new_submission"
	EventChallengeStatus   = "challenge_status"
	EventError             = "error"
)

// Presence update types.
const (
	PresenceJoin  = "JOIN"
	PresenceLeave = "LEAVE"
)

// ParticipantUpdate is broadcast to the participant room on join and leave.
type ParticipantUpdate struct {
	Type        string              `json:"type"`
	Participant ParticipantSnapshot `json:"participant"`
}

// ParticipantSnapshot is the public view of a participant.
type ParticipantSnapshot struct {
	UserID      string         `json:"userId"`
	DisplayName string         `json:"username,omitempty"`
	Status      PresenceStatus `json:"status"`
}

// CodeUpdate relays a live editor snapshot to operators.
type CodeUpdate struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
}

// ViolationAlert relays a proctoring signal to operators.
type ViolationAlert struct {
	UserID string `json:"userId"`
	Type   string `json:"type"`
	Count  int    `json:"count"`
}

// NewSubmission tells operators that a participant was graded.
type NewSubmission struct {
	UserID string  `json:"userId"`
	Score  float64 `json:"score"`
}

// ChallengeStatus is broadcast to participants on every lifecycle transition.
type ChallengeStatus struct {
	Status    State      `json:"status"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}
