package app

import (
	"context"

	"live-challenge-service/internal/domain"
)

// ChallengeStore persists challenge definitions.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, c domain.Challenge) error
	GetChallenge(ctx context.Context, id string) (domain.Challenge, error)
	// ListChallenges returns every challenge, newest first.
	ListChallenges(ctx context.Context) ([]domain.Challenge, error)
	// UpdateChallenge replaces c only while the stored state still equals expect.
	// It returns domain.ErrInvalidTransition when the state moved underneath the caller.
	// The stored test cases, questions and payload version are kept as they are.
	UpdateChallenge(ctx context.Context, c domain.Challenge, expect domain.State) error
	// ReplacePayload stores c including its payload. c.PayloadVersion must be one past
	// the stored version (else domain.ErrPayloadChanged) and no submission may exist
	// (else domain.ErrPayloadLocked).
	ReplacePayload(ctx context.Context, c domain.Challenge, expect domain.State) error
	DeleteChallenge(ctx context.Context, id string) error
}

// SubmissionStore persists graded submissions under their challenge.
type SubmissionStore interface {
	// AddSubmission returns domain.ErrPayloadChanged when s.PayloadVersion is no longer
	// the challenge's payload version.
	AddSubmission(ctx context.Context, s domain.Submission) error
	// ListSubmissions returns submissions in storage order (oldest first).
	ListSubmissions(ctx context.Context, challengeID string) ([]domain.Submission, error)
	CountSubmissions(ctx context.Context, challengeID string) (int, error)
	DeleteSubmissions(ctx context.Context, challengeID string) error
}

// ChallengeReader serves challenge reads, possibly from a cache.
type ChallengeReader interface {
	GetChallenge(ctx context.Context, id string) (domain.Challenge, error)
	Invalidate(ctx context.Context, id string)
}

// Broadcaster fans events out to the two rooms of a challenge without blocking the caller.
type Broadcaster interface {
	ToParticipants(challengeID, event string, payload any)
	ToAdmins(challengeID, event string, payload any)
}

// Judge runs untrusted code against a single stdin.
type Judge interface {
	Execute(ctx context.Context, language, code, stdin string) (domain.ExecutionResult, error)
}

// SubmissionLocker guards against concurrent grading for the same key.
type SubmissionLocker interface {
	// TryLock returns ok=false when the key is already held.
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

type uncachedReader struct {
	store ChallengeStore
}

func (r uncachedReader) GetChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	return r.store.GetChallenge(ctx, id)
}

func (uncachedReader) Invalidate(context.Context, string) {}

// NoCache adapts a store to ChallengeReader without caching.
func NoCache(store ChallengeStore) ChallengeReader {
	return uncachedReader{store: store}
}
