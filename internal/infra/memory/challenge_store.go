package memory

import (
	"context"
	"sort"
	"sync"

	"live-challenge-service/internal/domain"
)

// Store is an in-memory implementation of app.ChallengeStore and app.SubmissionStore.
type Store struct {
	mu          sync.RWMutex
	challenges  map[string]domain.Challenge
	submissions map[string][]domain.Submission
}

func NewStore() *Store {
	return &Store{
		challenges:  make(map[string]domain.Challenge),
		submissions: make(map[string][]domain.Submission),
	}
}

func (s *Store) CreateChallenge(_ context.Context, c domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.ID] = c
	return nil
}

func (s *Store) GetChallenge(_ context.Context, id string) (domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.challenges[id]
	if !ok {
		return domain.Challenge{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListChallenges(_ context.Context) ([]domain.Challenge, error) {
	s.mu.RLock()
	out := make([]domain.Challenge, 0, len(s.challenges))
	for _, c := range s.challenges {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateChallenge(_ context.Context, c domain.Challenge, expect domain.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.challenges[c.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.State != expect {
		return domain.ErrInvalidTransition
	}
	c.TestCases = current.TestCases
	c.Questions = current.Questions
	c.PayloadVersion = current.PayloadVersion
	s.challenges[c.ID] = c
	return nil
}

func (s *Store) ReplacePayload(_ context.Context, c domain.Challenge, expect domain.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.challenges[c.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.State != expect {
		return domain.ErrInvalidTransition
	}
	if current.PayloadVersion != c.PayloadVersion-1 {
		return domain.ErrPayloadChanged
	}
	if len(s.submissions[c.ID]) > 0 {
		return domain.ErrPayloadLocked
	}
	s.challenges[c.ID] = c
	return nil
}

func (s *Store) DeleteChallenge(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.challenges, id)
	return nil
}

// AddSubmission only stores sub if it was graded against the current payload.
func (s *Store) AddSubmission(_ context.Context, sub domain.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[sub.ChallengeID]
	if !ok {
		return domain.ErrNotFound
	}
	if c.PayloadVersion != sub.PayloadVersion {
		return domain.ErrPayloadChanged
	}
	s.submissions[sub.ChallengeID] = append(s.submissions[sub.ChallengeID], sub)
	return nil
}

func (s *Store) ListSubmissions(_ context.Context, challengeID string) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := s.submissions[challengeID]
	out := make([]domain.Submission, len(subs))
	copy(out, subs)
	return out, nil
}

func (s *Store) CountSubmissions(_ context.Context, challengeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.submissions[challengeID]), nil
}

func (s *Store) DeleteSubmissions(_ context.Context, challengeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.submissions, challengeID)
	return nil
}
