package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"live-challenge-service/internal/domain"
	"live-challenge-service/internal/logger"
	"live-challenge-service/internal/metrics"
)

// Op is a lifecycle operation on a challenge.
type Op string

const (
	OpStart  Op = "start"
	OpPause  Op = "pause"
	OpResume Op = "resume"
	OpStop   Op = "stop"
)

type transition struct {
	from []domain.State
	to   domain.State
}

// transitions is the complete edge set of the lifecycle. Anything else is rejected.
var transitions = map[Op]transition{
	OpStart:  {from: []domain.State{domain.StateDraft, domain.StatePaused}, to: domain.StateLive},
	OpPause:  {from: []domain.State{domain.StateLive}, to: domain.StatePaused},
	OpResume: {from: []domain.State{domain.StatePaused}, to: domain.StateLive},
	OpStop:   {from: []domain.State{domain.StateDraft, domain.StateLive, domain.StatePaused}, to: domain.StateEnded},
}

// ChallengeService owns the challenge lifecycle and the leaderboard view.
type ChallengeService struct {
	store       ChallengeStore
	submissions SubmissionStore
	reader      ChallengeReader
	broadcaster Broadcaster
	now         func() time.Time
}

func NewChallengeService(store ChallengeStore, submissions SubmissionStore, reader ChallengeReader, broadcaster Broadcaster) *ChallengeService {
	return NewChallengeServiceWithClock(store, submissions, reader, broadcaster, time.Now)
}

// NewChallengeServiceWithClock allows deterministic timestamps in tests.
func NewChallengeServiceWithClock(store ChallengeStore, submissions SubmissionStore, reader ChallengeReader, broadcaster Broadcaster, now func() time.Time) *ChallengeService {
	if reader == nil {
		reader = NoCache(store)
	}
	return &ChallengeService{
		store:       store,
		submissions: submissions,
		reader:      reader,
		broadcaster: broadcaster,
		now:         now,
	}
}

// Create stores a new DRAFT challenge owned by the caller.
func (s *ChallengeService) Create(ctx context.Context, caller domain.Identity, def domain.ChallengeDefinition) (domain.Challenge, error) {
	if caller.UserID == "" {
		return domain.Challenge{}, domain.ErrUnauthorized
	}
	def = normalizeDefinition(def)
	if err := validateDefinition(def); err != nil {
		return domain.Challenge{}, err
	}

	c := domain.Challenge{
		ID:              uuid.NewString(),
		Title:           def.Title,
		Description:     def.Description,
		Kind:            def.Kind,
		Difficulty:      def.Difficulty,
		DurationMinutes: def.DurationMinutes,
		State:           domain.StateDraft,
		CreatedBy:       caller.UserID,
		CreatedAt:       s.now().UTC(),
		ScheduledStart:  def.ScheduledStart,
		TestCases:       def.TestCases,
		Questions:       def.Questions,
	}
	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return domain.Challenge{}, persistenceErr("create challenge", err)
	}
	logger.Info().Str("challengeId", c.ID).Str("userId", caller.UserID).Str("type", string(c.Kind)).Msg("challenge created")
	return c, nil
}

// List returns all challenges, newest first.
func (s *ChallengeService) List(ctx context.Context) ([]domain.Challenge, error) {
	challenges, err := s.store.ListChallenges(ctx)
	if err != nil {
		return nil, persistenceErr("list challenges", err)
	}
	return challenges, nil
}

// Get returns a single challenge.
func (s *ChallengeService) Get(ctx context.Context, id string) (domain.Challenge, error) {
	c, err := s.reader.GetChallenge(ctx, id)
	if err != nil {
		return domain.Challenge{}, persistenceErr("get challenge", err)
	}
	return c, nil
}

// Update changes the descriptive fields of a challenge. Test cases and questions
// only change while no submission has been graded against them.
func (s *ChallengeService) Update(ctx context.Context, caller domain.Identity, id string, def domain.ChallengeDefinition) (domain.Challenge, error) {
	c, err := s.authorize(ctx, caller, id)
	if err != nil {
		return domain.Challenge{}, err
	}
	if c.State == domain.StateEnded {
		return domain.Challenge{}, domain.ErrInvalidTransition
	}
	if def.Kind == "" {
		def.Kind = c.Kind
	}
	if def.Kind != c.Kind {
		return domain.Challenge{}, fmt.Errorf("%w: challenge type cannot change", domain.ErrValidation)
	}
	def = normalizeDefinition(def)
	if err := validateDefinition(def); err != nil {
		return domain.Challenge{}, err
	}

	expect := c.State
	c.Title = def.Title
	c.Description = def.Description
	c.Difficulty = def.Difficulty
	c.DurationMinutes = def.DurationMinutes
	c.ScheduledStart = def.ScheduledStart

	if samePayload(c, def) {
		err = s.store.UpdateChallenge(ctx, c, expect)
	} else {
		// The store re-checks both conditions atomically with the write.
		n, cerr := s.submissions.CountSubmissions(ctx, id)
		if cerr != nil {
			return domain.Challenge{}, persistenceErr("count submissions", cerr)
		}
		if n > 0 {
			return domain.Challenge{}, domain.ErrPayloadLocked
		}
		c.TestCases = def.TestCases
		c.Questions = def.Questions
		c.PayloadVersion++
		err = s.store.ReplacePayload(ctx, c, expect)
	}
	if err != nil {
		return domain.Challenge{}, persistenceErr("update challenge", err)
	}
	s.reader.Invalidate(ctx, id)
	return c, nil
}

func (s *ChallengeService) Start(ctx context.Context, caller domain.Identity, id string) (domain.Challenge, error) {
	return s.Transition(ctx, caller, id, OpStart)
}

func (s *ChallengeService) Pause(ctx context.Context, caller domain.Identity, id string) (domain.Challenge, error) {
	return s.Transition(ctx, caller, id, OpPause)
}

func (s *ChallengeService) Resume(ctx context.Context, caller domain.Identity, id string) (domain.Challenge, error) {
	return s.Transition(ctx, caller, id, OpResume)
}

func (s *ChallengeService) Stop(ctx context.Context, caller domain.Identity, id string) (domain.Challenge, error) {
	return s.Transition(ctx, caller, id, OpStop)
}

// Transition applies op to the challenge and broadcasts the new status to its participant room.
func (s *ChallengeService) Transition(ctx context.Context, caller domain.Identity, id string, op Op) (domain.Challenge, error) {
	edge, ok := transitions[op]
	if !ok {
		return domain.Challenge{}, fmt.Errorf("%w: unknown operation %q", domain.ErrValidation, op)
	}

	c, err := s.authorize(ctx, caller, id)
	if err != nil {
		return domain.Challenge{}, err
	}
	if !slices.Contains(edge.from, c.State) {
		return domain.Challenge{}, fmt.Errorf("%w: cannot %s a %s challenge", domain.ErrInvalidTransition, op, c.State)
	}

	from := c.State
	c.State = edge.to
	switch edge.to {
	case domain.StateLive:
		c.IsPaused = false
		if c.StartedAt == nil {
			now := s.now().UTC()
			c.StartedAt = &now
		}
	case domain.StatePaused:
		c.IsPaused = true
	}

	if err := s.store.UpdateChallenge(ctx, c, from); err != nil {
		return domain.Challenge{}, persistenceErr("update challenge", err)
	}
	s.reader.Invalidate(ctx, id)

	status := domain.ChallengeStatus{Status: c.State}
	if c.State == domain.StateLive {
		status.StartedAt = c.StartedAt
	}
	s.broadcaster.ToParticipants(id, domain.EventChallengeStatus, status)

	metrics.Transitions.WithLabelValues(string(c.State)).Inc()
	logger.Info().
		Str("challengeId", id).
		Str("userId", caller.UserID).
		Str("from", string(from)).
		Str("to", string(c.State)).
		Msg("challenge transition")
	return c, nil
}

// Delete removes a challenge and then, separately, its submissions.
// The two removals are not atomic; a failure on the second is only logged.
func (s *ChallengeService) Delete(ctx context.Context, caller domain.Identity, id string) error {
	if _, err := s.authorize(ctx, caller, id); err != nil {
		return err
	}
	if err := s.store.DeleteChallenge(ctx, id); err != nil {
		return persistenceErr("delete challenge", err)
	}
	s.reader.Invalidate(ctx, id)
	if err := s.submissions.DeleteSubmissions(ctx, id); err != nil {
		logger.Warn().Err(err).Str("challengeId", id).Msg("submissions left behind after challenge delete")
	}
	logger.Info().Str("challengeId", id).Str("userId", caller.UserID).Msg("challenge deleted")
	return nil
}

// Leaderboard reduces the stored submissions to one best row per participant.
func (s *ChallengeService) Leaderboard(ctx context.Context, challengeID string) ([]domain.LeaderboardRow, error) {
	if _, err := s.Get(ctx, challengeID); err != nil {
		return nil, err
	}
	subs, err := s.submissions.ListSubmissions(ctx, challengeID)
	if err != nil {
		return nil, persistenceErr("list submissions", err)
	}
	return BuildLeaderboard(subs), nil
}

// authorize loads the challenge straight from the store and checks the caller may operate it.
func (s *ChallengeService) authorize(ctx context.Context, caller domain.Identity, id string) (domain.Challenge, error) {
	if caller.UserID == "" {
		return domain.Challenge{}, domain.ErrUnauthorized
	}
	c, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		return domain.Challenge{}, persistenceErr("get challenge", err)
	}
	if !c.CanOperate(caller) {
		return domain.Challenge{}, domain.ErrForbidden
	}
	return c, nil
}

// normalizeDefinition keeps only the payload matching the declared kind.
func normalizeDefinition(def domain.ChallengeDefinition) domain.ChallengeDefinition {
	switch def.Kind {
	case domain.KindCode:
		def.Questions = nil
	case domain.KindMCQ:
		def.TestCases = nil
	default:
		def.TestCases = nil
		def.Questions = nil
	}
	return def
}

func samePayload(c domain.Challenge, def domain.ChallengeDefinition) bool {
	if !slices.Equal(c.TestCases, def.TestCases) {
		return false
	}
	return slices.EqualFunc(c.Questions, def.Questions, func(a, b domain.MCQQuestion) bool {
		return a.Prompt == b.Prompt && a.CorrectOptionIndex == b.CorrectOptionIndex && slices.Equal(a.Options, b.Options)
	})
}

// persistenceErr passes domain sentinels through and marks everything else as a store failure.
func persistenceErr(op string, err error) error {
	for _, known := range []error{
		domain.ErrNotFound, domain.ErrInvalidTransition, domain.ErrValidation,
		domain.ErrPayloadLocked, domain.ErrPayloadChanged,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, err)
}
