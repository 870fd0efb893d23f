package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"live-challenge-service/internal/domain"
	"live-challenge-service/internal/logger"
	"live-challenge-service/internal/metrics"
)

// Grader scores submissions, persists them and notifies the operator room.
type Grader struct {
	challenges  ChallengeStore
	submissions SubmissionStore
	judge       Judge
	locker      SubmissionLocker
	broadcaster Broadcaster
	now         func() time.Time
}

// NewGrader reads challenges from the store itself, not a cache, so a stop or a
// payload change is seen by the very next submission.
func NewGrader(challenges ChallengeStore, submissions SubmissionStore, judge Judge, locker SubmissionLocker, broadcaster Broadcaster) *Grader {
	return &Grader{
		challenges:  challenges,
		submissions: submissions,
		judge:       judge,
		locker:      locker,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// WithClock is test-only for deterministic timestamps.
func (g *Grader) WithClock(now func() time.Time) *Grader {
	g.now = now
	return g
}

// Submit grades req for the caller and returns the participant-visible result.
// Hidden test case outcomes are stored but never returned. Once the lock is held,
// grading and persisting run to completion even if ctx is cancelled.
func (g *Grader) Submit(ctx context.Context, caller domain.Identity, req domain.SubmissionRequest) (domain.GradeResult, error) {
	if caller.UserID == "" {
		return domain.GradeResult{}, domain.ErrUnauthorized
	}
	if req.ChallengeID == "" {
		return domain.GradeResult{}, fmt.Errorf("%w: challengeId required", domain.ErrValidation)
	}

	challenge, err := g.challenges.GetChallenge(ctx, req.ChallengeID)
	if err != nil {
		return domain.GradeResult{}, persistenceErr("get challenge", err)
	}
	if challenge.State == domain.StateEnded {
		return domain.GradeResult{}, domain.ErrChallengeClosed
	}
	if err := validateSubmission(challenge.Kind, req); err != nil {
		return domain.GradeResult{}, err
	}

	unlock, ok, err := g.locker.TryLock(ctx, lockKey(challenge.ID, caller.UserID))
	if err != nil {
		return domain.GradeResult{}, persistenceErr("acquire submission lock", err)
	}
	if !ok {
		return domain.GradeResult{}, domain.ErrSubmissionInFlight
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	sub := domain.Submission{
		ID:             uuid.NewString(),
		ChallengeID:    challenge.ID,
		UserID:         caller.UserID,
		PayloadVersion: challenge.PayloadVersion,
	}
	switch challenge.Kind {
	case domain.KindCode:
		sub.Code = req.Code
		sub.Language = req.Language
		sub.Results, sub.Score = g.gradeCode(ctx, challenge.TestCases, req.Language, req.Code)
		sub.NeedsReview = len(challenge.TestCases) == 0
	case domain.KindMCQ:
		sub.Answers = req.Answers
		sub.Results, sub.Score = gradeMCQ(challenge.Questions, req.Answers)
	}
	sub.Status = domain.StatusAttempted
	if sub.Score == 100 {
		sub.Status = domain.StatusCompleted
	}
	sub.SubmittedAt = g.now().UTC()

	if err := g.submissions.AddSubmission(ctx, sub); err != nil {
		return domain.GradeResult{}, persistenceErr("save submission", err)
	}

	g.broadcaster.ToAdmins(challenge.ID, domain.EventNewSubmission, domain.NewSubmission{UserID: caller.UserID, Score: sub.Score})
	metrics.Submissions.WithLabelValues(string(challenge.Kind), string(sub.Status)).Inc()
	logger.Info().
		Str("challengeId", challenge.ID).
		Str("userId", caller.UserID).
		Float64("score", sub.Score).
		Str("status", string(sub.Status)).
		Msg("submission graded")

	return domain.GradeResult{Score: sub.Score, Results: visibleResults(sub.Results)}, nil
}

// gradeCode runs every test case in declared order. A judge failure fails only its own case.
func (g *Grader) gradeCode(ctx context.Context, cases []domain.TestCase, language, code string) ([]domain.ResultItem, float64) {
	if len(cases) == 0 {
		// Nothing to judge: full marks, flagged for manual review by the caller.
		return []domain.ResultItem{}, 100
	}

	results := make([]domain.ResultItem, 0, len(cases))
	passed := 0
	for _, tc := range cases {
		item := domain.ResultItem{
			Input:    tc.Input,
			Expected: tc.ExpectedOutput,
			Hidden:   tc.Hidden,
		}

		start := time.Now()
		res, err := g.judge.Execute(ctx, language, code, tc.Input)
		metrics.JudgeDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			err = executionFailure(res)
		}
		if err != nil {
			logger.Debug().Err(err).Str("language", language).Msg("test case execution failed")
			item.Actual = err.Error()
		} else {
			item.Actual = strings.TrimSpace(res.Stdout)
			item.Passed = item.Actual == strings.TrimSpace(tc.ExpectedOutput)
		}
		if item.Passed {
			passed++
		}
		results = append(results, item)
	}
	return results, float64(passed) / float64(len(cases)) * 100
}

// executionFailure turns an abnormal run into an error carrying the judge's message.
func executionFailure(res domain.ExecutionResult) error {
	if res.ExitCode == 0 && res.Signal == "" {
		return nil
	}
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" && res.Signal != "" {
		msg = "terminated by " + res.Signal
	}
	if msg == "" {
		msg = fmt.Sprintf("exited with code %d", res.ExitCode)
	}
	return fmt.Errorf("%w: %s", domain.ErrExecution, msg)
}

func gradeMCQ(questions []domain.MCQQuestion, answers map[int]int) ([]domain.ResultItem, float64) {
	results := make([]domain.ResultItem, 0, len(questions))
	correct := 0
	for i, q := range questions {
		idx := i
		selected, ok := answers[i]
		isCorrect := ok && selected == q.CorrectOptionIndex
		if isCorrect {
			correct++
		}
		results = append(results, domain.ResultItem{QuestionIndex: &idx, Passed: isCorrect})
	}
	if len(questions) == 0 {
		return results, 0
	}
	return results, float64(correct) / float64(len(questions)) * 100
}

func visibleResults(items []domain.ResultItem) []domain.ResultItem {
	visible := make([]domain.ResultItem, 0, len(items))
	for _, item := range items {
		if !item.Hidden {
			visible = append(visible, item)
		}
	}
	return visible
}

func lockKey(challengeID, userID string) string {
	return challengeID + ":" + userID
}
