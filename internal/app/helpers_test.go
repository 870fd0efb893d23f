package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"live-challenge-service/internal/app"
	"live-challenge-service/internal/domain"
	"live-challenge-service/internal/infra/memory"
)

var (
	operator    = domain.Identity{UserID: "op-1", Name: "Olivia"}
	participant = domain.Identity{UserID: "u1", Name: "Alice"}
)

type event struct {
	admin       bool
	challengeID string
	name        string
	payload     any
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []event
}

func (b *recordingBroadcaster) ToParticipants(challengeID, name string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{challengeID: challengeID, name: name, payload: payload})
}

func (b *recordingBroadcaster) ToAdmins(challengeID, name string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{admin: true, challengeID: challengeID, name: name, payload: payload})
}

func (b *recordingBroadcaster) last() event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return event{}
	}
	return b.events[len(b.events)-1]
}

// judgeFunc adapts a function to app.Judge.
type judgeFunc func(ctx context.Context, language, code, stdin string) (domain.ExecutionResult, error)

func (f judgeFunc) Execute(ctx context.Context, language, code, stdin string) (domain.ExecutionResult, error) {
	return f(ctx, language, code, stdin)
}

// printsThree is a judge whose program always prints 3.
var printsThree = judgeFunc(func(context.Context, string, string, string) (domain.ExecutionResult, error) {
	return domain.ExecutionResult{Stdout: "3\n"}, nil
})

// addsNumbers emulates a correct "sum two numbers" program, failing on empty stdin.
var addsNumbers = judgeFunc(func(_ context.Context, _ string, _ string, stdin string) (domain.ExecutionResult, error) {
	switch strings.TrimSpace(stdin) {
	case "1 2":
		return domain.ExecutionResult{Stdout: "3"}, nil
	case "2 2":
		return domain.ExecutionResult{Stdout: "4"}, nil
	case "boom":
		return domain.ExecutionResult{}, errors.New("judge unreachable")
	case "crash":
		return domain.ExecutionResult{Stderr: "segmentation fault", ExitCode: 139}, nil
	}
	return domain.ExecutionResult{Stdout: ""}, nil
})

type fixture struct {
	store       *memory.Store
	broadcaster *recordingBroadcaster
	service     *app.ChallengeService
	grader      *app.Grader
	now         time.Time
}

func newFixture(judge app.Judge) *fixture {
	f := &fixture{
		store:       memory.NewStore(),
		broadcaster: &recordingBroadcaster{},
		now:         time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time {
		f.now = f.now.Add(time.Second)
		return f.now
	}
	reader := memory.NewChallengeCache(f.store, time.Minute)
	f.service = app.NewChallengeServiceWithClock(f.store, f.store, reader, f.broadcaster, clock)
	f.grader = app.NewGrader(f.store, f.store, judge, memory.NewLocker(), f.broadcaster).WithClock(clock)
	return f
}

func codeDefinition(cases ...domain.TestCase) domain.ChallengeDefinition {
	return domain.ChallengeDefinition{
		Title:           "Sum two numbers",
		Kind:            domain.KindCode,
		Difficulty:      "easy",
		DurationMinutes: 30,
		TestCases:       cases,
	}
}

func mcqDefinition(correct ...int) domain.ChallengeDefinition {
	questions := make([]domain.MCQQuestion, 0, len(correct))
	for _, idx := range correct {
		questions = append(questions, domain.MCQQuestion{
			Prompt:             "Pick one",
			Options:            []string{"a", "b", "c"},
			CorrectOptionIndex: idx,
		})
	}
	return domain.ChallengeDefinition{
		Title:     "Go trivia",
		Kind:      domain.KindMCQ,
		Questions: questions,
	}
}
