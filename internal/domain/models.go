package domain

import "time"

// Kind selects the grading algorithm of a challenge.
type Kind string

const (
	KindCode Kind = "CODE"
	KindMCQ  Kind = "MCQ"
)

// Valid reports whether k is a known challenge kind.
func (k Kind) Valid() bool {
	return k == KindCode || k == KindMCQ
}

// State is the lifecycle state of a challenge.
type State string

const (
	StateDraft  State = "DRAFT"
	StateLive   State = "LIVE"
	StatePaused State = "PAUSED"
	StateEnded  State = "ENDED"
)

// TestCase is one judged input/output pair of a CODE challenge.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"output"`
	Hidden         bool   `json:"hidden"`
}

// MCQQuestion models a multiple-choice question with exactly one correct option.
type MCQQuestion struct {
	Prompt             string   `json:"question"`
	Options            []string `json:"options"`
	CorrectOptionIndex int      `json:"correctIndex"`
}

// Challenge is a timed coding or quiz competition.
type Challenge struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Kind            Kind          `json:"type"`
	Difficulty      string        `json:"difficulty"`
	DurationMinutes int           `json:"durationMinutes"`
	State           State         `json:"status"`
	CreatedBy       string        `json:"createdBy"`
	CreatedAt       time.Time     `json:"createdAt"`
	ScheduledStart  *time.Time    `json:"scheduledStart"`
	IsPaused        bool          `json:"isPaused"`
	StartedAt       *time.Time    `json:"startedAt,omitempty"`
	TestCases       []TestCase    `json:"testCases,omitempty"`
	Questions       []MCQQuestion `json:"mcqQuestions,omitempty"`

	// PayloadVersion increases each time TestCases or Questions are replaced.
	PayloadVersion int `json:"payloadVersion"`
}

// PublicQuestion is an MCQ question without its answer.
type PublicQuestion struct {
	Prompt  string   `json:"question"`
	Options []string `json:"options"`
}

// PublicChallenge is what participants may read. The outer payload fields
// shadow the embedded ones when encoded.
type PublicChallenge struct {
	Challenge
	TestCases       []TestCase       `json:"testCases,omitempty"`
	Questions       []PublicQuestion `json:"mcqQuestions,omitempty"`
	HiddenTestCases int              `json:"hiddenTestCases,omitempty"`
}

// Public drops hidden test cases and correct option indices.
func (c Challenge) Public() PublicChallenge {
	view := PublicChallenge{Challenge: c}
	view.Challenge.TestCases = nil
	view.Challenge.Questions = nil
	for _, tc := range c.TestCases {
		if tc.Hidden {
			view.HiddenTestCases++
			continue
		}
		view.TestCases = append(view.TestCases, tc)
	}
	for _, q := range c.Questions {
		view.Questions = append(view.Questions, PublicQuestion{Prompt: q.Prompt, Options: q.Options})
	}
	return view
}

// ChallengeDefinition is the caller-supplied part of a challenge.
type ChallengeDefinition struct {
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Kind            Kind          `json:"type"`
	Difficulty      string        `json:"difficulty"`
	DurationMinutes int           `json:"durationMinutes"`
	TestCases       []TestCase    `json:"testCases,omitempty"`
	Questions       []MCQQuestion `json:"mcqQuestions,omitempty"`
	ScheduledStart  *time.Time    `json:"scheduledStart,omitempty"`
}

// SubmissionStatus records whether a submission earned full marks.
type SubmissionStatus string

const (
	StatusAttempted SubmissionStatus = "ATTEMPTED"
	StatusCompleted SubmissionStatus = "COMPLETED"
)

// ResultItem is the outcome of one test case or question, in declared order.
type ResultItem struct {
	Input         string `json:"input,omitempty"`
	Expected      string `json:"expected"`
	Actual        string `json:"actual"`
	Passed        bool   `json:"passed"`
	Hidden        bool   `json:"hidden,omitempty"`
	QuestionIndex *int   `json:"questionIndex,omitempty"`
}

// Submission is an immutable graded attempt. Resubmitting creates a new one.
type Submission struct {
	ID          string           `json:"id"`
	ChallengeID string           `json:"challengeId"`
	UserID      string           `json:"userId"`
	Code        string           `json:"code,omitempty"`
	Language    string           `json:"language,omitempty"`
	Answers     map[int]int      `json:"answers,omitempty"`
	Score       float64          `json:"score"`
	Results     []ResultItem     `json:"results"`
	Status      SubmissionStatus `json:"status"`
	NeedsReview bool             `json:"needsReview,omitempty"`
	SubmittedAt time.Time        `json:"submittedAt"`

	// PayloadVersion is the challenge payload this submission was graded against.
	PayloadVersion int `json:"payloadVersion"`
}

// SubmissionRequest carries either code+language (CODE) or answers (MCQ).
type SubmissionRequest struct {
	ChallengeID string      `json:"challengeId"`
	Code        string      `json:"code,omitempty"`
	Language    string      `json:"language,omitempty"`
	Answers     map[int]int `json:"answers,omitempty"`
}

// GradeResult is what a participant sees: hidden items are filtered out.
type GradeResult struct {
	Score   float64      `json:"score"`
	Results []ResultItem `json:"results"`
}

// LeaderboardRow is the best submission of one participant.
type LeaderboardRow struct {
	UserID      string           `json:"userId"`
	Score       float64          `json:"score"`
	Status      SubmissionStatus `json:"status"`
	Language    string           `json:"language,omitempty"`
	SubmittedAt time.Time        `json:"submittedAt"`
	Attempts    int              `json:"attempts"`
}

// PresenceStatus is the connection status shown to operators.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "ONLINE"
	PresenceOffline PresenceStatus = "OFFLINE"
)

// PresenceEntry is the ephemeral record of a connected participant.
type PresenceEntry struct {
	ConnID      string         `json:"socketId"`
	UserID      string         `json:"userId"`
	DisplayName string         `json:"username"`
	ChallengeID string         `json:"challengeId"`
	Status      PresenceStatus `json:"status"`
	Violations  int            `json:"violations"`
	JoinedAt    time.Time      `json:"joinedAt"`
}

// Identity is the caller as asserted by the upstream auth layer.
type Identity struct {
	UserID string
	Name   string
	Role   string
}

// RoleAdmin may operate every challenge.
const RoleAdmin = "admin"

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanOperate reports whether id may drive the lifecycle of c.
func (c Challenge) CanOperate(id Identity) bool {
	if id.UserID == "" {
		return false
	}
	return id.IsAdmin() || c.CreatedBy == id.UserID
}

// ExecutionResult is what the judge reports for one run.
type ExecutionResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	Signal   string `json:"signal,omitempty"`
}
