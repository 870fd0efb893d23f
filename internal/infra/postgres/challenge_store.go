package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-challenge-service/internal/domain"
)

// Store keeps challenges and submissions as JSONB documents.
// Columns duplicated out of the document exist only for filtering and ordering.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateChallenge(ctx context.Context, c domain.Challenge) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO challenges (id, data, status, created_by, created_at, payload_version) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, raw, string(c.State), c.CreatedBy, c.CreatedAt, c.PayloadVersion)
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

func (s *Store) GetChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM challenges WHERE id=$1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Challenge{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("load challenge: %w", err)
	}
	return decodeChallenge(raw)
}

func (s *Store) ListChallenges(ctx context.Context) ([]domain.Challenge, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM challenges ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Challenge, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		c, err := decodeChallenge(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateChallenge overwrites the document but carries the stored payload over.
func (s *Store) UpdateChallenge(ctx context.Context, c domain.Challenge, expect domain.State) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE challenges
		SET data = $2::jsonb || jsonb_build_object(
				'testCases', data->'testCases',
				'mcqQuestions', data->'mcqQuestions',
				'payloadVersion', payload_version),
			status = $3
		WHERE id=$1 AND status=$4`,
		c.ID, raw, string(c.State), string(expect))
	if err != nil {
		return fmt.Errorf("update challenge: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM challenges WHERE id=$1)`, c.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check challenge: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidTransition
}

// ReplacePayload locks the challenge row, so it serializes with AddSubmission's shared lock.
func (s *Store) ReplacePayload(ctx context.Context, c domain.Challenge, expect domain.State) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin payload update: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		status  string
		version int
	)
	err = tx.QueryRow(ctx, `SELECT status, payload_version FROM challenges WHERE id=$1 FOR UPDATE`, c.ID).Scan(&status, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock challenge: %w", err)
	}
	if domain.State(status) != expect {
		return domain.ErrInvalidTransition
	}
	if version != c.PayloadVersion-1 {
		return domain.ErrPayloadChanged
	}

	var graded bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM challenge_submissions WHERE challenge_id=$1)`, c.ID).Scan(&graded); err != nil {
		return fmt.Errorf("check submissions: %w", err)
	}
	if graded {
		return domain.ErrPayloadLocked
	}

	if _, err := tx.Exec(ctx,
		`UPDATE challenges SET data=$2, status=$3, payload_version=$4 WHERE id=$1`,
		c.ID, raw, string(c.State), c.PayloadVersion); err != nil {
		return fmt.Errorf("update challenge payload: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit payload update: %w", err)
	}
	return nil
}

func (s *Store) DeleteChallenge(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM challenges WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddSubmission holds a shared row lock on the challenge while it checks the
// payload version and inserts.
func (s *Store) AddSubmission(ctx context.Context, sub domain.Submission) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin submission insert: %w", err)
	}
	defer tx.Rollback(ctx)

	var version int
	err = tx.QueryRow(ctx, `SELECT payload_version FROM challenges WHERE id=$1 FOR SHARE`, sub.ChallengeID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock challenge: %w", err)
	}
	if version != sub.PayloadVersion {
		return domain.ErrPayloadChanged
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO challenge_submissions (id, challenge_id, user_id, score, data, submitted_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.ChallengeID, sub.UserID, sub.Score, raw, sub.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit submission: %w", err)
	}
	return nil
}

func (s *Store) ListSubmissions(ctx context.Context, challengeID string) ([]domain.Submission, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM challenge_submissions WHERE challenge_id=$1 ORDER BY seq`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Submission, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		var sub domain.Submission
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("unmarshal submission: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) CountSubmissions(ctx context.Context, challengeID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM challenge_submissions WHERE challenge_id=$1`, challengeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}

// DeleteSubmissions is usually a no-op after DeleteChallenge because of the cascading key.
func (s *Store) DeleteSubmissions(ctx context.Context, challengeID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM challenge_submissions WHERE challenge_id=$1`, challengeID); err != nil {
		return fmt.Errorf("delete submissions: %w", err)
	}
	return nil
}

func decodeChallenge(raw []byte) (domain.Challenge, error) {
	var c domain.Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return domain.Challenge{}, fmt.Errorf("unmarshal challenge: %w", err)
	}
	return c, nil
}
