package app

import (
	"sort"

	"live-challenge-service/internal/domain"
)

// BuildLeaderboard keeps the best submission per participant and ranks them by score.
// subs must be in storage order: on equal scores the earlier submission wins, and
// rows with equal scores keep the order in which their best submission was stored.
func BuildLeaderboard(subs []domain.Submission) []domain.LeaderboardRow {
	type best struct {
		sub      domain.Submission
		seq      int
		attempts int
	}
	byUser := make(map[string]*best)
	for i, sub := range subs {
		b, ok := byUser[sub.UserID]
		if !ok {
			byUser[sub.UserID] = &best{sub: sub, seq: i, attempts: 1}
			continue
		}
		b.attempts++
		if sub.Score > b.sub.Score {
			b.sub = sub
			b.seq = i
		}
	}

	ranked := make([]*best, 0, len(byUser))
	for _, b := range byUser {
		ranked = append(ranked, b)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].sub.Score != ranked[j].sub.Score {
			return ranked[i].sub.Score > ranked[j].sub.Score
		}
		return ranked[i].seq < ranked[j].seq
	})

	rows := make([]domain.LeaderboardRow, 0, len(ranked))
	for _, b := range ranked {
		rows = append(rows, domain.LeaderboardRow{
			UserID:      b.sub.UserID,
			Score:       b.sub.Score,
			Status:      b.sub.Status,
			Language:    b.sub.Language,
			SubmittedAt: b.sub.SubmittedAt,
			Attempts:    b.attempts,
		})
	}
	return rows
}
