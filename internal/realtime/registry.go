package realtime

import (
	"sort"
	"sync"
	"time"

	"live-challenge-service/internal/domain"
)

// Registry is the process-local presence table, keyed by connection id.
// Callers only ever receive copies of entries.
type Registry struct {
	mu      sync.RWMutex
	now     func() time.Time
	entries map[string]*domain.PresenceEntry
}

func NewRegistry() *Registry {
	return NewRegistryWithClock(time.Now)
}

// NewRegistryWithClock allows deterministic join timestamps in tests.
func NewRegistryWithClock(now func() time.Time) *Registry {
	return &Registry{now: now, entries: make(map[string]*domain.PresenceEntry)}
}

// Join inserts or replaces the entry for connID with an ONLINE participant.
func (r *Registry) Join(connID, challengeID, userID, displayName string) domain.PresenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := &domain.PresenceEntry{
		ConnID:      connID,
		UserID:      userID,
		DisplayName: displayName,
		ChallengeID: challengeID,
		Status:      domain.PresenceOnline,
		JoinedAt:    r.now(),
	}
	r.entries[connID] = entry
	return *entry
}

// RecordViolation increments the violation counter of connID's entry.
func (r *Registry) RecordViolation(connID string) (domain.PresenceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[connID]
	if !ok {
		return domain.PresenceEntry{}, false
	}
	entry.Violations++
	return *entry, true
}

// Remove deletes and returns connID's entry.
func (r *Registry) Remove(connID string) (domain.PresenceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[connID]
	if !ok {
		return domain.PresenceEntry{}, false
	}
	delete(r.entries, connID)
	return *entry, true
}

// Snapshot lists the entries of one challenge in join order.
func (r *Registry) Snapshot(challengeID string) []domain.PresenceEntry {
	r.mu.RLock()
	out := make([]domain.PresenceEntry, 0)
	for _, entry := range r.entries {
		if entry.ChallengeID == challengeID {
			out = append(out, *entry)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ConnID < out[j].ConnID
	})
	return out
}
