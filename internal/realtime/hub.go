package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"live-challenge-service/internal/domain"
	"live-challenge-service/internal/logger"
	"live-challenge-service/internal/metrics"
)

// ErrNotJoined is returned for relays from a connection that is not in the challenge's participant room.
var ErrNotJoined = errors.New("connection has not joined this challenge")

// ChallengeLookup resolves challenges for join authorization.
type ChallengeLookup interface {
	GetChallenge(ctx context.Context, id string) (domain.Challenge, error)
}

// Hub tracks rooms and presence for every challenge served by this process.
// Each challenge has two disjoint rooms: participants and admins.
type Hub struct {
	challenges ChallengeLookup
	presence   *Registry

	mu    sync.RWMutex
	rooms map[room]map[*Client]struct{}
}

func NewHub(challenges ChallengeLookup, presence *Registry) *Hub {
	return &Hub{
		challenges: challenges,
		presence:   presence,
		rooms:      make(map[room]map[*Client]struct{}),
	}
}

// Connect registers a new un-joined client.
func (h *Hub) Connect(identity domain.Identity) *Client {
	c := NewClient(identity)
	metrics.Connections.Inc()
	logger.Debug().Str("connId", c.id).Str("userId", identity.UserID).Msg("realtime client connected")
	return c
}

// ToParticipants implements app.Broadcaster.
func (h *Hub) ToParticipants(challengeID, event string, payload any) {
	h.publish(room{challengeID: challengeID}, Message{Type: event, Payload: payload})
}

// ToAdmins implements app.Broadcaster.
func (h *Hub) ToAdmins(challengeID, event string, payload any) {
	h.publish(room{challengeID: challengeID, admin: true}, Message{Type: event, Payload: payload})
}

func (h *Hub) publish(r room, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.publishLocked(r, msg)
}

func (h *Hub) publishLocked(r room, msg Message) {
	for c := range h.rooms[r] {
		c.deliver(msg)
	}
}

// announceLocked sends a presence change to both rooms of a challenge.
func (h *Hub) announceLocked(challengeID string, update domain.ParticipantUpdate) {
	msg := Message{Type: domain.EventParticipantUpdate, Payload: update}
	h.publishLocked(room{challengeID: challengeID}, msg)
	h.publishLocked(room{challengeID: challengeID, admin: true}, msg)
}

// JoinChallenge puts c in the participant room and announces it to both rooms of the challenge.
func (h *Hub) JoinChallenge(ctx context.Context, c *Client, challengeID, userID, displayName string) error {
	if challengeID == "" || userID == "" {
		return fmt.Errorf("%w: challengeId and userId required", domain.ErrValidation)
	}
	challenge, err := h.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if challenge.State == domain.StateEnded {
		return domain.ErrChallengeClosed
	}

	h.mu.Lock()
	if c.state == stateDisconnected {
		h.mu.Unlock()
		return nil
	}
	h.leaveLocked(c)
	r := room{challengeID: challengeID}
	h.addLocked(r, c)
	entry := h.presence.Join(c.id, challengeID, userID, displayName)
	h.announceLocked(challengeID, domain.ParticipantUpdate{
		Type: domain.PresenceJoin,
		Participant: domain.ParticipantSnapshot{
			UserID:      entry.UserID,
			DisplayName: entry.DisplayName,
			Status:      entry.Status,
		},
	})
	h.mu.Unlock()

	logger.Info().Str("connId", c.id).Str("challengeId", challengeID).Str("userId", userID).Msg("participant joined")
	return nil
}

// AdminJoin puts c in the admin room and sends it the current presence snapshot.
func (h *Hub) AdminJoin(ctx context.Context, c *Client, challengeID string) error {
	if challengeID == "" {
		return fmt.Errorf("%w: challengeId required", domain.ErrValidation)
	}
	challenge, err := h.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if !challenge.CanOperate(c.identity) {
		return domain.ErrForbidden
	}

	h.mu.Lock()
	if c.state == stateDisconnected {
		h.mu.Unlock()
		return nil
	}
	h.leaveLocked(c)
	h.addLocked(room{challengeID: challengeID, admin: true}, c)
	// Presence changes are announced under the hub lock, so every JOIN or LEAVE is
	// either already in this snapshot or delivered to the admin room after it.
	snapshot := h.presence.Snapshot(challengeID)
	c.deliver(Message{Type: domain.EventInitParticipants, Payload: snapshot})
	h.mu.Unlock()

	logger.Info().Str("connId", c.id).Str("challengeId", challengeID).Str("userId", c.identity.UserID).Msg("admin monitoring challenge")
	return nil
}

// SyncCode relays a live editor snapshot to the admin room only.
func (h *Hub) SyncCode(c *Client, challengeID, userID, code string) error {
	if !h.inParticipantRoom(c, challengeID) {
		return ErrNotJoined
	}
	h.ToAdmins(challengeID, domain.EventCodeUpdate, domain.CodeUpdate{UserID: userID, Code: code})
	return nil
}

// Violation relays a proctoring signal to the admin room and counts it against c.
func (h *Hub) Violation(c *Client, challengeID, userID, kind string, count int) error {
	if !h.inParticipantRoom(c, challengeID) {
		return ErrNotJoined
	}
	h.presence.RecordViolation(c.id)
	h.ToAdmins(challengeID, domain.EventViolationAlert, domain.ViolationAlert{UserID: userID, Type: kind, Count: count})
	logger.Warn().Str("challengeId", challengeID).Str("userId", userID).Str("type", kind).Int("count", count).Msg("violation reported")
	return nil
}

// Disconnect removes c from its room, announces LEAVE if it was a participant and closes its queue.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	if c.state == stateDisconnected {
		h.mu.Unlock()
		return
	}
	h.leaveLocked(c)
	c.state = stateDisconnected
	h.mu.Unlock()

	c.close()
	metrics.Connections.Dec()
	logger.Debug().Str("connId", c.id).Msg("realtime client disconnected")
}

func (h *Hub) inParticipantRoom(c *Client, challengeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.state == stateJoined && c.room == room{challengeID: challengeID}
}

func (h *Hub) addLocked(r room, c *Client) {
	members, ok := h.rooms[r]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[r] = members
	}
	members[c] = struct{}{}
	c.room = r
	c.state = stateJoined
}

// leaveLocked drops c's current membership. A participant leaving emits exactly one LEAVE.
func (h *Hub) leaveLocked(c *Client) {
	if c.state != stateJoined {
		return
	}
	r := c.room
	if members, ok := h.rooms[r]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, r)
		}
	}
	c.room = room{}
	c.state = stateConnected

	if r.admin {
		return
	}
	entry, ok := h.presence.Remove(c.id)
	if !ok {
		return
	}
	h.announceLocked(r.challengeID, domain.ParticipantUpdate{
		Type:        domain.PresenceLeave,
		Participant: domain.ParticipantSnapshot{UserID: entry.UserID, Status: domain.PresenceOffline},
	})
	logger.Info().Str("connId", c.id).Str("challengeId", entry.ChallengeID).Str("userId", entry.UserID).Msg("participant left")
}
