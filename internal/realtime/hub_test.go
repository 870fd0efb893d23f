package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"live-challenge-service/internal/domain"
)

func TestAdminJoinReceivesExistingParticipants(t *testing.T) {
	hub := newTestHub()
	ctx := context.Background()

	alice := hub.Connect(domain.Identity{UserID: "u1"})
	bob := hub.Connect(domain.Identity{UserID: "u2"})
	if err := hub.JoinChallenge(ctx, alice, "ch-1", "u1", "Alice"); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := hub.JoinChallenge(ctx, bob, "ch-1", "u2", "Bob"); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	admin := hub.Connect(domain.Identity{UserID: "op-1"})
	if err := hub.AdminJoin(ctx, admin, "ch-1"); err != nil {
		t.Fatalf("admin join: %v", err)
	}

	msg := next(t, admin)
	if msg.Type != domain.EventInitParticipants {
		t.Fatalf("expected init_participants, got %s", msg.Type)
	}
	entries := msg.Payload.([]domain.PresenceEntry)
	users := map[string]bool{}
	for _, e := range entries {
		users[e.UserID] = true
	}
	if len(entries) != 2 || !users["u1"] || !users["u2"] {
		t.Fatalf("expected both participants, got %+v", entries)
	}
}

func TestPresenceChangesReachParticipantsAndAdmins(t *testing.T) {
	hub := newTestHub()
	ctx := context.Background()

	admin := hub.Connect(domain.Identity{UserID: "op-1"})
	if err := hub.AdminJoin(ctx, admin, "ch-1"); err != nil {
		t.Fatalf("admin join: %v", err)
	}
	if msg := next(t, admin); msg.Type != domain.EventInitParticipants || len(msg.Payload.([]domain.PresenceEntry)) != 0 {
		t.Fatalf("expected empty init_participants, got %+v", msg)
	}

	alice := hub.Connect(domain.Identity{UserID: "u1"})
	_ = hub.JoinChallenge(ctx, alice, "ch-1", "u1", "Alice")

	msg := next(t, alice)
	update := msg.Payload.(domain.ParticipantUpdate)
	if msg.Type != domain.EventParticipantUpdate || update.Type != domain.PresenceJoin || update.Participant.UserID != "u1" {
		t.Fatalf("expected JOIN for u1, got %+v", msg)
	}
	msg = next(t, admin)
	update = msg.Payload.(domain.ParticipantUpdate)
	if msg.Type != domain.EventParticipantUpdate || update.Type != domain.PresenceJoin || update.Participant.DisplayName != "Alice" {
		t.Fatalf("expected admin to see JOIN for u1, got %+v", msg)
	}

	hub.Disconnect(alice)
	msg = next(t, admin)
	update = msg.Payload.(domain.ParticipantUpdate)
	if update.Type != domain.PresenceLeave || update.Participant.UserID != "u1" || update.Participant.Status != domain.PresenceOffline {
		t.Fatalf("expected admin to see LEAVE for u1, got %+v", msg)
	}
	expectNothing(t, admin)

	other := hub.Connect(domain.Identity{UserID: "u2"})
	_ = hub.JoinChallenge(ctx, other, "ch-2", "u2", "Bob")
	expectNothing(t, admin)
}

func TestSyncCodeAndViolationReachAdminsOnly(t *testing.T) {
	hub := newTestHub()
	ctx := context.Background()

	alice := hub.Connect(domain.Identity{UserID: "u1"})
	bob := hub.Connect(domain.Identity{UserID: "u2"})
	_ = hub.JoinChallenge(ctx, alice, "ch-1", "u1", "Alice")
	_ = hub.JoinChallenge(ctx, bob, "ch-1", "u2", "Bob")
	drain(alice)
	drain(bob)

	admin := hub.Connect(domain.Identity{UserID: "op-1"})
	_ = hub.AdminJoin(ctx, admin, "ch-1")
	next(t, admin)

	if err := hub.SyncCode(alice, "ch-1", "u1", "print(1)"); err != nil {
		t.Fatalf("sync code: %v", err)
	}
	msg := next(t, admin)
	if msg.Type != domain.EventCodeUpdate || msg.Payload.(domain.CodeUpdate).Code != "print(1)" {
		t.Fatalf("expected code_update, got %+v", msg)
	}
	expectNothing(t, bob)

	if err := hub.Violation(alice, "ch-1", "u1", "TAB_SWITCH", 1); err != nil {
		t.Fatalf("violation: %v", err)
	}
	msg = next(t, admin)
	if msg.Type != domain.EventViolationAlert || msg.Payload.(domain.ViolationAlert).Type != "TAB_SWITCH" {
		t.Fatalf("expected violation_alert, got %+v", msg)
	}
	expectNothing(t, bob)

	entry, _ := hub.presence.get(alice.ID())
	if entry.Violations != 1 {
		t.Fatalf("expected violation counted, got %d", entry.Violations)
	}
}

func TestRelayRequiresMembership(t *testing.T) {
	hub := newTestHub()
	stranger := hub.Connect(domain.Identity{UserID: "u9"})
	if err := hub.SyncCode(stranger, "ch-1", "u9", "x"); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
	if err := hub.Violation(stranger, "ch-1", "u9", "BLUR", 1); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
}

func TestDisconnectEmitsSingleLeave(t *testing.T) {
	hub := newTestHub()
	ctx := context.Background()

	alice := hub.Connect(domain.Identity{UserID: "u1"})
	bob := hub.Connect(domain.Identity{UserID: "u2"})
	_ = hub.JoinChallenge(ctx, alice, "ch-1", "u1", "Alice")
	_ = hub.JoinChallenge(ctx, bob, "ch-1", "u2", "Bob")
	drain(bob)

	hub.Disconnect(alice)
	hub.Disconnect(alice)

	msg := next(t, bob)
	update := msg.Payload.(domain.ParticipantUpdate)
	if update.Type != domain.PresenceLeave || update.Participant.UserID != "u1" || update.Participant.Status != domain.PresenceOffline {
		t.Fatalf("expected LEAVE for u1, got %+v", update)
	}
	expectNothing(t, bob)

	if hub.presence.size() != 1 {
		t.Fatalf("expected exactly one entry removed, have %d", hub.presence.size())
	}
	// the queue is closed once buffered messages are consumed
	for range alice.Messages() {
	}
}

func TestRejoinMovesConnection(t *testing.T) {
	hub := newTestHub()
	ctx := context.Background()

	alice := hub.Connect(domain.Identity{UserID: "u1"})
	_ = hub.JoinChallenge(ctx, alice, "ch-1", "u1", "Alice")
	_ = hub.JoinChallenge(ctx, alice, "ch-2", "u1", "Alice")

	if len(hub.presence.Snapshot("ch-1")) != 0 {
		t.Fatalf("expected alice gone from ch-1")
	}
	if len(hub.presence.Snapshot("ch-2")) != 1 {
		t.Fatalf("expected alice present in ch-2")
	}
}

func TestJoinAuthorization(t *testing.T) {
	hub := newTestHub()
	ctx := context.Background()

	c := hub.Connect(domain.Identity{UserID: "u1"})
	if err := hub.JoinChallenge(ctx, c, "ended", "u1", "Alice"); !errors.Is(err, domain.ErrChallengeClosed) {
		t.Fatalf("expected closed challenge, got %v", err)
	}
	if err := hub.JoinChallenge(ctx, c, "missing", "u1", "Alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := hub.AdminJoin(ctx, c, "ch-1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected participant to be refused the admin room, got %v", err)
	}

	root := hub.Connect(domain.Identity{UserID: "someone", Role: domain.RoleAdmin})
	if err := hub.AdminJoin(ctx, root, "ch-1"); err != nil {
		t.Fatalf("expected admin role to monitor any challenge: %v", err)
	}
}

func TestStatusBroadcastReachesParticipants(t *testing.T) {
	hub := newTestHub()
	alice := hub.Connect(domain.Identity{UserID: "u1"})
	_ = hub.JoinChallenge(context.Background(), alice, "ch-1", "u1", "Alice")
	drain(alice)

	hub.ToParticipants("ch-1", domain.EventChallengeStatus, domain.ChallengeStatus{Status: domain.StatePaused})
	msg := next(t, alice)
	if msg.Type != domain.EventChallengeStatus {
		t.Fatalf("expected challenge_status, got %s", msg.Type)
	}
}

func TestDeliverDropsOldestWhenFull(t *testing.T) {
	c := NewClient(domain.Identity{UserID: "u1"})
	for i := 0; i < sendBuffer+5; i++ {
		c.deliver(Message{Type: "tick", Payload: i})
	}
	first := <-c.Messages()
	if first.Payload.(int) != 5 {
		t.Fatalf("expected oldest messages dropped, first payload %v", first.Payload)
	}
}

type staticChallenges map[string]domain.Challenge

func (s staticChallenges) GetChallenge(_ context.Context, id string) (domain.Challenge, error) {
	c, ok := s[id]
	if !ok {
		return domain.Challenge{}, domain.ErrNotFound
	}
	return c, nil
}

func newTestHub() *Hub {
	return NewHub(staticChallenges{
		"ch-1":  {ID: "ch-1", State: domain.StateLive, CreatedBy: "op-1"},
		"ch-2":  {ID: "ch-2", State: domain.StateDraft, CreatedBy: "op-1"},
		"ended": {ID: "ended", State: domain.StateEnded, CreatedBy: "op-1"},
	}, NewRegistry())
}

func next(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		if !ok {
			t.Fatalf("client queue closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Messages():
		t.Fatalf("unexpected message %+v", msg)
	default:
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.Messages():
		default:
			return
		}
	}
}
