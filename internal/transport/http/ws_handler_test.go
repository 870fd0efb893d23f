package http

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"live-challenge-service/internal/domain"
)

func TestWebSocketAdminSeesJoinedParticipant(t *testing.T) {
	srv := newTestServer(t)
	c := createChallenge(t, srv)

	alice := dial(t, srv, withIdentity("u1", ""))
	send(t, alice, domain.EventJoinChallenge, map[string]any{"challengeId": c.ID, "username": "Alice"})
	var joined domain.ParticipantUpdate
	readNext(t, alice, domain.EventParticipantUpdate, &joined)
	if joined.Type != domain.PresenceJoin || joined.Participant.UserID != "u1" || joined.Participant.DisplayName != "Alice" {
		t.Fatalf("unexpected join announcement %+v", joined)
	}

	admin := dial(t, srv, withIdentity("op-1", ""))
	send(t, admin, domain.EventAdminJoin, map[string]any{"challengeId": c.ID})
	var snapshot []domain.PresenceEntry
	readNext(t, admin, domain.EventInitParticipants, &snapshot)
	if len(snapshot) != 1 || snapshot[0].UserID != "u1" || snapshot[0].Status != domain.PresenceOnline {
		t.Fatalf("expected alice in snapshot, got %+v", snapshot)
	}

	// the identity header wins over a spoofed userId in the payload
	send(t, alice, domain.EventSyncCode, map[string]any{"challengeId": c.ID, "userId": "mallory", "code": "print(1)"})
	var update domain.CodeUpdate
	readNext(t, admin, domain.EventCodeUpdate, &update)
	if update.UserID != "u1" || update.Code != "print(1)" {
		t.Fatalf("unexpected code update %+v", update)
	}

	send(t, alice, domain.EventViolation, map[string]any{"challengeId": c.ID, "type": "tab_switch", "count": 2})
	var alert domain.ViolationAlert
	readNext(t, admin, domain.EventViolationAlert, &alert)
	if alert.UserID != "u1" || alert.Type != "tab_switch" || alert.Count != 2 {
		t.Fatalf("unexpected violation alert %+v", alert)
	}

	bob := dial(t, srv, withIdentity("u2", ""))
	send(t, bob, domain.EventJoinChallenge, map[string]any{"challengeId": c.ID})
	readNext(t, bob, domain.EventParticipantUpdate, nil)

	_ = alice.Close()
	var left domain.ParticipantUpdate
	readNext(t, bob, domain.EventParticipantUpdate, &left)
	if left.Type != domain.PresenceLeave || left.Participant.UserID != "u1" || left.Participant.Status != domain.PresenceOffline {
		t.Fatalf("expected alice to leave, got %+v", left)
	}

	// the admin room follows presence after its snapshot
	var seen []domain.ParticipantUpdate
	for len(seen) < 2 {
		var u domain.ParticipantUpdate
		readNext(t, admin, domain.EventParticipantUpdate, &u)
		seen = append(seen, u)
	}
	if seen[0].Type != domain.PresenceJoin || seen[0].Participant.UserID != "u2" {
		t.Fatalf("expected admin to see bob join, got %+v", seen[0])
	}
	if seen[1].Type != domain.PresenceLeave || seen[1].Participant.UserID != "u1" {
		t.Fatalf("expected admin to see alice leave, got %+v", seen[1])
	}
}

func TestWebSocketStatusBroadcast(t *testing.T) {
	srv := newTestServer(t)
	c := createChallenge(t, srv)

	alice := dial(t, srv, withIdentity("u1", ""))
	send(t, alice, domain.EventJoinChallenge, map[string]any{"challengeId": c.ID})
	readNext(t, alice, domain.EventParticipantUpdate, nil)

	if _, err := srv.service.Start(context.Background(), domain.Identity{UserID: "op-1"}, c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	var status domain.ChallengeStatus
	readNext(t, alice, domain.EventChallengeStatus, &status)
	if status.Status != domain.StateLive || status.StartedAt == nil {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestWebSocketRejectsNonOperatorAdminJoin(t *testing.T) {
	srv := newTestServer(t)
	c := createChallenge(t, srv)

	conn := dial(t, srv, withIdentity("u1", ""))
	send(t, conn, domain.EventAdminJoin, map[string]any{"challengeId": c.ID})
	var errMsg errorPayload
	readNext(t, conn, domain.EventError, &errMsg)
	if errMsg.Message != domain.ErrForbidden.Error() {
		t.Fatalf("expected forbidden, got %q", errMsg.Message)
	}

	send(t, conn, "bogus", nil)
	readNext(t, conn, domain.EventError, &errMsg)
	if errMsg.Message != errUnsupportedMessage.Error() {
		t.Fatalf("expected unsupported message error, got %q", errMsg.Message)
	}

	send(t, conn, domain.EventSyncCode, map[string]any{"challengeId": c.ID, "code": "x"})
	readNext(t, conn, domain.EventError, &errMsg)
	if errMsg.Message == "" {
		t.Fatalf("expected relay before join to fail")
	}
}

func TestWebSocketQueryStringNeverGrantsRole(t *testing.T) {
	for _, allow := range []bool{false, true} {
		srv := newTestServerWithWS(t, WSOptions{AllowQueryIdentity: allow})
		c := createChallenge(t, srv)

		mallory := dialPath(t, srv, "/ws?userId=mallory&role=admin", nil)
		send(t, mallory, domain.EventAdminJoin, map[string]any{"challengeId": c.ID})
		var errMsg errorPayload
		readNext(t, mallory, domain.EventError, &errMsg)
		if errMsg.Message != domain.ErrForbidden.Error() {
			t.Fatalf("allowQueryIdentity=%v: expected forbidden admin_join, got %q", allow, errMsg.Message)
		}
	}
}

func TestWebSocketQueryIdentityNamesParticipant(t *testing.T) {
	srv := newTestServerWithWS(t, WSOptions{AllowQueryIdentity: true})
	c := createChallenge(t, srv)

	conn := dialPath(t, srv, "/ws?userId=u7&name=Gina", nil)
	send(t, conn, domain.EventJoinChallenge, map[string]any{"challengeId": c.ID, "userId": "spoofed"})
	var joined domain.ParticipantUpdate
	readNext(t, conn, domain.EventParticipantUpdate, &joined)
	if joined.Participant.UserID != "u7" || joined.Participant.DisplayName != "Gina" {
		t.Fatalf("expected query identity to name the participant, got %+v", joined)
	}
}

func createChallenge(t *testing.T, srv *testServer) domain.Challenge {
	t.Helper()
	c, err := srv.service.Create(context.Background(), domain.Identity{UserID: "op-1"}, domain.ChallengeDefinition{
		Title: "Echo",
		Kind:  domain.KindCode,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func dial(t *testing.T, srv *testServer, header http.Header) *websocket.Conn {
	t.Helper()
	return dialPath(t, srv, "/ws", header)
}

func dialPath(t *testing.T, srv *testServer, path string, header http.Header) *websocket.Conn {
	t.Helper()
	u := "ws" + srv.URL[len("http"):] + path
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": event, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// readNext reads until a message of the expected type arrives and decodes its payload into out.
func readNext(t *testing.T, conn *websocket.Conn, expect string, out any) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		_ = conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read waiting for %s: %v", expect, err)
		}
		if msg.Type != expect {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(msg.Payload, out); err != nil {
				t.Fatalf("decode %s: %v", expect, err)
			}
		}
		return
	}
}
