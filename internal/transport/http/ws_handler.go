package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"live-challenge-service/internal/domain"
	"live-challenge-service/internal/logger"
	"live-challenge-service/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 << 10
)

var errUnsupportedMessage = errors.New("unsupported message type")

// WSOptions configures the websocket endpoint.
type WSOptions struct {
	AllowedOrigins []string
	// AllowQueryIdentity lets browser clients that cannot set upgrade headers pass
	// userId and name as query parameters. A role is never read from the query.
	AllowQueryIdentity bool
}

type WSHandler struct {
	hub        *realtime.Hub
	upgrader   websocket.Upgrader
	queryIdent bool
}

func NewWSHandler(hub *realtime.Hub, opts WSOptions) *WSHandler {
	return &WSHandler{
		hub:        hub,
		queryIdent: opts.AllowQueryIdentity,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	ChallengeID string `json:"challengeId"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
}

type adminJoinPayload struct {
	ChallengeID string `json:"challengeId"`
}

type syncCodePayload struct {
	ChallengeID string `json:"challengeId"`
	UserID      string `json:"userId"`
	Code        string `json:"code"`
}

type violationPayload struct {
	ChallengeID string `json:"challengeId"`
	UserID      string `json:"userId"`
	Type        string `json:"type"`
	Count       int    `json:"count"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and relays {type, payload} events between the socket and the hub.
// Identity comes from the X-User-* headers. With AllowQueryIdentity, a request without
// them may name itself through userId/name query parameters, but never gains a role.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if identity.UserID == "" && h.queryIdent {
		q := r.URL.Query()
		identity = domain.Identity{UserID: q.Get("userId"), Name: q.Get("name")}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	client := h.hub.Connect(identity)
	writerDone := make(chan struct{})
	go h.writePump(conn, client, writerDone)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Str("connId", client.ID()).Msg("ws read error")
			}
			break
		}
		if err := h.dispatch(r, client, inbound); err != nil {
			client.Send(domain.EventError, errorPayload{Message: clientMessage(err)})
		}
	}

	// Disconnect closes the client's queue, which stops the writer.
	h.hub.Disconnect(client)
	<-writerDone
}

func (h *WSHandler) dispatch(r *http.Request, client *realtime.Client, in inboundMessage) error {
	switch in.Type {
	case domain.EventJoinChallenge:
		var p joinPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return err
		}
		userID := h.userID(client, p.UserID)
		name := client.Identity().Name
		if name == "" {
			name = p.Username
		}
		if name == "" {
			name = userID
		}
		return h.hub.JoinChallenge(r.Context(), client, p.ChallengeID, userID, name)
	case domain.EventAdminJoin:
		var p adminJoinPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return err
		}
		return h.hub.AdminJoin(r.Context(), client, p.ChallengeID)
	case domain.EventSyncCode:
		var p syncCodePayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return err
		}
		return h.hub.SyncCode(client, p.ChallengeID, h.userID(client, p.UserID), p.Code)
	case domain.EventViolation:
		var p violationPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return err
		}
		return h.hub.Violation(client, p.ChallengeID, h.userID(client, p.UserID), p.Type, p.Count)
	}
	return errUnsupportedMessage
}

// userID prefers the authenticated identity over whatever the client claims.
func (h *WSHandler) userID(client *realtime.Client, claimed string) string {
	if id := client.Identity().UserID; id != "" {
		return id
	}
	return claimed
}

func (h *WSHandler) writePump(conn *websocket.Conn, client *realtime.Client, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug().Err(err).Str("connId", client.ID()).Msg("ws write error")
				// unblock the reader; it will disconnect the client
				_ = conn.Close()
				drain(client)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				drain(client)
				return
			}
		}
	}
}

// drain discards queued messages until the hub closes the queue.
func drain(client *realtime.Client) {
	for range client.Messages() {
	}
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: invalid payload", domain.ErrValidation)
	}
	return nil
}

func clientMessage(err error) string {
	if errors.Is(err, realtime.ErrNotJoined) || errors.Is(err, errUnsupportedMessage) {
		return err.Error()
	}
	if statusFromError(err) >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("ws event failed")
		return "internal server error"
	}
	return err.Error()
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
				return true
			}
		}
		return false
	}
}
