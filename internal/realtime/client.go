package realtime

import (
	"sync"

	"github.com/google/uuid"

	"live-challenge-service/internal/domain"
)

const sendBuffer = 32

// Message is the {type, payload} envelope written to a connection.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type connState int

const (
	stateConnected connState = iota
	stateJoined
	stateDisconnected
)

type room struct {
	challengeID string
	admin       bool
}

// Client is one realtime connection. Outbound messages queue on a bounded channel
// drained by the transport's writer goroutine.
type Client struct {
	id       string
	identity domain.Identity

	// guarded by the hub's lock
	state connState
	room  room

	mu     sync.Mutex
	send   chan Message
	closed bool
}

func NewClient(identity domain.Identity) *Client {
	return &Client{
		id:       uuid.NewString(),
		identity: identity,
		send:     make(chan Message, sendBuffer),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Identity() domain.Identity {
	return c.identity
}

// Messages is closed once the client disconnects.
func (c *Client) Messages() <-chan Message {
	return c.send
}

// Send queues a direct reply to this connection only.
func (c *Client) Send(event string, payload any) {
	c.deliver(Message{Type: event, Payload: payload})
}

// deliver never blocks: when the buffer is full the oldest queued message is dropped.
func (c *Client) deliver(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		select {
		case <-c.send:
		default:
		}
		c.send <- msg
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
