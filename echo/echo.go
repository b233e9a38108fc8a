// Package echo is a minimal request/response protocol used to exercise the
// simulator: a client numbers its requests, a server echoes them back, and
// the run finishes when every request has been answered. It doubles as the
// reference for wiring a protocol into the glitch contracts.
package echo

import (
	"fmt"
	"time"

	"github.com/codekitchen/glitch"
)

type MessageKind uint8

const (
	Request MessageKind = iota
	Response
)

type Message struct {
	Kind MessageKind
	From glitch.Endpoint
	To   glitch.Endpoint
	ID   uint64
	Data string
}

func (m Message) Source() glitch.Endpoint      { return m.From }
func (m Message) Destination() glitch.Endpoint { return m.To }

// Server echoes every request back to its sender and remembers which
// request ids it has answered. The replied set stands in for durable
// state: it survives crashes, so recovery is a no-op.
type Server struct {
	id      glitch.Endpoint
	replied map[uint64]bool
}

func NewServer(idx int) *Server {
	return &Server{
		id:      glitch.Node(idx),
		replied: make(map[uint64]bool),
	}
}

func (s *Server) ID() glitch.Endpoint { return s.id }

func (s *Server) Tick(now time.Time) []Message { return nil }

func (s *Server) ProcessMessage(msg Message, now time.Time) []Message {
	if msg.Kind != Request {
		return nil
	}
	s.replied[msg.ID] = true
	return []Message{{
		Kind: Response,
		From: s.id,
		To:   msg.From,
		ID:   msg.ID,
		Data: msg.Data,
	}}
}

func (s *Server) Recover(now time.Time, nonce uint64, replicaCount int) {}

func (s *Server) Recovering() bool { return false }

// Replied reports whether the server has answered the given request id.
func (s *Server) Replied(id uint64) bool { return s.replied[id] }

// Client sends numbered requests one at a time, moving on once the current
// request is answered. With retries enabled it resends the outstanding
// request after RetryInterval, which is what lets it survive lossy
// networks.
type Client struct {
	id            glitch.Endpoint
	server        glitch.Endpoint
	current       uint64
	total         uint64
	completed     map[uint64]bool
	lastRequestAt time.Time
	requested     bool
	retryInterval time.Duration
	withRetries   bool
}

func NewClient(idx int, server int, totalRequests uint64, retryInterval time.Duration, withRetries bool) *Client {
	return &Client{
		id:            glitch.Client(idx),
		server:        glitch.Node(server),
		total:         totalRequests,
		completed:     make(map[uint64]bool),
		retryInterval: retryInterval,
		withRetries:   withRetries,
	}
}

func (c *Client) ID() glitch.Endpoint { return c.id }

func (c *Client) Tick(now time.Time) []Message {
	var out []Message

	if (c.completed[c.current] || (c.current == 0 && !c.requested)) && c.current < c.total {
		c.current++
		c.requested = true
		c.lastRequestAt = now
		out = append(out, c.request(c.current))
	}

	if c.withRetries && c.requested && !c.completed[c.current] &&
		now.Sub(c.lastRequestAt) >= c.retryInterval {
		c.lastRequestAt = now
		out = append(out, c.request(c.current))
	}

	return out
}

func (c *Client) request(id uint64) Message {
	return Message{
		Kind: Request,
		From: c.id,
		To:   c.server,
		ID:   id,
		Data: fmt.Sprintf("echo_%d", id),
	}
}

func (c *Client) ProcessMessage(msg Message, now time.Time) []Message {
	if msg.Kind == Response {
		c.completed[msg.ID] = true
	}
	return nil
}

func (c *Client) Finished() bool {
	return uint64(len(c.completed)) == c.total
}

// Completed reports whether the client saw a response for the request id.
func (c *Client) Completed(id uint64) bool { return c.completed[id] }

// CurrentRequest is the id of the most recently issued request.
func (c *Client) CurrentRequest() uint64 { return c.current }

// Checker verifies the echo safety property: a request the client counts
// as completed must have been answered by the server, and request ids are
// issued in order.
type Checker struct{}

func (Checker) CheckInvariants(seed uint64, nodes []*glitch.NodeRecord[Message, *Server], clients []*Client, now time.Time) error {
	server := nodes[0].Node()
	for _, client := range clients {
		for id := range client.completed {
			if !server.Replied(id) {
				return fmt.Errorf("request %d completed at the client but never answered by the server", id)
			}
			if client.current < id {
				return fmt.Errorf("current request %d is behind completed request %d", client.current, id)
			}
		}
	}
	return nil
}
