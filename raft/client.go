package raft

import (
	"fmt"
	"time"

	"github.com/codekitchen/glitch"
)

// Client submits numbered commands to the cluster one at a time, retrying
// the outstanding command against a different node each attempt until a
// leader commits it and acknowledges.
type Client struct {
	id          glitch.Endpoint
	clusterSize int
	total       uint64
	current     uint64
	acked       map[uint64]bool
	sent        bool
	attempts    uint64
	lastSentAt  time.Time
	retryEvery  time.Duration
}

func NewClient(idx, clusterSize int, totalCommands uint64, retryEvery time.Duration) *Client {
	return &Client{
		id:          glitch.Client(idx),
		clusterSize: clusterSize,
		total:       totalCommands,
		acked:       make(map[uint64]bool),
		retryEvery:  retryEvery,
	}
}

func (c *Client) ID() glitch.Endpoint { return c.id }

func (c *Client) Tick(now time.Time) []Message {
	if (c.current == 0 && !c.sent) || (c.acked[c.current] && c.current < c.total) {
		c.current++
		c.sent = true
		c.attempts = 0
		c.lastSentAt = now
		return []Message{c.submit()}
	}
	if c.sent && !c.acked[c.current] && now.Sub(c.lastSentAt) >= c.retryEvery {
		c.attempts++
		c.lastSentAt = now
		return []Message{c.submit()}
	}
	return nil
}

// submit rotates the target node on every retry so the client eventually
// reaches whatever side of a fault still has the leader.
func (c *Client) submit() Message {
	target := int((c.current + c.attempts) % uint64(c.clusterSize))
	return Message{
		From: c.id,
		To:   glitch.Node(target),
		Term: 0,
		Contents: &Command{
			Cmd: []byte(fmt.Sprintf("op_%d", c.current)),
			Seq: c.current,
		},
	}
}

func (c *Client) ProcessMessage(msg Message, now time.Time) []Message {
	if reply, ok := msg.Contents.(*Reply); ok {
		c.acked[reply.Seq] = true
	}
	return nil
}

func (c *Client) Finished() bool {
	return uint64(len(c.acked)) == c.total
}

// Acked reports whether the command with the given sequence committed.
func (c *Client) Acked(seq uint64) bool { return c.acked[seq] }
