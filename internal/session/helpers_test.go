package session

import (
	"encoding/json"
	"sync"
	"testing"

	"coinflip/internal/network"
	"coinflip/internal/services/gameroom"

	"github.com/stretchr/testify/require"
)

var (
	alice = mustRef("0x1111111111111111111111111111111111111111")
	bob   = mustRef("0x2222222222222222222222222222222222222222")
)

func mustRef(s string) gameroom.PlayerRef {
	p, err := gameroom.ParsePlayerRef(s)
	if err != nil {
		panic(err)
	}
	return p
}

type fakeConn struct {
	id     string
	mu     sync.Mutex
	dead   bool
	closed bool
	full   bool
	in     []network.Message
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) RemoteAddr() string { return "test/" + c.id }

func (c *fakeConn) Send(msg network.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return network.ErrClosed
	}
	if c.full {
		c.full = false
		return network.ErrSendBufferFull
	}
	c.in = append(c.in, msg)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = true
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// failOnce makes the next Send report a full buffer; later sends work again.
func (c *fakeConn) failOnce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.full = true
}

func (c *fakeConn) kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = true
}

func (c *fakeConn) received() []network.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]network.Message(nil), c.in...)
}

func (c *fakeConn) ofType(t string) []network.Message {
	var out []network.Message
	for _, m := range c.received() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) last(t *testing.T) network.Message {
	t.Helper()
	msgs := c.received()
	require.NotEmpty(t, msgs, "no frames received on %s", c.id)
	return msgs[len(msgs)-1]
}

func frame(t *testing.T, msgType string, payload any) network.Message {
	t.Helper()
	msg, err := network.NewMessage(msgType, payload)
	require.NoError(t, err)
	return msg
}

func decodeAs[T any](t *testing.T, msg network.Message) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Payload, &v))
	return v
}
