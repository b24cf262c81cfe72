package hub

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConn records the frames sent to it
type testConn struct {
	id     string
	userID string
	reject bool

	mu     sync.Mutex
	frames [][]byte
}

func newTestConn(id, userID string) *testConn {
	return &testConn{id: id, userID: userID}
}

func (c *testConn) ID() string     { return c.id }
func (c *testConn) UserID() string { return c.userID }

func (c *testConn) Send(frame []byte) bool {
	if c.reject {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return true
}

func (c *testConn) messages(t *testing.T) []OutboundMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	messages := make([]OutboundMessage, 0, len(c.frames))
	for _, frame := range c.frames {
		msg := OutboundMessage{}
		require.NoError(t, json.Unmarshal(frame, &msg))
		messages = append(messages, msg)
	}
	return messages
}

func (c *testConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func connIDs(conns []Conn) []string {
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ID())
	}
	sort.Strings(ids)
	return ids
}

func TestRegistryJoinLeave(t *testing.T) {
	r := NewRegistry()
	c1 := newTestConn("c1", "u1")
	c2 := newTestConn("c2", "u1")
	c3 := newTestConn("c3", "u2")

	assert.Empty(t, r.ConnectionsFor("u1"))

	assert.True(t, r.Join(c1))
	assert.True(t, r.Join(c2))
	assert.True(t, r.Join(c3))
	assert.Equal(t, []string{"c1", "c2"}, connIDs(r.ConnectionsFor("u1")))
	assert.Equal(t, []string{"c3"}, connIDs(r.ConnectionsFor("u2")))
	assert.Equal(t, 3, r.Count())
	assert.Equal(t, 2, r.Users())

	// joining again is a no-op
	assert.False(t, r.Join(c1))
	assert.Equal(t, []string{"c1", "c2"}, connIDs(r.ConnectionsFor("u1")))
	assert.Equal(t, 3, r.Count())

	assert.True(t, r.Leave(c1))
	assert.Equal(t, []string{"c2"}, connIDs(r.ConnectionsFor("u1")))

	// leaving again is a no-op
	assert.False(t, r.Leave(c1))

	assert.True(t, r.Leave(c2))
	assert.Empty(t, r.ConnectionsFor("u1"))
	assert.Equal(t, 1, r.Users())
	assert.Equal(t, []string{"c3"}, connIDs(r.All()))

	// connections need an identity
	assert.False(t, r.Join(newTestConn("c4", "")))
	assert.Equal(t, 1, r.Count())
}

func TestRegistrySnapshotIsIndependent(t *testing.T) {
	r := NewRegistry()
	c1 := newTestConn("c1", "u1")
	r.Join(c1)

	snapshot := r.ConnectionsFor("u1")
	r.Join(newTestConn("c2", "u1"))
	r.Leave(c1)

	assert.Equal(t, []string{"c1"}, connIDs(snapshot))
	assert.Equal(t, []string{"c2"}, connIDs(r.ConnectionsFor("u1")))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	users := []string{"u1", "u2", "u3", "u4"}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := users[i%len(users)]
			c := newTestConn(fmt.Sprintf("c%d", i), userID)
			r.Join(c)

			for _, conn := range r.ConnectionsFor(userID) {
				assert.Equal(t, userID, conn.UserID())
			}

			if i%2 == 0 {
				r.Leave(c)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	seen := make(map[string]bool)
	for _, userID := range users {
		conns := r.ConnectionsFor(userID)
		total += len(conns)
		for _, conn := range conns {
			assert.False(t, seen[conn.ID()], "connection %s in two groups", conn.ID())
			seen[conn.ID()] = true
			assert.Equal(t, userID, conn.UserID())
		}
	}
	assert.Equal(t, 100, total)
	assert.Equal(t, total, r.Count())
}
