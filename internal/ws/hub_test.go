package ws

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	return &Client{send: make(chan []byte, sendBuffer)}
}

func TestNotifyReachesRoomMembersOnly(t *testing.T) {
	hub := NewHub(slog.Default())

	inRoom := testClient()
	elsewhere := testClient()
	hub.subscribe("match:1", inRoom)
	hub.subscribe("match:2", elsewhere)

	hub.Notify("match:1", "round_submitted", map[string]any{"roundNumber": 3})

	require.Len(t, inRoom.send, 1)
	assert.Empty(t, elsewhere.send)

	var event Event
	require.NoError(t, json.Unmarshal(<-inRoom.send, &event))
	assert.Equal(t, "round_submitted", event.Type)
}

func TestNotifyDropsSlowClients(t *testing.T) {
	hub := NewHub(slog.Default())

	slow := &Client{send: make(chan []byte)}
	healthy := testClient()
	hub.subscribe("match:1", slow)
	hub.subscribe("match:1", healthy)

	// Nothing reads from the slow client, so a full buffer evicts it
	// instead of blocking the publisher.
	hub.Notify("match:1", "ping", nil)
	hub.Notify("match:1", "ping", nil)

	assert.Len(t, healthy.send, 2)

	hub.mu.Lock()
	_, stillThere := hub.rooms["match:1"][slow]
	hub.mu.Unlock()
	assert.False(t, stillThere)

	// The evicted client's channel was closed.
	_, open := <-slow.send
	assert.False(t, open)
}

func TestUnsubscribeRemovesEmptyRooms(t *testing.T) {
	hub := NewHub(slog.Default())

	c := testClient()
	hub.subscribe("tournament:9", c)
	hub.unsubscribe("tournament:9", c)

	hub.mu.Lock()
	_, exists := hub.rooms["tournament:9"]
	hub.mu.Unlock()
	assert.False(t, exists)

	// Notifying an empty room is a no-op.
	hub.Notify("tournament:9", "noop", nil)
}
