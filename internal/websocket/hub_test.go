package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"epichat-be/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return hub, cancel
}

func newTestClient(hub *Hub, sessionID string, turn TurnFunc) *Client {
	c := &Client{Hub: hub, SessionID: sessionID, Send: make(chan []byte, 8), turn: turn}
	hub.Register(c)
	return c
}

func receive(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case raw, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
	return Frame{}
}

func waitClients(t *testing.T, hub *Hub, sessionID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Clients(sessionID) == n }, time.Second, 5*time.Millisecond)
}

func TestDeliverReachesOnlyTheSession(t *testing.T) {
	hub, _ := startHub(t)
	a1 := newTestClient(hub, "a", nil)
	a2 := newTestClient(hub, "a", nil)
	b := newTestClient(hub, "b", nil)
	waitClients(t, hub, "a", 2)
	waitClients(t, hub, "b", 1)

	hub.Deliver(context.Background(), "a", Frame{Type: "turn", Data: "hello"})

	assert.Equal(t, "hello", receive(t, a1).Data)
	assert.Equal(t, "hello", receive(t, a2).Data)
	assert.Empty(t, b.Send)
}

func TestPublishForwardsSessionEvents(t *testing.T) {
	hub, _ := startHub(t)
	c := newTestClient(hub, "a", nil)
	waitClients(t, hub, "a", 1)

	require.NoError(t, hub.Publish(context.Background(), events.New(events.TopicSessionReset, map[string]interface{}{"session_id": "a"})))
	require.NoError(t, hub.Publish(context.Background(), events.New(events.TopicSessionTurn, map[string]interface{}{"turn": 1})))

	f := receive(t, c)
	assert.Equal(t, events.TopicSessionReset, f.Type)
	assert.Empty(t, c.Send, "events without a session are not forwarded")
}

func TestHandleBroadcastsRepliesAndKeepsErrorsPrivate(t *testing.T) {
	hub, _ := startHub(t)
	turn := func(_ context.Context, sessionID string, in Inbound) (interface{}, error) {
		if in.Message == "boom" {
			return nil, errors.New("storage unavailable")
		}
		return map[string]string{"reply": "echo " + in.Message}, nil
	}
	sender := newTestClient(hub, "a", turn)
	other := newTestClient(hub, "a", turn)
	waitClients(t, hub, "a", 2)

	sender.handle([]byte(`{"message":"hi"}`))
	assert.Equal(t, "turn", receive(t, sender).Type)
	assert.Equal(t, "turn", receive(t, other).Type)

	sender.handle([]byte(`{"message":"boom"}`))
	f := receive(t, sender)
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, "storage unavailable", f.Error)
	assert.Empty(t, other.Send)

	sender.handle([]byte(`not json`))
	assert.Equal(t, "error", receive(t, sender).Type)
}

func TestUnregisterClosesClient(t *testing.T) {
	hub, _ := startHub(t)
	c := newTestClient(hub, "a", nil)
	waitClients(t, hub, "a", 1)

	hub.Unregister(c)
	waitClients(t, hub, "a", 0)
	_, ok := <-c.Send
	assert.False(t, ok)
}

func TestRunClosesClientsOnShutdown(t *testing.T) {
	hub, cancel := startHub(t)
	c := newTestClient(hub, "a", nil)
	waitClients(t, hub, "a", 1)

	cancel()
	select {
	case _, ok := <-c.Send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("client not closed on shutdown")
	}
	// Unregister after shutdown must not block
	hub.Unregister(c)
}
