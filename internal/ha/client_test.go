package ha_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"homebridge/internal/ha"
	"homebridge/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "test_token_12345"

type changeRecorder struct {
	mu      sync.Mutex
	changes []*ha.State
}

func (r *changeRecorder) handle(_ string, _, newState *ha.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, newState)
}

func (r *changeRecorder) last() *ha.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return nil
	}
	return r.changes[len(r.changes)-1]
}

func setup(t *testing.T) (*testutil.MockHAServer, *ha.Client, *changeRecorder) {
	t.Helper()
	server := testutil.NewMockHAServer(testToken)
	t.Cleanup(server.Close)
	server.SetState("input_boolean.guest_mode", "off", map[string]any{"friendly_name": "Guest Mode"})
	server.SetState("light.porch", "on", nil)

	rec := &changeRecorder{}
	client := ha.NewClient(server.URL(), testToken, zap.NewNop(), rec.handle, nil)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { client.Close() })
	return server, client, rec
}

func TestConnect(t *testing.T) {
	_, client, _ := setup(t)
	assert.True(t, client.IsConnected())
	assert.Error(t, client.Connect(context.Background()), "a second connect is rejected")
}

func TestConnect_InvalidToken(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	defer server.Close()

	client := ha.NewClient(server.URL(), "wrong", zap.NewNop(), nil, nil)
	err := client.Connect(context.Background())
	assert.ErrorIs(t, err, ha.ErrAuthInvalid)
	assert.False(t, client.IsConnected())
}

func TestConnect_Unreachable(t *testing.T) {
	client := ha.NewClient("ws://127.0.0.1:1/api/websocket", testToken, zap.NewNop(), nil, nil)
	assert.Error(t, client.Connect(context.Background()))
}

func TestStates(t *testing.T) {
	_, client, _ := setup(t)

	states, err := client.States(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2)

	byID := map[string]*ha.State{}
	for _, st := range states {
		byID[st.EntityID] = st
	}
	guest := byID["input_boolean.guest_mode"]
	require.NotNil(t, guest)
	assert.Equal(t, "input_boolean", guest.Domain())
	assert.Equal(t, "Guest Mode", guest.FriendlyName())
	assert.False(t, guest.IsOn())
	assert.Equal(t, "light.porch", byID["light.porch"].FriendlyName())
	assert.True(t, byID["light.porch"].IsOn())
}

func TestTurn_UpdatesStateAndNotifies(t *testing.T) {
	server, client, rec := setup(t)

	require.NoError(t, client.Turn(context.Background(), "input_boolean.guest_mode", true))

	calls := server.ServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "input_boolean", calls[0].Domain)
	assert.Equal(t, "turn_on", calls[0].Service)
	assert.Equal(t, "input_boolean.guest_mode", calls[0].ServiceData["entity_id"])

	assert.Eventually(t, func() bool {
		st := rec.last()
		return st != nil && st.EntityID == "input_boolean.guest_mode" && st.IsOn()
	}, time.Second, 10*time.Millisecond)
}

func TestCallService_Error(t *testing.T) {
	_, client, _ := setup(t)

	err := client.CallService(context.Background(), "switch", "turn_on", map[string]any{"entity_id": "switch.missing"})
	var haErr *ha.Error
	require.ErrorAs(t, err, &haErr)
	assert.Equal(t, "not_found", haErr.Code)
}

func TestStateRemoval(t *testing.T) {
	server, _, rec := setup(t)

	server.RemoveState("light.porch")

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.changes) == 1 && rec.changes[0] == nil
	}, time.Second, 10*time.Millisecond)
}

func TestReconnect(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	defer server.Close()

	var mu sync.Mutex
	connects := 0
	client := ha.NewClient(server.URL(), testToken, zap.NewNop(), nil, func() {
		mu.Lock()
		connects++
		mu.Unlock()
	})
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	server.DropConnections()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects == 2 && client.IsConnected()
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, server.Authenticated())
}

func TestClose(t *testing.T) {
	server, client, _ := setup(t)

	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
	assert.NoError(t, client.Close(), "closing twice is harmless")

	_, err := client.States(context.Background())
	assert.ErrorIs(t, err, ha.ErrNotConnected)

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, 1, server.Authenticated(), "a closed client does not reconnect")
}
