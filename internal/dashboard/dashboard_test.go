package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/constants"
	"nudge/internal/security"
)

func newTestServer(t *testing.T) (*Dashboard, *httptest.Server) {
	t.Helper()
	d := New()
	mux := http.NewServeMux()
	d.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		d.Close()
		srv.Close()
	})
	return d, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + constants.EndpointEvents
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) security.AuditEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev security.AuditEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestFeedReplaysBacklogThenStreams(t *testing.T) {
	d, srv := newTestServer(t)

	d.Publish(security.AuditEvent{EventType: "register", Fingerprint: "aaaaaaaaaaaa"})

	conn := dial(t, srv)
	assert.Equal(t, "register", readEvent(t, conn).EventType)

	require.Eventually(t, func() bool { return d.Clients() == 1 }, time.Second, 10*time.Millisecond)
	d.Publish(security.AuditEvent{EventType: "confirm", Fingerprint: "aaaaaaaaaaaa"})
	assert.Equal(t, "confirm", readEvent(t, conn).EventType)
}

func TestRecentIsBounded(t *testing.T) {
	d := New()
	d.maxEvents = 3
	for i := 0; i < 5; i++ {
		d.Publish(security.AuditEvent{EventType: "lookup", Details: string(rune('a' + i))})
	}
	recent := d.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].Details)
	assert.Equal(t, "e", recent[2].Details)
}

func TestEventLogEndpoint(t *testing.T) {
	d, srv := newTestServer(t)
	d.Publish(security.AuditEvent{EventType: "expire"})

	resp, err := http.Get(srv.URL + constants.EndpointEventLog)
	require.NoError(t, err)
	defer resp.Body.Close()

	var events []security.AuditEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	require.Len(t, events, 1)
	assert.Equal(t, "expire", events[0].EventType)
}

func TestCloseDisconnectsClients(t *testing.T) {
	d, srv := newTestServer(t)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return d.Clients() == 1 }, time.Second, 10*time.Millisecond)

	d.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	d.Publish(security.AuditEvent{EventType: "late"})
	assert.Empty(t, d.Recent())
}
