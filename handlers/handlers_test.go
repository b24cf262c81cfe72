package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-app/vault-hub/auth"
	"github.com/vault-app/vault-hub/hub"
	"github.com/vault-app/vault-hub/models"
	"github.com/vault-app/vault-hub/store"
)

// tokenVerifier accepts the tokens it knows about
type tokenVerifier map[string]auth.Identity

func (v tokenVerifier) Verify(token string) (auth.Identity, error) {
	identity, ok := v[token]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return identity, nil
}

// recordingConn stands in for a websocket connection in the hub's registry
type recordingConn struct {
	id     string
	userID string

	mu     sync.Mutex
	frames []hub.OutboundMessage
}

func (c *recordingConn) ID() string     { return c.id }
func (c *recordingConn) UserID() string { return c.userID }

func (c *recordingConn) Send(frame []byte) bool {
	msg := hub.OutboundMessage{}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, msg)
	return true
}

func (c *recordingConn) received() []hub.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hub.OutboundMessage(nil), c.frames...)
}

type brokenStore struct {
	*store.MemoryStore
	err error
}

func (s *brokenStore) MessageHistory(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	return nil, s.err
}

func (s *brokenStore) GetLocation(ctx context.Context, userID string) (*models.LocationData, error) {
	return nil, s.err
}

type fixture struct {
	memory *store.MemoryStore
	hub    *hub.Hub
	router *chi.Mux
	alice  *recordingConn
	bob    *recordingConn
	carol  *recordingConn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	memory := store.NewMemoryStore(30 * time.Minute)
	return newFixtureWithStore(t, memory, memory)
}

func newFixtureWithStore(t *testing.T, memory *store.MemoryStore, s Store) *fixture {
	t.Helper()
	binder := auth.NewBinder(tokenVerifier{
		"alice-token": {UserID: "u1", Name: "alice"},
		"bob-token":   {UserID: "u2", Name: "bob"},
		"carol-token": {UserID: "u3", Name: "carol"},
	})
	h := hub.NewHub(hub.Options{}, binder, memory)
	t.Cleanup(func() { _ = h.Close(time.Second) })

	f := &fixture{
		memory: memory,
		hub:    h,
		router: chi.NewRouter(),
		alice:  &recordingConn{id: "c1", userID: "u1"},
		bob:    &recordingConn{id: "c2", userID: "u2"},
		carol:  &recordingConn{id: "c3", userID: "u3"},
	}
	for _, c := range []*recordingConn{f.alice, f.bob, f.carol} {
		h.Registry().Join(c)
	}
	Mount(f.router, binder, h, s, time.Now().Add(-time.Minute))
	return f
}

func (f *fixture) request(t *testing.T, method, url, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestRoutesRequireAuthentication(t *testing.T) {
	f := newFixture(t)

	tcs := []struct {
		method string
		url    string
	}{
		{http.MethodGet, "/api/chat/messages/u2"},
		{http.MethodPost, "/api/chat/send"},
		{http.MethodPost, "/api/location/update"},
		{http.MethodGet, "/api/location/partner"},
		{http.MethodPost, "/api/safety/trigger"},
	}
	for _, tc := range tcs {
		rr := f.request(t, tc.method, tc.url, "", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, tc.url)

		rr = f.request(t, tc.method, tc.url, "stolen-token", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, tc.url)
	}
}

func TestChatSendAndHistory(t *testing.T) {
	f := newFixture(t)

	rr := f.request(t, http.MethodPost, "/api/chat/send", "alice-token", `{"receiverId":"u2","text":"hi","timestamp":"2024-03-01T12:00:00Z"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	sent := &models.Message{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), sent))
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, "u1", sent.SenderID)
	assert.Equal(t, "alice", sent.SenderName)
	assert.Equal(t, "text", sent.Type)

	// same delivery as the websocket event
	require.Len(t, f.bob.received(), 1)
	assert.Equal(t, hub.EventReceiveMessage, f.bob.received()[0].Event)
	require.Len(t, f.alice.received(), 1)
	assert.Len(t, f.carol.received(), 0)

	rr = f.request(t, http.MethodPost, "/api/chat/send", "bob-token", `{"receiverId":"u1","text":"hello","timestamp":"2024-03-01T12:01:00Z"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	// both sides see the conversation in order
	for _, token := range []string{"alice-token", "bob-token"} {
		friend := "u2"
		if token == "bob-token" {
			friend = "u1"
		}
		rr = f.request(t, http.MethodGet, "/api/chat/messages/"+friend, token, "")
		require.Equal(t, http.StatusOK, rr.Code)

		history := []*models.Message{}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
		require.Len(t, history, 2)
		assert.Equal(t, "hi", history[0].Text)
		assert.Equal(t, "hello", history[1].Text)
	}

	rr = f.request(t, http.MethodGet, "/api/chat/messages/u2", "carol-token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestChatSendRejectsInvalidBodies(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{`not json`, `{"text":"hi"}`, `{"receiverId":"u2"}`} {
		rr := f.request(t, http.MethodPost, "/api/chat/send", "alice-token", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
	assert.Len(t, f.bob.received(), 0)
}

func TestLocationUpdateAndPartnerLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.memory.SetPartner(ctx, "u1", "u2"))
	require.NoError(t, f.memory.SetPartner(ctx, "u2", "u1"))

	// nothing cached yet
	rr := f.request(t, http.MethodGet, "/api/location/partner", "bob-token", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"message":"No location available for partner"}`, rr.Body.String())

	rr = f.request(t, http.MethodPost, "/api/location/update", "alice-token", `{"lat":1.5,"lng":2.5,"accuracy":10,"timestamp":"t1"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	require.Len(t, f.bob.received(), 1)
	assert.Equal(t, hub.EventPartnerLocationUpdate, f.bob.received()[0].Event)
	assert.Len(t, f.carol.received(), 0)

	rr = f.request(t, http.MethodGet, "/api/location/partner", "bob-token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"lat":1.5,"lng":2.5,"accuracy":10,"timestamp":"t1"}`, rr.Body.String())

	rr = f.request(t, http.MethodGet, "/api/location/partner", "carol-token", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"message":"No partner set"}`, rr.Body.String())

	rr = f.request(t, http.MethodPost, "/api/location/update", "alice-token", `{"lat":"north"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSafetyTrigger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.memory.SetPartner(ctx, "u1", "u2"))

	// no target goes to the partner, with the default message
	rr := f.request(t, http.MethodPost, "/api/safety/trigger", "alice-token", `{"location":{"lat":1,"lng":2}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []hub.OutboundMessage{{Event: hub.EventSOSAlert, Data: map[string]interface{}{
		"from":     "u1",
		"message":  DefaultSOSMessage,
		"location": map[string]interface{}{"lat": 1.0, "lng": 2.0},
	}}}, f.bob.received())

	// an explicit target wins
	rr = f.request(t, http.MethodPost, "/api/safety/trigger", "alice-token", `{"target":"u3","message":"help","location":{"lat":1,"lng":2}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, f.carol.received(), 1)
	assert.Equal(t, "help", f.carol.received()[0].Data.(map[string]interface{})["message"])

	rr = f.request(t, http.MethodPost, "/api/safety/trigger", "carol-token", `{"location":{"lat":1,"lng":2}}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.request(t, http.MethodPost, "/api/safety/trigger", "alice-token", `{"message":"help"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Len(t, f.bob.received(), 1)
}

func TestStoreFailures(t *testing.T) {
	memory := store.NewMemoryStore(time.Minute)
	require.NoError(t, memory.SetPartner(context.Background(), "u1", "u2"))
	f := newFixtureWithStore(t, memory, &brokenStore{MemoryStore: memory, err: errors.New("redis down")})

	rr := f.request(t, http.MethodGet, "/api/chat/messages/u2", "alice-token", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	rr = f.request(t, http.MethodGet, "/api/location/partner", "alice-token", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestPing(t *testing.T) {
	f := newFixture(t)

	rr := f.request(t, http.MethodGet, "/ping", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rr.Body.String(), "<tr><td>Connections</td><td>3</td></tr>")
	assert.Contains(t, rr.Body.String(), "<tr><td>Uptime</td><td>6")
}
