package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/auth"
	"github.com/fathima-sithara/sync-service/internal/config"
	"github.com/fathima-sithara/sync-service/internal/events"
	"github.com/fathima-sithara/sync-service/internal/model"
	"github.com/fathima-sithara/sync-service/internal/session"
	"github.com/fathima-sithara/sync-service/internal/tokens"
	"github.com/fathima-sithara/sync-service/internal/ws"
)

const testSecret = "test-secret"

type stubSource struct{}

func (stubSource) Subscribe(events.Topic, events.Handler) (*events.Subscription, error) {
	return events.NewSubscription(nil), nil
}
func (stubSource) OnReconnect(func()) {}

type stubStore struct {
	mu       sync.Mutex
	messages []model.Message
	notifs   []model.Notification
	toks     []model.PushToken
	seq      int
}

func (s *stubStore) InsertMessage(_ context.Context, m model.Message) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	m.ID = fmt.Sprintf("srv-%d", s.seq)
	m.CreatedAt = time.Now().UTC()
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *stubStore) UpdateMessagesRead(context.Context, []string) error { return nil }

func (s *stubStore) ListMessages(_ context.Context, userID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Message{}
	for _, m := range s.messages {
		if m.SenderID == userID || m.ReceiverID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubStore) InsertNotification(_ context.Context, n model.Notification) (model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifs = append(s.notifs, n)
	return n, nil
}

func (s *stubStore) UpdateNotificationsRead(context.Context, []string) error { return nil }

func (s *stubStore) ListNotifications(_ context.Context, userID string) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Notification{}
	for _, n := range s.notifs {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *stubStore) UpsertPushToken(_ context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toks = append(s.toks, model.PushToken{UserID: userID, Token: token})
	return nil
}

func (s *stubStore) ListPushTokens(context.Context, string) ([]model.PushToken, error) {
	return nil, nil
}

type stubPusher struct{}

func (stubPusher) Deliver(context.Context, string, model.Notification) error { return nil }

func newTestApp(t *testing.T) (*fiber.App, *stubStore) {
	t.Helper()
	log := zap.NewNop().Sugar()
	st := &stubStore{}
	sessions := session.NewManager(session.Deps{
		Store:    st,
		Source:   stubSource{},
		Push:     stubPusher{},
		Registry: tokens.NewRegistry(st, log),
		Log:      log,
		Sync:     config.Sync{ReadFlushMillis: 10, ReadFlushCap: 64},
	})
	t.Cleanup(sessions.CloseAll)
	hub := ws.NewHub(nil, log)
	jv, err := auth.NewJWTValidator(testSecret)
	require.NoError(t, err)
	return NewServer(sessions, hub, jv), st
}

func request(t *testing.T, app *fiber.App, method, path, token string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, 3000)
	require.NoError(t, err)
	return resp
}

func signToken(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	app, _ := newTestApp(t)

	resp := request(t, app, http.MethodGet, "/v1/conversations", "", nil)
	require.Equal(t, 401, resp.StatusCode)

	resp = request(t, app, http.MethodGet, "/v1/conversations", "not-a-jwt", nil)
	require.Equal(t, 401, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	app, _ := newTestApp(t)
	resp := request(t, app, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, 200, resp.StatusCode)
}

func TestSendMessageAccepted(t *testing.T) {
	t.Parallel()
	app, st := newTestApp(t)
	tok := signToken(t, "alice")

	resp := request(t, app, http.MethodPost, "/v1/conversations/bob/messages", tok,
		map[string]string{"content": "hello bob"})
	require.Equal(t, 202, resp.StatusCode)

	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	require.Equal(t, "pending", data["status"])

	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return len(st.messages) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSendMessageRejectsEmptyBody(t *testing.T) {
	t.Parallel()
	app, _ := newTestApp(t)
	tok := signToken(t, "alice")

	resp := request(t, app, http.MethodPost, "/v1/conversations/bob/messages", tok,
		map[string]string{"content": ""})
	require.Equal(t, 400, resp.StatusCode)
}

func TestConversationListAfterSend(t *testing.T) {
	t.Parallel()
	app, _ := newTestApp(t)
	tok := signToken(t, "alice")

	request(t, app, http.MethodPost, "/v1/conversations/bob/messages", tok,
		map[string]string{"content": "hey"})

	resp := request(t, app, http.MethodGet, "/v1/conversations", tok, nil)
	require.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	conv := data[0].(map[string]any)
	require.Equal(t, "bob", conv["peer_id"])
}

func TestCreateAndListNotifications(t *testing.T) {
	t.Parallel()
	app, _ := newTestApp(t)
	tok := signToken(t, "alice")

	resp := request(t, app, http.MethodPost, "/v1/notifications", tok, map[string]string{
		"title": "gig complete", "message": "nice work", "type": "gig",
	})
	require.Equal(t, 201, resp.StatusCode)

	resp = request(t, app, http.MethodGet, "/v1/notifications", tok, nil)
	require.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Len(t, body["data"].([]any), 1)
	require.Equal(t, float64(1), body["unread"])
}

func TestRegisterPushToken(t *testing.T) {
	t.Parallel()
	app, st := newTestApp(t)
	tok := signToken(t, "alice")

	resp := request(t, app, http.MethodPost, "/v1/push-tokens", tok,
		map[string]string{"token": "device-token-1"})
	require.Equal(t, 201, resp.StatusCode)

	// duplicate registration is accepted and stored once
	resp = request(t, app, http.MethodPost, "/v1/push-tokens", tok,
		map[string]string{"token": "device-token-1"})
	require.Equal(t, 201, resp.StatusCode)

	st.mu.Lock()
	defer st.mu.Unlock()
	require.Len(t, st.toks, 1)
}

func TestMarkMessagesReadValidation(t *testing.T) {
	t.Parallel()
	app, _ := newTestApp(t)
	tok := signToken(t, "alice")

	resp := request(t, app, http.MethodPost, "/v1/messages/read", tok,
		map[string]any{"peer": "", "ids": []string{}})
	require.Equal(t, 400, resp.StatusCode)
}
