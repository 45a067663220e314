package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/whereismy/internal/conversation"
	"github.com/kalambet/whereismy/internal/storage"
)

const (
	transportToken = "transport-token-123"
	moderatorToken = "moderator-token-456"
)

// mockDispatcher is a Dispatcher backed by a function field.
type mockDispatcher struct {
	handleFn func(ctx context.Context, in conversation.Input) ([]conversation.Reply, error)
}

func (m *mockDispatcher) Handle(ctx context.Context, in conversation.Input) ([]conversation.Reply, error) {
	return m.handleFn(ctx, in)
}

func echoDispatcher() *mockDispatcher {
	return &mockDispatcher{handleFn: func(_ context.Context, in conversation.Input) ([]conversation.Reply, error) {
		return []conversation.Reply{{Text: "echo: " + in.Text}}, nil
	}}
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestHandler(t *testing.T, d Dispatcher, store *storage.Store) http.Handler {
	t.Helper()
	if store == nil {
		store = openTestStore(t)
	}
	return NewHandler(Deps{
		Conversation:   d,
		Store:          store,
		TransportToken: transportToken,
		ModeratorToken: moderatorToken,
		Concurrency:    4,
	})
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestPing_NoAuth(t *testing.T) {
	h := newTestHandler(t, echoDispatcher(), nil)
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "pong" {
		t.Fatalf("status = %d, body = %q", rr.Code, rr.Body.String())
	}
}

func TestAuth_TokensAreNotInterchangeable(t *testing.T) {
	h := newTestHandler(t, echoDispatcher(), nil)

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"events without token", authReq(http.MethodPost, "/events", `{"user_id":1}`, ""), http.StatusUnauthorized},
		{"events with moderator token", authReq(http.MethodPost, "/events", `{"user_id":1}`, moderatorToken), http.StatusUnauthorized},
		{"events with transport token", authReq(http.MethodPost, "/events", `{"user_id":1}`, transportToken), http.StatusOK},
		{"ads with transport token", authReq(http.MethodGet, "/ads", "", transportToken), http.StatusUnauthorized},
		{"ads with moderator token", authReq(http.MethodGet, "/ads", "", moderatorToken), http.StatusOK},
		{"stats with wrong token", authReq(http.MethodGet, "/stats", "", "nope"), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, tt.req)
			if rr.Code != tt.status {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.status, rr.Body.String())
			}
		})
	}
}

func TestBearerAuth_EmptyTokenRejectsAll(t *testing.T) {
	h := BearerAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with empty token")
	}))
	rr := serve(h, authReq(http.MethodGet, "/", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}
}
