package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/kalambet/whereismy/internal/api"
	"github.com/kalambet/whereismy/internal/catalog"
	"github.com/kalambet/whereismy/internal/conversation"
	"github.com/kalambet/whereismy/internal/storage"
)

const testToken = "moderator-test-token"

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	store    *storage.Store
	requests []recordedRequest
}

type nopDispatcher struct{}

func (nopDispatcher) Handle(context.Context, conversation.Input) ([]conversation.Reply, error) {
	return nil, nil
}

// newTestServer serves the real moderation API over an in-memory store and
// records every request.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ts := &testServer{store: store}
	h := api.NewHandler(api.Deps{
		Conversation:   nopDispatcher{},
		Store:          store,
		TransportToken: "transport-test-token",
		ModeratorToken: testToken,
	})
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Auth:   r.Header.Get("Authorization"),
		})
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      testToken,
		httpClient: ts.server.Client(),
	}
}

// use points newAPIClient at the test server for the duration of the test.
func (ts *testServer) use(t *testing.T) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

func (ts *testServer) seed(t *testing.T, owner int64, category string) int64 {
	t.Helper()
	id, err := ts.store.Create(context.Background(), storage.NewAd{
		OwnerID:     owner,
		Kind:        storage.KindFound,
		Category:    category,
		Description: "left on a bench",
		LocationKey: "FEB (VDNKh)",
		ContactMode: storage.ContactDirect,
		ContactInfo: "@finder",
		Embedding:   []float32{1, 0},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

var ctx = context.Background()

func TestClient_ListAds(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, 1, "Keys")
	ts.seed(t, 2, "Wallet")

	resp, err := ts.client().get(ctx, adsListPath("active", "", 10, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ads []storage.Ad
	if err := decodeJSON(resp, &ads); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(ads) != 2 {
		t.Fatalf("expected 2 ads, got %d", len(ads))
	}
	if ads[0].Category != "Wallet" {
		t.Errorf("first ad = %q, want newest (Wallet)", ads[0].Category)
	}

	r := ts.requests[0]
	if r.Auth != "Bearer "+testToken {
		t.Errorf("auth = %q", r.Auth)
	}
	if r.Path != "/ads?limit=10&status=active" {
		t.Errorf("path = %q", r.Path)
	}
}

func TestAdsListPath(t *testing.T) {
	tests := []struct {
		status, kind  string
		limit, offset int
		want          string
	}{
		{"", "", 0, 0, "/ads"},
		{"archived", "", 0, 0, "/ads?status=archived"},
		{"", "found", 20, 40, "/ads?kind=found&limit=20&offset=40"},
	}
	for _, tt := range tests {
		if got := adsListPath(tt.status, tt.kind, tt.limit, tt.offset); got != tt.want {
			t.Errorf("adsListPath(%q, %q, %d, %d) = %q, want %q", tt.status, tt.kind, tt.limit, tt.offset, got, tt.want)
		}
	}
}

func TestDecodeJSON_SurfacesServerMessage(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.client().get(ctx, "/ads/42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for missing ad")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "ad not found") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestClient_WrongTokenRejected(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client()
	c.token = "nope"

	resp, err := c.get(ctx, "/stats")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestClient_ServerStopped(t *testing.T) {
	ts := newTestServer(t)
	ts.server.Close()

	_, err := ts.client().get(ctx, "/ping")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestAdsArchiveCommand(t *testing.T) {
	ts := newTestServer(t)
	ts.use(t)
	id := ts.seed(t, 7, "Keys")

	if err := execute(t, "ads", "archive", "#"+itoa(id)); err != nil {
		t.Fatalf("archive: %v", err)
	}
	ad, err := ts.store.GetAd(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if ad.Status != storage.StatusArchived {
		t.Errorf("status = %s, want archived", ad.Status)
	}

	err = execute(t, "ads", "archive", itoa(id))
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("second archive error = %v, want 404", err)
	}
}

func TestAdsDeleteCommand_RequiresConfirm(t *testing.T) {
	ts := newTestServer(t)
	ts.use(t)
	id := ts.seed(t, 7, "Keys")

	if err := execute(t, "ads", "delete", itoa(id)); err != nil {
		t.Fatalf("delete without confirm: %v", err)
	}
	if len(ts.requests) != 0 {
		t.Fatalf("expected no requests without --confirm, got %d", len(ts.requests))
	}

	if err := execute(t, "ads", "delete", itoa(id), "--confirm"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := ts.store.GetAd(ctx, id); err == nil {
		t.Error("ad still present after delete")
	}
	adsDeleteCmd.Flags().Set("confirm", "false")
}

func TestAdsCommands_RejectBadID(t *testing.T) {
	for _, args := range [][]string{
		{"ads", "show", "abc"},
		{"ads", "archive", "0"},
		{"ads", "show"},
	} {
		if err := execute(t, args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestFormatAdLine(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	line := formatAdLine(storage.Ad{
		ID:          12,
		Kind:        storage.KindFound,
		Category:    "Keys",
		Description: strings.Repeat("я", 50),
		LocationKey: "FEB (VDNKh)",
		Status:      storage.StatusActive,
	})
	if !strings.HasPrefix(line, "#12") {
		t.Errorf("line = %q, want #12 prefix", line)
	}
	if !strings.Contains(line, strings.Repeat("я", 40)+"...") {
		t.Errorf("description not truncated on runes: %q", line)
	}
}

func TestPrintCatalog(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	var buf bytes.Buffer
	cat := catalog.Default()
	printCatalog(&buf, cat)

	out := buf.String()
	for _, c := range cat.Categories {
		if !strings.Contains(out, c) {
			t.Errorf("catalog output missing category %q", c)
		}
	}
	if !strings.Contains(out, cat.Locations[0].Name) {
		t.Errorf("catalog output missing location %q", cat.Locations[0].Name)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "test message"); result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	if result := colorize(colorGreen, "test message"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(t.TempDir())
	if err := writePIDFile(path); err != nil {
		t.Fatal(err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d", pid)
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file still readable after removal")
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
