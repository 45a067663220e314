package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/kalambet/whereismy/internal/storage"
)

func seedAd(t *testing.T, store *storage.Store, owner int64, category string) int64 {
	t.Helper()
	id, err := store.Create(context.Background(), storage.NewAd{
		OwnerID:     owner,
		Kind:        storage.KindFound,
		Category:    category,
		LocationKey: "FEB (VDNKh)",
		ContactMode: storage.ContactDirect,
		ContactInfo: "@owner",
		Embedding:   []float32{0.1, 0.2},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func TestModeration_ListAndFilter(t *testing.T) {
	store := openTestStore(t)
	h := newTestHandler(t, echoDispatcher(), store)
	seedAd(t, store, 1, "Keys")
	id := seedAd(t, store, 2, "Wallet")
	seedAd(t, store, 3, "Umbrella")
	if _, err := store.ModeratorArchive(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?status=active", 2},
		{"?status=archived", 1},
		{"?kind=lost", 0},
		{"?limit=1", 1},
		{"?limit=2&offset=2", 1},
	}
	for _, tt := range tests {
		rr := serve(h, authReq(http.MethodGet, "/ads"+tt.query, "", moderatorToken))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tt.query, rr.Code)
		}
		var ads []storage.Ad
		if err := json.NewDecoder(rr.Body).Decode(&ads); err != nil {
			t.Fatalf("%s: decoding: %v", tt.query, err)
		}
		if len(ads) != tt.want {
			t.Errorf("%s: got %d ads, want %d", tt.query, len(ads), tt.want)
		}
	}

	rr := serve(h, authReq(http.MethodGet, "/ads?status=deleted", "", moderatorToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad status filter: code = %d, want 400", rr.Code)
	}
}

func TestModeration_EmptyListIsArray(t *testing.T) {
	h := newTestHandler(t, echoDispatcher(), nil)
	rr := serve(h, authReq(http.MethodGet, "/ads", "", moderatorToken))
	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestModeration_GetAd(t *testing.T) {
	store := openTestStore(t)
	h := newTestHandler(t, echoDispatcher(), store)
	id := seedAd(t, store, 1, "Keys")

	rr := serve(h, authReq(http.MethodGet, fmt.Sprintf("/ads/%d", id), "", moderatorToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var ad map[string]any
	json.NewDecoder(rr.Body).Decode(&ad)
	if ad["category"] != "Keys" {
		t.Errorf("category = %v", ad["category"])
	}
	if _, ok := ad["embedding"]; ok {
		t.Error("embedding must not be exposed")
	}

	if rr := serve(h, authReq(http.MethodGet, "/ads/999", "", moderatorToken)); rr.Code != http.StatusNotFound {
		t.Errorf("missing ad: status = %d, want 404", rr.Code)
	}
	if rr := serve(h, authReq(http.MethodGet, "/ads/abc", "", moderatorToken)); rr.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rr.Code)
	}
}

func TestModeration_ArchiveBypassesOwnership(t *testing.T) {
	store := openTestStore(t)
	h := newTestHandler(t, echoDispatcher(), store)
	id := seedAd(t, store, 1, "Keys")
	path := fmt.Sprintf("/ads/%d/archive", id)

	if rr := serve(h, authReq(http.MethodPost, path, "", moderatorToken)); rr.Code != http.StatusOK {
		t.Fatalf("first archive: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	ad, err := store.GetAd(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if ad.Status != storage.StatusArchived {
		t.Errorf("status = %s, want archived", ad.Status)
	}
	if rr := serve(h, authReq(http.MethodPost, path, "", moderatorToken)); rr.Code != http.StatusNotFound {
		t.Errorf("second archive: status = %d, want 404", rr.Code)
	}
}

func TestModeration_Delete(t *testing.T) {
	store := openTestStore(t)
	h := newTestHandler(t, echoDispatcher(), store)
	id := seedAd(t, store, 1, "Keys")
	path := fmt.Sprintf("/ads/%d", id)

	if rr := serve(h, authReq(http.MethodDelete, path, "", moderatorToken)); rr.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rr.Code)
	}
	if rr := serve(h, authReq(http.MethodDelete, path, "", moderatorToken)); rr.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rr.Code)
	}
}

func TestModeration_Stats(t *testing.T) {
	store := openTestStore(t)
	h := newTestHandler(t, echoDispatcher(), store)
	seedAd(t, store, 1, "Keys")
	store.EnsureUser(context.Background(), 1)

	rr := serve(h, authReq(http.MethodGet, "/stats", "", moderatorToken))
	var st storage.Stats
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Active != 1 || st.Archived != 0 || st.Users != 1 {
		t.Errorf("stats = %+v", st)
	}
}
