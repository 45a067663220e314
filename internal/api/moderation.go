package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/whereismy/internal/storage"
)

// ModerationStore is the store surface moderators use. It bypasses ad
// ownership.
type ModerationStore interface {
	ListAds(ctx context.Context, f storage.AdFilter) ([]storage.Ad, error)
	GetAd(ctx context.Context, id int64) (storage.Ad, error)
	ModeratorArchive(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context) (storage.Stats, error)
}

func mountModeration(r chi.Router, deps Deps) {
	r.Get("/ads", handleListAds(deps))
	r.Get("/ads/{id}", handleGetAd(deps))
	r.Post("/ads/{id}/archive", handleArchiveAd(deps))
	r.Delete("/ads/{id}", handleDeleteAd(deps))
	r.Get("/stats", handleStats(deps))
}

// parseFilter reads status, kind, limit and offset query parameters.
func parseFilter(q func(string) string) (storage.AdFilter, error) {
	f := storage.AdFilter{
		Status: storage.Status(q("status")),
		Kind:   storage.Kind(q("kind")),
	}
	switch f.Status {
	case "", storage.StatusActive, storage.StatusArchived:
	default:
		return f, errors.New("status must be active or archived")
	}
	switch f.Kind {
	case "", storage.KindFound, storage.KindLost:
	default:
		return f, errors.New("kind must be found or lost")
	}
	return f, nil
}

func handleListAds(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseFilter(r.URL.Query().Get)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		f.Limit = parseIntParam(r, "limit", 50, 200)
		f.Offset = parseIntParam(r, "offset", 0, 0)

		ads, err := deps.Store.ListAds(r.Context(), f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list ads: %v", err)
			return
		}
		if ads == nil {
			ads = []storage.Ad{}
		}
		writeJSON(w, ads)
	}
}

func adID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid ad id %q", chi.URLParam(r, "id"))
		return 0, false
	}
	return id, true
}

func handleGetAd(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := adID(w, r)
		if !ok {
			return
		}
		ad, err := deps.Store.GetAd(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "ad not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get ad: %v", err)
			return
		}
		writeJSON(w, ad)
	}
}

func handleArchiveAd(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := adID(w, r)
		if !ok {
			return
		}
		archived, err := deps.Store.ModeratorArchive(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to archive ad: %v", err)
			return
		}
		if !archived {
			httpError(w, http.StatusNotFound, "not_found", "ad not found or already archived")
			return
		}
		slog.Info("ad archived by moderator", "component", "moderation", "ad_id", id)
		writeJSON(w, map[string]any{"id": id, "status": storage.StatusArchived})
	}
}

func handleDeleteAd(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := adID(w, r)
		if !ok {
			return
		}
		err := deps.Store.Delete(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "ad not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete ad: %v", err)
			return
		}
		slog.Info("ad deleted by moderator", "component", "moderation", "ad_id", id)
		writeJSON(w, map[string]any{"id": id, "status": "deleted"})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Store.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get stats: %v", err)
			return
		}
		writeJSON(w, st)
	}
}
