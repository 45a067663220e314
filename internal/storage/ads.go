package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const adColumns = `id, owner_id, kind, category, description, photo_ref, location_key,
	place_detail, contact_mode, contact_info, embedding, status, created_at, archived_at`

// --- Users ---

// EnsureUser records a user id the first time it is seen. Idempotent.
func (s *Store) EnsureUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (user_id, created_at) VALUES (?, ?)`,
		userID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("ensuring user %d: %w", userID, err)
	}
	return nil
}

// --- Ads ---

// Create inserts a new active ad and returns its id. The row and its
// embedding are written by a single statement.
func (s *Store) Create(ctx context.Context, ad NewAd) (int64, error) {
	if len(ad.Embedding) == 0 {
		return 0, ErrMissingEmbedding
	}
	if !ad.ContactMode.Valid() {
		return 0, fmt.Errorf("invalid contact mode %q", ad.ContactMode)
	}
	kind := ad.Kind
	if kind == "" {
		kind = KindFound
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ads (owner_id, kind, category, description, photo_ref, location_key,
			place_detail, contact_mode, contact_info, embedding, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?)`,
		ad.OwnerID, string(kind), ad.Category, ad.Description, ad.PhotoRef, ad.LocationKey,
		ad.PlaceDetail, string(ad.ContactMode), ad.ContactInfo, EncodeVector(ad.Embedding),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting ad: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading ad id: %w", err)
	}
	return id, nil
}

// GetAd returns the ad with the given id regardless of status or owner.
func (s *Store) GetAd(ctx context.Context, id int64) (Ad, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+adColumns+` FROM ads WHERE id = ?`, id)
	ad, err := scanAd(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Ad{}, ErrNotFound
	}
	if err != nil {
		return Ad{}, err
	}
	return ad, nil
}

// FindActive returns active found ads of the given category. An empty
// location matches every location. Results are ordered by id so repeated
// calls over unchanged data agree.
func (s *Store) FindActive(ctx context.Context, category, location string) ([]Ad, error) {
	query := `SELECT ` + adColumns + ` FROM ads
		WHERE status = 'active' AND kind = 'found' AND category = ?`
	args := []any{category}
	if location != "" {
		query += ` AND location_key = ?`
		args = append(args, location)
	}
	query += ` ORDER BY id ASC`

	return s.queryAds(ctx, query, args...)
}

// ListOwned returns the ads of one owner in the given state, newest first.
func (s *Store) ListOwned(ctx context.Context, ownerID int64, status Status) ([]Ad, error) {
	return s.queryAds(ctx, `SELECT `+adColumns+` FROM ads
		WHERE owner_id = ? AND status = ?
		ORDER BY created_at DESC, id DESC`, ownerID, string(status))
}

// ListAds returns ads of every owner matching the filter, newest first.
func (s *Store) ListAds(ctx context.Context, f AdFilter) ([]Ad, error) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(f.Kind))
	}

	query := `SELECT ` + adColumns + ` FROM ads`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, max(f.Offset, 0))

	return s.queryAds(ctx, query, args...)
}

// Archive moves an active ad to archived when requesterID owns it. It
// returns false, without error, when the ad is missing, already archived
// or owned by someone else.
func (s *Store) Archive(ctx context.Context, id, requesterID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ads SET status = 'archived', archived_at = ?
		WHERE id = ? AND owner_id = ? AND status = 'active'`,
		time.Now().UTC().Format(time.RFC3339), id, requesterID,
	)
	if err != nil {
		return false, fmt.Errorf("archiving ad %d: %w", id, err)
	}
	return affected(res)
}

// ModeratorArchive archives an active ad regardless of owner.
func (s *Store) ModeratorArchive(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ads SET status = 'archived', archived_at = ?
		WHERE id = ? AND status = 'active'`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return false, fmt.Errorf("archiving ad %d: %w", id, err)
	}
	return affected(res)
}

// Delete removes an ad permanently. Moderator only.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting ad %d: %w", id, err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Stats counts ads per status and known users.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM ads WHERE status = 'active'),
			(SELECT COUNT(*) FROM ads WHERE status = 'archived'),
			(SELECT COUNT(*) FROM users)`,
	).Scan(&st.Active, &st.Archived, &st.Users)
	if err != nil {
		return Stats{}, fmt.Errorf("counting ads: %w", err)
	}
	return st, nil
}

func (s *Store) queryAds(ctx context.Context, query string, args ...any) ([]Ad, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ads: %w", err)
	}
	defer rows.Close()

	var ads []Ad
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		ads = append(ads, ad)
	}
	return ads, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAd(r rowScanner) (Ad, error) {
	var a Ad
	var kind, mode, status, createdAt, archivedAt string
	err := r.Scan(&a.ID, &a.OwnerID, &kind, &a.Category, &a.Description, &a.PhotoRef,
		&a.LocationKey, &a.PlaceDetail, &mode, &a.ContactInfo, &a.Embedding, &status,
		&createdAt, &archivedAt)
	if err != nil {
		return Ad{}, err
	}
	a.Kind = Kind(kind)
	a.ContactMode = ContactMode(mode)
	a.Status = Status(status)

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Ad{}, fmt.Errorf("parsing created_at for ad %d: %w", a.ID, err)
	}
	a.CreatedAt = t
	if archivedAt != "" {
		t, err := time.Parse(time.RFC3339, archivedAt)
		if err != nil {
			return Ad{}, fmt.Errorf("parsing archived_at for ad %d: %w", a.ID, err)
		}
		a.ArchivedAt = t
	}
	return a, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
