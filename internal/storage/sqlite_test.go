package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
)

var ctx = context.Background()

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func foundAd(owner int64, category, location string) NewAd {
	return NewAd{
		OwnerID:     owner,
		Kind:        KindFound,
		Category:    category,
		Description: "test item",
		LocationKey: location,
		ContactMode: ContactDirect,
		ContactInfo: "@owner",
		Embedding:   []float32{0.1, 0.2, 0.3},
	}
}

func mustCreate(t *testing.T, s *Store, ad NewAd) int64 {
	t.Helper()
	id, err := s.Create(ctx, ad)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) || len(v1) == 0 {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_ads_status", "idx_ads_owner_status", "idx_ads_active_kind_category_location"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestCreate_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	in := foundAd(42, "Keys", "L1")
	in.PhotoRef = "photo-1"
	in.PlaceDetail = "second floor"
	id := mustCreate(t, s, in)

	got, err := s.GetAd(ctx, id)
	if err != nil {
		t.Fatalf("GetAd: %v", err)
	}
	if got.OwnerID != 42 || got.Category != "Keys" || got.LocationKey != "L1" {
		t.Errorf("unexpected ad: %+v", got)
	}
	if got.Status != StatusActive {
		t.Errorf("Status = %q, want active", got.Status)
	}
	if got.PhotoRef != "photo-1" || got.PlaceDetail != "second floor" {
		t.Errorf("optional fields not stored: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if !got.ArchivedAt.IsZero() {
		t.Error("ArchivedAt set on an active ad")
	}

	vec, err := got.Vector()
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	want := []float32{0.1, 0.2, 0.3}
	for i := range want {
		if vec[i] != want[i] {
			t.Fatalf("embedding[%d] = %v, want %v", i, vec[i], want[i])
		}
	}
}

func TestCreate_RejectsMissingEmbedding(t *testing.T) {
	s := openTestStore(t)

	ad := foundAd(1, "Keys", "L1")
	ad.Embedding = nil
	if _, err := s.Create(ctx, ad); !errors.Is(err, ErrMissingEmbedding) {
		t.Fatalf("err = %v, want ErrMissingEmbedding", err)
	}

	all, err := s.ListAds(ctx, AdFilter{})
	if err != nil {
		t.Fatalf("ListAds: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("partial ad persisted: %+v", all)
	}
}

func TestCreate_RejectsInvalidContactMode(t *testing.T) {
	s := openTestStore(t)

	ad := foundAd(1, "Keys", "L1")
	ad.ContactMode = "pigeon"
	if _, err := s.Create(ctx, ad); err == nil {
		t.Fatal("expected error for invalid contact mode")
	}
}

func TestCreate_IDsNeverReused(t *testing.T) {
	s := openTestStore(t)

	first := mustCreate(t, s, foundAd(1, "Keys", "L1"))
	if err := s.Delete(ctx, first); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	second := mustCreate(t, s, foundAd(1, "Keys", "L1"))
	if second <= first {
		t.Errorf("id reused: first=%d second=%d", first, second)
	}
}

func TestFindActive(t *testing.T) {
	s := openTestStore(t)

	keysL1 := mustCreate(t, s, foundAd(1, "Keys", "L1"))
	keysL2 := mustCreate(t, s, foundAd(2, "Keys", "L2"))
	mustCreate(t, s, foundAd(3, "Umbrella", "L1"))
	archived := mustCreate(t, s, foundAd(4, "Keys", "L1"))
	if ok, err := s.Archive(ctx, archived, 4); err != nil || !ok {
		t.Fatalf("Archive = %v, %v", ok, err)
	}

	t.Run("with location", func(t *testing.T) {
		ads, err := s.FindActive(ctx, "Keys", "L1")
		if err != nil {
			t.Fatalf("FindActive: %v", err)
		}
		if len(ads) != 1 || ads[0].ID != keysL1 {
			t.Errorf("got %+v, want only ad %d", ads, keysL1)
		}
	})

	t.Run("without location", func(t *testing.T) {
		ads, err := s.FindActive(ctx, "Keys", "")
		if err != nil {
			t.Fatalf("FindActive: %v", err)
		}
		if len(ads) != 2 || ads[0].ID != keysL1 || ads[1].ID != keysL2 {
			t.Errorf("got %+v, want [%d %d]", ads, keysL1, keysL2)
		}
		for _, a := range ads {
			if a.Status != StatusActive {
				t.Errorf("ad %d has status %q", a.ID, a.Status)
			}
		}
	})

	t.Run("no matches", func(t *testing.T) {
		ads, err := s.FindActive(ctx, "Wallet", "")
		if err != nil {
			t.Fatalf("FindActive: %v", err)
		}
		if len(ads) != 0 {
			t.Errorf("got %d ads, want 0", len(ads))
		}
	})
}

func TestFindActive_IgnoresLostKind(t *testing.T) {
	s := openTestStore(t)

	lost := foundAd(1, "Keys", "L1")
	lost.Kind = KindLost
	mustCreate(t, s, lost)

	ads, err := s.FindActive(ctx, "Keys", "L1")
	if err != nil {
		t.Fatalf("FindActive: %v", err)
	}
	if len(ads) != 0 {
		t.Errorf("lost ad returned by FindActive: %+v", ads)
	}
}

func TestListOwned_NewestFirst(t *testing.T) {
	s := openTestStore(t)

	a := mustCreate(t, s, foundAd(7, "Keys", "L1"))
	b := mustCreate(t, s, foundAd(7, "Wallet", "L1"))
	mustCreate(t, s, foundAd(8, "Keys", "L1"))

	ads, err := s.ListOwned(ctx, 7, StatusActive)
	if err != nil {
		t.Fatalf("ListOwned: %v", err)
	}
	if len(ads) != 2 {
		t.Fatalf("got %d ads, want 2", len(ads))
	}
	if ads[0].ID != b || ads[1].ID != a {
		t.Errorf("order = [%d %d], want [%d %d]", ads[0].ID, ads[1].ID, b, a)
	}

	archived, err := s.ListOwned(ctx, 7, StatusArchived)
	if err != nil {
		t.Fatalf("ListOwned archived: %v", err)
	}
	if len(archived) != 0 {
		t.Errorf("got %d archived ads, want 0", len(archived))
	}
}

func TestArchive_OwnershipAndIdempotence(t *testing.T) {
	s := openTestStore(t)
	id := mustCreate(t, s, foundAd(10, "Keys", "L1"))

	ok, err := s.Archive(ctx, id, 99)
	if err != nil {
		t.Fatalf("Archive by stranger: %v", err)
	}
	if ok {
		t.Fatal("stranger archived the ad")
	}
	ad, _ := s.GetAd(ctx, id)
	if ad.Status != StatusActive {
		t.Fatalf("status changed by denied archive: %q", ad.Status)
	}

	ok, err = s.Archive(ctx, id, 10)
	if err != nil || !ok {
		t.Fatalf("Archive by owner = %v, %v; want true", ok, err)
	}
	ad, _ = s.GetAd(ctx, id)
	if ad.Status != StatusArchived || ad.ArchivedAt.IsZero() {
		t.Fatalf("ad not archived: %+v", ad)
	}

	ok, err = s.Archive(ctx, id, 10)
	if err != nil {
		t.Fatalf("second Archive: %v", err)
	}
	if ok {
		t.Error("second Archive returned true")
	}
}

func TestArchive_MissingAd(t *testing.T) {
	s := openTestStore(t)

	ok, err := s.Archive(ctx, 12345, 1)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if ok {
		t.Error("Archive of missing ad returned true")
	}
}

func TestModeratorArchive(t *testing.T) {
	s := openTestStore(t)
	id := mustCreate(t, s, foundAd(10, "Keys", "L1"))

	ok, err := s.ModeratorArchive(ctx, id)
	if err != nil || !ok {
		t.Fatalf("ModeratorArchive = %v, %v; want true", ok, err)
	}
	ok, err = s.ModeratorArchive(ctx, id)
	if err != nil || ok {
		t.Fatalf("second ModeratorArchive = %v, %v; want false", ok, err)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	id := mustCreate(t, s, foundAd(10, "Keys", "L1"))

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.GetAd(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAd after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: err = %v, want ErrNotFound", err)
	}
}

func TestListAds_Filter(t *testing.T) {
	s := openTestStore(t)

	a := mustCreate(t, s, foundAd(1, "Keys", "L1"))
	b := mustCreate(t, s, foundAd(2, "Wallet", "L2"))
	if _, err := s.ModeratorArchive(ctx, a); err != nil {
		t.Fatalf("ModeratorArchive: %v", err)
	}

	all, err := s.ListAds(ctx, AdFilter{})
	if err != nil {
		t.Fatalf("ListAds: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d ads, want 2", len(all))
	}

	active, err := s.ListAds(ctx, AdFilter{Status: StatusActive})
	if err != nil {
		t.Fatalf("ListAds active: %v", err)
	}
	if len(active) != 1 || active[0].ID != b {
		t.Errorf("active = %+v, want only %d", active, b)
	}

	paged, err := s.ListAds(ctx, AdFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListAds paged: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != a {
		t.Errorf("paged = %+v, want only %d", paged, a)
	}
}

func TestEnsureUserAndStats(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.EnsureUser(ctx, 5); err != nil {
			t.Fatalf("EnsureUser: %v", err)
		}
	}
	if err := s.EnsureUser(ctx, 6); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	id := mustCreate(t, s, foundAd(5, "Keys", "L1"))
	mustCreate(t, s, foundAd(6, "Keys", "L1"))
	if _, err := s.Archive(ctx, id, 5); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Active != 1 || st.Archived != 1 || st.Users != 2 {
		t.Errorf("Stats = %+v, want {1 1 2}", st)
	}
}

// TestConcurrentArchive verifies that racing owners flip the status exactly once.
func TestConcurrentArchive(t *testing.T) {
	s := openTestStore(t)
	id := mustCreate(t, s, foundAd(10, "Keys", "L1"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Archive(ctx, id, 10)
			if err != nil {
				t.Errorf("Archive: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("archive succeeded %d times, want 1", wins)
	}
}
