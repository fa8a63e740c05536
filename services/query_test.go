package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"dispatch-backend/models"

	"gorm.io/datatypes"
)

func TestGetRequestVisibility(t *testing.T) {
	h := newHarness(t)
	h.globalProfile(t, 1000, 5000, false)
	ctx := context.Background()
	req := h.create(t, "req-1", models.KindInstant, "k")

	if _, err := h.life.GetRequest(ctx, Caller{ID: "req-1", Role: RoleRequester}, req.ID); err != nil {
		t.Fatal(err)
	}
	_, err := h.life.GetRequest(ctx, Caller{ID: "cap-1", Role: RoleCaptain}, req.ID)
	assertKind(t, err, ErrForbidden)
	if _, err := h.life.GetRequest(ctx, Caller{ID: "ops", Role: RoleSupport}, req.ID); err != nil {
		t.Fatalf("support should see any request: %v", err)
	}
	_, err = h.life.GetRequest(ctx, Caller{ID: "req-1"}, "missing")
	assertKind(t, err, ErrNotFound)
}

func TestListByRequesterPaginates(t *testing.T) {
	h := newHarness(t)
	h.globalProfile(t, 1000, 5000, false)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		h.create(t, "req-1", models.KindInstant, fmt.Sprintf("k%d", i))
		h.clock.Advance(time.Minute)
	}
	h.create(t, "req-2", models.KindInstant, "other")

	first, err := h.life.ListByRequester(ctx, "req-1", ListFilter{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Items) != 3 || first.NextCursor == nil {
		t.Fatalf("first page = %d items, cursor %v", len(first.Items), first.NextCursor)
	}
	second, err := h.life.ListByRequester(ctx, "req-1", ListFilter{Limit: 3, Cursor: first.NextCursor})
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Items) != 2 || second.NextCursor != nil {
		t.Fatalf("second page = %d items, cursor %v", len(second.Items), second.NextCursor)
	}
	if !first.Items[0].CreatedAt.After(second.Items[0].CreatedAt) {
		t.Fatal("pages must run newest first")
	}

	routed := models.StatusRouted
	filtered, _ := h.life.ListByRequester(ctx, "req-1", ListFilter{Status: &routed})
	if len(filtered.Items) != 5 {
		t.Fatalf("status filter = %d", len(filtered.Items))
	}
}

func TestListCursorKeepsTiedTimestamps(t *testing.T) {
	h := newHarness(t)
	h.globalProfile(t, 1000, 5000, false)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		h.create(t, "req-1", models.KindInstant, fmt.Sprintf("tie-%d", i))
	}

	seen := map[string]bool{}
	f := ListFilter{Limit: 2}
	for pages := 0; pages < 10; pages++ {
		page, err := h.life.ListByRequester(ctx, "req-1", f)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range page.Items {
			if seen[r.ID] {
				t.Fatalf("request %s listed twice", r.ID)
			}
			seen[r.ID] = true
		}
		if page.NextCursor == nil {
			break
		}
		f.Cursor = page.NextCursor
	}
	if len(seen) != 5 {
		t.Fatalf("listed %d of 5 requests", len(seen))
	}
}

func TestParseCursor(t *testing.T) {
	c := cursorAfter(time.Date(2026, 3, 1, 9, 0, 0, 500, time.UTC), "abc")
	back, err := ParseCursor(c.String())
	if err != nil || !back.CreatedAt.Equal(c.CreatedAt) || back.ID != "abc" {
		t.Fatalf("round trip = %+v, %v", back, err)
	}
	if got, err := ParseCursor(""); got != nil || err != nil {
		t.Fatalf("empty = %v, %v", got, err)
	}
	for _, bad := range []string{"yesterday", "2026-03-01T09:00:00Z", "nope_abc"} {
		_, err := ParseCursor(bad)
		assertKind(t, err, ErrValidationFailed)
	}
}

func TestListByFulfillerAndPool(t *testing.T) {
	h := newHarness(t)
	h.globalProfile(t, 1000, 5000, false)
	ctx := context.Background()

	open := h.create(t, "req-1", models.KindInstant, "open")
	taken := h.create(t, "req-1", models.KindInstant, "taken")
	if _, err := h.life.AcceptRequest(ctx, taken.ID, "cap-1"); err != nil {
		t.Fatal(err)
	}
	cat := h.category(t, "manual", models.CategoryBoth, true, false)
	entry := models.ConfigEntry{Scope: models.ScopeCategory, CategoryID: &cat.ID, Key: models.RoutingPolicyKey, Value: datatypes.JSON(`{"policy":"manual"}`), IsActive: true}
	h.db.Create(&entry)
	if _, err := h.life.CreateRequest(ctx, "req-1", CreateInput{Kind: models.KindInstant, Title: "q", CategoryID: &cat.ID}, "queued"); err != nil {
		t.Fatal(err)
	}
	h.create(t, "req-1", models.KindSpecialized, "provReq")

	pool, err := h.life.ListPool(ctx, models.KindInstant, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(pool.Items) != 1 || pool.Items[0].ID != open.ID {
		t.Fatalf("instant pool = %+v", pool.Items)
	}
	provPool, _ := h.life.ListPool(ctx, models.KindSpecialized, ListFilter{})
	if len(provPool.Items) != 1 {
		t.Fatalf("specialized pool = %d", len(provPool.Items))
	}

	mine, err := h.life.ListByFulfiller(ctx, "cap-1", ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(mine.Items) != 1 || mine.Items[0].ID != taken.ID {
		t.Fatalf("fulfiller list = %+v", mine.Items)
	}
}

func TestListByStatusIsSupportOnly(t *testing.T) {
	h := newHarness(t)
	h.globalProfile(t, 1000, 5000, false)
	ctx := context.Background()
	h.create(t, "req-1", models.KindInstant, "a")
	routed := models.StatusRouted

	_, err := h.life.ListByStatus(ctx, Caller{ID: "req-1", Role: RoleRequester}, ListFilter{Status: &routed})
	assertKind(t, err, ErrForbidden)
	_, err = h.life.ListByStatus(ctx, Caller{ID: "ops", Role: RoleSupport}, ListFilter{})
	assertKind(t, err, ErrValidationFailed)

	page, err := h.life.ListByStatus(ctx, Caller{ID: "ops", Role: RoleSupport}, ListFilter{Status: &routed})
	if err != nil || len(page.Items) != 1 {
		t.Fatalf("support list = %v, %v", page, err)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.globalProfile(t, 1000, 5000, false)
	ctx := context.Background()

	done := h.inProgress(t, "req-1", "cap-1", "a", nil)
	h.clock.Advance(30 * time.Minute)
	if _, err := h.life.UpdateStatus(ctx, done.ID, "cap-1", StatusChange{Status: models.StatusCompleted}); err != nil {
		t.Fatal(err)
	}
	gone := h.create(t, "req-1", models.KindInstant, "b")
	if _, err := h.life.UpdateStatus(ctx, gone.ID, "req-1", StatusChange{Status: models.StatusCancelled}); err != nil {
		t.Fatal(err)
	}
	h.create(t, "req-2", models.KindSpecialized, "c")
	h.create(t, "req-2", models.KindSpecialized, "d")

	_, err := h.life.Stats(ctx, Caller{ID: "req-1", Role: RoleRequester}, nil)
	assertKind(t, err, ErrForbidden)

	st, err := h.life.Stats(ctx, Caller{ID: "ops", Role: RoleSupport}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 4 || st.ByKind["instant"] != 2 || st.ByKind["specialized"] != 2 {
		t.Fatalf("stats = %+v", st)
	}
	if st.CancellationRate != 0.25 || st.AvgResolutionMinutes != 30 {
		t.Fatalf("rates = cancel %v avg %v", st.CancellationRate, st.AvgResolutionMinutes)
	}
	if st.ByStatus["completed"] != 1 || st.ByStatus["routed"] != 2 {
		t.Fatalf("by status = %v", st.ByStatus)
	}
}
