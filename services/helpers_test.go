package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"dispatch-backend/clients"
	"dispatch-backend/database"
	"dispatch-backend/models"
	"dispatch-backend/security"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []clients.Event
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, ev clients.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeNotifier) count(t clients.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []clients.LedgerEntry
	err     error
}

func (f *fakeLedger) PostEntry(_ context.Context, e clients.LedgerEntry) (clients.LedgerReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	if f.err != nil {
		return clients.LedgerReceipt{}, f.err
	}
	return clients.LedgerReceipt{TransactionID: "tx-" + e.RequestID, Status: "posted", AmountMinor: e.AmountMinor}, nil
}

func (f *fakeLedger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

type harness struct {
	db       *gorm.DB
	clock    *testClock
	notifier *fakeNotifier
	ledger   *fakeLedger
	deps     Deps
	life     *Lifecycle
	proof    *ProofCloseProtocol
	chat     *ChatChannel
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		db:       openTestDB(t),
		clock:    newClock(),
		notifier: &fakeNotifier{},
		ledger:   &fakeLedger{},
	}
	mc, err := security.NewMessageCipher("k1", bytes.Repeat([]byte{7}, 32), nil)
	if err != nil {
		t.Fatal(err)
	}
	h.deps = Deps{
		DB:            h.db,
		Kinds:         AllKinds(),
		Notifier:      h.notifier,
		Ledger:        h.ledger,
		Cipher:        mc,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:           h.clock.Now,
		Currency:      "YER",
		CloseCodeCost: bcrypt.MinCost,
	}
	h.rebuild(t)
	return h
}

// rebuild recreates the engines after h.deps was changed.
func (h *harness) rebuild(t *testing.T) {
	t.Helper()
	h.life = NewLifecycle(h.deps)
	h.proof = NewProofCloseProtocol(h.deps)
	chat, err := NewChatChannel(h.deps)
	if err != nil {
		t.Fatal(err)
	}
	h.chat = chat
}

func (h *harness) globalProfile(t *testing.T, min, max int64, review bool) {
	t.Helper()
	p := models.PricingProfile{Scope: models.ScopeGlobal, MinPrice: min, MaxPrice: max, RequiresReview: review, IsActive: true}
	if err := h.db.Create(&p).Error; err != nil {
		t.Fatal(err)
	}
}

func (h *harness) category(t *testing.T, code string, kinds models.CategoryKinds, active, review bool) *models.Category {
	t.Helper()
	c := models.Category{Code: code, Name: code, Kinds: kinds, IsActive: active, PricingRequiresReview: review}
	if err := h.db.Create(&c).Error; err != nil {
		t.Fatal(err)
	}
	return &c
}

func (h *harness) create(t *testing.T, requester string, kind models.RequestKind, key string) *models.Request {
	t.Helper()
	req, err := h.life.CreateRequest(context.Background(), requester, CreateInput{Kind: kind, Title: "Pick up groceries"}, key)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return req
}

// inProgress walks a fresh instant request to IN_PROGRESS under captain.
func (h *harness) inProgress(t *testing.T, requester, captain, key string, price *int64) *models.Request {
	t.Helper()
	ctx := context.Background()
	req := h.create(t, requester, models.KindInstant, key)
	if _, err := h.life.AcceptRequest(ctx, req.ID, captain); err != nil {
		t.Fatalf("accept: %v", err)
	}
	req, err := h.life.UpdateStatus(ctx, req.ID, captain, StatusChange{Status: models.StatusInProgress, FinalPrice: price})
	if err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	return req
}

func (h *harness) reload(t *testing.T, id string) *models.Request {
	t.Helper()
	var r models.Request
	if err := h.db.First(&r, "id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	return &r
}

func assertKind(t *testing.T, err error, want *Error) *Error {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want kind %s", err, want.Kind)
	}
	var se *Error
	errors.As(err, &se)
	return se
}

func ptr[T any](v T) *T { return &v }
