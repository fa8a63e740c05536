package services

import (
	"context"
	"errors"
	"testing"

	"dispatch-backend/clients"
	"dispatch-backend/models"
	"dispatch-backend/security"
)

func TestProofCloseScenario(t *testing.T) {
	h := newHarness(t)
	h.globalProfile(t, 1000, 5000, false)
	ctx := context.Background()
	req := h.inProgress(t, "req-1", "cap-1", "k", ptr[int64](2500))

	code, err := h.proof.GenerateCloseCode(ctx, req.ID, "cap-1")
	if err != nil {
		t.Fatal(err)
	}
	if !security.IsCloseCodeShape(code) {
		t.Fatalf("code %q is not 6 digits", code)
	}
	if h.notifier.count(clients.EventCloseCodeIssued) != 1 {
		t.Fatal("requester was not notified")
	}
	var pc models.ProofClose
	h.db.First(&pc, "request_id = ?", req.ID)
	if string(pc.CodeHash) == code || len(pc.CodeHash) == 0 {
		t.Fatal("code must be stored hashed")
	}

	closed, err := h.proof.VerifyCloseCode(ctx, VerifyInput{
		RequestID: req.ID, ActorID: "req-1", Code: code, RecipientName: "Ali", IdempotencyKey: "close-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != models.StatusClosed || closed.ClosedAt == nil || *closed.CloseRecipientName != "Ali" {
		t.Fatalf("closed = %+v", closed)
	}
	if closed.LedgerTransactionID == nil || *closed.LedgerTransactionID != "tx-"+req.ID {
		t.Fatalf("ledger reference not stored: %v", closed.LedgerTransactionID)
	}
	if closed.CompletedAt == nil {
		t.Fatal("closing from in_progress stamps completed_at")
	}
	if h.ledger.calls() != 1 {
		t.Fatalf("ledger calls = %d", h.ledger.calls())
	}
	e := h.ledger.entries[0]
	if e.AmountMinor != 2500 || e.IdempotencyKey != "close-1" || e.AssignedID != "cap-1" || e.EntryType != "instant_completion" {
		t.Fatalf("ledger entry = %+v", e)
	}
	if h.notifier.count(clients.EventRequestClosed) != 2 {
		t.Fatal("both parties should be notified")
	}

	again, err := h.proof.VerifyCloseCode(ctx, VerifyInput{
		RequestID: req.ID, ActorID: "req-1", Code: code, RecipientName: "Ali", IdempotencyKey: "close-1",
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again.ID != closed.ID || again.Status != models.StatusClosed || h.ledger.calls() != 1 {
		t.Fatal("replay must return the closed request without re-posting")
	}

	_, err = h.proof.VerifyCloseCode(ctx, VerifyInput{
		RequestID: req.ID, ActorID: "req-1", Code: code, IdempotencyKey: "close-2",
	})
	if se := assertKind(t, err, ErrInvalidState); se.Code != "ALREADY_CLOSED" {
		t.Fatalf("code = %s", se.Code)
	}
	_, err = h.proof.GenerateCloseCode(ctx, req.ID, "cap-1")
	assertKind(t, err, ErrInvalidState)
}

func TestVerifyWrongCodeDoesNotMutate(t *testing.T) {
	h := newHarness(t)
	h.globalProfile(t, 1000, 5000, false)
	ctx := context.Background()
	req := h.inProgress(t, "req-1", "cap-1", "k", nil)
	code, err := h.proof.GenerateCloseCode(ctx, req.ID, "cap-1")
	if err != nil {
		t.Fatal(err)
	}
	wrong := "100000"
	if code == wrong {
		wrong = "100001"
	}
	for _, bad := range []string{wrong, "12ab56", ""} {
		_, err = h.proof.VerifyCloseCode(ctx, VerifyInput{RequestID: req.ID, ActorID: "req-1", Code: bad, IdempotencyKey: "c"})
		if se := assertKind(t, err, ErrInvalidState); se.Code != "INVALID_CLOSE_CODE" {
			t.Fatalf("%q: code = %s", bad, se.Code)
		}
	}
	got := h.reload(t, req.ID)
	if got.Status != models.StatusInProgress || got.ClosedAt != nil || got.CloseRecipientName != nil {
		t.Fatalf("request mutated: %+v", got)
	}
	var pc models.ProofClose
	h.db.First(&pc, "request_id = ?", req.ID)
	if pc.IsVerified || pc.IdempotencyKey != nil {
		t.Fatal("proof close mutated")
	}
}

func TestRegenerateInvalidatesPreviousCode(t *testing.T) {
	h := newHarness(t)
	h.globalProfile(t, 1000, 5000, false)
	ctx := context.Background()
	req := h.inProgress(t, "req-1", "cap-1", "k", nil)

	first, _ := h.proof.GenerateCloseCode(ctx, req.ID, "cap-1")
	second, err := h.proof.GenerateCloseCode(ctx, req.ID, "cap-1")
	if err != nil {
		t.Fatal(err)
	}
	for second == first {
		second, _ = h.proof.GenerateCloseCode(ctx, req.ID, "cap-1")
	}
	var n int64
	h.db.Model(&models.ProofClose{}).Where("request_id = ?", req.ID).Count(&n)
	if n != 1 {
		t.Fatalf("proof rows = %d, want 1", n)
	}

	_, err = h.proof.VerifyCloseCode(ctx, VerifyInput{RequestID: req.ID, ActorID: "cap-1", Code: first, IdempotencyKey: "c1"})
	assertKind(t, err, ErrInvalidState)
	if _, err := h.proof.VerifyCloseCode(ctx, VerifyInput{RequestID: req.ID, ActorID: "cap-1", Code: second, IdempotencyKey: "c2"}); err != nil {
		t.Fatalf("latest code should verify: %v", err)
	}
	if h.ledger.calls() != 0 {
		t.Fatal("no final price means no ledger posting")
	}
}

func TestProofCloseGuards(t *testing.T) {
	h := newHarness(t)
	h.globalProfile(t, 1000, 5000, false)
	ctx := context.Background()
	req := h.inProgress(t, "req-1", "cap-1", "k", nil)

	_, err := h.proof.GenerateCloseCode(ctx, "missing", "cap-1")
	assertKind(t, err, ErrNotFound)
	_, err = h.proof.GenerateCloseCode(ctx, req.ID, "req-1")
	assertKind(t, err, ErrForbidden)

	_, err = h.proof.VerifyCloseCode(ctx, VerifyInput{RequestID: req.ID, ActorID: "req-1", Code: "123456", IdempotencyKey: "x"})
	if se := assertKind(t, err, ErrInvalidState); se.Code != "NO_CLOSE_CODE" {
		t.Fatalf("code = %s", se.Code)
	}
	_, err = h.proof.VerifyCloseCode(ctx, VerifyInput{RequestID: req.ID, ActorID: "stranger", Code: "123456", IdempotencyKey: "x"})
	assertKind(t, err, ErrForbidden)
	_, err = h.proof.VerifyCloseCode(ctx, VerifyInput{RequestID: req.ID, ActorID: "req-1", Code: "123456"})
	assertKind(t, err, ErrValidationFailed)

	provReq := h.create(t, "req-1", models.KindSpecialized, "k-provReq")
	if _, err := h.life.AcceptRequest(ctx, provReq.ID, "prov-1"); err != nil {
		t.Fatal(err)
	}
	_, err = h.proof.GenerateCloseCode(ctx, provReq.ID, "prov-1")
	assertKind(t, err, ErrInvalidState)

	routed := h.create(t, "req-1", models.KindInstant, "k-routed")
	if err := h.life.Routing().AssignCaptain(ctx, routed, "cap-1"); err != nil {
		t.Fatal(err)
	}
	_, err = h.proof.GenerateCloseCode(ctx, routed.ID, "cap-1")
	if se := assertKind(t, err, ErrInvalidState); se.Code != "NOT_CLOSABLE" {
		t.Fatalf("code = %s", se.Code)
	}
}

func TestLedgerFailureDoesNotBlockClose(t *testing.T) {
	h := newHarness(t)
	h.globalProfile(t, 1000, 5000, false)
	h.ledger.err = errors.New("wallet unavailable")
	ctx := context.Background()
	req := h.inProgress(t, "req-1", "cap-1", "k", ptr[int64](3000))
	code, err := h.proof.GenerateCloseCode(ctx, req.ID, "cap-1")
	if err != nil {
		t.Fatal(err)
	}

	closed, err := h.proof.VerifyCloseCode(ctx, VerifyInput{RequestID: req.ID, ActorID: "req-1", Code: code, IdempotencyKey: "close-x"})
	if err != nil {
		t.Fatalf("close must succeed despite ledger failure: %v", err)
	}
	if closed.Status != models.StatusClosed || closed.LedgerTransactionID != nil {
		t.Fatalf("closed = %+v", closed)
	}

	var failures []models.LedgerFailure
	h.db.Find(&failures)
	if len(failures) != 1 {
		t.Fatalf("ledger failures = %d, want 1", len(failures))
	}
	f := failures[0]
	if f.RequestID != req.ID || f.AmountMinor != 3000 || f.IdempotencyKey != "close-x" || f.Currency != "YER" || f.ResolvedAt != nil {
		t.Fatalf("failure row = %+v", f)
	}
}
