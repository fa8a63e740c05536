package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dispatch-backend/clients"
	"dispatch-backend/database"
	"dispatch-backend/models"
	"dispatch-backend/security"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProofCloseProtocol runs the two-step close handshake: the fulfiller asks
// for a code, the requester (or fulfiller) submits it back to close.
type ProofCloseProtocol struct {
	d Deps
}

func NewProofCloseProtocol(d Deps) *ProofCloseProtocol {
	return &ProofCloseProtocol{d: d.withDefaults()}
}

// GenerateCloseCode issues a fresh 6-digit code and returns it to the
// fulfiller. A pending code is overwritten and stops working.
func (p *ProofCloseProtocol) GenerateCloseCode(ctx context.Context, requestID, fulfillerID string) (string, error) {
	db := p.d.DB.WithContext(ctx)
	req, err := loadRequest(db, requestID)
	if err != nil {
		return "", err
	}
	policy, err := p.d.Kinds.For(req.Kind)
	if err != nil {
		return "", err
	}
	if !policy.ProofCloseRequired {
		return "", invalidState("CLOSE_CODE_NOT_APPLICABLE", fmt.Sprintf("%s requests do not use close codes", req.Kind))
	}
	if fulfillerID == "" || req.FulfillerID() != fulfillerID {
		return "", forbidden("FULFILLER_ONLY", "only the assigned fulfiller can generate a close code")
	}

	var existing models.ProofClose
	err = db.Where("request_id = ?", req.ID).Take(&existing).Error
	switch {
	case err == nil && existing.IsVerified:
		return "", invalidState("ALREADY_CLOSED", "request is already closed")
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return "", err
	}
	if !closableByProof[req.Status] {
		return "", invalidState("NOT_CLOSABLE", fmt.Sprintf("cannot issue a close code while the request is %s", req.Status))
	}

	code, err := security.NewCloseCode()
	if err != nil {
		return "", err
	}
	hash, err := security.HashCloseCode(code, p.d.CloseCodeCost)
	if err != nil {
		return "", err
	}

	now := p.d.now()
	row := models.ProofClose{
		RequestID:  req.ID,
		CodeHash:   hash,
		IssuedByID: fulfillerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	// Upsert on request_id, but never over a verified row.
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "request_id"}},
		Where:     clause.Where{Exprs: []clause.Expression{clause.Eq{Column: clause.Column{Table: "proof_closes", Name: "is_verified"}, Value: false}}},
		DoUpdates: clause.AssignmentColumns([]string{"code_hash", "issued_by_id", "updated_at"}),
	}).Create(&row)
	if res.Error != nil {
		return "", fmt.Errorf("store close code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", invalidState("ALREADY_CLOSED", "request is already closed")
	}

	p.d.Logger.Info("close code issued", "request_id", req.ID, "actor_id", fulfillerID)
	p.d.notify(ctx, clients.Event{
		Type:        clients.EventCloseCodeIssued,
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		FulfillerID: fulfillerID,
		RecipientID: req.RequesterID,
	})
	return code, nil
}

type VerifyInput struct {
	RequestID      string
	ActorID        string
	Code           string
	RecipientName  string
	IdempotencyKey string
}

// VerifyCloseCode closes the request when the code matches. Replaying the
// same idempotency key after success returns the closed request and does
// not touch the ledger again.
func (p *ProofCloseProtocol) VerifyCloseCode(ctx context.Context, in VerifyInput) (*models.Request, error) {
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		return nil, validationFailed("idempotency_key", "IDEMPOTENCY_KEY_REQUIRED", "an idempotency key is required")
	}
	db := p.d.DB.WithContext(ctx)

	var prior models.ProofClose
	err := db.Where("idempotency_key = ? AND is_verified = ?", key, true).Take(&prior).Error
	if err == nil {
		if prior.RequestID != in.RequestID {
			return nil, conflict("IDEMPOTENCY_KEY_IN_USE", "idempotency key belongs to another request")
		}
		return loadRequest(db, in.RequestID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	req, err := loadRequest(db, in.RequestID)
	if err != nil {
		return nil, err
	}
	if !req.IsParty(in.ActorID) {
		return nil, errNotParty
	}
	policy, err := p.d.Kinds.For(req.Kind)
	if err != nil {
		return nil, err
	}
	if !policy.ProofCloseRequired {
		return nil, invalidState("CLOSE_CODE_NOT_APPLICABLE", fmt.Sprintf("%s requests do not use close codes", req.Kind))
	}

	var pc models.ProofClose
	if err := db.Where("request_id = ?", req.ID).Take(&pc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invalidState("NO_CLOSE_CODE", "no close code was generated for this request")
		}
		return nil, err
	}
	if !security.IsCloseCodeShape(in.Code) || !security.CloseCodeMatches(pc.CodeHash, in.Code) {
		p.d.Logger.Warn("close code mismatch", "request_id", req.ID, "actor_id", in.ActorID)
		return nil, invalidState("INVALID_CLOSE_CODE", "close code does not match")
	}
	if pc.IsVerified {
		return nil, invalidState("ALREADY_CLOSED", "request is already closed")
	}
	if !closableByProof[req.Status] {
		return nil, invalidState("NOT_CLOSABLE", fmt.Sprintf("cannot close a request that is %s", req.Status))
	}

	now := p.d.now()
	recipient := strings.TrimSpace(in.RecipientName)
	from := req.Status
	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ProofClose{}).
			Where("id = ? AND is_verified = ?", pc.ID, false).
			Updates(map[string]any{
				"is_verified":     true,
				"verified_at":     now,
				"verified_by_id":  in.ActorID,
				"recipient_name":  recipient,
				"idempotency_key": key,
				"updated_at":      now,
			})
		if res.Error != nil {
			if database.IsUniqueViolation(res.Error) {
				return conflict("IDEMPOTENCY_KEY_IN_USE", "idempotency key belongs to another request")
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return invalidState("ALREADY_CLOSED", "request is already closed")
		}

		updates := map[string]any{
			"status":               models.StatusClosed,
			"closed_at":            now,
			"close_code":           in.Code,
			"close_recipient_name": recipient,
			"updated_at":           now,
		}
		if req.CompletedAt == nil {
			updates["completed_at"] = now
			if req.InProgressAt != nil {
				updates["resolution_time_minutes"] = int(now.Sub(*req.InProgressAt).Minutes())
			}
		}
		return casStatus(tx, req.ID, from, updates)
	})
	if err != nil {
		return nil, err
	}

	p.d.Logger.Info("request closed", "request_id", req.ID, "actor_id", in.ActorID, "from", string(from))
	p.d.Metrics.Transition(string(from), string(models.StatusClosed))

	closed, err := loadRequest(db, req.ID)
	if err != nil {
		return nil, err
	}
	if closed.PriceFinal != nil && *closed.PriceFinal > 0 {
		p.postLedger(ctx, closed, policy, key)
		if reloaded, err := loadRequest(db, req.ID); err == nil {
			closed = reloaded
		}
	}

	for _, to := range []string{closed.RequesterID, closed.FulfillerID()} {
		p.d.notify(ctx, clients.Event{
			Type:        clients.EventRequestClosed,
			RequestID:   closed.ID,
			RequesterID: closed.RequesterID,
			FulfillerID: closed.FulfillerID(),
			RecipientID: to,
			Status:      string(closed.Status),
		})
	}
	return closed, nil
}

// postLedger records the completion entry. Failure never reopens the
// request; it leaves a LedgerFailure row for reconciliation.
func (p *ProofCloseProtocol) postLedger(ctx context.Context, req *models.Request, policy KindPolicy, key string) {
	if p.d.Ledger == nil {
		p.d.Logger.Error("no ledger configured; completion not posted", "request_id", req.ID)
		p.recordLedgerFailure(ctx, req, policy, key, errors.New("ledger not configured"))
		return
	}
	entry := clients.LedgerEntry{
		RequestID:      req.ID,
		RequesterID:    req.RequesterID,
		AssignedID:     req.FulfillerID(),
		AmountMinor:    *req.PriceFinal,
		Currency:       p.d.Currency,
		EntryType:      policy.LedgerEntryType,
		IdempotencyKey: key,
	}
	receipt, err := p.d.Ledger.PostEntry(context.WithoutCancel(ctx), entry)
	if err != nil {
		p.d.Logger.Error("ledger posting failed",
			"request_id", req.ID,
			"amount_minor", entry.AmountMinor,
			"error", err,
		)
		p.recordLedgerFailure(ctx, req, policy, key, err)
		return
	}
	p.d.Metrics.Ledger("success")
	err = p.d.DB.WithContext(ctx).Model(&models.Request{}).Where("id = ?", req.ID).Updates(map[string]any{
		"ledger_transaction_id": receipt.TransactionID,
		"ledger_entry_type":     entry.EntryType,
	}).Error
	if err != nil {
		p.d.Logger.Error("ledger reference not stored",
			"request_id", req.ID,
			"ledger_transaction_id", receipt.TransactionID,
			"error", err,
		)
	}
}

func (p *ProofCloseProtocol) recordLedgerFailure(ctx context.Context, req *models.Request, policy KindPolicy, key string, cause error) {
	p.d.Metrics.Ledger("failure")
	row := models.LedgerFailure{
		RequestID:      req.ID,
		AmountMinor:    *req.PriceFinal,
		Currency:       p.d.Currency,
		EntryType:      policy.LedgerEntryType,
		IdempotencyKey: key,
		Error:          cause.Error(),
		CreatedAt:      p.d.now(),
	}
	if err := p.d.DB.WithContext(context.WithoutCancel(ctx)).Create(&row).Error; err != nil {
		p.d.Logger.Error("ledger failure not persisted", "request_id", req.ID, "error", err)
	}
}
