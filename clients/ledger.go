package clients

import (
	"context"
	"time"
)

// LedgerEntry is the completion posting sent to the wallet ledger.
type LedgerEntry struct {
	RequestID      string `json:"request_id"`
	RequesterID    string `json:"requester_id"`
	AssignedID     string `json:"assigned_id,omitempty"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	EntryType      string `json:"entry_type"`
	IdempotencyKey string `json:"idempotency_key"`
}

type LedgerReceipt struct {
	TransactionID string `json:"transaction_id"`
	EntryID       string `json:"entry_id"`
	Status        string `json:"status"`
	AmountMinor   int64  `json:"amount_minor"`
}

type LedgerClient struct {
	BaseURL string
	Timeout time.Duration
}

func NewLedgerClient(baseURL string, timeout time.Duration) *LedgerClient {
	return &LedgerClient{BaseURL: trimBase(baseURL), Timeout: timeout}
}

// PostEntry records entry. The ledger deduplicates on the Idempotency-Key
// header, so a retried call with the same key yields the same receipt.
func (c *LedgerClient) PostEntry(ctx context.Context, entry LedgerEntry) (LedgerReceipt, error) {
	var out LedgerReceipt
	headers := map[string]string{
		"Idempotency-Key": entry.IdempotencyKey,
		"X-Service-Name":  "dispatch",
	}
	err := postJSON(ctx, c.BaseURL+"/ledger/entry", c.Timeout, headers, entry, &out)
	return out, err
}
