package services

import (
	"context"
	"log/slog"
	"time"

	"dispatch-backend/clients"
	"dispatch-backend/metrics"
	"dispatch-backend/ratelimit"
	"dispatch-backend/security"

	"gorm.io/gorm"
)

// Notifier delivers best-effort notifications.
type Notifier interface {
	Notify(ctx context.Context, ev clients.Event) error
}

// Ledger posts completion entries. Implementations must be idempotent on
// entry.IdempotencyKey.
type Ledger interface {
	PostEntry(ctx context.Context, entry clients.LedgerEntry) (clients.LedgerReceipt, error)
}

// Deps is shared by every engine. Only DB is mandatory; the rest fall back to
// no-op or default implementations.
type Deps struct {
	DB            *gorm.DB
	Kinds         Kinds
	Notifier      Notifier
	Ledger        Ledger
	Cipher        *security.MessageCipher
	ChatLimiter   *ratelimit.MapLimiter
	Metrics       *metrics.Collectors
	Logger        *slog.Logger
	Now           func() time.Time
	Currency      string
	CloseCodeCost int
}

func (d Deps) withDefaults() Deps {
	if d.Kinds == nil {
		d.Kinds = AllKinds()
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Currency == "" {
		d.Currency = "YER"
	}
	return d
}

func (d Deps) now() time.Time { return d.Now().UTC() }

// notify sends ev and swallows the failure; the mutation has already
// committed by the time this runs.
func (d Deps) notify(ctx context.Context, ev clients.Event) {
	if err := d.Notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		d.Logger.Warn("notification failed",
			"event", string(ev.Type),
			"request_id", ev.RequestID,
			"error", err,
		)
		d.Metrics.NotificationFailed(string(ev.Type))
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, clients.Event) error { return nil }
