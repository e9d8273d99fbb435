package moderation

import (
	"context"

	"github.com/pkg/errors"
)

type ledgerStore interface {
	GetInfractionCount(ctx context.Context, chatID, userID int64) (int, error)
	IncrementInfraction(ctx context.Context, chatID, userID int64) (int, error)
	DeleteInfraction(ctx context.Context, chatID, userID int64) error
}

// Ledger is the per-member infraction counter. Increments are atomic in the store.
type Ledger struct {
	store ledgerStore
}

func NewLedger(store ledgerStore) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) Increment(ctx context.Context, chatID, userID int64) (int, error) {
	n, err := l.store.IncrementInfraction(ctx, chatID, userID)
	return n, errors.WithMessage(err, "ledger increment")
}

// Reset clears the counter; resetting an absent record is a no-op.
func (l *Ledger) Reset(ctx context.Context, chatID, userID int64) error {
	return errors.WithMessage(l.store.DeleteInfraction(ctx, chatID, userID), "ledger reset")
}

func (l *Ledger) Count(ctx context.Context, chatID, userID int64) (int, error) {
	n, err := l.store.GetInfractionCount(ctx, chatID, userID)
	return n, errors.WithMessage(err, "ledger count")
}
