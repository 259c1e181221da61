package reporting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/giftcard-ledger/internal/giftcards"
)

// Ledger is the read side of the card store used by reports
type Ledger interface {
	GetCard(ctx context.Context, code string) (*giftcards.Card, error)
	Scan(ctx context.Context, filter giftcards.TransactionFilter) ([]*giftcards.Transaction, error)
}

// Aggregates computes the grouped figures reports need
type Aggregates interface {
	ListUserCards(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*giftcards.Card, int64, error)
	StatusTotals(ctx context.Context) ([]StatusSummary, error)
	UserTotals(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]TypeTotal, error)
}
