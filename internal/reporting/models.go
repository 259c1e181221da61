package reporting

import (
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/giftcard-ledger/internal/giftcards"
)

// StatusSummary aggregates cards sharing a status
type StatusSummary struct {
	Status  giftcards.CardStatus `json:"status"`
	Cards   int64                `json:"cards"`
	Issued  giftcards.Money      `json:"issued"`
	Balance giftcards.Money      `json:"balance"`
}

// Summary is the ledger wide position
type Summary struct {
	Statuses    []StatusSummary `json:"statuses"`
	TotalCards  int64           `json:"total_cards"`
	IssuedValue giftcards.Money `json:"issued_value"`
	// Outstanding is the balance still spendable or recoverable: every
	// status except expired
	Outstanding giftcards.Money `json:"outstanding"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// TypeTotal aggregates log records of one type
type TypeTotal struct {
	Type   giftcards.TransactionType `json:"type"`
	Count  int64                     `json:"count"`
	Amount giftcards.Money           `json:"amount"`
}

// Activity is a user's ledger activity over a period
type Activity struct {
	UserID    uuid.UUID       `json:"user_id"`
	From      *time.Time      `json:"from,omitempty"`
	To        *time.Time      `json:"to,omitempty"`
	Totals    []TypeTotal     `json:"totals"`
	Redeemed  giftcards.Money `json:"redeemed"`
	Recharged giftcards.Money `json:"recharged"`
}

// Reconciliation compares a card's stored balance with its replayed log
type Reconciliation struct {
	Code            string          `json:"code"`
	InitialBalance  giftcards.Money `json:"initial_balance"`
	ReplayedBalance giftcards.Money `json:"replayed_balance"`
	StoredBalance   giftcards.Money `json:"stored_balance"`
	Difference      giftcards.Money `json:"difference"`
	Entries         int             `json:"entries"`
	Consistent      bool            `json:"consistent"`
	// Settled is false when the card kept changing while its log was read
	Settled         bool            `json:"settled"`
}

// ExportResult describes an uploaded transaction export
type ExportResult struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	Rows        int       `json:"rows"`
	Size        int64     `json:"size"`
	URLExpires  time.Time `json:"url_expires_at"`
	GeneratedAt time.Time `json:"generated_at"`
}

// PeriodQuery is an optional [from, to] date range in query parameters
type PeriodQuery struct {
	From string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To   string `form:"to" validate:"omitempty,datetime=2006-01-02"`
}

// ExportRequest selects the period to export
type ExportRequest struct {
	From string `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To   string `json:"to" validate:"omitempty,datetime=2006-01-02"`
}
