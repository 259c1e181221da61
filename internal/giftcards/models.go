package giftcards

import (
	"time"

	"github.com/google/uuid"
)

// CardStatus is the lifecycle tag of a gift card
type CardStatus string

const (
	StatusActive   CardStatus = "active"   // Usable for redemption and recharge
	StatusInactive CardStatus = "inactive" // Bulk issued, waiting for activation
	StatusBlocked  CardStatus = "blocked"  // Administratively frozen
	StatusExpired  CardStatus = "expired"  // Past its validity date
)

// Valid reports whether s is one of the known statuses
func (s CardStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusBlocked, StatusExpired:
		return true
	}
	return false
}

// TransactionType identifies the kind of ledger event
type TransactionType string

const (
	TxRedemption  TransactionType = "redemption"
	TxRecharge    TransactionType = "recharge"
	TxTransferOut TransactionType = "transfer_out"
	TxTransferIn  TransactionType = "transfer_in"
)

// Card is a unit of stored value identified by a short unique code
type Card struct {
	Code           string     `json:"code" db:"code"`
	InitialBalance Money      `json:"initial_balance" db:"initial_balance"`
	CurrentBalance Money      `json:"current_balance" db:"current_balance"`
	ExpiresOn      time.Time  `json:"expires_on" db:"expires_on"`
	Status         CardStatus `json:"status" db:"status"`
	OwnerID        *uuid.UUID `json:"owner_id,omitempty" db:"owner_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// ExpiredOn reports whether the card's validity date lies before today
func (c *Card) ExpiredOn(today time.Time) bool {
	return DateOf(c.ExpiresOn).Before(DateOf(today))
}

// OwnedBy reports whether userID is the card's current owner
func (c *Card) OwnedBy(userID uuid.UUID) bool {
	return c.OwnerID != nil && *c.OwnerID == userID
}

// Clone returns a deep copy of the card
func (c *Card) Clone() *Card {
	cp := *c
	if c.OwnerID != nil {
		owner := *c.OwnerID
		cp.OwnerID = &owner
	}
	return &cp
}

// Transaction is an immutable ledger record
type Transaction struct {
	ID        int64           `json:"id" db:"id"`
	CardCode  string          `json:"card_code" db:"card_code"`
	UserID    *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Type      TransactionType `json:"type" db:"type"`
	Amount    Money           `json:"amount" db:"amount"`
	Note      string          `json:"note" db:"note"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// TransactionFilter narrows a scan of the transaction log. Zero values are
// ignored.
type TransactionFilter struct {
	CardCode string
	UserID   *uuid.UUID
	Type     TransactionType
	From     time.Time
	To       time.Time
	AfterID  int64
	Limit    int
	Offset   int
}

// Result is the outcome of a ledger operation. Policy violations come back
// with Success false and a human readable Message rather than as errors.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Card    *Card  `json:"card,omitempty"`
}

// IssueRequest describes a single card issuance
type IssueRequest struct {
	InitialBalance Money
	ExpiresOn      time.Time
	OwnerID        *uuid.UUID
}

// BulkIssueRequest describes a batch issuance
type BulkIssueRequest struct {
	Count          int
	InitialBalance Money
	ExpiresOn      time.Time
	OwnerID        *uuid.UUID
}

// LedgerEvent is published after a mutation commits
type LedgerEvent struct {
	Type          string          `json:"type"`
	CardCode      string          `json:"card_code"`
	UserID        *uuid.UUID      `json:"user_id,omitempty"`
	Amount        Money           `json:"amount"`
	Balance       Money           `json:"balance"`
	Status        CardStatus      `json:"status"`
	TransactionID int64           `json:"transaction_id,omitempty"`
	TxType        TransactionType `json:"transaction_type,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// ========================================
// HTTP REQUEST TYPES
// ========================================

// IssueCardRequest is the body of POST /cards
type IssueCardRequest struct {
	InitialBalance float64    `json:"initial_balance" validate:"required,money"`
	ExpiresOn      string     `json:"expires_on" validate:"required,future"`
	OwnerID        *uuid.UUID `json:"owner_id"`
}

// BulkIssueCardsRequest is the body of POST /cards/bulk
type BulkIssueCardsRequest struct {
	Count          int        `json:"count" validate:"required,min=1"`
	InitialBalance float64    `json:"initial_balance" validate:"required,money"`
	ExpiresOn      string     `json:"expires_on" validate:"required,future"`
	OwnerID        *uuid.UUID `json:"owner_id"`
}

// AmountRequest is the body of redeem and recharge calls
type AmountRequest struct {
	Amount float64 `json:"amount" validate:"required,money"`
}

// TransferRequest is the body of POST /cards/:code/transfer
type TransferRequest struct {
	ToUserID uuid.UUID `json:"to_user_id" validate:"required"`
}

// SetStatusRequest is the body of PUT /cards/:code/status
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,card_status"`
}

// AssignOwnerRequest is the body of PUT /cards/:code/owner. A null user
// detaches the card from its owner.
type AssignOwnerRequest struct {
	UserID *uuid.UUID `json:"user_id"`
}

// DateOf truncates t to its UTC calendar date
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
