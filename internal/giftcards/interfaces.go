package giftcards

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MutateFunc runs while the card row is exclusively locked. card is a private
// copy; changes are persisted only through tx. Returning nil commits every
// write made through tx, returning an error rolls them all back.
type MutateFunc func(ctx context.Context, tx LedgerTx, card *Card) error

// LedgerTx is the write handle available inside UpdateExclusive
type LedgerTx interface {
	// SaveCard persists status, balance, owner and updated_at
	SaveCard(ctx context.Context, card *Card) error
	// Append adds rec to the transaction log in the same atomic scope.
	// rec.ID holds the sequence number once UpdateExclusive has returned.
	Append(ctx context.Context, rec *Transaction) error
}

// CardStore owns card state
type CardStore interface {
	GetCard(ctx context.Context, code string) (*Card, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	// CreateCards inserts all cards or none. A code clash returns ErrDuplicateCode.
	CreateCards(ctx context.Context, cards []*Card) error
	// UpdateExclusive locks the card for the duration of fn. ErrNotFound if
	// the card does not exist, ErrContention if the lock wait times out.
	UpdateExclusive(ctx context.Context, code string, fn MutateFunc) error
	// AssignOwner overwrites the owner and reports whether a card was touched
	AssignOwner(ctx context.Context, code string, userID *uuid.UUID) (bool, error)
	// ExpireDue marks active cards whose expiry is before today as expired
	ExpireDue(ctx context.Context, today time.Time) (int64, error)
}

// TransactionLog is the read side of the append-only ledger
type TransactionLog interface {
	Scan(ctx context.Context, filter TransactionFilter) ([]*Transaction, error)
}

// Store is a CardStore that also exposes its transaction log
type Store interface {
	CardStore
	TransactionLog
}

// UserDirectory is the read-only view of known users
type UserDirectory interface {
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// EventPublisher receives ledger events after commit
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}
