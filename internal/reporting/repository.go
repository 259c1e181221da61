package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/richxcame/giftcard-ledger/internal/giftcards"
	"github.com/richxcame/giftcard-ledger/pkg/database"
)

const (
	queryAttempts = 3
	queryBackoff  = 100 * time.Millisecond
)

// Repository runs the aggregate report queries against Postgres
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new reporting repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ListUserCards returns a page of the user's cards, newest first, and the total count
func (r *Repository) ListUserCards(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*giftcards.Card, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM gift_cards WHERE owner_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count user cards: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT code, (initial_balance * 100)::BIGINT, (current_balance * 100)::BIGINT,
		       expires_on, status, owner_id, created_at, updated_at
		FROM gift_cards
		WHERE owner_id = $1
		ORDER BY created_at DESC, code
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list user cards: %w", err)
	}
	defer rows.Close()

	cards := make([]*giftcards.Card, 0)
	for rows.Next() {
		var (
			card             giftcards.Card
			initial, current int64
			status           string
		)
		if err := rows.Scan(&card.Code, &initial, &current, &card.ExpiresOn, &status,
			&card.OwnerID, &card.CreatedAt, &card.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan card: %w", err)
		}
		card.InitialBalance = giftcards.Money(initial)
		card.CurrentBalance = giftcards.Money(current)
		card.Status = giftcards.CardStatus(status)
		cards = append(cards, &card)
	}
	return cards, total, rows.Err()
}

// StatusTotals groups card count and balance by status
func (r *Repository) StatusTotals(ctx context.Context) ([]StatusSummary, error) {
	var out []StatusSummary
	err := database.WithRetry(ctx, queryAttempts, queryBackoff, func(ctx context.Context) error {
		out = out[:0]
		rows, err := r.db.Query(ctx, `
			SELECT status, COUNT(*),
			       (COALESCE(SUM(initial_balance), 0) * 100)::BIGINT,
			       (COALESCE(SUM(current_balance), 0) * 100)::BIGINT
			FROM gift_cards
			GROUP BY status
			ORDER BY status
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				s               StatusSummary
				status          string
				issued, balance int64
			)
			if err := rows.Scan(&status, &s.Cards, &issued, &balance); err != nil {
				return err
			}
			s.Status = giftcards.CardStatus(status)
			s.Issued = giftcards.Money(issued)
			s.Balance = giftcards.Money(balance)
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to total cards by status: %w", err)
	}
	return out, nil
}

// UserTotals groups the user's log records by type within [from, to)
func (r *Repository) UserTotals(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]TypeTotal, error) {
	query := `
		SELECT type, COUNT(*), (COALESCE(SUM(amount), 0) * 100)::BIGINT
		FROM card_transactions
		WHERE user_id = $1
		  AND ($2::TIMESTAMPTZ IS NULL OR created_at >= $2)
		  AND ($3::TIMESTAMPTZ IS NULL OR created_at < $3)
		GROUP BY type
		ORDER BY type
	`

	var out []TypeTotal
	err := database.WithRetry(ctx, queryAttempts, queryBackoff, func(ctx context.Context) error {
		out = out[:0]
		rows, err := r.db.Query(ctx, query, userID, nullableTime(from), nullableTime(to))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				t      TypeTotal
				txType string
				cents  int64
			)
			if err := rows.Scan(&txType, &t.Count, &cents); err != nil {
				return err
			}
			t.Type = giftcards.TransactionType(txType)
			t.Amount = giftcards.Money(cents)
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to total user activity: %w", err)
	}
	return out, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
