package giftcards

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/richxcame/giftcard-ledger/pkg/database"
)

// ledgerSequenceLock is the advisory lock key serialising log appends, so
// sequence numbers are handed out in commit order
const ledgerSequenceLock int64 = 0x6c6564676572

const cardColumns = `code, (initial_balance * 100)::BIGINT, (current_balance * 100)::BIGINT,
		expires_on, status, owner_id, created_at, updated_at`

var copyColumns = []string{
	"code", "initial_balance", "current_balance", "expires_on",
	"status", "owner_id", "created_at", "updated_at",
}

// pgxConn is the part of *pgxpool.Pool the repository uses
type pgxConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the Postgres Store
type Repository struct {
	db          pgxConn
	lockTimeout time.Duration
}

// NewRepository creates a new gift card repository
func NewRepository(db *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{db: db, lockTimeout: lockTimeout}
}

// GetCard retrieves a card by code
func (r *Repository) GetCard(ctx context.Context, code string) (*Card, error) {
	query := `SELECT ` + cardColumns + ` FROM gift_cards WHERE code = $1`

	card, err := scanCard(r.db.QueryRow(ctx, query, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	return card, nil
}

// CodeExists checks whether a card code is taken
func (r *Repository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM gift_cards WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check card code: %w", err)
	}
	return exists, nil
}

// CreateCards copies the batch into gift_cards inside one transaction
func (r *Repository) CreateCards(ctx context.Context, cards []*Card) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, len(cards))
	for i, c := range cards {
		rows[i] = []any{
			c.Code,
			numeric(c.InitialBalance),
			numeric(c.CurrentBalance),
			pgtype.Date{Time: DateOf(c.ExpiresOn), Valid: true},
			string(c.Status),
			pgUUID(c.OwnerID),
			c.CreatedAt,
			c.UpdatedAt,
		}
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"gift_cards"}, copyColumns, pgx.CopyFromRows(rows)); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %w", ErrDuplicateCode, err)
		}
		return fmt.Errorf("failed to copy cards: %w", err)
	}

	return tx.Commit(ctx)
}

// UpdateExclusive locks the card row with SELECT ... FOR UPDATE under a
// transaction-local lock_timeout and commits only when fn returns nil
func (r *Repository) UpdateExclusive(ctx context.Context, code string, fn MutateFunc) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := r.setLockTimeout(ctx, tx); err != nil {
		return err
	}

	query := `SELECT ` + cardColumns + ` FROM gift_cards WHERE code = $1 FOR UPDATE`
	card, err := scanCard(tx.QueryRow(ctx, query, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return lockError(code, err)
	}

	if err := fn(ctx, &pgLedgerTx{tx: tx}, card); err != nil {
		return lockError(code, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return lockError(code, err)
	}
	return nil
}

// AssignOwner overwrites owner_id; the UPDATE takes the row lock itself
func (r *Repository) AssignOwner(ctx context.Context, code string, userID *uuid.UUID) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if err := r.setLockTimeout(ctx, tx); err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE gift_cards SET owner_id = $2, updated_at = NOW() WHERE code = $1`,
		code, pgUUID(userID),
	)
	if err != nil {
		return false, lockError(code, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ExpireDue flips active cards whose expiry is before today
func (r *Repository) ExpireDue(ctx context.Context, today time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE gift_cards
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND expires_on < $1
	`, pgtype.Date{Time: DateOf(today), Valid: true})
	if err != nil {
		if database.IsLockNotAvailable(err) {
			return 0, fmt.Errorf("%w: expiry sweep", ErrContention)
		}
		return 0, fmt.Errorf("failed to expire cards: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Scan reads the transaction log in sequence order
func (r *Repository) Scan(ctx context.Context, filter TransactionFilter) ([]*Transaction, error) {
	where, args := filter.sql()
	query := `
		SELECT id, card_code, user_id, type, (amount * 100)::BIGINT, note, created_at
		FROM card_transactions` + where + `
		ORDER BY id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transactions: %w", err)
	}
	defer rows.Close()

	records := make([]*Transaction, 0)
	for rows.Next() {
		rec := &Transaction{}
		var (
			txType string
			cents  int64
		)
		if err := rows.Scan(&rec.ID, &rec.CardCode, &rec.UserID, &txType, &cents, &rec.Note, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		rec.Type = TransactionType(txType)
		rec.Amount = Money(cents)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// sql renders the filter as a WHERE clause with positional arguments
func (f TransactionFilter) sql() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.CardCode != "" {
		add("card_code = $%d", f.CardCode)
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}
	if f.AfterID > 0 {
		add("id > $%d", f.AfterID)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *Repository) setLockTimeout(ctx context.Context, tx pgx.Tx) error {
	timeout := fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}
	return nil
}

// pgLedgerTx writes through the transaction holding the row lock
type pgLedgerTx struct {
	tx pgx.Tx
}

func (t *pgLedgerTx) SaveCard(ctx context.Context, card *Card) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE gift_cards
		SET current_balance = $2::NUMERIC / 100, status = $3, owner_id = $4, updated_at = $5
		WHERE code = $1
	`, card.Code, card.CurrentBalance.Cents(), string(card.Status), pgUUID(card.OwnerID), card.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save card: %w", err)
	}
	return nil
}

func (t *pgLedgerTx) Append(ctx context.Context, rec *Transaction) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerSequenceLock); err != nil {
		return fmt.Errorf("failed to lock ledger sequence: %w", err)
	}

	err := t.tx.QueryRow(ctx, `
		INSERT INTO card_transactions (card_code, user_id, type, amount, note, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC / 100, $5, $6)
		RETURNING id
	`, rec.CardCode, pgUUID(rec.UserID), string(rec.Type), rec.Amount.Cents(), rec.Note, rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func scanCard(row pgx.Row) (*Card, error) {
	var (
		card             Card
		initial, current int64
		status           string
	)
	err := row.Scan(
		&card.Code, &initial, &current, &card.ExpiresOn,
		&status, &card.OwnerID, &card.CreatedAt, &card.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	card.InitialBalance = Money(initial)
	card.CurrentBalance = Money(current)
	card.Status = CardStatus(status)
	return &card, nil
}

// lockError maps a lock_not_available failure to ErrContention
func lockError(code string, err error) error {
	if database.IsLockNotAvailable(err) {
		return fmt.Errorf("%w: %s: %w", ErrContention, code, err)
	}
	return err
}

func numeric(m Money) pgtype.Numeric {
	return pgtype.Numeric{Int: big.NewInt(m.Cents()), Exp: -2, Valid: true}
}

func pgUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}
