package giftcards

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionFilter_SQL(t *testing.T) {
	user := uuid.New()
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		filter    TransactionFilter
		wantWhere string
		wantArgs  int
	}{
		{"empty", TransactionFilter{}, "", 0},
		{"card only", TransactionFilter{CardCode: "ABCD-EFGH-JKLM-NPQR"}, " WHERE card_code = $1", 1},
		{
			"all fields",
			TransactionFilter{CardCode: "X", UserID: &user, Type: TxRecharge, From: from, To: from.AddDate(0, 1, 0), AfterID: 9},
			" WHERE card_code = $1 AND user_id = $2 AND type = $3 AND created_at >= $4 AND created_at < $5 AND id > $6",
			6,
		},
		{"limit is not part of where", TransactionFilter{Limit: 10, Offset: 5}, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := tt.filter.sql()
			assert.Equal(t, tt.wantWhere, where)
			assert.Len(t, args, tt.wantArgs)
		})
	}
}

func TestNumeric(t *testing.T) {
	n := numeric(12345)

	assert.True(t, n.Valid)
	assert.Equal(t, int32(-2), n.Exp)
	assert.Equal(t, 0, n.Int.Cmp(big.NewInt(12345)))
}

func TestPgUUID(t *testing.T) {
	assert.False(t, pgUUID(nil).Valid)

	id := uuid.New()
	got := pgUUID(&id)
	assert.True(t, got.Valid)
	assert.Equal(t, [16]byte(id), got.Bytes)
}

// fakeRow feeds fixed values, or an error, to Scan
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, v := range r.values {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

func cardRow(card *Card) fakeRow {
	return fakeRow{values: []any{
		card.Code, card.InitialBalance.Cents(), card.CurrentBalance.Cents(), card.ExpiresOn,
		string(card.Status), card.OwnerID, card.CreatedAt, card.UpdatedAt,
	}}
}

// fakeTx records every statement sent through the transaction. Methods the
// repository never calls are left to the embedded nil interface.
type fakeTx struct {
	pgx.Tx

	statements []string
	rows       map[string]fakeRow
	execErrs   map[string]error
	copyErr    error
	commitErr  error
	committed  bool
	rolledBack bool
}

func newFakeTx() *fakeTx {
	return &fakeTx{rows: map[string]fakeRow{}, execErrs: map[string]error{}}
}

func (t *fakeTx) match(sql string) string {
	t.statements = append(t.statements, sql)
	for _, key := range []string{"set_config", "pg_advisory_xact_lock", "FOR UPDATE", "UPDATE gift_cards", "INSERT INTO card_transactions"} {
		if strings.Contains(sql, key) {
			return key
		}
	}
	return sql
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := t.execErrs[t.match(sql)]; err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	row, ok := t.rows[t.match(sql)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return row
}

func (t *fakeTx) CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	t.statements = append(t.statements, "COPY "+table.Sanitize())
	return 0, t.copyErr
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func (t *fakeTx) ran(key string) bool {
	for _, sql := range t.statements {
		if strings.Contains(sql, key) {
			return true
		}
	}
	return false
}

// fakeConn hands out one transaction
type fakeConn struct {
	pgxConn
	tx *fakeTx
}

func (c *fakeConn) Begin(ctx context.Context) (pgx.Tx, error) {
	return c.tx, nil
}

func (c *fakeConn) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return c.tx, nil
}

func newFakeRepository(tx *fakeTx) *Repository {
	return &Repository{db: &fakeConn{tx: tx}, lockTimeout: 250 * time.Millisecond}
}

func lockedCard(owner uuid.UUID) *Card {
	return &Card{
		Code:           "ABCD-EFGH-JKLM-NPQR",
		InitialBalance: 5000,
		CurrentBalance: 5000,
		ExpiresOn:      DateOf(testNow.AddDate(0, 1, 0)),
		Status:         StatusActive,
		OwnerID:        &owner,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
}

func TestLockError(t *testing.T) {
	plain := errors.New("connection reset")
	tests := []struct {
		name           string
		err            error
		wantContention bool
	}{
		{"lock not available", &pgconn.PgError{Code: "55P03"}, true},
		{"wrapped lock not available", fmt.Errorf("select: %w", &pgconn.PgError{Code: "55P03"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", plain, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := lockError("ABCD", tt.err)
			assert.Equal(t, tt.wantContention, errors.Is(err, ErrContention))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRepository_UpdateExclusive(t *testing.T) {
	owner := uuid.New()
	lockTimeout := &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}

	tests := []struct {
		name          string
		row           *fakeRow
		fnErr         error
		commitErr     error
		wantErr       error
		wantCommitted bool
	}{
		{"commits when fn succeeds", nil, nil, nil, nil, true},
		{"rolls back when fn fails", nil, errRejected, nil, errRejected, false},
		{"lock timeout is contention", &fakeRow{err: lockTimeout}, nil, nil, ErrContention, false},
		{"missing card", &fakeRow{err: pgx.ErrNoRows}, nil, nil, ErrNotFound, false},
		{"commit failure surfaces", nil, nil, lockTimeout, ErrContention, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newFakeTx()
			tx.rows["FOR UPDATE"] = cardRow(lockedCard(owner))
			if tt.row != nil {
				tx.rows["FOR UPDATE"] = *tt.row
			}
			tx.commitErr = tt.commitErr
			repo := newFakeRepository(tx)

			var seen *Card
			err := repo.UpdateExclusive(context.Background(), "ABCD-EFGH-JKLM-NPQR", func(ctx context.Context, ltx LedgerTx, card *Card) error {
				seen = card
				return tt.fnErr
			})

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				require.NotNil(t, seen)
				assert.Equal(t, Money(5000), seen.CurrentBalance)
				assert.True(t, seen.OwnedBy(owner))
			}
			assert.Equal(t, tt.wantCommitted, tx.committed)
			assert.Equal(t, !tt.wantCommitted, tx.rolledBack)
			// lock_timeout is set before the row lock is requested
			require.NotEmpty(t, tx.statements)
			assert.Contains(t, tx.statements[0], "set_config('lock_timeout'")
		})
	}
}

func TestRepository_AppendTakesSequenceLockFirst(t *testing.T) {
	tx := newFakeTx()
	tx.rows["INSERT INTO card_transactions"] = fakeRow{values: []any{int64(42)}}
	ltx := &pgLedgerTx{tx: tx}

	rec := &Transaction{CardCode: "ABCD-EFGH-JKLM-NPQR", Type: TxRecharge, Amount: 100, CreatedAt: testNow}
	require.NoError(t, ltx.Append(context.Background(), rec))

	assert.Equal(t, int64(42), rec.ID)
	require.Len(t, tx.statements, 2)
	assert.Contains(t, tx.statements[0], "pg_advisory_xact_lock")
	assert.Contains(t, tx.statements[1], "INSERT INTO card_transactions")
}

func TestRepository_AppendStopsWhenSequenceLockFails(t *testing.T) {
	tx := newFakeTx()
	tx.execErrs["pg_advisory_xact_lock"] = errors.New("connection reset")
	ltx := &pgLedgerTx{tx: tx}

	err := ltx.Append(context.Background(), &Transaction{CardCode: "ABCD-EFGH-JKLM-NPQR", Type: TxRecharge, Amount: 100})

	require.Error(t, err)
	assert.False(t, tx.ran("INSERT INTO card_transactions"))
}

func TestRepository_CreateCards(t *testing.T) {
	tests := []struct {
		name          string
		copyErr       error
		wantDuplicate bool
		wantCommitted bool
	}{
		{"batch committed", nil, false, true},
		{"code collision rolls back", &pgconn.PgError{Code: "23505", ConstraintName: "gift_cards_pkey"}, true, false},
		{"other failure rolls back", errors.New("connection reset"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newFakeTx()
			tx.copyErr = tt.copyErr
			repo := newFakeRepository(tx)

			err := repo.CreateCards(context.Background(), []*Card{lockedCard(uuid.New())})

			assert.Equal(t, tt.wantDuplicate, errors.Is(err, ErrDuplicateCode))
			assert.Equal(t, tt.copyErr == nil, err == nil)
			assert.Equal(t, tt.wantCommitted, tx.committed)
			assert.Equal(t, !tt.wantCommitted, tx.rolledBack)
		})
	}
}

func TestRepository_ExpiryFlipCommitsThroughService(t *testing.T) {
	owner := uuid.New()
	card := lockedCard(owner)
	card.ExpiresOn = DateOf(testNow.AddDate(0, 0, -1))

	tx := newFakeTx()
	tx.rows["FOR UPDATE"] = cardRow(card)
	svc := NewService(newFakeRepository(tx), nil, nil, DefaultPolicy()).WithClock(func() time.Time { return testNow })

	result, err := svc.Redeem(context.Background(), card.Code, owner, 100)

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, MsgExpired, result.Message)
	assert.True(t, tx.committed)
	assert.True(t, tx.ran("UPDATE gift_cards"))
	assert.False(t, tx.ran("INSERT INTO card_transactions"))
}

func TestRepository_RejectedRedeemRollsBack(t *testing.T) {
	owner := uuid.New()
	tx := newFakeTx()
	tx.rows["FOR UPDATE"] = cardRow(lockedCard(owner))
	svc := NewService(newFakeRepository(tx), nil, nil, DefaultPolicy()).WithClock(func() time.Time { return testNow })

	result, err := svc.Redeem(context.Background(), "ABCD-EFGH-JKLM-NPQR", owner, 6000)

	require.NoError(t, err)
	assert.Equal(t, MsgInsufficient, result.Message)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.ran("UPDATE gift_cards"))
}
