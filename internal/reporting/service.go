package reporting

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/giftcard-ledger/internal/giftcards"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"github.com/richxcame/giftcard-ledger/pkg/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	scanBatch       = 500
	exportURLExpiry = 15 * time.Minute
)

// ErrExportUnavailable is returned when no object storage is configured
var ErrExportUnavailable = errors.New("transaction export storage not configured")

var exportHeader = []string{"id", "card_code", "user_id", "type", "amount", "note", "created_at"}

var tracer = otel.Tracer("github.com/richxcame/giftcard-ledger/internal/reporting")

// Service answers read-only questions about cards and the transaction log.
// It never takes card locks.
type Service struct {
	ledger       Ledger
	aggregates   Aggregates
	exports      storage.Storage
	exportPrefix string
	now          func() time.Time
}

// NewService creates a reporting service. exports may be nil, in which case
// ExportTransactions returns ErrExportUnavailable.
func NewService(ledger Ledger, aggregates Aggregates, exports storage.Storage, exportPrefix string) *Service {
	return &Service{
		ledger:       ledger,
		aggregates:   aggregates,
		exports:      exports,
		exportPrefix: exportPrefix,
		now:          time.Now,
	}
}

// WithClock overrides the clock
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetCard returns the card with code
func (s *Service) GetCard(ctx context.Context, code string) (*giftcards.Card, error) {
	return s.ledger.GetCard(ctx, giftcards.NormalizeCode(code))
}

// ListUserCards returns a page of the cards owned by userID
func (s *Service) ListUserCards(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*giftcards.Card, int64, error) {
	return s.aggregates.ListUserCards(ctx, userID, limit, offset)
}

// CardHistory returns a page of the card's log in sequence order and
// whether more records follow
func (s *Service) CardHistory(ctx context.Context, code string, limit, offset int) ([]*giftcards.Transaction, bool, error) {
	code = giftcards.NormalizeCode(code)
	if _, err := s.ledger.GetCard(ctx, code); err != nil {
		return nil, false, err
	}

	records, err := s.ledger.Scan(ctx, giftcards.TransactionFilter{CardCode: code, Limit: limit + 1, Offset: offset})
	if err != nil {
		return nil, false, err
	}
	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	return records, hasMore, nil
}

// Summary returns card counts and balances per status
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	ctx, span := tracer.Start(ctx, "reporting.Summary")
	defer span.End()

	statuses, err := s.aggregates.StatusTotals(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Statuses: statuses, GeneratedAt: s.now().UTC()}
	for _, st := range statuses {
		summary.TotalCards += st.Cards
		summary.IssuedValue += st.Issued
		if st.Status != giftcards.StatusExpired {
			summary.Outstanding += st.Balance
		}
	}
	if summary.Statuses == nil {
		summary.Statuses = []StatusSummary{}
	}
	return summary, nil
}

// UserActivity totals the user's log records per type over [from, to).
// Zero bounds are open.
func (s *Service) UserActivity(ctx context.Context, userID uuid.UUID, from, to time.Time) (*Activity, error) {
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", giftcards.ErrValidation)
	}

	totals, err := s.aggregates.UserTotals(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	activity := &Activity{UserID: userID, Totals: totals}
	if !from.IsZero() {
		activity.From = &from
	}
	if !to.IsZero() {
		activity.To = &to
	}
	if activity.Totals == nil {
		activity.Totals = []TypeTotal{}
	}
	for _, t := range totals {
		switch t.Type {
		case giftcards.TxRedemption:
			activity.Redeemed += t.Amount
		case giftcards.TxRecharge:
			activity.Recharged += t.Amount
		}
	}
	return activity, nil
}

// replayAttempts bounds how often ReplayBalance restarts when the card is
// written while its log is being read
const replayAttempts = 3

// ReplayBalance rebuilds the card's balance from its initial value and log
// and compares it with the stored balance. The card is read before and after
// the log scan; when it changed in between the replay starts over. If the
// card keeps changing the last comparison is returned with Settled unset.
func (s *Service) ReplayBalance(ctx context.Context, code string) (*Reconciliation, error) {
	ctx, span := tracer.Start(ctx, "reporting.ReplayBalance")
	defer span.End()

	code = giftcards.NormalizeCode(code)
	var rec *Reconciliation
	for attempt := 1; attempt <= replayAttempts; attempt++ {
		before, err := s.ledger.GetCard(ctx, code)
		if err != nil {
			return nil, err
		}
		rec, err = s.replay(ctx, before)
		if err != nil {
			return nil, err
		}
		after, err := s.ledger.GetCard(ctx, code)
		if err != nil {
			return nil, err
		}
		if sameVersion(before, after) {
			rec.Settled = true
			break
		}
		logger.WithContext(ctx).Debug("card changed during replay, retrying",
			zap.String("card_code", code),
			zap.Int("attempt", attempt),
		)
	}

	span.SetAttributes(
		attribute.String("card_code", code),
		attribute.Bool("consistent", rec.Consistent),
		attribute.Bool("settled", rec.Settled),
	)
	if rec.Settled && !rec.Consistent {
		logger.WithContext(ctx).Warn("card balance does not match its log",
			zap.String("card_code", code),
			zap.String("stored", rec.StoredBalance.String()),
			zap.String("replayed", rec.ReplayedBalance.String()),
		)
	}
	return rec, nil
}

func (s *Service) replay(ctx context.Context, card *giftcards.Card) (*Reconciliation, error) {
	rec := &Reconciliation{
		Code:            card.Code,
		InitialBalance:  card.InitialBalance,
		ReplayedBalance: card.InitialBalance,
		StoredBalance:   card.CurrentBalance,
	}
	err := s.scanAll(ctx, giftcards.TransactionFilter{CardCode: card.Code}, func(t *giftcards.Transaction) error {
		rec.Entries++
		switch t.Type {
		case giftcards.TxRedemption:
			rec.ReplayedBalance -= t.Amount
		case giftcards.TxRecharge:
			rec.ReplayedBalance += t.Amount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	rec.Difference = rec.StoredBalance - rec.ReplayedBalance
	rec.Consistent = rec.Difference == 0
	return rec, nil
}

func sameVersion(a, b *giftcards.Card) bool {
	return a.UpdatedAt.Equal(b.UpdatedAt) && a.CurrentBalance == b.CurrentBalance
}

// WriteTransactionsCSV streams the log records created in [from, to) to w
// and returns the number of data rows written
func (s *Service) WriteTransactionsCSV(ctx context.Context, w io.Writer, from, to time.Time) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, err
	}

	rows := 0
	err := s.scanAll(ctx, giftcards.TransactionFilter{From: from, To: to}, func(t *giftcards.Transaction) error {
		userID := ""
		if t.UserID != nil {
			userID = t.UserID.String()
		}
		rows++
		return cw.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.CardCode,
			userID,
			string(t.Type),
			t.Amount.String(),
			t.Note,
			t.CreatedAt.UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return rows, err
	}

	cw.Flush()
	return rows, cw.Error()
}

// ExportTransactions uploads a CSV of the log for [from, to) and returns a
// presigned link to it
func (s *Service) ExportTransactions(ctx context.Context, from, to time.Time) (*ExportResult, error) {
	if s.exports == nil {
		return nil, ErrExportUnavailable
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", giftcards.ErrValidation)
	}

	ctx, span := tracer.Start(ctx, "reporting.ExportTransactions")
	defer span.End()

	var buf bytes.Buffer
	rows, err := s.WriteTransactionsCSV(ctx, &buf, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to build export: %w", err)
	}

	generated := s.now().UTC()
	key := storage.GenerateExportKey(s.exportPrefix, from, to, generated)
	size := int64(buf.Len())

	if _, err := s.exports.Upload(ctx, key, &buf, size, storage.ContentTypeCSV); err != nil {
		return nil, err
	}

	result := &ExportResult{Key: key, Rows: rows, Size: size, GeneratedAt: generated}
	link, err := s.exports.GetPresignedDownloadURL(ctx, key, exportURLExpiry)
	if err != nil {
		logger.WithContext(ctx).Warn("failed to presign export", zap.String("key", key), zap.Error(err))
		result.URL = s.exports.GetURL(key)
	} else {
		result.URL = link.URL
		result.URLExpires = link.ExpiresAt
	}

	span.SetAttributes(attribute.Int("rows", rows), attribute.String("key", key))
	logger.WithContext(ctx).Info("transactions exported", zap.String("key", key), zap.Int("rows", rows))
	return result, nil
}

// scanAll walks every matching record in sequence order using keyset pages
func (s *Service) scanAll(ctx context.Context, filter giftcards.TransactionFilter, fn func(*giftcards.Transaction) error) error {
	filter.Limit = scanBatch
	filter.Offset = 0
	for {
		batch, err := s.ledger.Scan(ctx, filter)
		if err != nil {
			return err
		}
		for _, t := range batch {
			if err := fn(t); err != nil {
				return err
			}
			filter.AfterID = t.ID
		}
		if len(batch) < scanBatch {
			return nil
		}
	}
}
