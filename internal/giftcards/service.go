package giftcards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/richxcame/giftcard-ledger/internal/giftcards")

// Event subjects, relative to the bus prefix
const (
	SubjectIssued      = "card.issued"
	SubjectRedeemed    = "card.redeemed"
	SubjectRecharged   = "card.recharged"
	SubjectTransferred = "card.transferred"
	SubjectStatus      = "card.status_changed"
	SubjectOwner       = "card.owner_assigned"
	SubjectExpired     = "card.expired"
)

// Service is the ledger engine. It keeps no state of its own; every
// mutation runs inside one CardStore.UpdateExclusive call.
type Service struct {
	cards     CardStore
	users     UserDirectory
	events    EventPublisher
	generator CodeGenerator
	policy    Policy
	now       func() time.Time
}

// NewService creates a new ledger engine. users and events may be nil, and
// zero limits in policy take their DefaultPolicy values.
func NewService(cards CardStore, users UserDirectory, events EventPublisher, policy Policy) *Service {
	return &Service{
		cards:     cards,
		users:     users,
		events:    events,
		generator: NewCodeGenerator(),
		policy:    policy.withDefaults(),
		now:       time.Now,
	}
}

// WithClock replaces the time source
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithGenerator replaces the card code generator
func (s *Service) WithGenerator(g CodeGenerator) *Service {
	s.generator = g
	return s
}

// Policy returns the active policy
func (s *Service) Policy() Policy {
	return s.policy
}

func (s *Service) today() time.Time {
	return DateOf(s.now())
}

// ========================================
// ISSUANCE
// ========================================

// IssueSingle creates one active card
func (s *Service) IssueSingle(ctx context.Context, req IssueRequest) (card *Card, err error) {
	ctx, span := startSpan(ctx, "IssueSingle")
	defer func() { endSpan(span, err); recordOutcome("issue", nil, err) }()

	if err := s.validateIssue(ctx, req.InitialBalance, req.ExpiresOn, req.OwnerID); err != nil {
		return nil, err
	}

	attempts := 0
	for {
		code, err := s.uniqueCode(ctx, &attempts)
		if err != nil {
			return nil, err
		}

		card = s.newCard(code, req.InitialBalance, req.ExpiresOn, req.OwnerID, StatusActive)
		err = s.cards.CreateCards(ctx, []*Card{card})
		if err == nil {
			logger.WithContext(ctx).Info("Gift card issued",
				zap.String("card_code", card.Code),
				zap.String("balance", card.CurrentBalance.String()),
			)
			s.publish(ctx, SubjectIssued, s.event(SubjectIssued, card, nil, nil))
			return card, nil
		}
		if !isDuplicateCode(err) {
			return nil, fmt.Errorf("%w: failed to create card: %w", ErrInfrastructure, err)
		}
	}
}

// IssueBulk creates count inactive cards in one atomic batch
func (s *Service) IssueBulk(ctx context.Context, req BulkIssueRequest) (cards []*Card, err error) {
	ctx, span := startSpan(ctx, "IssueBulk", attribute.Int("count", req.Count))
	defer func() { endSpan(span, err); recordOutcome("issue_bulk", nil, err) }()

	if req.Count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive", ErrValidation)
	}
	if req.Count > s.policy.MaxBulkCount {
		return nil, fmt.Errorf("%w: count must not exceed %d", ErrValidation, s.policy.MaxBulkCount)
	}
	if err := s.validateIssue(ctx, req.InitialBalance, req.ExpiresOn, req.OwnerID); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.policy.MaxCodeAttempts; attempt++ {
		codes, err := s.batchCodes(req.Count)
		if err != nil {
			return nil, err
		}

		cards = make([]*Card, len(codes))
		for i, code := range codes {
			cards[i] = s.newCard(code, req.InitialBalance, req.ExpiresOn, req.OwnerID, StatusInactive)
		}

		err = s.cards.CreateCards(ctx, cards)
		if err == nil {
			logger.WithContext(ctx).Info("Gift cards issued in bulk",
				zap.Int("count", len(cards)),
				zap.String("balance", req.InitialBalance.String()),
			)
			return cards, nil
		}
		if !isDuplicateCode(err) {
			return nil, fmt.Errorf("%w: failed to create cards: %w", ErrInfrastructure, err)
		}
		logger.WithContext(ctx).Warn("Bulk issuance hit an existing code, regenerating batch",
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, ErrGenerationExhausted
}

func (s *Service) validateIssue(ctx context.Context, balance Money, expiresOn time.Time, ownerID *uuid.UUID) error {
	if balance <= 0 {
		return fmt.Errorf("%w: initial balance must be positive", ErrValidation)
	}
	if balance > MaxBalance {
		return fmt.Errorf("%w: initial balance must not exceed %s", ErrValidation, MaxBalance)
	}
	if !DateOf(expiresOn).After(s.today()) {
		return fmt.Errorf("%w: expiry must be after today", ErrValidation)
	}
	if ownerID != nil && s.policy.RequireKnownUser {
		known, err := s.userExists(ctx, *ownerID)
		if err != nil {
			return err
		}
		if !known {
			return fmt.Errorf("%w: owner %s", ErrNotFound, ownerID)
		}
	}
	return nil
}

func (s *Service) newCard(code string, balance Money, expiresOn time.Time, ownerID *uuid.UUID, status CardStatus) *Card {
	now := s.now().UTC()
	card := &Card{
		Code:           code,
		InitialBalance: balance,
		CurrentBalance: balance,
		ExpiresOn:      DateOf(expiresOn),
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ownerID != nil {
		owner := *ownerID
		card.OwnerID = &owner
	}
	return card
}

// ========================================
// BALANCE OPERATIONS
// ========================================

// Redeem debits amount from the card on behalf of its owner. The checks run
// in a fixed order against the locked row; the first one that fails decides
// the message.
func (s *Service) Redeem(ctx context.Context, code string, userID uuid.UUID, amount Money) (result *Result, err error) {
	code = NormalizeCode(code)
	ctx, span := startSpan(ctx, "Redeem", attribute.String("card_code", code))
	defer func() { endSpan(span, err); recordOutcome("redeem", result, err) }()

	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	var (
		rec         *Transaction
		flipped     bool
		snapshot    *Card
		currentTime = s.now().UTC()
	)
	result, err = s.mutate(ctx, code, func(ctx context.Context, tx LedgerTx, card *Card) (*Result, error) {
		if !card.OwnedBy(userID) {
			return fail(MsgNotOwned), nil
		}

		if card.ExpiredOn(currentTime) && card.Status != StatusExpired {
			card.Status = StatusExpired
			card.UpdatedAt = currentTime
			if err := tx.SaveCard(ctx, card); err != nil {
				return nil, err
			}
			flipped = true
			snapshot = card
			// the status write commits even though the redemption fails
			return &Result{Success: false, Message: MsgExpired, Card: card}, errCommitRejection
		}

		if card.Status != StatusActive {
			return fail(msgStatusPrefix + string(card.Status)), nil
		}
		if card.CurrentBalance < amount {
			return fail(MsgInsufficient), nil
		}
		if amount > s.policy.FraudThreshold {
			return fail(MsgLimitExceeded), nil
		}

		card.CurrentBalance -= amount
		card.UpdatedAt = currentTime
		if err := tx.SaveCard(ctx, card); err != nil {
			return nil, err
		}

		owner := userID
		rec = &Transaction{
			CardCode:  card.Code,
			UserID:    &owner,
			Type:      TxRedemption,
			Amount:    amount,
			Note:      "redemption",
			CreatedAt: currentTime,
		}
		if err := tx.Append(ctx, rec); err != nil {
			return nil, err
		}
		snapshot = card
		return &Result{Success: true, Message: MsgRedeemed, Card: card}, nil
	})
	if err != nil {
		return nil, err
	}

	if flipped {
		expiredTotal.Inc()
		s.publish(ctx, SubjectExpired, s.event(SubjectExpired, snapshot, nil, nil))
	}
	if result.Success {
		redeemedCents.Add(float64(amount))
		s.publish(ctx, SubjectRedeemed, s.event(SubjectRedeemed, snapshot, &userID, rec))
	}
	s.logResult(ctx, "redeem", code, result, zap.String("amount", amount.String()))
	return result, nil
}

// Recharge credits amount to an active card. Any caller may recharge unless
// the policy requires ownership.
func (s *Service) Recharge(ctx context.Context, code string, userID uuid.UUID, amount Money) (result *Result, err error) {
	code = NormalizeCode(code)
	ctx, span := startSpan(ctx, "Recharge", attribute.String("card_code", code))
	defer func() { endSpan(span, err); recordOutcome("recharge", result, err) }()

	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if amount > MaxBalance {
		return nil, fmt.Errorf("%w: amount must not exceed %s", ErrValidation, MaxBalance)
	}

	var (
		rec         *Transaction
		snapshot    *Card
		currentTime = s.now().UTC()
	)
	result, err = s.mutate(ctx, code, func(ctx context.Context, tx LedgerTx, card *Card) (*Result, error) {
		if s.policy.RequireOwnerForRecharge && !card.OwnedBy(userID) {
			return fail(MsgNotOwned), nil
		}
		if card.Status != StatusActive {
			return fail(msgStatusPrefix + string(card.Status)), nil
		}
		if card.CurrentBalance > MaxBalance-amount {
			return nil, fmt.Errorf("%w: balance would exceed %s", ErrValidation, MaxBalance)
		}

		card.CurrentBalance += amount
		card.UpdatedAt = currentTime
		if err := tx.SaveCard(ctx, card); err != nil {
			return nil, err
		}

		rec = &Transaction{
			CardCode:  card.Code,
			UserID:    optionalUser(userID),
			Type:      TxRecharge,
			Amount:    amount,
			Note:      "recharge",
			CreatedAt: currentTime,
		}
		if err := tx.Append(ctx, rec); err != nil {
			return nil, err
		}
		snapshot = card
		return &Result{Success: true, Message: MsgRecharged, Card: card}, nil
	})
	if err != nil {
		return nil, err
	}

	if result.Success {
		s.publish(ctx, SubjectRecharged, s.event(SubjectRecharged, snapshot, optionalUser(userID), rec))
	}
	s.logResult(ctx, "recharge", code, result, zap.String("amount", amount.String()))
	return result, nil
}

// Transfer moves ownership of an active card from one user to another and
// records a zero-amount transfer_out and transfer_in pair
func (s *Service) Transfer(ctx context.Context, code string, fromUserID, toUserID uuid.UUID) (result *Result, err error) {
	code = NormalizeCode(code)
	ctx, span := startSpan(ctx, "Transfer", attribute.String("card_code", code))
	defer func() { endSpan(span, err); recordOutcome("transfer", result, err) }()

	if toUserID == uuid.Nil {
		return nil, fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if fromUserID == toUserID {
		return nil, fmt.Errorf("%w: cannot transfer a card to its current owner", ErrValidation)
	}
	if s.policy.RequireKnownUser {
		known, err := s.userExists(ctx, toUserID)
		if err != nil {
			return nil, err
		}
		if !known {
			return fail(MsgUserNotFound), nil
		}
	}

	var (
		out, in     *Transaction
		snapshot    *Card
		currentTime = s.now().UTC()
	)
	result, err = s.mutate(ctx, code, func(ctx context.Context, tx LedgerTx, card *Card) (*Result, error) {
		if card.OwnerID == nil {
			return fail(MsgNotAssigned), nil
		}
		if !card.OwnedBy(fromUserID) {
			return fail(MsgNotOwned), nil
		}
		if card.Status != StatusActive {
			return fail(msgStatusPrefix + string(card.Status)), nil
		}

		from, to := fromUserID, toUserID
		card.OwnerID = &to
		card.UpdatedAt = currentTime
		if err := tx.SaveCard(ctx, card); err != nil {
			return nil, err
		}

		out = &Transaction{
			CardCode:  card.Code,
			UserID:    &from,
			Type:      TxTransferOut,
			Amount:    0,
			Note:      "transfer to " + to.String(),
			CreatedAt: currentTime,
		}
		in = &Transaction{
			CardCode:  card.Code,
			UserID:    &to,
			Type:      TxTransferIn,
			Amount:    0,
			Note:      "transfer from " + from.String(),
			CreatedAt: currentTime,
		}
		if err := tx.Append(ctx, out); err != nil {
			return nil, err
		}
		if err := tx.Append(ctx, in); err != nil {
			return nil, err
		}
		snapshot = card
		return &Result{Success: true, Message: MsgTransferred, Card: card}, nil
	})
	if err != nil {
		return nil, err
	}

	if result.Success {
		s.publish(ctx, SubjectTransferred, s.event(SubjectTransferred, snapshot, &toUserID, in))
	}
	s.logResult(ctx, "transfer", code, result,
		zap.String("from_user_id", fromUserID.String()),
		zap.String("to_user_id", toUserID.String()),
	)
	return result, nil
}

// ========================================
// ADMINISTRATION
// ========================================

// SetStatus overwrites the card status. Any status may follow any other.
func (s *Service) SetStatus(ctx context.Context, code string, status CardStatus) (result *Result, err error) {
	code = NormalizeCode(code)
	ctx, span := startSpan(ctx, "SetStatus",
		attribute.String("card_code", code),
		attribute.String("status", string(status)),
	)
	defer func() { endSpan(span, err); recordOutcome("set_status", result, err) }()

	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	var snapshot *Card
	currentTime := s.now().UTC()
	result, err = s.mutate(ctx, code, func(ctx context.Context, tx LedgerTx, card *Card) (*Result, error) {
		card.Status = status
		card.UpdatedAt = currentTime
		if err := tx.SaveCard(ctx, card); err != nil {
			return nil, err
		}
		snapshot = card
		return &Result{Success: true, Message: MsgStatusUpdated, Card: card}, nil
	})
	if err != nil {
		return nil, err
	}

	if result.Success {
		s.publish(ctx, SubjectStatus, s.event(SubjectStatus, snapshot, nil, nil))
	}
	s.logResult(ctx, "set_status", code, result, zap.String("status", string(status)))
	return result, nil
}

// AssignOwner overwrites the card owner. A nil userID detaches the card.
// Unless the policy says otherwise a missing card is not reported.
func (s *Service) AssignOwner(ctx context.Context, code string, userID *uuid.UUID) (result *Result, err error) {
	code = NormalizeCode(code)
	ctx, span := startSpan(ctx, "AssignOwner", attribute.String("card_code", code))
	defer func() { endSpan(span, err); recordOutcome("assign_owner", result, err) }()

	if userID != nil && s.policy.RequireKnownUser {
		known, err := s.userExists(ctx, *userID)
		if err != nil {
			return nil, err
		}
		if !known {
			return fail(MsgUserNotFound), nil
		}
	}

	touched, err := s.cards.AssignOwner(ctx, code, userID)
	if err != nil {
		return nil, s.storeError("assign owner", err)
	}
	if !touched && s.policy.RequireCardForAssign {
		return fail(MsgCardNotFound), nil
	}

	if touched {
		s.publish(ctx, SubjectOwner, LedgerEvent{
			Type:       SubjectOwner,
			CardCode:   code,
			UserID:     userID,
			OccurredAt: s.now().UTC(),
		})
	}
	logger.WithContext(ctx).Info("Card owner assigned",
		zap.String("card_code", code),
		zap.Bool("card_found", touched),
	)
	return &Result{Success: true, Message: MsgOwnerAssigned}, nil
}

// ExpireDue moves every active card past its expiry to expired and returns
// how many changed. Running it twice in a row changes nothing the second time.
func (s *Service) ExpireDue(ctx context.Context) (n int64, err error) {
	ctx, span := startSpan(ctx, "ExpireDue")
	defer func() {
		span.SetAttributes(attribute.Int64("expired", n))
		endSpan(span, err)
		recordOutcome("expire_due", nil, err)
	}()

	n, err = s.cards.ExpireDue(ctx, s.today())
	if err != nil {
		return 0, s.storeError("expire due cards", err)
	}

	expiredTotal.Add(float64(n))
	if n > 0 {
		logger.WithContext(ctx).Info("Expired due gift cards", zap.Int64("count", n))
	}
	return n, nil
}

// ========================================
// HELPERS
// ========================================

// errCommitRejection tells mutate to commit the writes made so far while
// still reporting the step's failure result
var errCommitRejection = errors.New("commit rejection")

type lockedStep func(ctx context.Context, tx LedgerTx, card *Card) (*Result, error)

// mutate runs step under the card lock. A failure result rolls back, a
// success result commits, and errCommitRejection commits a failure result.
func (s *Service) mutate(ctx context.Context, code string, step lockedStep) (*Result, error) {
	var result *Result
	err := s.cards.UpdateExclusive(ctx, code, func(ctx context.Context, tx LedgerTx, card *Card) error {
		r, err := step(ctx, tx, card)
		if errors.Is(err, errCommitRejection) {
			result = r
			return nil
		}
		if err != nil {
			return err
		}
		result = r
		if !r.Success {
			return errRejected
		}
		return nil
	})

	switch {
	case err == nil, errors.Is(err, errRejected):
		return result, nil
	case errors.Is(err, ErrNotFound):
		return fail(MsgCardNotFound), nil
	default:
		return nil, s.storeError("update card "+code, err)
	}
}

func (s *Service) storeError(action string, err error) error {
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrContention) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrInfrastructure) {
		return err
	}
	return fmt.Errorf("%w: failed to %s: %w", ErrInfrastructure, action, err)
}

func (s *Service) userExists(ctx context.Context, id uuid.UUID) (bool, error) {
	if s.users == nil {
		return true, nil
	}
	known, err := s.users.UserExists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: failed to look up user: %w", ErrInfrastructure, err)
	}
	return known, nil
}

func (s *Service) event(subject string, card *Card, userID *uuid.UUID, rec *Transaction) LedgerEvent {
	evt := LedgerEvent{
		Type:       subject,
		CardCode:   card.Code,
		UserID:     userID,
		Balance:    card.CurrentBalance,
		Status:     card.Status,
		OccurredAt: card.UpdatedAt,
	}
	if rec != nil {
		evt.Amount = rec.Amount
		evt.TransactionID = rec.ID
		evt.TxType = rec.Type
	}
	return evt
}

// publish runs after commit; a failed publish never undoes the mutation
func (s *Service) publish(ctx context.Context, subject string, evt LedgerEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, subject, evt); err != nil {
		logger.WithContext(ctx).Warn("Failed to publish ledger event",
			zap.String("subject", subject),
			zap.String("card_code", evt.CardCode),
			zap.Error(err),
		)
	}
}

func (s *Service) logResult(ctx context.Context, op, code string, result *Result, fields ...zap.Field) {
	fields = append(fields,
		zap.String("operation", op),
		zap.String("card_code", code),
		zap.Bool("success", result.Success),
		zap.String("message", result.Message),
	)
	if result.Success {
		logger.WithContext(ctx).Info("Ledger operation applied", fields...)
		return
	}
	logger.WithContext(ctx).Info("Ledger operation rejected", fields...)
}

func fail(message string) *Result {
	return &Result{Success: false, Message: message}
}

func optionalUser(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "giftcards."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
