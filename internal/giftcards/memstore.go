package giftcards

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// MemoryStore is an in-process Store. Each card has a weighted semaphore of
// size one acting as its row lock; waits are bounded by lockTimeout.
type MemoryStore struct {
	mu          sync.RWMutex
	cards       map[string]*Card
	locks       map[string]*semaphore.Weighted
	log         []*Transaction
	nextID      int64
	lockTimeout time.Duration
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &MemoryStore{
		cards:       make(map[string]*Card),
		locks:       make(map[string]*semaphore.Weighted),
		lockTimeout: lockTimeout,
	}
}

// GetCard returns a copy of the card
func (m *MemoryStore) GetCard(ctx context.Context, code string) (*Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	card, ok := m.cards[code]
	if !ok {
		return nil, ErrNotFound
	}
	return card.Clone(), nil
}

// CodeExists reports whether a card with code is stored
func (m *MemoryStore) CodeExists(ctx context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.cards[code]
	return ok, nil
}

// CreateCards stores all cards or none
func (m *MemoryStore) CreateCards(ctx context.Context, cards []*Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(cards))
	for _, c := range cards {
		if _, ok := m.cards[c.Code]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, c.Code)
		}
		if _, ok := seen[c.Code]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, c.Code)
		}
		seen[c.Code] = struct{}{}
	}

	for _, c := range cards {
		m.cards[c.Code] = c.Clone()
		m.locks[c.Code] = semaphore.NewWeighted(1)
	}
	return nil
}

// UpdateExclusive holds the card's semaphore while fn runs and applies the
// buffered writes only when fn succeeds
func (m *MemoryStore) UpdateExclusive(ctx context.Context, code string, fn MutateFunc) error {
	m.mu.RLock()
	lock, ok := m.locks[code]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()
	if err := lock.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", ErrContention, code)
	}
	defer lock.Release(1)

	card, err := m.GetCard(ctx, code)
	if err != nil {
		return err
	}

	tx := &memoryTx{code: code}
	if err := fn(ctx, tx, card); err != nil {
		return err
	}

	m.commit(tx)
	return nil
}

// commit applies a transaction's writes and draws sequence numbers under
// the store mutex, so IDs follow commit order
func (m *MemoryStore) commit(tx *memoryTx) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.card != nil {
		m.cards[tx.card.Code] = tx.card
	}
	for _, rec := range tx.records {
		m.nextID++
		rec.ID = m.nextID
		stored := *rec
		m.log = append(m.log, &stored)
	}
}

// AssignOwner overwrites the owner under the card lock
func (m *MemoryStore) AssignOwner(ctx context.Context, code string, userID *uuid.UUID) (bool, error) {
	err := m.UpdateExclusive(ctx, code, func(ctx context.Context, tx LedgerTx, card *Card) error {
		card.OwnerID = userID
		card.UpdatedAt = time.Now().UTC()
		return tx.SaveCard(ctx, card)
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ExpireDue expires active cards past their date. Each card is switched
// under its own lock; a card busy past the lock timeout is left for the
// next sweep.
func (m *MemoryStore) ExpireDue(ctx context.Context, today time.Time) (int64, error) {
	m.mu.RLock()
	due := make([]string, 0)
	for code, card := range m.cards {
		if card.Status == StatusActive && card.ExpiredOn(today) {
			due = append(due, code)
		}
	}
	m.mu.RUnlock()

	var changed int64
	for _, code := range due {
		err := m.UpdateExclusive(ctx, code, func(ctx context.Context, tx LedgerTx, card *Card) error {
			if card.Status != StatusActive || !card.ExpiredOn(today) {
				return errRejected
			}
			card.Status = StatusExpired
			card.UpdatedAt = time.Now().UTC()
			return tx.SaveCard(ctx, card)
		})
		switch {
		case err == nil:
			changed++
		case errors.Is(err, errRejected), errors.Is(err, ErrContention):
		default:
			return changed, err
		}
	}
	return changed, nil
}

// Scan returns log records matching filter in sequence order
func (m *MemoryStore) Scan(ctx context.Context, filter TransactionFilter) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Transaction, 0)
	skipped := 0
	for _, rec := range m.log {
		if !filter.matches(rec) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Cards returns copies of all stored cards ordered by code
func (m *MemoryStore) Cards() []*Card {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Card, 0, len(m.cards))
	for _, c := range m.cards {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (f TransactionFilter) matches(rec *Transaction) bool {
	if f.CardCode != "" && rec.CardCode != f.CardCode {
		return false
	}
	if f.UserID != nil && (rec.UserID == nil || *rec.UserID != *f.UserID) {
		return false
	}
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && rec.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !rec.CreatedAt.Before(f.To) {
		return false
	}
	return rec.ID > f.AfterID
}

// memoryTx buffers writes until the mutator returns
type memoryTx struct {
	code    string
	card    *Card
	records []*Transaction
}

func (t *memoryTx) SaveCard(ctx context.Context, card *Card) error {
	if card.Code != t.code {
		return fmt.Errorf("card %s is not locked by this transaction", card.Code)
	}
	t.card = card.Clone()
	return nil
}

func (t *memoryTx) Append(ctx context.Context, rec *Transaction) error {
	if rec.CardCode == "" {
		return errors.New("transaction record has no card code")
	}
	t.records = append(t.records, rec)
	return nil
}
