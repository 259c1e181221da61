package reporting

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/giftcard-ledger/internal/giftcards"
)

// MemoryAggregates computes report figures by walking a MemoryStore
type MemoryAggregates struct {
	store *giftcards.MemoryStore
}

// NewMemoryAggregates wraps store
func NewMemoryAggregates(store *giftcards.MemoryStore) *MemoryAggregates {
	return &MemoryAggregates{store: store}
}

func (m *MemoryAggregates) ListUserCards(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*giftcards.Card, int64, error) {
	var owned []*giftcards.Card
	for _, card := range m.store.Cards() {
		if card.OwnedBy(userID) {
			owned = append(owned, card)
		}
	}
	sort.SliceStable(owned, func(i, j int) bool { return owned[i].CreatedAt.After(owned[j].CreatedAt) })

	total := int64(len(owned))
	if offset >= len(owned) {
		return []*giftcards.Card{}, total, nil
	}
	end := len(owned)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return owned[offset:end], total, nil
}

func (m *MemoryAggregates) StatusTotals(ctx context.Context) ([]StatusSummary, error) {
	byStatus := map[giftcards.CardStatus]*StatusSummary{}
	for _, card := range m.store.Cards() {
		s, ok := byStatus[card.Status]
		if !ok {
			s = &StatusSummary{Status: card.Status}
			byStatus[card.Status] = s
		}
		s.Cards++
		s.Issued += card.InitialBalance
		s.Balance += card.CurrentBalance
	}

	out := make([]StatusSummary, 0, len(byStatus))
	for _, s := range byStatus {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func (m *MemoryAggregates) UserTotals(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]TypeTotal, error) {
	records, err := m.store.Scan(ctx, giftcards.TransactionFilter{UserID: &userID, From: from, To: to})
	if err != nil {
		return nil, err
	}

	byType := map[giftcards.TransactionType]*TypeTotal{}
	for _, rec := range records {
		t, ok := byType[rec.Type]
		if !ok {
			t = &TypeTotal{Type: rec.Type}
			byType[rec.Type] = t
		}
		t.Count++
		t.Amount += rec.Amount
	}

	out := make([]TypeTotal, 0, len(byType))
	for _, t := range byType {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}
