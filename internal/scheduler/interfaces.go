package scheduler

import "context"

// Sweeper expires active cards whose validity date has passed.
// giftcards.Service satisfies it.
type Sweeper interface {
	// ExpireDue marks due cards expired and returns how many changed.
	ExpireDue(ctx context.Context) (int64, error)
}
