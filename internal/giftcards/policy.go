package giftcards

import (
	"time"

	"github.com/richxcame/giftcard-ledger/pkg/config"
)

// Policy holds the tunable rules of the ledger engine
type Policy struct {
	// FraudThreshold is the largest amount a single redemption may debit
	FraudThreshold Money
	// MaxCodeAttempts bounds collision retries when generating card codes
	MaxCodeAttempts int
	// MaxBulkCount bounds a single bulk issuance
	MaxBulkCount int

	// RequireOwnerForRecharge restricts recharges to the card owner
	RequireOwnerForRecharge bool
	// RequireCardForAssign reports a missing card on AssignOwner instead of succeeding silently
	RequireCardForAssign bool
	// RequireKnownUser checks the user directory before a card is given to a user
	RequireKnownUser bool
}

// DefaultLockTimeout bounds the wait for a card lock when none is configured
const DefaultLockTimeout = 3 * time.Second

// DefaultPolicy returns the documented ledger behavior
func DefaultPolicy() Policy {
	return Policy{
		FraudThreshold:  100000,
		MaxCodeAttempts: 10,
		MaxBulkCount:    10000,
	}
}

// withDefaults fills unset limits from DefaultPolicy. The Require flags are
// left as given.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.FraudThreshold <= 0 {
		p.FraudThreshold = def.FraudThreshold
	}
	if p.MaxCodeAttempts <= 0 {
		p.MaxCodeAttempts = def.MaxCodeAttempts
	}
	if p.MaxBulkCount <= 0 {
		p.MaxBulkCount = def.MaxBulkCount
	}
	return p
}

// PolicyFromConfig builds a policy from the ledger configuration, keeping
// defaults for unset values
func PolicyFromConfig(cfg config.LedgerConfig) Policy {
	p := DefaultPolicy()
	if cfg.FraudThreshold > 0 {
		p.FraudThreshold = MoneyFromFloat(cfg.FraudThreshold)
	}
	if cfg.MaxCodeAttempts > 0 {
		p.MaxCodeAttempts = cfg.MaxCodeAttempts
	}
	if cfg.MaxBulkCount > 0 {
		p.MaxBulkCount = cfg.MaxBulkCount
	}
	p.RequireOwnerForRecharge = cfg.RequireOwnerForRecharge
	p.RequireCardForAssign = cfg.RequireCardForAssign
	p.RequireKnownUser = cfg.RequireKnownUser
	return p
}

// LockTimeout returns the configured per-card lock wait, defaulting to
// DefaultLockTimeout
func LockTimeout(cfg config.LedgerConfig) time.Duration {
	if cfg.LockTimeout <= 0 {
		return DefaultLockTimeout
	}
	return cfg.LockTimeout
}
