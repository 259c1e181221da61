package giftcards

import "errors"

var (
	// ErrValidation rejects bad input before any state changes
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned by stores when a card or user does not exist
	ErrNotFound = errors.New("not found")
	// ErrGenerationExhausted means every generated code collided
	ErrGenerationExhausted = errors.New("card code generation exhausted")
	// ErrContention means the card lock could not be acquired in time
	ErrContention = errors.New("card is locked by another operation")
	// ErrInfrastructure wraps storage failures. The operation left no partial state.
	ErrInfrastructure = errors.New("ledger infrastructure failure")
	// ErrDuplicateCode is reported by a store when an inserted code already exists
	ErrDuplicateCode = errors.New("card code already exists")

	// errRejected rolls back a locked mutation that failed a policy check
	errRejected = errors.New("rejected by policy")
)

// Messages reported in Result for policy violations
const (
	MsgCardNotFound  = "card not found"
	MsgNotOwned      = "card not owned by user"
	MsgNotAssigned   = "card not assigned"
	MsgExpired       = "card expired"
	MsgInsufficient  = "insufficient balance"
	MsgLimitExceeded = "amount exceeds allowed limit"
	MsgUserNotFound  = "user not found"
	MsgRedeemed      = "redemption successful"
	MsgRecharged     = "recharge successful"
	MsgTransferred   = "transfer successful"
	MsgStatusUpdated = "status updated"
	MsgOwnerAssigned = "owner assigned"
	msgStatusPrefix  = "card is "
)
