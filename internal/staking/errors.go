package staking

import "errors"

// Validation errors. They are returned before any state changes.
var (
	ErrInvalidSlot          = errors.New("slot index out of range")
	ErrInvalidTier          = errors.New("invalid stake tier")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrAlreadyStaked        = errors.New("position already staked")
	ErrStakingEnded         = errors.New("staking program for this tier has ended")
	ErrNotStarted           = errors.New("staking program has not started")
	ErrNotStaked            = errors.New("position is not staked")
	ErrNoRewards            = errors.New("no rewards to claim")
	ErrClaimCeilingExceeded = errors.New("claim exceeds the maximum single claim")
	ErrUnauthorized         = errors.New("caller is not authorized")
	ErrAccountMismatch      = errors.New("token account is not bound to the expected owner")
	ErrMintMismatch         = errors.New("token account denom does not match")
	ErrNotMatured           = errors.New("stake has not matured")
	ErrClaimRequired        = errors.New("matured stake needs a claim before cancel")
	ErrAlreadyMatured       = errors.New("matured stake was already released by a previous claim")
	ErrClaimCooldown        = errors.New("claim cooldown has not elapsed")
	ErrPurchaseIncomplete   = errors.New("purchase flow has not completed")
	ErrInvalidUpline        = errors.New("invalid upline")
)

// Lookup errors.
var (
	ErrParticipantExists   = errors.New("participant already registered")
	ErrParticipantNotFound = errors.New("participant not registered")
	ErrOrderExists         = errors.New("order already exists")
	ErrOrderNotFound       = errors.New("order not found")
)

// Arithmetic and configuration errors.
var (
	ErrOverflow      = errors.New("arithmetic overflow")
	ErrUnderflow     = errors.New("arithmetic underflow")
	ErrInvalidConfig = errors.New("invalid ledger configuration")
)
