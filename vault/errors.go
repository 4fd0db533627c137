package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized indicates the caller lacks the required role.
	ErrUnauthorized = errors.New("vault: caller unauthorized")
	// ErrPaused indicates the vault is not accepting state-changing calls.
	ErrPaused = errors.New("vault: operations paused")
	// ErrZeroAmount indicates a zero amount where a positive amount is required.
	ErrZeroAmount = errors.New("vault: amount must be positive")
	// ErrNativeMismatch indicates the attached native payment does not equal
	// the declared deposit amount.
	ErrNativeMismatch = errors.New("vault: attached payment does not match declared amount")
	// ErrTransferFailed indicates the external transfer capability reported
	// failure. The underlying cause is wrapped.
	ErrTransferFailed = errors.New("vault: external transfer failed")
	// ErrInvalidPrice indicates the price source returned a non-positive price.
	ErrInvalidPrice = errors.New("vault: price must be positive")
	// ErrUnexpectedPayment indicates native currency arrived outside a declared
	// deposit. Such payments are always rejected.
	ErrUnexpectedPayment = errors.New("vault: undeclared native payment rejected")
)

// CapExceededError reports a deposit that would breach the global exposure
// ceiling. Projected carries the aggregate exposure that would have resulted.
type CapExceededError struct {
	Ceiling   RefAmount
	Projected RefAmount
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("vault: exposure %s would exceed ceiling %s", e.Projected, e.Ceiling)
}

// InsufficientBalanceError reports a withdrawal exceeding the recorded balance.
type InsufficientBalanceError struct {
	Asset     Asset
	Requested string
	Available string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("vault: requested %s %s exceeds available %s", e.Requested, e.Asset, e.Available)
}

// WithdrawLimitError reports a withdrawal above the per-withdrawal ceiling.
type WithdrawLimitError struct {
	Requested RefAmount
	Ceiling   RefAmount
}

func (e *WithdrawLimitError) Error() string {
	return fmt.Sprintf("vault: withdrawal value %s exceeds per-withdrawal ceiling %s", e.Requested, e.Ceiling)
}

// FeedNotConfiguredError reports a missing price source for an asset.
type FeedNotConfiguredError struct {
	Asset Asset
}

func (e *FeedNotConfiguredError) Error() string {
	return fmt.Sprintf("vault: no price feed configured for %s", e.Asset)
}
