package vault

import (
	"encoding/hex"
	"strconv"

	"tokenvault/core/events"
)

// Event types emitted by the vault engine.
const (
	EventTypeDeposit     = "vault.deposit"
	EventTypeWithdrawal  = "vault.withdrawal"
	EventTypePaused      = "vault.paused"
	EventTypeUnpaused    = "vault.unpaused"
	EventTypeFeedUpdated = "vault.feed_updated"
	EventTypeRoleGranted = "vault.role_granted"
	EventTypeRoleRevoked = "vault.role_revoked"
)

// NewReceiptEvent returns the canonical event payload for a committed deposit
// or withdrawal receipt.
func NewReceiptEvent(r *Receipt) events.Event {
	if r == nil {
		return events.Event{}
	}
	eventType := EventTypeDeposit
	if r.Kind == ReceiptKindWithdrawal {
		eventType = EventTypeWithdrawal
	}
	return events.Event{
		Type: eventType,
		Attributes: map[string]string{
			"id":        r.ID,
			"asset":     string(r.Asset),
			"account":   hex.EncodeToString(r.Account[:]),
			"amount":    cloneBigInt(r.Amount).String(),
			"value":     r.Value.String(),
			"timestamp": strconv.FormatInt(r.Timestamp, 10),
		},
	}
}

// NewPauseEvent returns the canonical event payload for a pause flag change.
func NewPauseEvent(caller [20]byte, paused bool) events.Event {
	eventType := EventTypeUnpaused
	if paused {
		eventType = EventTypePaused
	}
	return events.Event{
		Type: eventType,
		Attributes: map[string]string{
			"caller": hex.EncodeToString(caller[:]),
		},
	}
}

// NewFeedEvent returns the canonical event payload for a feed configuration
// change.
func NewFeedEvent(caller [20]byte, asset Asset, decimals uint8) events.Event {
	return events.Event{
		Type: EventTypeFeedUpdated,
		Attributes: map[string]string{
			"caller":   hex.EncodeToString(caller[:]),
			"asset":    string(asset),
			"decimals": strconv.Itoa(int(decimals)),
		},
	}
}

// NewRoleEvent returns the canonical event payload for a role grant or
// revocation.
func NewRoleEvent(granted bool, caller [20]byte, role string, addr [20]byte) events.Event {
	eventType := EventTypeRoleRevoked
	if granted {
		eventType = EventTypeRoleGranted
	}
	return events.Event{
		Type: eventType,
		Attributes: map[string]string{
			"caller":  hex.EncodeToString(caller[:]),
			"role":    role,
			"address": hex.EncodeToString(addr[:]),
		},
	}
}
