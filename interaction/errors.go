package interaction

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateNonce is returned when registering a nonce twice
	ErrDuplicateNonce = errors.New("interaction already exists")
	// ErrUnknownNonce is returned when the nonce was never registered
	ErrUnknownNonce = errors.New("unknown nonce")
	// ErrNotReady is returned when finalising before expiry
	ErrNotReady = errors.New("bridge not ready")
	// ErrEventNotFound is returned when no settlement event matches the nonce
	ErrEventNotFound = errors.New("event not found")
	// ErrDivideByZero is returned by the interpolation math on a zero divisor
	ErrDivideByZero = errors.New("divide by zero")
	// ErrZeroDuration is the registration time form of ErrDivideByZero
	ErrZeroDuration = fmt.Errorf("interaction has no duration: %w", ErrDivideByZero)
	// ErrUnsupportedAsset is returned when a bridge rejects the asset combination
	ErrUnsupportedAsset = errors.New("unsupported asset")
	// ErrAlreadyFinalised is returned when acting on a finalised interaction
	ErrAlreadyFinalised = errors.New("interaction already finalised")
	// ErrUnknownBridge is returned when no adapter is registered for an address
	ErrUnknownBridge = errors.New("unknown bridge")
	// ErrLedgerReverted wraps revert reasons without a typed counterpart
	ErrLedgerReverted = errors.New("ledger reverted")
)

// revert reasons emitted by the dispatcher
const (
	ReasonUnknownNonce             = "UNKNOWN_NONCE"
	ReasonBridgeNotReady           = "BRIDGE_NOT_READY"
	ReasonInteractionAlreadyExists = "INTERACTION_ALREADY_EXISTS"
	ReasonUnsupportedAsset         = "UNSUPPORTED_ASSET"
	ReasonInvalidExpiry            = "INVALID_EXPIRY"
)

var reasonErrors = map[string]error{
	ReasonUnknownNonce:             ErrUnknownNonce,
	ReasonBridgeNotReady:           ErrNotReady,
	ReasonInteractionAlreadyExists: ErrDuplicateNonce,
	ReasonUnsupportedAsset:         ErrUnsupportedAsset,
	ReasonInvalidExpiry:            ErrZeroDuration,
}

// TranslateLedgerError maps a dispatcher revert reason onto the error
// taxonomy. It is the only place where reason strings are inspected.
func TranslateLedgerError(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrLedgerReverted
	}
	for key, sentinel := range reasonErrors {
		if strings.Contains(reason, key) {
			return fmt.Errorf("%w (%s)", sentinel, reason)
		}
	}
	return fmt.Errorf("%w: %s", ErrLedgerReverted, reason)
}
