// Package werr provides a small error-wrapping helper and the closed set of
// sentinel errors the wallet surfaces to callers.
package werr

import (
	"errors"
	"fmt"
)

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Sentinel errors surfaced by public wallet operations. Callers should test
// against these with errors.Is rather than matching error strings.
var (
	ErrNotInitialized       = errors.New("wallet: not initialized")
	ErrInsufficientFunds    = errors.New("wallet: insufficient funds")
	ErrTombstoned           = errors.New("wallet: token already spent")
	ErrProofTimeout         = errors.New("wallet: proof wait timed out")
	ErrFinalizationMismatch = errors.New("wallet: finalization predicate mismatch")
	ErrSubmissionRejected   = errors.New("wallet: commitment submission rejected")
	ErrRecipientUnresolved  = errors.New("wallet: could not resolve recipient")
	ErrDirectAddressMissing = errors.New("wallet: recipient has no direct address")
	ErrNametagNotFound      = errors.New("wallet: no matching nametag token")
	ErrInvalidToken         = errors.New("wallet: token failed validation")
	ErrPaymentRequestExpired = errors.New("wallet: payment request expired")
)
