package card

import "errors"

// Errors shared by the prize engine, the card stores and the API boundary.
var (
	ErrConfiguration               = errors.New("invalid game configuration")
	ErrUnintendedMatch             = errors.New("grid shows an unintended winning line")
	ErrCardNotFound                = errors.New("card not found")
	ErrAlreadyRevealed             = errors.New("card already revealed")
	ErrAlreadyClaimed              = errors.New("prize already claimed")
	ErrNotRevealed                 = errors.New("card not revealed")
	ErrNotWinner                   = errors.New("card is not a winner")
	ErrDuplicateTokenID            = errors.New("card already exists for token")
	ErrProvisioningInconsistency   = errors.New("card conflict without a stored card")
	ErrInconsistentGrid            = errors.New("stored grid does not encode stored outcome")
	ErrSignerUnavailable           = errors.New("claim signer not configured")
	ErrSignatureVerificationFailed = errors.New("claim signature failed verification")
)

// IsNoOp reports whether err means the requested transition already happened,
// so a client retry is harmless.
func IsNoOp(err error) bool {
	return errors.Is(err, ErrAlreadyRevealed) || errors.Is(err, ErrAlreadyClaimed)
}
