package mutualcredit

import "errors"

// Error kinds from §4.1. Every one of these is fatal to the containing
// MoveToken: the token channel that observes one must roll back the whole
// batch and enter Inconsistent (§4.2 step 4).
var (
	ErrCreditCalcOverflow  = errors.New("mutualcredit: credit calculation overflow")
	ErrInsufficientCredits = errors.New("mutualcredit: insufficient credits")
	ErrRequestAlreadyExists = errors.New("mutualcredit: request id already exists")
	ErrRequestDoesNotExist  = errors.New("mutualcredit: request id does not exist")
	ErrInvalidSignature     = errors.New("mutualcredit: invalid signature")
	ErrRequestsDisabled     = errors.New("mutualcredit: requests disabled")
	ErrInvalidRoute         = errors.New("mutualcredit: invalid route")
	ErrFeeTooLow            = errors.New("mutualcredit: left_fees insufficient for configured rate")
	ErrHashedLockMismatch   = errors.New("mutualcredit: response hashed lock does not match request")
)
