package domain

import "errors"

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidLoanAmount = errors.New("invalid loan amount")
	ErrInvalidLeverage   = errors.New("invalid leverage")
	ErrNegativeResult    = errors.New("negative result")
	ErrArithmetic        = errors.New("arithmetic error")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAssetMismatch     = errors.New("asset mismatch")
	ErrSwapFailed        = errors.New("swap failed")
	ErrUnknownAction     = errors.New("unknown action")
	ErrNotFound          = errors.New("not found")
	ErrLockHeld          = errors.New("lock already held")
	ErrZeroAddress       = errors.New("zero address")
)
