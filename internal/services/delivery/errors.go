package delivery

import (
	"errors"
)

// Protocol errors. Handlers map these to HTTP statuses and the
// machine-readable reason codes the client UI acts on; cryptographic
// failure details stay in the server log.
var (
	ErrNotFound         = errors.New("delivery not found")
	ErrQrExpired        = errors.New("qr expired")
	ErrAlreadyConfirmed = errors.New("qr already confirmed")
	ErrRejected         = errors.New("qr rejected")
	ErrRateLimited      = errors.New("otp rate limit exceeded")
	ErrSessionInvalid   = errors.New("validation session invalid")
	ErrSessionExpired   = errors.New("validation session expired")
	ErrOtpInvalid       = errors.New("otp code invalid")
	ErrConflict         = errors.New("concurrent state change")
	ErrValidation       = errors.New("invalid request")
)
