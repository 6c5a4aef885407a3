package service

import "errors"

// Failure classes shared by every service. Callers branch with errors.Is and
// wrap with fmt.Errorf("%w: ...") to add detail.
var (
	ErrValidation         = errors.New("validation")          // 400
	ErrAuthorization      = errors.New("forbidden")           // 403
	ErrNotFound           = errors.New("not found")           // 404
	ErrInvalidState       = errors.New("invalid state")       // 409
	ErrInsufficientFunds  = errors.New("insufficient funds")  // 402
	ErrExternalService    = errors.New("external service")    // 502
	ErrStorageUnavailable = errors.New("storage unavailable") // 503
)
