package completion

import "errors"

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMisconfigured    = errors.New("provider credential not configured")
	ErrMessagesRequired = errors.New("messages are required")
	ErrQuotaExceeded    = errors.New("free trial has expired")
)

// MisconfiguredError names the provider credential that is missing. Its message is the
// response body returned to the caller.
type MisconfiguredError struct {
	Credential string
}

func (e *MisconfiguredError) Error() string {
	return e.Credential + " not configured."
}

func (e *MisconfiguredError) Is(target error) bool {
	return target == ErrMisconfigured
}
