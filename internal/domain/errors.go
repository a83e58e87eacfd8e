package domain

import "errors"

// Error taxonomy shared by the API and connector processes. Callers classify
// with errors.Is and wrap with fmt.Errorf("%w: ...").
var (
	// ErrValidation marks malformed input. No side effects occurred.
	ErrValidation = errors.New("validation error")
	// ErrPolicyViolation marks input rejected by tenant policy.
	ErrPolicyViolation = errors.New("policy violation")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a duplicate messageId.
	ErrConflict = errors.New("conflict")
	// ErrConfigNotFound marks missing tenant or provider configuration.
	ErrConfigNotFound = errors.New("config not found")
	// ErrConnectionFailed marks a DB/broker/provider connect or authenticate failure.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrUnresolvedDestination marks a destination no routing key can be derived from.
	ErrUnresolvedDestination = errors.New("unresolved destination")
)
