package finance

import "errors"

// DomainError is a business-rule violation (duplicate category name, budget
// not found, invalid amount). Callers distinguish it from infrastructure
// failures with errors.As; the chat dispatcher maps it to a failed tool
// outcome instead of propagating it.
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError builds a DomainError with the given user-facing message.
func NewDomainError(message string) *DomainError {
	return &DomainError{Message: message}
}

// IsDomain reports whether err is (or wraps) a DomainError.
func IsDomain(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}
