// File: /services/errors.go
package services

// ValidationError is a request the domain rejects; the API answers 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(message string) error {
	return &ValidationError{Message: message}
}
