package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Catalog errors
	ErrUnknownMode  = fmt.Errorf("unknown mode")
	ErrUnknownSound = fmt.Errorf("unknown sound")

	// Persistence errors
	ErrNotFound = fmt.Errorf("record not found")

	// Service errors
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrAlreadyRunning     = fmt.Errorf("already running")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
