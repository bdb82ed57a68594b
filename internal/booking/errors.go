package booking

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateEnrollment = errors.New("already enrolled")
	ErrCapacityExceeded    = errors.New("class is full")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidClass        = errors.New("invalid class")

	ErrClassNotFound      = fmt.Errorf("class %w", ErrNotFound)
	ErrEnrollmentNotFound = fmt.Errorf("enrollment %w", ErrNotFound)
)
