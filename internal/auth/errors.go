package auth

import (
	"errors"
	"fmt"

	"github.com/abduss/bucketsvc/internal/apperr"
)

var (
	// ErrUsernameAlreadyExists indicates the username is already registered.
	ErrUsernameAlreadyExists = fmt.Errorf("username already exists: %w", apperr.ErrAlreadyExists)
	// ErrEmailAlreadyExists indicates the email is already registered.
	ErrEmailAlreadyExists = fmt.Errorf("email already exists: %w", apperr.ErrAlreadyExists)
	// ErrInvalidCredentials is returned when authentication fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound signals that the user could not be located.
	ErrUserNotFound = fmt.Errorf("user not found: %w", apperr.ErrNotFound)
	// ErrUnauthorized represents missing or invalid authentication tokens.
	ErrUnauthorized = errors.New("unauthorized")
)
