package validation

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"sadhana-metering/pkg/api"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// AuthRequestValidator validates login and registration requests
type AuthRequestValidator struct{}

func NewAuthRequestValidator() *AuthRequestValidator {
	return &AuthRequestValidator{}
}

// ValidateUsername accepts 3 to 50 letters, digits, underscores or hyphens.
func (v *AuthRequestValidator) ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if len(username) < 3 {
		return fmt.Errorf("username must be at least 3 characters long, got %d", len(username))
	}
	if len(username) > 50 {
		return fmt.Errorf("username must be at most 50 characters long, got %d", len(username))
	}
	if !usernamePattern.MatchString(username) {
		return errors.New("username can only contain letters, numbers, underscores, and hyphens")
	}
	return nil
}

func (v *AuthRequestValidator) ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n == 0:
		return errors.New("password cannot be empty")
	case n < 6:
		return fmt.Errorf("password must be at least 6 characters long, got %d", n)
	case len(password) > 72:
		// bcrypt ignores everything past 72 bytes
		return fmt.Errorf("password must be at most 72 bytes long, got %d", len(password))
	}
	return nil
}

// ValidateEmail checks the shape of an optional email address.
func (v *AuthRequestValidator) ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	if len(email) > 255 {
		return fmt.Errorf("email must be at most 255 characters long, got %d", len(email))
	}
	if !emailPattern.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}

func (v *AuthRequestValidator) ValidateLoginRequest(req api.LoginRequest) error {
	if req.Username == "" {
		return errors.New("username cannot be empty")
	}
	if req.Password == "" {
		return errors.New("password cannot be empty")
	}
	return nil
}

func (v *AuthRequestValidator) ValidateRegisterRequest(req api.RegisterRequest) error {
	if err := v.ValidateUsername(req.Username); err != nil {
		return err
	}
	if err := v.ValidateEmail(req.Email); err != nil {
		return err
	}
	return v.ValidatePassword(req.Password)
}
