package domain

import "fmt"

const (
	minPasswordLength = 6
	maxPasswordLength = 128
)

// ValidatePassword enforces the M04 password policy. The platform relies on
// OTP-gated registration rather than composition rules, so only length is
// checked here.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be <= %d characters", ErrInvalidInput, maxPasswordLength)
	}
	return nil
}
