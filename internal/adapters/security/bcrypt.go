package security

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
)

// BcryptHasher hashes account passwords with bcrypt. Cost comes from
// config and is clamped to the algorithm's valid range so a bad value
// cannot silently weaken hashing or stall signups.
type BcryptHasher struct {
	cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	switch {
	case cost <= 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(hashed), nil
}

// Compare maps bcrypt's mismatch to the domain sentinel so login never
// has to inspect adapter error types.
func (h *BcryptHasher) Compare(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return domain.ErrInvalidCredentials
	}
	return nil
}
