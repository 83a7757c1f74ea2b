package unit

import (
	"errors"
	"strings"
	"testing"

	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
)

func TestValidatePassword(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		password string
		valid    bool
	}{
		{name: "minimum length", password: "abc123", valid: true},
		{name: "typical password", password: "secret123", valid: true},
		{name: "long passphrase", password: strings.Repeat("correct horse ", 8), valid: true},
		{name: "too short", password: "short", valid: false},
		{name: "empty", password: "", valid: false},
		{name: "over maximum length", password: strings.Repeat("x", 129), valid: false},
		{name: "exactly maximum length", password: strings.Repeat("x", 128), valid: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := domain.ValidatePassword(tc.password)
			if tc.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.valid {
				if err == nil {
					t.Fatal("expected rejection")
				}
				if !errors.Is(err, domain.ErrInvalidInput) {
					t.Fatalf("expected invalid input sentinel, got %v", err)
				}
			}
		})
	}
}
