package application

import (
	"time"

	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/ports"
)

type Service struct {
	cfg           Config
	accounts      ports.AccountRepository
	sessions      ports.SessionRepository
	loginAttempts ports.LoginAttemptRepository
	watchTime     ports.WatchTimeRepository
	orders        ports.PaymentOrderRepository
	rates         ports.RateLimitStore
	gateway       ports.PaymentGateway
	hasher        ports.PasswordHasher
	tokenSigner   ports.TokenSigner
	nowFn         func() time.Time
}

type Dependencies struct {
	Config        Config
	Accounts      ports.AccountRepository
	Sessions      ports.SessionRepository
	LoginAttempts ports.LoginAttemptRepository
	WatchTime     ports.WatchTimeRepository
	Orders        ports.PaymentOrderRepository
	Rates         ports.RateLimitStore
	Gateway       ports.PaymentGateway
	Hasher        ports.PasswordHasher
	TokenSigner   ports.TokenSigner
}

func NewService(deps Dependencies) *Service {
	return &Service{
		cfg:           deps.Config,
		accounts:      deps.Accounts,
		sessions:      deps.Sessions,
		loginAttempts: deps.LoginAttempts,
		watchTime:     deps.WatchTime,
		orders:        deps.Orders,
		rates:         deps.Rates,
		gateway:       deps.Gateway,
		hasher:        deps.Hasher,
		tokenSigner:   deps.TokenSigner,
		nowFn:         func() time.Time { return time.Now().UTC() },
	}
}
