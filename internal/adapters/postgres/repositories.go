package postgres

import (
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Accounts      ports.AccountRepository
	Sessions      ports.SessionRepository
	LoginAttempts ports.LoginAttemptRepository
	WatchTime     ports.WatchTimeRepository
	Orders        ports.PaymentOrderRepository
	Outbox        ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Accounts:      &accountRepository{db: db},
		Sessions:      &sessionRepository{db: db},
		LoginAttempts: &loginAttemptRepository{db: db},
		WatchTime:     &watchTimeRepository{db: db},
		Orders:        &paymentOrderRepository{db: db},
		Outbox:        &outboxRepository{db: db},
	}
}
