package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
	"gorm.io/gorm"
)

type watchTimeRepository struct {
	db *gorm.DB
}

// GetDay returns nil without error when no aggregate exists for the day.
// The caller treats a missing row as a missed target.
func (r *watchTimeRepository) GetDay(ctx context.Context, accountID uuid.UUID, day time.Time) (*domain.WatchTimeRecord, error) {
	var rec watchTimeModel
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where("day = ?", day).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	record := toDomainWatchTime(rec)
	return &record, nil
}
