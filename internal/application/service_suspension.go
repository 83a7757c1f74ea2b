package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/ports"
)

// SuspensionStatus reports the caller's current engagement gating state.
func (s *Service) SuspensionStatus(ctx context.Context, actor Actor) (SuspensionStatus, error) {
	account, err := s.accounts.GetByID(ctx, actor.AccountID)
	if err != nil {
		return SuspensionStatus{}, err
	}

	status := SuspensionStatus{
		AccountStatus:         account.Status,
		State:                 domain.EngagementStateFor(account, s.cfg.SuspensionThreshold),
		ConsecutiveFailedDays: account.ConsecutiveFailedDays,
		EligibleForSuspension: account.EligibleForSuspension,
		SuspendedAt:           account.SuspendedAt,
		SuspensionReason:      account.SuspensionReason,
		ReactivationFeePaid:   account.ReactivationFeePaid,
	}
	if account.Suspended() && !account.ReactivationFeePaid {
		status.ReactivationFeeCents = s.cfg.ReactivationFeeCents
	}
	return status, nil
}

// EvaluateEngagementDay applies one completed calendar day's watch-time
// outcome to one account. The row lock plus the per-account watermark make
// the evaluation idempotent per (account, day) and safe against a
// concurrent run for the same account.
func (s *Service) EvaluateEngagementDay(ctx context.Context, accountID uuid.UUID, day time.Time) (EvaluationResult, error) {
	day = domain.DayOf(day)
	result := EvaluationResult{AccountID: accountID, Day: day}

	// A missing record means no watch time was ingested: the target was
	// not met that day. When the ingester did not stamp the met flag the
	// raw seconds are compared against the configured daily target.
	record, err := s.watchTime.GetDay(ctx, accountID, day)
	if err != nil {
		return result, err
	}
	metTarget := record != nil &&
		(record.MetTarget || (s.cfg.DailyTargetSeconds > 0 && record.TotalSeconds >= s.cfg.DailyTargetSeconds))

	account, err := s.accounts.UpdateTx(ctx, accountID, func(acc domain.Account) (domain.Account, []ports.OutboxEvent, error) {
		if !acc.EligibleForSuspension || acc.Suspended() || domain.AlreadyEvaluated(acc, day) {
			return acc, nil, nil
		}

		now := s.nowFn()
		acc.ConsecutiveFailedDays = domain.NextStreak(acc.ConsecutiveFailedDays, metTarget)
		acc.LastEvaluatedDay = timePtr(day)
		acc.UpdatedAt = now
		result.Applied = true

		var events []ports.OutboxEvent
		if domain.ShouldSuspend(acc.ConsecutiveFailedDays, s.cfg.SuspensionThreshold) {
			acc.Status = domain.AccountStatusSuspended
			acc.SuspendedAt = timePtr(now)
			acc.SuspensionReason = strPtr(domain.SuspensionReasonMissedTarget)
			acc.ReactivationFeePaid = false
			events = append(events, s.buildEvent(eventTypeAccountSuspended, acc.AccountID.String(), map[string]any{
				"account_id":   acc.AccountID,
				"suspended_at": now,
				"streak":       acc.ConsecutiveFailedDays,
				"fee_cents":    s.cfg.ReactivationFeeCents,
			}))
		}
		return acc, events, nil
	})
	if err != nil {
		return result, err
	}

	result.MetTarget = metTarget
	result.Streak = account.ConsecutiveFailedDays
	result.State = domain.EngagementStateFor(account, s.cfg.SuspensionThreshold)
	result.Suspended = account.Suspended()
	return result, nil
}

// EvaluateEngagementThrough evaluates every completed day the account has
// not been evaluated for yet, up to and including the given day. The
// per-account watermark names the last processed day, so a sweep outage
// spanning one or more day boundaries heals on the next run instead of
// silently skipping the missed days. Accounts without a watermark start at
// the given day. The walk stops once the account gets suspended.
func (s *Service) EvaluateEngagementThrough(ctx context.Context, accountID uuid.UUID, day time.Time) ([]EvaluationResult, error) {
	day = domain.DayOf(day)

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	start := day
	if account.LastEvaluatedDay != nil {
		if next := domain.DayOf(account.LastEvaluatedDay.AddDate(0, 0, 1)); next.Before(start) {
			start = next
		}
	}

	var results []EvaluationResult
	for d := start; !d.After(day); d = d.AddDate(0, 0, 1) {
		res, err := s.EvaluateEngagementDay(ctx, accountID, d)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if res.Suspended {
			break
		}
	}
	return results, nil
}

// RunDailySweep evaluates every eligible account through the given day,
// catching up any days missed since each account's watermark. Accounts are
// independent; callers may shard pages across workers, and per-account
// serialization still holds through the row lock.
func (s *Service) RunDailySweep(ctx context.Context, day time.Time) (SweepStats, error) {
	day = domain.DayOf(day)
	stats := SweepStats{}

	batch := s.cfg.SweepBatchSize
	if batch <= 0 {
		batch = 200
	}

	// Collect the full eligible set before evaluating. Evaluation shrinks
	// the set as accounts get suspended, so paging and mutating in the
	// same loop would skip accounts behind the moving offset.
	var ids []uuid.UUID
	for offset := 0; ; offset += batch {
		page, err := s.accounts.ListEligibleForEvaluation(ctx, batch, offset)
		if err != nil {
			return stats, err
		}
		ids = append(ids, page...)
		if len(page) < batch {
			break
		}
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		results, err := s.EvaluateEngagementThrough(ctx, id, day)
		if err != nil {
			stats.Failed++
			slog.Default().ErrorContext(ctx, "engagement evaluation failed",
				"service", "M04-Account-Gating-Service",
				"module", "application",
				"layer", "application",
				"operation", "daily_sweep",
				"outcome", "failure",
				"account_id", id,
				"day", day.Format("2006-01-02"),
				"error", err,
			)
			continue
		}
		applied := false
		suspended := false
		for _, res := range results {
			applied = applied || res.Applied
			suspended = res.Suspended
		}
		if !applied {
			stats.Skipped++
			continue
		}
		stats.Evaluated++
		if suspended {
			stats.Suspended++
		}
	}

	slog.Default().InfoContext(ctx, "daily sweep completed",
		"service", "M04-Account-Gating-Service",
		"module", "application",
		"layer", "application",
		"operation", "daily_sweep",
		"outcome", "success",
		"day", day.Format("2006-01-02"),
		"evaluated", stats.Evaluated,
		"skipped", stats.Skipped,
		"suspended", stats.Suspended,
		"failed", stats.Failed,
	)
	return stats, nil
}
