package domain

import "time"

// EngagementState is the derived suspension-machine state. Only
// AccountStatus is persisted; Warned/AtRisk are a pure function of the
// failure streak so the two can never disagree.
type EngagementState string

const (
	EngagementStateActive    EngagementState = "active"
	EngagementStateWarned    EngagementState = "warned"
	EngagementStateAtRisk    EngagementState = "at_risk"
	EngagementStateSuspended EngagementState = "suspended"
	// EngagementStateExempt covers accounts with EligibleForSuspension=false.
	EngagementStateExempt EngagementState = "exempt"
)

// SuspensionReasonMissedTarget is the reason string written when the
// failure streak crosses the threshold.
const SuspensionReasonMissedTarget = "missed daily watch-time target"

// EngagementStateFor derives the machine state from account flags and the
// current failure streak.
func EngagementStateFor(account Account, threshold int) EngagementState {
	if !account.EligibleForSuspension {
		return EngagementStateExempt
	}
	if account.Suspended() {
		return EngagementStateSuspended
	}
	switch {
	case account.ConsecutiveFailedDays <= 0:
		return EngagementStateActive
	case account.ConsecutiveFailedDays == 1:
		return EngagementStateWarned
	case account.ConsecutiveFailedDays < threshold:
		return EngagementStateAtRisk
	default:
		return EngagementStateSuspended
	}
}

// NextStreak advances the consecutive-failed-days counter for one
// evaluated day. A passing day resets to zero unconditionally.
func NextStreak(current int, metTarget bool) int {
	if metTarget {
		return 0
	}
	if current < 0 {
		current = 0
	}
	return current + 1
}

// ShouldSuspend reports whether the streak value reached after an
// evaluation crosses the suspension threshold.
func ShouldSuspend(streak, threshold int) bool {
	if threshold <= 0 {
		return false
	}
	return streak >= threshold
}

// DayOf truncates a timestamp to its UTC calendar day. All evaluation
// watermarks and watch-time records are keyed on this form.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// AlreadyEvaluated reports whether the account's watermark covers the
// given day. Re-running an evaluation for a covered day must be a no-op.
func AlreadyEvaluated(account Account, day time.Time) bool {
	if account.LastEvaluatedDay == nil {
		return false
	}
	return !account.LastEvaluatedDay.Before(DayOf(day))
}
