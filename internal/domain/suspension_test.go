package domain

import (
	"testing"
	"time"
)

func TestNextStreak(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		current   int
		metTarget bool
		want      int
	}{
		{name: "pass resets", current: 2, metTarget: true, want: 0},
		{name: "pass resets from zero", current: 0, metTarget: true, want: 0},
		{name: "fail increments", current: 0, metTarget: false, want: 1},
		{name: "fail increments streak", current: 2, metTarget: false, want: 3},
		{name: "negative clamped", current: -3, metTarget: false, want: 1},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := NextStreak(tc.current, tc.metTarget); got != tc.want {
				t.Fatalf("NextStreak(%d, %v) = %d, want %d", tc.current, tc.metTarget, got, tc.want)
			}
		})
	}
}

func TestEngagementStateFor(t *testing.T) {
	t.Parallel()

	const threshold = 3

	cases := []struct {
		name    string
		account Account
		want    EngagementState
	}{
		{name: "exempt regardless of streak", account: Account{ConsecutiveFailedDays: 5}, want: EngagementStateExempt},
		{name: "clean streak", account: Account{EligibleForSuspension: true}, want: EngagementStateActive},
		{name: "one missed day", account: Account{EligibleForSuspension: true, ConsecutiveFailedDays: 1}, want: EngagementStateWarned},
		{name: "two missed days", account: Account{EligibleForSuspension: true, ConsecutiveFailedDays: 2}, want: EngagementStateAtRisk},
		{name: "threshold reached", account: Account{EligibleForSuspension: true, ConsecutiveFailedDays: 3}, want: EngagementStateSuspended},
		{name: "persisted suspension wins", account: Account{EligibleForSuspension: true, Status: AccountStatusSuspended}, want: EngagementStateSuspended},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := EngagementStateFor(tc.account, threshold); got != tc.want {
				t.Fatalf("EngagementStateFor = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestAlreadyEvaluated(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	earlier := day.AddDate(0, 0, -1)

	if AlreadyEvaluated(Account{}, day) {
		t.Fatalf("account without watermark should not be evaluated")
	}
	if AlreadyEvaluated(Account{LastEvaluatedDay: &earlier}, day) {
		t.Fatalf("earlier watermark should not cover the day")
	}
	if !AlreadyEvaluated(Account{LastEvaluatedDay: &day}, day.Add(15*time.Hour)) {
		t.Fatalf("same-day watermark should cover any timestamp within the day")
	}
}
