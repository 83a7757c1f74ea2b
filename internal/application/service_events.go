package application

// Outbox event types emitted by the gating engine. Downstream consumers
// (notifications, payout ledger, analytics) key on these names.
const (
	eventTypeAccountRegistered  = "account.registered"
	eventTypeAccountVerified    = "account.verified"
	eventTypeReferralBonus      = "referral.bonus_granted"
	eventTypeAccountSuspended   = "account.suspended"
	eventTypeAccountReactivated = "account.reactivated"
	eventTypeKYCFeePaid         = "account.kyc_fee_paid"
)
