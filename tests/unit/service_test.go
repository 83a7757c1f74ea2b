package unit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/ports"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeAccounts struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]domain.Account
	byEmail map[string]uuid.UUID
	events  []ports.OutboxEvent

	// allCodesTaken makes every referral-code uniqueness check report a
	// collision, exercising the generator's attempt budget.
	allCodesTaken bool
	// insertCodeCollisions fails that many creates with a referral-code
	// conflict before letting one through, simulating lost index races.
	insertCodeCollisions int
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		byID:    make(map[uuid.UUID]domain.Account),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (f *fakeAccounts) CreateWithOutboxTx(_ context.Context, params ports.CreateAccountTxParams, event ports.OutboxEvent) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byEmail[params.Email]; exists {
		return domain.Account{}, domain.ErrConflict
	}
	if f.insertCodeCollisions > 0 {
		f.insertCodeCollisions--
		return domain.Account{}, domain.ErrReferralCodeTaken
	}
	for _, existing := range f.byID {
		if existing.ReferralCode == params.ReferralCode {
			return domain.Account{}, domain.ErrReferralCodeTaken
		}
	}
	otp := params.EmailOTP
	otpExpires := params.OTPExpiresAt
	account := domain.Account{
		AccountID:    uuid.New(),
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		Phone:        params.Phone,
		Role:         params.Role,
		Status:       domain.AccountStatusActive,
		EmailOTP:     &otp,
		OTPExpiresAt: &otpExpires,
		ReferralCode: params.ReferralCode,
		ReferredBy:   params.ReferredBy,
		CreatedAt:    params.CreatedAtUTC,
		UpdatedAt:    params.CreatedAtUTC,
	}
	f.byID[account.AccountID] = account
	f.byEmail[account.Email] = account.AccountID
	f.events = append(f.events, event)
	return account, nil
}

func (f *fakeAccounts) GetByEmail(_ context.Context, email string) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[email]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return f.byID[id], nil
}

func (f *fakeAccounts) GetByID(_ context.Context, accountID uuid.UUID) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.byID[accountID]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return account, nil
}

func (f *fakeAccounts) GetByReferralCode(_ context.Context, code string) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, account := range f.byID {
		if account.ReferralCode == code {
			return account, nil
		}
	}
	return domain.Account{}, domain.ErrNotFound
}

func (f *fakeAccounts) ReferralCodeExists(_ context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allCodesTaken {
		return true, nil
	}
	for _, account := range f.byID {
		if account.ReferralCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAccounts) SetOTP(_ context.Context, accountID uuid.UUID, otp string, expiresAt, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.byID[accountID]
	if !ok {
		return domain.ErrNotFound
	}
	account.EmailOTP = &otp
	account.OTPExpiresAt = &expiresAt
	account.UpdatedAt = now
	f.byID[accountID] = account
	return nil
}

func (f *fakeAccounts) UpdateTx(_ context.Context, accountID uuid.UUID, mutate ports.AccountMutation) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.byID[accountID]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	mutated, events, err := mutate(account)
	if err != nil {
		return domain.Account{}, err
	}
	f.byID[accountID] = mutated
	f.events = append(f.events, events...)
	return mutated, nil
}

func (f *fakeAccounts) ListEligibleForEvaluation(_ context.Context, limit, offset int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id, account := range f.byID {
		if account.EligibleForSuspension && account.Status == domain.AccountStatusActive {
			ids = append(ids, id)
		}
	}
	// Deterministic paging for the sweep tests.
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j].String() < ids[i].String() {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeAccounts) put(account domain.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[account.AccountID] = account
	f.byEmail[account.Email] = account.AccountID
}

func (f *fakeAccounts) get(t *testing.T, accountID uuid.UUID) domain.Account {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.byID[accountID]
	if !ok {
		t.Fatalf("account %s not found in fake store", accountID)
	}
	return account
}

func (f *fakeAccounts) byEmailSnapshot() map[string]uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]uuid.UUID, len(f.byEmail))
	for email, id := range f.byEmail {
		out[email] = id
	}
	return out
}

func (f *fakeAccounts) referralCodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.byID))
	for _, account := range f.byID {
		out = append(out, account.ReferralCode)
	}
	return out
}

func (f *fakeAccounts) eventsOfType(eventType string) []ports.OutboxEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ports.OutboxEvent
	for _, ev := range f.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type fakeSessions struct {
	mu   sync.Mutex
	byID map[uuid.UUID]domain.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byID: make(map[uuid.UUID]domain.Session)}
}

func (f *fakeSessions) Create(_ context.Context, params ports.SessionCreateParams) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := domain.Session{
		SessionID:      uuid.New(),
		AccountID:      params.AccountID,
		IPAddress:      params.IPAddress,
		UserAgent:      params.UserAgent,
		CreatedAt:      params.LastActivityAt,
		LastActivityAt: params.LastActivityAt,
		ExpiresAt:      params.ExpiresAt,
	}
	f.byID[session.SessionID] = session
	return session, nil
}

func (f *fakeSessions) GetByID(_ context.Context, sessionID uuid.UUID) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.byID[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return session, nil
}

func (f *fakeSessions) RevokeByID(_ context.Context, sessionID uuid.UUID, revokedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.byID[sessionID]
	if !ok || session.RevokedAt != nil {
		return domain.ErrNotFound
	}
	session.RevokedAt = &revokedAt
	f.byID[sessionID] = session
	return nil
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

type fakeAttempts struct {
	mu       sync.Mutex
	attempts []domain.LoginAttempt
}

func (f *fakeAttempts) Insert(_ context.Context, attempt domain.LoginAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
	return nil
}

type fakeWatchTime struct {
	mu   sync.Mutex
	days map[string]domain.WatchTimeRecord
}

func newFakeWatchTime() *fakeWatchTime {
	return &fakeWatchTime{days: make(map[string]domain.WatchTimeRecord)}
}

func watchKey(accountID uuid.UUID, day time.Time) string {
	return accountID.String() + ":" + domain.DayOf(day).Format("2006-01-02")
}

func (f *fakeWatchTime) GetDay(_ context.Context, accountID uuid.UUID, day time.Time) (*domain.WatchTimeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.days[watchKey(accountID, day)]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (f *fakeWatchTime) set(accountID uuid.UUID, day time.Time, seconds int, metTarget bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.days[watchKey(accountID, day)] = domain.WatchTimeRecord{
		AccountID:    accountID,
		Day:          domain.DayOf(day),
		TotalSeconds: seconds,
		MetTarget:    metTarget,
	}
}

type fakeOrders struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]domain.PaymentOrder
	accounts *fakeAccounts
}

func newFakeOrders(accounts *fakeAccounts) *fakeOrders {
	return &fakeOrders{byID: make(map[uuid.UUID]domain.PaymentOrder), accounts: accounts}
}

func (f *fakeOrders) Create(_ context.Context, order domain.PaymentOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.AccountID == order.AccountID && existing.Purpose == order.Purpose && existing.Status == domain.PaymentStatusPending {
			return domain.ErrConflict
		}
	}
	f.byID[order.OrderID] = order
	return nil
}

func (f *fakeOrders) GetByID(_ context.Context, orderID uuid.UUID) (domain.PaymentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.byID[orderID]
	if !ok {
		return domain.PaymentOrder{}, domain.ErrNotFound
	}
	return order, nil
}

func (f *fakeOrders) FindPending(_ context.Context, accountID uuid.UUID, purpose domain.PaymentPurpose) (*domain.PaymentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, order := range f.byID {
		if order.AccountID == accountID && order.Purpose == purpose && order.Status == domain.PaymentStatusPending {
			found := order
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeOrders) FinalizeTx(ctx context.Context, orderID uuid.UUID, decide func(order domain.PaymentOrder, account domain.Account) (ports.PaymentDecision, error)) (domain.PaymentOrder, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.byID[orderID]
	if !ok {
		return domain.PaymentOrder{}, false, domain.ErrNotFound
	}
	if order.Terminal() {
		return order, false, nil
	}
	account, err := f.accounts.GetByID(ctx, order.AccountID)
	if err != nil {
		return domain.PaymentOrder{}, false, err
	}
	decision, err := decide(order, account)
	if err != nil {
		return domain.PaymentOrder{}, false, err
	}
	f.byID[orderID] = decision.Order
	f.accounts.put(decision.Account)
	f.accounts.mu.Lock()
	f.accounts.events = append(f.accounts.events, decision.Events...)
	f.accounts.mu.Unlock()
	return decision.Order, true, nil
}

type fakeRates struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeRates() *fakeRates {
	return &fakeRates{counts: make(map[string]int64)}
}

func (f *fakeRates) Increment(_ context.Context, key string, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

type fakeGateway struct {
	mu          sync.Mutex
	statuses    map[string]ports.GatewayStatus
	createErr   error
	statusErr   error
	created     int
	statusCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]ports.GatewayStatus)}
}

func (f *fakeGateway) CreateOrder(_ context.Context, _ uuid.UUID, _ int64, _ string, _ domain.PaymentPurpose) (ports.GatewayOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return ports.GatewayOrder{}, f.createErr
	}
	f.created++
	ref := fmt.Sprintf("gw-ref-%d", f.created)
	return ports.GatewayOrder{Reference: ref, SessionHandle: "sess-" + ref}, nil
}

func (f *fakeGateway) OrderStatus(_ context.Context, reference string) (ports.GatewayStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return "", f.statusErr
	}
	status, ok := f.statuses[reference]
	if !ok {
		return ports.GatewayStatusPending, nil
	}
	return status, nil
}

func (f *fakeGateway) setStatus(reference string, status ports.GatewayStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[reference] = status
}

func (f *fakeGateway) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) { return "hash:" + password, nil }

func (fakeHasher) Compare(hash, password string) error {
	if hash != "hash:"+password {
		return domain.ErrInvalidCredentials
	}
	return nil
}

type fakeSigner struct {
	mu     sync.Mutex
	tokens map[string]ports.AuthClaims
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{tokens: make(map[string]ports.AuthClaims)}
}

func (f *fakeSigner) Sign(claims ports.AuthClaims) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := uuid.NewString()
	f.tokens[token] = claims
	return token, nil
}

func (f *fakeSigner) ParseAndValidate(token string) (ports.AuthClaims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claims, ok := f.tokens[token]
	if !ok {
		return ports.AuthClaims{}, domain.ErrUnauthorized
	}
	return claims, nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	service  *application.Service
	accounts *fakeAccounts
	sessions *fakeSessions
	attempts *fakeAttempts
	watch    *fakeWatchTime
	orders   *fakeOrders
	rates    *fakeRates
	gateway  *fakeGateway
	signer   *fakeSigner
}

func defaultTestConfig() application.Config {
	return application.Config{
		DefaultRole:             "user",
		TokenTTL:                24 * time.Hour,
		SessionTTL:              30 * 24 * time.Hour,
		OTPTTL:                  10 * time.Minute,
		OTPDigits:               6,
		ReferralCodeLength:      8,
		ReferralCodeMaxAttempts: 10,
		SuspensionThreshold:     3,
		DailyTargetSeconds:      28800,
		KYCFeeCents:             9900,
		ReactivationFeeCents:    4900,
		Currency:                "USD",
		GatewayVerifyTimeout:    5 * time.Second,
		SweepBatchSize:          2,
		LoginRateLimit:          application.RateLimit{Threshold: 100, Window: time.Minute},
		SignupRateLimit:         application.RateLimit{Threshold: 100, Window: time.Minute},
		VerifyOTPRateLimit:      application.RateLimit{Threshold: 100, Window: time.Minute},
		ResendOTPRateLimit:      application.RateLimit{Threshold: 100, Window: time.Minute},
	}
}

func newFixture() *fixture {
	return newFixtureWithConfig(defaultTestConfig())
}

func newFixtureWithConfig(cfg application.Config) *fixture {
	accounts := newFakeAccounts()
	f := &fixture{
		accounts: accounts,
		sessions: newFakeSessions(),
		attempts: &fakeAttempts{},
		watch:    newFakeWatchTime(),
		orders:   newFakeOrders(accounts),
		rates:    newFakeRates(),
		gateway:  newFakeGateway(),
		signer:   newFakeSigner(),
	}
	f.service = application.NewService(application.Dependencies{
		Config:        cfg,
		Accounts:      f.accounts,
		Sessions:      f.sessions,
		LoginAttempts: f.attempts,
		WatchTime:     f.watch,
		Orders:        f.orders,
		Rates:         f.rates,
		Gateway:       f.gateway,
		Hasher:        fakeHasher{},
		TokenSigner:   f.signer,
	})
	return f
}

func (f *fixture) signup(t *testing.T, email, referralCode string) application.SignupResponse {
	t.Helper()
	resp, err := f.service.Signup(context.Background(), application.SignupRequest{
		Email:        email,
		Password:     "secret123",
		FirstName:    "Ada",
		LastName:     "Iyer",
		Phone:        "+15550100",
		ReferralCode: referralCode,
	})
	if err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	return resp
}

func (f *fixture) storedOTP(t *testing.T, accountID uuid.UUID) string {
	t.Helper()
	account := f.accounts.get(t, accountID)
	if account.EmailOTP == nil {
		t.Fatalf("no passcode stored for %s", accountID)
	}
	return *account.EmailOTP
}

// signupVerified runs the signup plus passcode flow and returns the account
// together with a live session token.
func (f *fixture) signupVerified(t *testing.T, email string) (domain.Account, string) {
	t.Helper()
	resp := f.signup(t, email, "")
	verified, err := f.service.VerifyOTP(context.Background(), application.VerifyOTPRequest{
		Email: email,
		OTP:   f.storedOTP(t, resp.AccountID),
	})
	if err != nil {
		t.Fatalf("verify otp %s: %v", email, err)
	}
	return f.accounts.get(t, resp.AccountID), verified.Token
}

func (f *fixture) actor(t *testing.T, token string) application.Actor {
	t.Helper()
	actor, err := f.service.ResolveActor(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve actor: %v", err)
	}
	return actor
}

func (f *fixture) suspend(t *testing.T, accountID uuid.UUID) {
	t.Helper()
	account := f.accounts.get(t, accountID)
	now := time.Now().UTC()
	reason := domain.SuspensionReasonMissedTarget
	account.Status = domain.AccountStatusSuspended
	account.SuspendedAt = &now
	account.SuspensionReason = &reason
	account.ConsecutiveFailedDays = 3
	account.EligibleForSuspension = true
	account.ReactivationFeePaid = false
	f.accounts.put(account)
}

func (f *fixture) markEligible(t *testing.T, accountID uuid.UUID) {
	t.Helper()
	account := f.accounts.get(t, accountID)
	account.EligibleForSuspension = true
	account.KYCFeePaid = true
	f.accounts.put(account)
}

func day(offset int) time.Time {
	base := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, offset)
}

// ---------------------------------------------------------------------------
// Registration and verification
// ---------------------------------------------------------------------------

func TestSignupStoresOTPAndIssuesNoSession(t *testing.T) {
	t.Parallel()
	f := newFixture()

	resp := f.signup(t, "ada@example.com", "")
	if !resp.RequiresVerification {
		t.Fatal("expected signup to require verification")
	}

	account := f.accounts.get(t, resp.AccountID)
	if account.EmailVerified {
		t.Fatal("account must start unverified")
	}
	if !account.OTPSet() {
		t.Fatal("expected a stored passcode with expiry")
	}
	if account.ReferralCode == "" {
		t.Fatal("expected a generated referral code")
	}
	if got := f.sessions.count(); got != 0 {
		t.Fatalf("signup must not create sessions, got %d", got)
	}
	if got := len(f.accounts.eventsOfType("account.registered")); got != 1 {
		t.Fatalf("expected one account.registered event, got %d", got)
	}
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	t.Parallel()
	f := newFixture()

	f.signup(t, "dup@example.com", "")
	_, err := f.service.Signup(context.Background(), application.SignupRequest{
		Email:     "dup@example.com",
		Password:  "secret123",
		FirstName: "Ada",
		LastName:  "Iyer",
		Phone:     "+15550100",
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSignupRejectsMissingProfileFields(t *testing.T) {
	t.Parallel()
	f := newFixture()

	_, err := f.service.Signup(context.Background(), application.SignupRequest{
		Email:    "bare@example.com",
		Password: "secret123",
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestVerifyOTPIssuesFirstSession(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, token := f.signupVerified(t, "verify@example.com")
	if !account.EmailVerified {
		t.Fatal("expected verified flag set")
	}
	if account.OTPSet() {
		t.Fatal("passcode must be cleared after verification")
	}

	actor := f.actor(t, token)
	if actor.AccountID != account.AccountID {
		t.Fatalf("token resolves to %s, want %s", actor.AccountID, account.AccountID)
	}
	if got := len(f.accounts.eventsOfType("account.verified")); got != 1 {
		t.Fatalf("expected one account.verified event, got %d", got)
	}
}

func TestVerifyOTPWrongCode(t *testing.T) {
	t.Parallel()
	f := newFixture()

	resp := f.signup(t, "wrong@example.com", "")
	_, err := f.service.VerifyOTP(context.Background(), application.VerifyOTPRequest{
		Email: "wrong@example.com",
		OTP:   "000000x",
	})
	if !errors.Is(err, domain.ErrOTPMismatch) {
		t.Fatalf("expected passcode mismatch, got %v", err)
	}
	if f.accounts.get(t, resp.AccountID).EmailVerified {
		t.Fatal("mismatch must not verify the account")
	}
}

func TestVerifyOTPExpired(t *testing.T) {
	t.Parallel()
	f := newFixture()

	resp := f.signup(t, "expired@example.com", "")
	otp := f.storedOTP(t, resp.AccountID)

	account := f.accounts.get(t, resp.AccountID)
	past := time.Now().UTC().Add(-time.Minute)
	account.OTPExpiresAt = &past
	f.accounts.put(account)

	_, err := f.service.VerifyOTP(context.Background(), application.VerifyOTPRequest{
		Email: "expired@example.com",
		OTP:   otp,
	})
	if !errors.Is(err, domain.ErrOTPExpired) {
		t.Fatalf("expected expired passcode, got %v", err)
	}
}

func TestVerifyOTPSecondSubmitRejected(t *testing.T) {
	t.Parallel()
	f := newFixture()

	resp := f.signup(t, "once@example.com", "")
	otp := f.storedOTP(t, resp.AccountID)
	if _, err := f.service.VerifyOTP(context.Background(), application.VerifyOTPRequest{Email: "once@example.com", OTP: otp}); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	_, err := f.service.VerifyOTP(context.Background(), application.VerifyOTPRequest{Email: "once@example.com", OTP: otp})
	if !errors.Is(err, domain.ErrAlreadyVerified) {
		t.Fatalf("expected already verified, got %v", err)
	}
	if got := f.sessions.count(); got != 1 {
		t.Fatalf("replayed passcode must not issue a second session, got %d", got)
	}
}

func TestResendOTPRegeneratesCode(t *testing.T) {
	t.Parallel()
	f := newFixture()

	resp := f.signup(t, "resend@example.com", "")
	first := f.storedOTP(t, resp.AccountID)

	if err := f.service.ResendOTP(context.Background(), application.ResendOTPRequest{Email: "resend@example.com"}); err != nil {
		t.Fatalf("resend: %v", err)
	}
	second := f.storedOTP(t, resp.AccountID)
	if first == second {
		t.Fatal("resend must replace the stored passcode")
	}

	// The superseded code is no longer accepted.
	_, err := f.service.VerifyOTP(context.Background(), application.VerifyOTPRequest{Email: "resend@example.com", OTP: first})
	if !errors.Is(err, domain.ErrOTPMismatch) {
		t.Fatalf("expected mismatch for stale code, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Referral linkage
// ---------------------------------------------------------------------------

func TestReferralBonusGrantedExactlyOnce(t *testing.T) {
	t.Parallel()
	f := newFixture()

	referrer, _ := f.signupVerified(t, "referrer@example.com")

	resp := f.signup(t, "referred@example.com", strings.ToLower(referrer.ReferralCode))
	referred := f.accounts.get(t, resp.AccountID)
	if referred.ReferredBy == nil || *referred.ReferredBy != referrer.AccountID {
		t.Fatal("expected referral linkage to the referrer")
	}
	if got := len(f.accounts.eventsOfType("referral.bonus_granted")); got != 0 {
		t.Fatalf("bonus must wait for verification, got %d events", got)
	}

	if _, err := f.service.VerifyOTP(context.Background(), application.VerifyOTPRequest{
		Email: "referred@example.com",
		OTP:   f.storedOTP(t, resp.AccountID),
	}); err != nil {
		t.Fatalf("verify referred: %v", err)
	}

	bonuses := f.accounts.eventsOfType("referral.bonus_granted")
	if len(bonuses) != 1 {
		t.Fatalf("expected exactly one bonus event, got %d", len(bonuses))
	}
	if bonuses[0].PartitionKey != referrer.AccountID.String() {
		t.Fatalf("bonus partitioned to %s, want referrer %s", bonuses[0].PartitionKey, referrer.AccountID)
	}
	if !f.accounts.get(t, resp.AccountID).ReferralBonusGranted {
		t.Fatal("expected bonus flag persisted on the referred account")
	}
}

func TestSignupIgnoresUnknownReferralCode(t *testing.T) {
	t.Parallel()
	f := newFixture()

	resp := f.signup(t, "orphan@example.com", "NOSUCHCD")
	if f.accounts.get(t, resp.AccountID).ReferredBy != nil {
		t.Fatal("unknown referral code must not link a referrer")
	}
}

func TestSignupReferralCodeSpaceExhausted(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.accounts.allCodesTaken = true

	_, err := f.service.Signup(context.Background(), application.SignupRequest{
		Email:     "unlucky@example.com",
		Password:  "secret123",
		FirstName: "Ada",
		LastName:  "Iyer",
		Phone:     "+15550100",
	})
	if !errors.Is(err, domain.ErrReferralCodeExhausted) {
		t.Fatalf("expected referral code exhaustion, got %v", err)
	}
	if len(f.accounts.byEmailSnapshot()) != 0 {
		t.Fatal("no account may be created when code generation exhausts")
	}
}

func TestSignupRetriesReferralCodeInsertRace(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.accounts.insertCodeCollisions = 2

	resp := f.signup(t, "racer@example.com", "")
	if code := f.accounts.get(t, resp.AccountID).ReferralCode; code == "" {
		t.Fatal("expected a referral code after retrying past the race")
	}
}

func TestSignupGivesUpAfterPersistentInsertRace(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.accounts.insertCodeCollisions = defaultTestConfig().ReferralCodeMaxAttempts

	_, err := f.service.Signup(context.Background(), application.SignupRequest{
		Email:     "doomed@example.com",
		Password:  "secret123",
		FirstName: "Ada",
		LastName:  "Iyer",
		Phone:     "+15550100",
	})
	if !errors.Is(err, domain.ErrReferralCodeExhausted) {
		t.Fatalf("expected exhaustion after the attempt budget, got %v", err)
	}
}

func TestConcurrentSignupsGetUniqueReferralCodes(t *testing.T) {
	t.Parallel()
	f := newFixture()

	const signups = 8
	errs := make(chan error, signups)
	var wg sync.WaitGroup
	for i := 0; i < signups; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.service.Signup(context.Background(), application.SignupRequest{
				Email:     fmt.Sprintf("rush-%d@example.com", i),
				Password:  "secret123",
				FirstName: "Ada",
				LastName:  "Iyer",
				Phone:     "+15550100",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent signup failed: %v", err)
		}
	}

	seen := make(map[string]bool)
	for _, code := range f.accounts.referralCodes() {
		if code == "" {
			t.Fatal("account created without a referral code")
		}
		if seen[code] {
			t.Fatalf("referral code %q issued twice", code)
		}
		seen[code] = true
	}
	if len(seen) != signups {
		t.Fatalf("expected %d accounts, got %d", signups, len(seen))
	}
}

// ---------------------------------------------------------------------------
// Login and sessions
// ---------------------------------------------------------------------------

func TestLoginUnknownEmailAndWrongPasswordIndistinguishable(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.signupVerified(t, "known@example.com")

	_, errUnknown := f.service.Login(context.Background(), application.LoginRequest{Email: "ghost@example.com", Password: "secret123"})
	_, errWrongPw := f.service.Login(context.Background(), application.LoginRequest{Email: "known@example.com", Password: "not-it-77"})

	if !errors.Is(errUnknown, domain.ErrInvalidCredentials) || !errors.Is(errWrongPw, domain.ErrInvalidCredentials) {
		t.Fatalf("both failures must map to invalid credentials, got %v and %v", errUnknown, errWrongPw)
	}
	if errUnknown.Error() != errWrongPw.Error() {
		t.Fatal("error text must not leak which check failed")
	}
}

func TestLoginUnverifiedRegeneratesOTP(t *testing.T) {
	t.Parallel()
	f := newFixture()

	resp := f.signup(t, "pending@example.com", "")
	first := f.storedOTP(t, resp.AccountID)

	login, err := f.service.Login(context.Background(), application.LoginRequest{Email: "pending@example.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !login.RequiresVerification || login.Token != "" {
		t.Fatalf("unverified login must defer to verification, got %+v", login)
	}
	if second := f.storedOTP(t, resp.AccountID); second == first {
		t.Fatal("login must regenerate the pending passcode")
	}
}

func TestLoginSuspendedAccountRejected(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, _ := f.signupVerified(t, "locked@example.com")
	f.suspend(t, account.AccountID)
	before := f.sessions.count()

	_, err := f.service.Login(context.Background(), application.LoginRequest{Email: "locked@example.com", Password: "secret123"})
	if !errors.Is(err, domain.ErrAccountSuspended) {
		t.Fatalf("expected suspended error, got %v", err)
	}
	if f.sessions.count() != before {
		t.Fatal("suspended login must not create a session")
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	t.Parallel()
	f := newFixture()

	_, token := f.signupVerified(t, "bye@example.com")
	actor := f.actor(t, token)

	if err := f.service.Logout(context.Background(), actor); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_, err := f.service.ResolveActor(context.Background(), token)
	if !errors.Is(err, domain.ErrSessionRevoked) {
		t.Fatalf("expected revoked session, got %v", err)
	}
}

func TestCheckSessionReturnsNoUserForBadToken(t *testing.T) {
	t.Parallel()
	f := newFixture()

	summary, err := f.service.CheckSession(context.Background(), "garbage-token")
	if err != nil {
		t.Fatalf("check must not error on a bad token: %v", err)
	}
	if summary != nil {
		t.Fatal("expected nil summary for an invalid token")
	}
}

func TestCheckSessionReturnsCurrentAccount(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, token := f.signupVerified(t, "who@example.com")
	summary, err := f.service.CheckSession(context.Background(), token)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if summary == nil || summary.AccountID != account.AccountID || !summary.EmailVerified {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestSignupRateLimitExceeded(t *testing.T) {
	t.Parallel()
	cfg := defaultTestConfig()
	cfg.SignupRateLimit = application.RateLimit{Threshold: 2, Window: time.Minute}
	f := newFixtureWithConfig(cfg)

	for i := 0; i < 2; i++ {
		if _, err := f.service.Signup(context.Background(), application.SignupRequest{
			Email:     fmt.Sprintf("user%d@example.com", i),
			Password:  "secret123",
			FirstName: "Ada",
			LastName:  "Iyer",
			Phone:     "+15550100",
			IPAddress: "10.0.0.9",
		}); err != nil {
			t.Fatalf("signup %d: %v", i, err)
		}
	}

	_, err := f.service.Signup(context.Background(), application.SignupRequest{
		Email:     "user3@example.com",
		Password:  "secret123",
		FirstName: "Ada",
		LastName:  "Iyer",
		Phone:     "+15550100",
		IPAddress: "10.0.0.9",
	})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestRateLimitDegradesOpenOnStoreFailure(t *testing.T) {
	t.Parallel()
	cfg := defaultTestConfig()
	cfg.LoginRateLimit = application.RateLimit{Threshold: 1, Window: time.Minute}
	f := newFixtureWithConfig(cfg)
	f.signupVerified(t, "open@example.com")

	f.rates.mu.Lock()
	f.rates.err = errors.New("redis down")
	f.rates.mu.Unlock()

	resp, err := f.service.Login(context.Background(), application.LoginRequest{Email: "open@example.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("login must degrade open when the counter store fails: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a session token")
	}
}

// ---------------------------------------------------------------------------
// Engagement evaluation and suspension
// ---------------------------------------------------------------------------

func TestSuspensionAfterThreeConsecutiveMissedDays(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, _ := f.signupVerified(t, "streak@example.com")
	f.markEligible(t, account.AccountID)

	for i := 0; i < 2; i++ {
		res, err := f.service.EvaluateEngagementDay(context.Background(), account.AccountID, day(i))
		if err != nil {
			t.Fatalf("evaluate day %d: %v", i, err)
		}
		if !res.Applied || res.Streak != i+1 || res.Suspended {
			t.Fatalf("day %d: unexpected result %+v", i, res)
		}
	}

	res, err := f.service.EvaluateEngagementDay(context.Background(), account.AccountID, day(2))
	if err != nil {
		t.Fatalf("evaluate day 2: %v", err)
	}
	if !res.Suspended || res.State != domain.EngagementStateSuspended {
		t.Fatalf("expected suspension on the third miss, got %+v", res)
	}

	stored := f.accounts.get(t, account.AccountID)
	if stored.Status != domain.AccountStatusSuspended || stored.SuspendedAt == nil {
		t.Fatalf("suspension not persisted: %+v", stored)
	}
	if stored.SuspensionReason == nil || *stored.SuspensionReason != domain.SuspensionReasonMissedTarget {
		t.Fatal("expected the missed-target reason")
	}
	if stored.ReactivationFeePaid {
		t.Fatal("a fresh suspension must reset the fee-paid flag")
	}
	if got := len(f.accounts.eventsOfType("account.suspended")); got != 1 {
		t.Fatalf("expected one suspension event, got %d", got)
	}
}

func TestMetTargetDayResetsStreak(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, _ := f.signupVerified(t, "reset@example.com")
	f.markEligible(t, account.AccountID)

	if _, err := f.service.EvaluateEngagementDay(context.Background(), account.AccountID, day(0)); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := f.service.EvaluateEngagementDay(context.Background(), account.AccountID, day(1)); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	f.watch.set(account.AccountID, day(2), 2400, true)
	res, err := f.service.EvaluateEngagementDay(context.Background(), account.AccountID, day(2))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.MetTarget || res.Streak != 0 || res.State != domain.EngagementStateActive {
		t.Fatalf("expected streak reset, got %+v", res)
	}
}

func TestEvaluationIdempotentPerDay(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, _ := f.signupVerified(t, "idem@example.com")
	f.markEligible(t, account.AccountID)

	first, err := f.service.EvaluateEngagementDay(context.Background(), account.AccountID, day(0))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !first.Applied || first.Streak != 1 {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := f.service.EvaluateEngagementDay(context.Background(), account.AccountID, day(0))
	if err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	if second.Applied {
		t.Fatal("re-running a covered day must be a no-op")
	}
	if second.Streak != 1 {
		t.Fatalf("streak advanced on replay: %d", second.Streak)
	}
}

func TestEvaluationSkipsExemptAccounts(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, _ := f.signupVerified(t, "exempt@example.com")

	res, err := f.service.EvaluateEngagementDay(context.Background(), account.AccountID, day(0))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Applied {
		t.Fatal("accounts outside the gate must not accrue streaks")
	}
	if res.State != domain.EngagementStateExempt {
		t.Fatalf("expected exempt state, got %s", res.State)
	}
}

func TestRunDailySweepAggregatesStats(t *testing.T) {
	t.Parallel()
	f := newFixture()

	// Three eligible accounts with two-day streaks; one will pass today,
	// two will miss and cross the threshold. Batch size 2 forces paging.
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		account, _ := f.signupVerified(t, fmt.Sprintf("sweep%d@example.com", i))
		f.markEligible(t, account.AccountID)
		stored := f.accounts.get(t, account.AccountID)
		stored.ConsecutiveFailedDays = 2
		f.accounts.put(stored)
		ids = append(ids, account.AccountID)
	}
	f.watch.set(ids[0], day(5), 3000, true)

	stats, err := f.service.RunDailySweep(context.Background(), day(5))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Evaluated != 3 || stats.Suspended != 2 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if f.accounts.get(t, ids[0]).Status != domain.AccountStatusActive {
		t.Fatal("the passing account must stay active")
	}
	for _, id := range ids[1:] {
		if f.accounts.get(t, id).Status != domain.AccountStatusSuspended {
			t.Fatalf("account %s should be suspended", id)
		}
	}

	// A second sweep of the same day touches nobody: the survivors carry
	// the watermark and the suspended pair left the eligible set.
	again, err := f.service.RunDailySweep(context.Background(), day(5))
	if err != nil {
		t.Fatalf("repeat sweep: %v", err)
	}
	if again.Evaluated != 0 || again.Suspended != 0 {
		t.Fatalf("repeat sweep must be a no-op, got %+v", again)
	}
}

func TestWatchTimeSecondsSatisfyTargetWithoutFlag(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, _ := f.signupVerified(t, "seconds@example.com")
	f.markEligible(t, account.AccountID)

	// The ingester left the met flag unset; the raw seconds alone reach
	// the configured daily target.
	f.watch.set(account.AccountID, day(0), 28800, false)

	res, err := f.service.EvaluateEngagementDay(context.Background(), account.AccountID, day(0))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Applied || !res.MetTarget || res.Streak != 0 {
		t.Fatalf("target-reaching seconds must count as met, got %+v", res)
	}

	// One second short still misses.
	f.watch.set(account.AccountID, day(1), 28799, false)
	res, err = f.service.EvaluateEngagementDay(context.Background(), account.AccountID, day(1))
	if err != nil {
		t.Fatalf("evaluate short day: %v", err)
	}
	if res.MetTarget || res.Streak != 1 {
		t.Fatalf("seconds below the target must miss, got %+v", res)
	}
}

func TestSweepCatchesUpDaysMissedByOutage(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, _ := f.signupVerified(t, "outage@example.com")
	f.markEligible(t, account.AccountID)

	// Day 0 ran normally, then the worker was down across two day
	// boundaries. The next sweep must walk the skipped days instead of
	// jumping the watermark past them.
	if _, err := f.service.EvaluateEngagementDay(context.Background(), account.AccountID, day(0)); err != nil {
		t.Fatalf("evaluate day 0: %v", err)
	}

	stats, err := f.service.RunDailySweep(context.Background(), day(2))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Evaluated != 1 || stats.Suspended != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	stored := f.accounts.get(t, account.AccountID)
	if stored.Status != domain.AccountStatusSuspended {
		t.Fatal("three missed days across the outage must suspend")
	}
	if stored.ConsecutiveFailedDays != 3 {
		t.Fatalf("expected a streak of 3, got %d", stored.ConsecutiveFailedDays)
	}
	if stored.LastEvaluatedDay == nil || !stored.LastEvaluatedDay.Equal(day(2)) {
		t.Fatalf("watermark must land on the last walked day, got %v", stored.LastEvaluatedDay)
	}
}

func TestEvaluateThroughStopsAtSuspension(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, _ := f.signupVerified(t, "walker@example.com")
	f.markEligible(t, account.AccountID)

	results, err := f.service.EvaluateEngagementThrough(context.Background(), account.AccountID, day(4))
	if err != nil {
		t.Fatalf("evaluate through: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("an account without a watermark starts at the given day, got %d results", len(results))
	}

	// With a watermark at day 0 the walk covers days 1 through 4 but must
	// stop once the third miss suspends the account.
	stored := f.accounts.get(t, account.AccountID)
	d0 := day(0)
	stored.ConsecutiveFailedDays = 0
	stored.Status = domain.AccountStatusActive
	stored.LastEvaluatedDay = &d0
	f.accounts.put(stored)

	results, err = f.service.EvaluateEngagementThrough(context.Background(), account.AccountID, day(4))
	if err != nil {
		t.Fatalf("evaluate through after reset: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected the walk to stop at suspension after 3 days, got %d", len(results))
	}
	last := results[len(results)-1]
	if !last.Suspended || !last.Day.Equal(day(3)) {
		t.Fatalf("unexpected final result %+v", last)
	}
}

func TestSuspensionStatusReportsFee(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, token := f.signupVerified(t, "status@example.com")
	f.suspend(t, account.AccountID)

	status, err := f.service.SuspensionStatus(context.Background(), f.actor(t, token))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.AccountStatus != domain.AccountStatusSuspended || status.State != domain.EngagementStateSuspended {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.ReactivationFeeCents != 4900 {
		t.Fatalf("expected the unpaid fee to be quoted, got %d", status.ReactivationFeeCents)
	}
}

// ---------------------------------------------------------------------------
// Payments and unlock
// ---------------------------------------------------------------------------

func TestCreatePaymentConflictsOnExistingPendingOrder(t *testing.T) {
	t.Parallel()
	f := newFixture()

	_, token := f.signupVerified(t, "pending-order@example.com")
	actor := f.actor(t, token)

	if _, err := f.service.CreatePayment(context.Background(), actor, domain.PaymentPurposeKYCFee); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := f.service.CreatePayment(context.Background(), actor, domain.PaymentPurposeKYCFee)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for a second pending order, got %v", err)
	}
}

func TestCreatePaymentRejectsPaidKYCFee(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, token := f.signupVerified(t, "paid-kyc@example.com")
	stored := f.accounts.get(t, account.AccountID)
	stored.KYCFeePaid = true
	f.accounts.put(stored)

	_, err := f.service.CreatePayment(context.Background(), f.actor(t, token), domain.PaymentPurposeKYCFee)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for an already-paid fee, got %v", err)
	}
}

func TestCreateReactivationOrderRequiresSuspension(t *testing.T) {
	t.Parallel()
	f := newFixture()

	_, token := f.signupVerified(t, "active-reactivate@example.com")
	_, err := f.service.CreatePayment(context.Background(), f.actor(t, token), domain.PaymentPurposeReactivationFee)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for an active account, got %v", err)
	}
}

func TestVerifyPaymentAppliesKYCUnlockOnce(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, token := f.signupVerified(t, "kyc@example.com")
	actor := f.actor(t, token)

	created, err := f.service.CreatePayment(context.Background(), actor, domain.PaymentPurposeKYCFee)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	order, err := f.orders.GetByID(context.Background(), created.OrderID)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	f.gateway.setStatus(order.GatewayRef, ports.GatewayStatusSucceeded)

	first, err := f.service.VerifyPayment(context.Background(), actor, created.OrderID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !first.Verified || first.Status != domain.PaymentStatusVerified {
		t.Fatalf("unexpected result %+v", first)
	}
	if !f.accounts.get(t, account.AccountID).KYCFeePaid {
		t.Fatal("expected the fee-paid flag after verification")
	}

	second, err := f.service.VerifyPayment(context.Background(), actor, created.OrderID)
	if err != nil {
		t.Fatalf("re-verify: %v", err)
	}
	if !second.Verified {
		t.Fatal("a settled order must still report verified")
	}
	if polls := f.gateway.polls(); polls != 1 {
		t.Fatalf("terminal orders must not be re-polled, got %d polls", polls)
	}
	if got := len(f.accounts.eventsOfType("account.kyc_fee_paid")); got != 1 {
		t.Fatalf("expected exactly one unlock event, got %d", got)
	}
}

func TestVerifyPaymentConcurrentCallsDecideOnce(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, token := f.signupVerified(t, "race@example.com")
	f.suspend(t, account.AccountID)
	actor := f.actor(t, token)

	created, err := f.service.CreatePayment(context.Background(), actor, domain.PaymentPurposeReactivationFee)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	order, err := f.orders.GetByID(context.Background(), created.OrderID)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	f.gateway.setStatus(order.GatewayRef, ports.GatewayStatusSucceeded)

	var wg sync.WaitGroup
	results := make([]application.VerifyPaymentResponse, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.service.VerifyPayment(context.Background(), actor, created.OrderID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("verify %d: %v", i, errs[i])
		}
		if !results[i].Verified {
			t.Fatalf("verify %d: expected verified, got %+v", i, results[i])
		}
	}
	if polls := f.gateway.polls(); polls != 1 {
		t.Fatalf("expected a single gateway poll across racing calls, got %d", polls)
	}
	if got := len(f.accounts.eventsOfType("account.reactivated")); got != 1 {
		t.Fatalf("expected exactly one reactivation event, got %d", got)
	}

	stored := f.accounts.get(t, account.AccountID)
	if stored.Status != domain.AccountStatusActive || !stored.ReactivationFeePaid || stored.ConsecutiveFailedDays != 0 {
		t.Fatalf("reactivation not applied cleanly: %+v", stored)
	}
}

func TestVerifyPaymentGatewayErrorLeavesOrderPending(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, token := f.signupVerified(t, "flaky@example.com")
	f.suspend(t, account.AccountID)
	actor := f.actor(t, token)

	created, err := f.service.CreatePayment(context.Background(), actor, domain.PaymentPurposeReactivationFee)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.gateway.mu.Lock()
	f.gateway.statusErr = errors.New("collector timeout")
	f.gateway.mu.Unlock()

	_, err = f.service.VerifyPayment(context.Background(), actor, created.OrderID)
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}
	order, err := f.orders.GetByID(context.Background(), created.OrderID)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != domain.PaymentStatusPending {
		t.Fatalf("a failed poll must leave the order pending, got %s", order.Status)
	}
	if f.accounts.get(t, account.AccountID).Status != domain.AccountStatusSuspended {
		t.Fatal("account state must not change on a failed poll")
	}

	// Retry succeeds once the collector recovers.
	f.gateway.mu.Lock()
	f.gateway.statusErr = nil
	f.gateway.mu.Unlock()
	f.gateway.setStatus(order.GatewayRef, ports.GatewayStatusSucceeded)

	resp, err := f.service.VerifyPayment(context.Background(), actor, created.OrderID)
	if err != nil {
		t.Fatalf("retry verify: %v", err)
	}
	if !resp.Verified {
		t.Fatalf("expected retry to settle the order, got %+v", resp)
	}
}

func TestVerifyPaymentFailedStatusDoesNotUnlock(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, token := f.signupVerified(t, "declined@example.com")
	f.suspend(t, account.AccountID)
	actor := f.actor(t, token)

	created, err := f.service.CreatePayment(context.Background(), actor, domain.PaymentPurposeReactivationFee)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	order, err := f.orders.GetByID(context.Background(), created.OrderID)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	f.gateway.setStatus(order.GatewayRef, ports.GatewayStatusFailed)

	resp, err := f.service.VerifyPayment(context.Background(), actor, created.OrderID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if resp.Verified || resp.Status != domain.PaymentStatusFailed {
		t.Fatalf("declined payment must not verify, got %+v", resp)
	}
	if f.accounts.get(t, account.AccountID).Status != domain.AccountStatusSuspended {
		t.Fatal("declined payment must not reactivate the account")
	}
}

func TestVerifyPaymentForbiddenForOtherAccount(t *testing.T) {
	t.Parallel()
	f := newFixture()

	_, ownerToken := f.signupVerified(t, "owner@example.com")
	_, intruderToken := f.signupVerified(t, "intruder@example.com")

	created, err := f.service.CreatePayment(context.Background(), f.actor(t, ownerToken), domain.PaymentPurposeKYCFee)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.service.VerifyPayment(context.Background(), f.actor(t, intruderToken), created.OrderID)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestPayReactivationFeeFullFlow(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, token := f.signupVerified(t, "reactivate@example.com")
	f.suspend(t, account.AccountID)
	actor := f.actor(t, token)

	// The collector settles the order as soon as it exists.
	f.gateway.setStatus("gw-ref-1", ports.GatewayStatusSucceeded)

	resp, err := f.service.PayReactivationFee(context.Background(), actor)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}

	stored := f.accounts.get(t, account.AccountID)
	if stored.Status != domain.AccountStatusActive || !stored.ReactivationFeePaid {
		t.Fatalf("reactivation not applied: %+v", stored)
	}
	if stored.SuspendedAt != nil || stored.SuspensionReason != nil || stored.ConsecutiveFailedDays != 0 {
		t.Fatalf("suspension fields must be cleared: %+v", stored)
	}

	// Once reactivated, the flow is a conflict rather than a double charge.
	_, err = f.service.PayReactivationFee(context.Background(), actor)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for an active account, got %v", err)
	}
}

func TestPayReactivationFeeGatewayDownReportsRetry(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, token := f.signupVerified(t, "retrylater@example.com")
	f.suspend(t, account.AccountID)
	actor := f.actor(t, token)

	f.gateway.mu.Lock()
	f.gateway.createErr = errors.New("collector unreachable")
	f.gateway.mu.Unlock()

	resp, err := f.service.PayReactivationFee(context.Background(), actor)
	if err != nil {
		t.Fatalf("gateway outage must not surface as an error: %v", err)
	}
	if resp.Success {
		t.Fatal("expected success=false while the collector is down")
	}
	if f.accounts.get(t, account.AccountID).Status != domain.AccountStatusSuspended {
		t.Fatal("account must stay suspended until payment settles")
	}
}

func TestPayReactivationFeeReusesPendingOrder(t *testing.T) {
	t.Parallel()
	f := newFixture()

	account, token := f.signupVerified(t, "reuse@example.com")
	f.suspend(t, account.AccountID)
	actor := f.actor(t, token)

	created, err := f.service.CreatePayment(context.Background(), actor, domain.PaymentPurposeReactivationFee)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	order, err := f.orders.GetByID(context.Background(), created.OrderID)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	f.gateway.setStatus(order.GatewayRef, ports.GatewayStatusSucceeded)

	resp, err := f.service.PayReactivationFee(context.Background(), actor)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if !resp.Success || resp.OrderID != created.OrderID {
		t.Fatalf("expected the pending order to be reused, got %+v", resp)
	}
	f.gateway.mu.Lock()
	createdOrders := f.gateway.created
	f.gateway.mu.Unlock()
	if createdOrders != 1 {
		t.Fatalf("expected no second gateway order, got %d", createdOrders)
	}
}
