package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/identity/internal/domain"
)

func newTestTokenService() (*TokenService, *memLedger, *time.Time) {
	ledger := newMemLedger()
	svc := NewTokenService(ledger, 3, newTestLogger())
	clock := testNow
	svc.now = func() time.Time { return clock }
	return svc, ledger, &clock
}

func ownerID(id int64) *int64 { return &id }

// ============================================================================
// Issue Tests
// ============================================================================

func TestIssue_PersistsRecord(t *testing.T) {
	svc, ledger, _ := newTestTokenService()

	tok, err := svc.Issue(context.Background(), ownerID(42), time.Hour, testIP, domain.UserInfoPayload{AccountID: 42})
	require.NoError(t, err)

	assert.Len(t, tok.Code, 43)
	assert.Equal(t, domain.KindOAuthUserInfo, tok.Kind)
	assert.Equal(t, testNow, tok.IssuedAt)
	assert.Equal(t, testNow.Add(time.Hour), tok.ExpiresAt)
	assert.Empty(t, tok.BoundIP, "user info codes are not IP bound")

	stored := ledger.get(tok.Code)
	require.NotNil(t, stored)
	assert.Equal(t, int64(42), stored.Owner())
}

func TestIssue_BindsIPOnlyForBindingKinds(t *testing.T) {
	svc, _, _ := newTestTokenService()
	ctx := context.Background()

	forget, err := svc.Issue(ctx, ownerID(1), time.Hour, testIP, domain.ForgetPasswordPayload{})
	require.NoError(t, err)
	assert.Equal(t, testIP, forget.BoundIP)

	refresh, err := svc.Issue(ctx, ownerID(1), time.Hour, testIP, domain.RefreshPayload{})
	require.NoError(t, err)
	assert.Empty(t, refresh.BoundIP)
}

type unknownPayload struct{}

func (unknownPayload) Kind() domain.ProcessKind { return "SESSION_HANDOFF" }

func TestIssue_RejectsUnknownKind(t *testing.T) {
	svc, ledger, _ := newTestTokenService()

	tok, err := svc.Issue(context.Background(), ownerID(1), time.Hour, testIP, unknownPayload{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_HANDOFF")
	assert.Nil(t, tok)
	assert.Empty(t, ledger.tokens)
}

func TestTokensIssued_SeriesPerKind(t *testing.T) {
	assert.Equal(t, len(domain.AllKinds), testutil.CollectAndCount(tokensIssued))
}

func TestIssue_CodesAreUnique(t *testing.T) {
	svc, _, _ := newTestTokenService()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := svc.Issue(context.Background(), nil, time.Minute, "", domain.RefreshPayload{})
		require.NoError(t, err)
		require.False(t, seen[tok.Code], "duplicate code")
		seen[tok.Code] = true
	}
}

// ============================================================================
// Verify Tests
// ============================================================================

func TestVerify_SingleUseRedeemsOnce(t *testing.T) {
	svc, _, _ := newTestTokenService()
	ctx := context.Background()

	tok, err := svc.Issue(ctx, ownerID(1), time.Hour, "", domain.ExternalOAuthRedirectPayload{AuthorizationURL: "https://a"})
	require.NoError(t, err)

	first, err := svc.Verify(ctx, tok.Code, "", domain.KindExternalOAuthRedirect)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, domain.ExternalOAuthRedirectPayload{AuthorizationURL: "https://a"}, first.Payload)

	second, err := svc.Verify(ctx, tok.Code, "", domain.KindExternalOAuthRedirect)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestVerify_ConcurrentRedemptionSucceedsExactlyOnce(t *testing.T) {
	for _, kind := range domain.AllKinds {
		if !kind.SingleUse() {
			continue
		}
		t.Run(string(kind), func(t *testing.T) {
			svc, _, _ := newTestTokenService()
			ctx := context.Background()

			payload, err := domain.DecodePayload(kind, nil)
			require.NoError(t, err)
			tok, err := svc.Issue(ctx, ownerID(1), time.Hour, testIP, payload)
			require.NoError(t, err)

			const callers = 32
			var wins atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					got, err := svc.Verify(ctx, tok.Code, testIP, kind)
					if err == nil && got != nil {
						wins.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestVerify_Expiry(t *testing.T) {
	svc, _, clock := newTestTokenService()
	ctx := context.Background()

	tok, err := svc.Issue(ctx, ownerID(1), time.Minute, "", domain.RefreshPayload{})
	require.NoError(t, err)

	*clock = testNow.Add(time.Minute)
	got, err := svc.Verify(ctx, tok.Code, "", domain.KindRefresh)
	require.NoError(t, err)
	assert.NotNil(t, got, "still valid at the expiry instant")

	*clock = testNow.Add(time.Minute + time.Second)
	got, err = svc.Verify(ctx, tok.Code, "", domain.KindRefresh)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVerify_IPBinding(t *testing.T) {
	svc, _, _ := newTestTokenService()
	ctx := context.Background()

	tok, err := svc.Issue(ctx, ownerID(1), time.Hour, testIP, domain.ForgetPasswordPayload{})
	require.NoError(t, err)

	got, err := svc.Verify(ctx, tok.Code, "198.51.100.1", domain.KindForgetPassword)
	require.NoError(t, err)
	assert.Nil(t, got, "other IP must not redeem")

	got, err = svc.Verify(ctx, tok.Code, testIP, domain.KindForgetPassword)
	require.NoError(t, err)
	assert.NotNil(t, got, "foreign attempt must not consume the token")
}

func TestVerify_WrongKind(t *testing.T) {
	svc, _, _ := newTestTokenService()
	ctx := context.Background()

	tok, err := svc.Issue(ctx, ownerID(1), time.Hour, testIP, domain.ForgetPasswordPayload{})
	require.NoError(t, err)

	got, err := svc.Verify(ctx, tok.Code, testIP, domain.KindResetPasswordFromUserInfo)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = svc.Verify(ctx, tok.Code, testIP, domain.KindForgetPassword)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestVerify_MultiUseKinds(t *testing.T) {
	svc, _, _ := newTestTokenService()
	ctx := context.Background()

	for _, payload := range []domain.Payload{domain.RefreshPayload{}, domain.UserInfoPayload{AccountID: 1}} {
		tok, err := svc.Issue(ctx, ownerID(1), time.Hour, "", payload)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			got, err := svc.Verify(ctx, tok.Code, "", payload.Kind())
			require.NoError(t, err)
			assert.NotNil(t, got, "%s read %d", payload.Kind(), i)
		}
	}
}

func TestVerify_EmptyAndUnknownCodes(t *testing.T) {
	svc, _, _ := newTestTokenService()
	ctx := context.Background()

	got, err := svc.Verify(ctx, "", testIP, domain.KindRefresh)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = svc.Verify(ctx, "nope", testIP, domain.KindRefresh)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// ============================================================================
// VerifyAny Tests
// ============================================================================

func TestVerifyAny_ReportsMatchedKind(t *testing.T) {
	svc, _, _ := newTestTokenService()
	ctx := context.Background()

	tok, err := svc.Issue(ctx, ownerID(1), time.Hour, testIP, domain.ResetFromUserInfoPayload{})
	require.NoError(t, err)

	got, err := svc.VerifyAny(ctx, tok.Code, testIP, domain.KindForgetPassword, domain.KindResetPasswordFromUserInfo)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.KindResetPasswordFromUserInfo, got.Kind)

	again, err := svc.VerifyAny(ctx, tok.Code, testIP, domain.KindForgetPassword, domain.KindResetPasswordFromUserInfo)
	require.NoError(t, err)
	assert.Nil(t, again, "single-use kinds are consumed")
}

func TestVerifyAny_IgnoresKindsOutsideTheSet(t *testing.T) {
	svc, _, _ := newTestTokenService()
	ctx := context.Background()

	tok, err := svc.Issue(ctx, ownerID(1), time.Hour, "", domain.ExternalOAuthDataPayload{ProjectID: 1})
	require.NoError(t, err)

	got, err := svc.VerifyAny(ctx, tok.Code, "", domain.KindOTP, domain.KindRefresh)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// ============================================================================
// VerifyContinuation Tests
// ============================================================================

func TestVerifyContinuation_OTP(t *testing.T) {
	svc, ledger, _ := newTestTokenService()
	ctx := context.Background()

	tok, err := svc.Issue(ctx, ownerID(1), time.Hour, "", domain.OTPPayload{VerificationCode: "0427"})
	require.NoError(t, err)

	got, err := svc.VerifyContinuation(ctx, tok.Code, testIP, "9999")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, ledger.get(tok.Code).FailedAttempts)
	assert.Nil(t, ledger.get(tok.Code).ConsumedAt, "a single mismatch leaves the code usable")

	got, err = svc.VerifyContinuation(ctx, tok.Code, testIP, "0427")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.KindOTP, got.Kind)

	got, err = svc.VerifyContinuation(ctx, tok.Code, testIP, "0427")
	require.NoError(t, err)
	assert.Nil(t, got, "otp is single use")
}

func TestVerifyContinuation_OTPBurnsAfterMaxAttempts(t *testing.T) {
	svc, ledger, _ := newTestTokenService()
	ctx := context.Background()

	tok, err := svc.Issue(ctx, ownerID(1), time.Hour, "", domain.OTPPayload{VerificationCode: "0427"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := svc.VerifyContinuation(ctx, tok.Code, testIP, "1111")
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.NotNil(t, ledger.get(tok.Code).ConsumedAt)

	got, err := svc.VerifyContinuation(ctx, tok.Code, testIP, "0427")
	require.NoError(t, err)
	assert.Nil(t, got, "burned otp cannot be redeemed with the right digits")
}

func TestVerifyContinuation_RefreshNeedsNoCompanion(t *testing.T) {
	svc, _, _ := newTestTokenService()
	ctx := context.Background()

	tok, err := svc.Issue(ctx, ownerID(1), time.Hour, "", domain.RefreshPayload{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		got, err := svc.VerifyContinuation(ctx, tok.Code, testIP, "")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.KindRefresh, got.Kind)
	}
}

// ============================================================================
// Sweep Tests
// ============================================================================

func TestSweep_DeletesRowsPastRetention(t *testing.T) {
	svc, ledger, clock := newTestTokenService()
	ctx := context.Background()

	old, err := svc.Issue(ctx, nil, time.Minute, "", domain.RefreshPayload{})
	require.NoError(t, err)
	fresh, err := svc.Issue(ctx, nil, 48*time.Hour, "", domain.RefreshPayload{})
	require.NoError(t, err)

	*clock = testNow.Add(25 * time.Hour)
	n, err := svc.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, int64(1), n)
	assert.Nil(t, ledger.get(old.Code))
	assert.NotNil(t, ledger.get(fresh.Code))
}
