package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// ProcessKind tags which flow a ledger token belongs to. A token is only
// redeemable by a call site asking for its kind.
type ProcessKind string

const (
	KindRefresh                   ProcessKind = "REFRESH_TOKEN"
	KindOTP                       ProcessKind = "OTP_2STEP"
	KindExternalOAuthData         ProcessKind = "EXTERNAL_OAUTH_DATA"
	KindExternalOAuthRedirect     ProcessKind = "EXTERNAL_OAUTH_REDIRECT"
	KindForgetPassword            ProcessKind = "FORGET_PASSWORD"
	KindOAuthUserInfo             ProcessKind = "OAUTH_USER_INFO"
	KindResetPasswordFromUserInfo ProcessKind = "RESET_PASSWORD_FROM_USER_INFO"
)

// AllKinds lists every process kind.
var AllKinds = []ProcessKind{
	KindRefresh,
	KindOTP,
	KindExternalOAuthData,
	KindExternalOAuthRedirect,
	KindForgetPassword,
	KindOAuthUserInfo,
	KindResetPasswordFromUserInfo,
}

// Valid reports whether k is a known kind.
func (k ProcessKind) Valid() bool {
	return slices.Contains(AllKinds, k)
}

// SingleUse reports whether a successful verification consumes the token.
// Refresh tokens represent a session and user-info codes may be read by more
// than one backend of the relying client, so both stay valid until expiry.
func (k ProcessKind) SingleUse() bool {
	switch k {
	case KindRefresh, KindOAuthUserInfo:
		return false
	default:
		return true
	}
}

// BindsIP reports whether tokens of this kind are bound to the requester IP.
// Password reset links are; everything presented by servers, by another
// browser hop or across client network changes is not.
func (k ProcessKind) BindsIP() bool {
	return k == KindForgetPassword || k == KindResetPasswordFromUserInfo
}

// Payload is the kind-specific state carried by a token.
type Payload interface {
	Kind() ProcessKind
}

type (
	RefreshPayload struct{}

	OTPPayload struct {
		VerificationCode       string `json:"verificationCode"`
		ResetPasswordOnSuccess bool   `json:"resetPasswordOnSuccess"`
	}

	ExternalOAuthDataPayload struct {
		ProjectID   int64  `json:"projectId"`
		RedirectURL string `json:"redirectUrl"`
		OriginIP    string `json:"originIp"`
		Provider    string `json:"provider"`
	}

	ExternalOAuthRedirectPayload struct {
		AuthorizationURL string `json:"url"`
	}

	ForgetPasswordPayload struct{}

	UserInfoPayload struct {
		AccountID int64 `json:"userId"`
	}

	ResetFromUserInfoPayload struct{}
)

func (RefreshPayload) Kind() ProcessKind               { return KindRefresh }
func (OTPPayload) Kind() ProcessKind                   { return KindOTP }
func (ExternalOAuthDataPayload) Kind() ProcessKind     { return KindExternalOAuthData }
func (ExternalOAuthRedirectPayload) Kind() ProcessKind { return KindExternalOAuthRedirect }
func (ForgetPasswordPayload) Kind() ProcessKind        { return KindForgetPassword }
func (UserInfoPayload) Kind() ProcessKind              { return KindOAuthUserInfo }
func (ResetFromUserInfoPayload) Kind() ProcessKind     { return KindResetPasswordFromUserInfo }

// EncodePayload serializes p for storage.
func EncodePayload(p Payload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Kind(), err)
	}
	return raw, nil
}

// DecodePayload rebuilds the payload variant stored for kind. A nil or empty
// raw value decodes to the zero payload of that kind.
func DecodePayload(kind ProcessKind, raw []byte) (Payload, error) {
	var p Payload
	switch kind {
	case KindRefresh:
		p = &RefreshPayload{}
	case KindOTP:
		p = &OTPPayload{}
	case KindExternalOAuthData:
		p = &ExternalOAuthDataPayload{}
	case KindExternalOAuthRedirect:
		p = &ExternalOAuthRedirectPayload{}
	case KindForgetPassword:
		p = &ForgetPasswordPayload{}
	case KindOAuthUserInfo:
		p = &UserInfoPayload{}
	case KindResetPasswordFromUserInfo:
		p = &ResetFromUserInfoPayload{}
	default:
		return nil, fmt.Errorf("decode payload: unknown process kind %q", kind)
	}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
	}
	return deref(p), nil
}

// deref returns payload variants by value so type switches match on T, not *T.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *RefreshPayload:
		return *v
	case *OTPPayload:
		return *v
	case *ExternalOAuthDataPayload:
		return *v
	case *ExternalOAuthRedirectPayload:
		return *v
	case *ForgetPasswordPayload:
		return *v
	case *UserInfoPayload:
		return *v
	case *ResetFromUserInfoPayload:
		return *v
	}
	return p
}

// Token is one ledger record.
type Token struct {
	Code           string
	OwnerID        *int64
	Kind           ProcessKind
	IssuedAt       time.Time
	ExpiresAt      time.Time
	BoundIP        string // empty when unbound
	Payload        Payload
	ConsumedAt     *time.Time
	FailedAttempts int
}

// Redeemable reports whether the token may be verified at now by a request
// from ip asking for one of kinds. It mirrors the guard the ledger applies in
// SQL.
func (t *Token) Redeemable(now time.Time, ip string, kinds ...ProcessKind) bool {
	if t.ConsumedAt != nil {
		return false
	}
	if now.After(t.ExpiresAt) {
		return false
	}
	if t.BoundIP != "" && t.BoundIP != ip {
		return false
	}
	return slices.Contains(kinds, t.Kind)
}

// Owner returns the owning account id, or 0 when the token has none.
func (t *Token) Owner() int64 {
	if t.OwnerID == nil {
		return 0
	}
	return *t.OwnerID
}
