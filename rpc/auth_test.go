package rpc

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"homeescrow/crypto"
)

func newAuthRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthenticateAcceptsIssuedToken(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testJWTSecret, Issuer: "rpc-tests", Audience: "listing"}, nil)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	token, err := IssueToken([]byte(testJWTSecret), testBuyer, "rpc-tests", "listing", []string{ScopeAdmin, "read"}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	caller, rpcErr := auth.Authenticate(newAuthRequest(token))
	if rpcErr != nil {
		t.Fatalf("authenticate: %+v", rpcErr)
	}
	if caller.Address != testBuyer {
		t.Fatalf("unexpected caller %s", caller)
	}
	if !caller.HasScope(ScopeAdmin) || !caller.HasScope("read") {
		t.Fatalf("expected scopes, got %v", caller.Scopes)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testJWTSecret, Issuer: "rpc-tests", Audience: "listing"}, nil)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	wrongAudience, _ := IssueToken([]byte(testJWTSecret), testBuyer, "rpc-tests", "other", nil, time.Minute)
	wrongIssuer, _ := IssueToken([]byte(testJWTSecret), testBuyer, "someone", "listing", nil, time.Minute)
	expired, _ := IssueToken([]byte(testJWTSecret), testBuyer, "rpc-tests", "listing", nil, -time.Hour)

	cases := map[string]string{
		"missing":        "",
		"garbage":        "not-a-jwt",
		"wrong audience": wrongAudience,
		"wrong issuer":   wrongIssuer,
		"expired":        expired,
	}
	for name, token := range cases {
		if _, rpcErr := auth.Authenticate(newAuthRequest(token)); rpcErr == nil || rpcErr.Code != codeUnauthorized {
			t.Fatalf("%s: expected unauthorized, got %+v", name, rpcErr)
		}
	}
}

func TestAuthenticateDisabledUsesCallerHeader(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{}, nil)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	req := newAuthRequest("")
	if _, rpcErr := auth.Authenticate(req); rpcErr == nil {
		t.Fatalf("expected missing header to fail")
	}
	req.Header.Set(HeaderCaller, crypto.FormatAddress(testSeller))
	caller, rpcErr := auth.Authenticate(req)
	if rpcErr != nil {
		t.Fatalf("authenticate: %+v", rpcErr)
	}
	if caller.Address != testSeller || !caller.HasScope(ScopeAdmin) {
		t.Fatalf("unexpected caller %+v", caller)
	}
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	if _, err := NewAuthenticator(AuthConfig{Enabled: true}, nil); err == nil {
		t.Fatalf("expected error without secret")
	}
	if _, err := IssueToken(nil, testSeller, "", "", nil, time.Minute); err == nil {
		t.Fatalf("expected error issuing without secret")
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}, false, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }

	if !limiter.allow("10.0.0.1") {
		t.Fatalf("first request should pass")
	}
	if limiter.allow("10.0.0.1") {
		t.Fatalf("second request should be throttled")
	}
	if !limiter.allow("10.0.0.2") {
		t.Fatalf("other sources keep their own budget")
	}
	now = now.Add(1500 * time.Millisecond)
	if !limiter.allow("10.0.0.1") {
		t.Fatalf("bucket should refill")
	}
}

func TestAuthenticateRejectsOtherAlgorithms(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testJWTSecret}, nil)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	claims := callerClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: crypto.FormatAddress(testBuyer)}}
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, rpcErr := auth.Authenticate(newAuthRequest(hs512)); rpcErr == nil {
		t.Fatalf("expected HS512 token to be rejected")
	}
	req := newAuthRequest("")
	req.Header.Set("Authorization", "Basic abc")
	if _, rpcErr := auth.Authenticate(req); rpcErr == nil {
		t.Fatalf("expected non-bearer scheme to be rejected")
	}
}
