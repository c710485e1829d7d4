package rpc

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"homeescrow/crypto"
	"homeescrow/observability/logging"
)

// ScopeAdmin grants access to the operator methods.
const ScopeAdmin = "admin"

// HeaderCaller names the caller when authentication is disabled.
const HeaderCaller = "X-Home-Caller"

// AuthConfig configures bearer-token authentication. Tokens are HS256 JWTs
// whose subject is the caller's bech32 address.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// Caller is the authenticated identity of a request.
type Caller struct {
	Address [20]byte
	Scopes  []string
}

func (c *Caller) String() string {
	if c == nil {
		return ""
	}
	return crypto.FormatAddress(c.Address)
}

// HasScope reports whether the caller was granted scope.
func (c *Caller) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// callerClaims are the claims carried by a caller token. Scope is a space
// separated list.
type callerClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator resolves the caller of a request.
type Authenticator struct {
	cfg    AuthConfig
	log    *slog.Logger
	secret []byte
	parser *jwt.Parser
}

// NewAuthenticator validates cfg and returns an authenticator.
func NewAuthenticator(cfg AuthConfig, log *slog.Logger) (*Authenticator, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	secret := []byte(strings.TrimSpace(cfg.HMACSecret))
	if cfg.Enabled && len(secret) == 0 {
		return nil, errors.New("rpc: auth enabled without a secret")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithIssuedAt(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Enabled {
		log.Info("rpc authentication enabled", slog.String("secret_fingerprint", logging.Fingerprint(secret)))
	}
	return &Authenticator{cfg: cfg, log: log, secret: secret, parser: jwt.NewParser(opts...)}, nil
}

// Authenticate returns the caller of r. With authentication disabled the
// caller is read from HeaderCaller and carries the admin scope.
func (a *Authenticator) Authenticate(r *http.Request) (*Caller, *RPCError) {
	if !a.cfg.Enabled {
		addr, err := crypto.ParseAddress(strings.TrimSpace(r.Header.Get(HeaderCaller)))
		if err != nil || addr == ([20]byte{}) {
			return nil, &RPCError{Code: codeUnauthorized, Message: "missing or invalid " + HeaderCaller + " header"}
		}
		return &Caller{Address: addr, Scopes: []string{ScopeAdmin}}, nil
	}
	scheme, raw, _ := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	raw = strings.TrimSpace(raw)
	if !strings.EqualFold(scheme, "Bearer") || raw == "" {
		return nil, &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	var claims callerClaims
	if _, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		a.log.Warn("rpc token rejected", slog.Any("error", err))
		return nil, &RPCError{Code: codeUnauthorized, Message: "invalid token"}
	}
	addr, err := crypto.ParseAddress(claims.Subject)
	if err != nil || addr == ([20]byte{}) {
		return nil, &RPCError{Code: codeUnauthorized, Message: "token subject is not an address"}
	}
	return &Caller{Address: addr, Scopes: strings.Fields(claims.Scope)}, nil
}

// IssueToken mints an HS256 token for addr. A negative ttl yields an already
// expired token; zero omits the expiry.
func IssueToken(secret []byte, addr [20]byte, issuer, audience string, scopes []string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("rpc: token secret required")
	}
	if addr == ([20]byte{}) {
		return "", errors.New("rpc: token subject required")
	}
	now := time.Now()
	claims := callerClaims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  crypto.FormatAddress(addr),
			Issuer:   issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("rpc: sign token: %w", err)
	}
	return signed, nil
}
