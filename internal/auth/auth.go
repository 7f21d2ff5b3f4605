// Package auth verifies and mints the HS256 bearer tokens that authenticate
// REST and WebSocket requests. Claims carry the tenant the bearer belongs
// to, so every downstream tenant-isolation check has a trusted TenantID to
// compare against.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stormstack/platform/internal/errs"
	"stormstack/platform/internal/id"
)

const defaultTokenTTL = time.Hour

// Claims is the token payload: the registered claims plus the tenant and
// role set every handler needs to authorize a request.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// Principal is the authenticated identity recovered from a verified token.
type Principal struct {
	UserID   id.UserID
	TenantID id.TenantID
	Roles    []string
}

// HasRole reports whether p carries role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Verifier checks bearer tokens signed with a shared HS256 secret.
type Verifier struct {
	secret []byte
}

// NewVerifier constructs a Verifier over secret. secret should be at least
// 32 bytes; neither this constructor nor config.Load checks its length.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates tokenStr, returning the authenticated
// Principal or a classified error.
func (v *Verifier) Verify(tokenStr string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.Newf(errs.KindInvalidToken, "unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errs.Wrap(errs.KindExpiredToken, "token expired", err)
		}
		return nil, errs.Wrap(errs.KindInvalidToken, "token rejected", err)
	}
	if !token.Valid {
		return nil, errs.New(errs.KindInvalidToken, "token failed validation")
	}

	userID, err := id.ParseUserID(claims.Subject)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidToken, "token subject is not a valid user id", err)
	}
	tenantID, err := id.ParseTenantID(claims.TenantID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidToken, "token tenant_id is not a valid tenant id", err)
	}

	return &Principal{UserID: userID, TenantID: tenantID, Roles: claims.Roles}, nil
}

// Issuer mints bearer tokens for the OAuth2 token endpoint's grant flows.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer constructs an Issuer over secret with the default token TTL.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: defaultTokenTTL, now: time.Now}
}

// WithTTL overrides the minted token's lifetime.
func (i *Issuer) WithTTL(ttl time.Duration) *Issuer {
	i.ttl = ttl
	return i
}

// Issue mints a signed bearer token for userID/tenantID/roles.
func (i *Issuer) Issue(userID id.UserID, tenantID id.TenantID, roles []string) (string, error) {
	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		TenantID: tenantID.String(),
		Roles:    roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, "failed to sign token", err)
	}
	return signed, nil
}
