package identity

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// Verifier validates ID tokens and extracts the caller's phone number.
type Verifier struct {
	jwks     *keyfunc.JWKS
	secret   []byte
	audience string
	issuer   string

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
	now         func() time.Time
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewJWKSVerifier verifies RS256 tokens issued by an external phone auth
// provider against its published key set. Keys are cached per kid for
// cacheTTL; zero disables the cache.
func NewJWKSVerifier(jwks *keyfunc.JWKS, audience, issuer string, cacheTTL time.Duration) *Verifier {
	return &Verifier{
		jwks:        jwks,
		audience:    audience,
		issuer:      issuer,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keyCacheTTL: cacheTTL,
		now:         time.Now,
	}
}

// NewLocalVerifier verifies HS256 tokens signed with secret, such as those
// minted by OTPProvider.
func NewLocalVerifier(secret []byte, audience, issuer string) *Verifier {
	return &Verifier{
		secret:   secret,
		audience: audience,
		issuer:   issuer,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
		now:      time.Now,
	}
}

// PhoneNumber validates token and returns its phone_number claim.
func (v *Verifier) PhoneNumber(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	parsed, err := v.parser.Parse(token, v.keyFor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}

	now := v.now()
	if !claims.VerifyExpiresAt(now.Unix(), true) {
		return "", fmt.Errorf("%w: token expired", ErrInvalidToken)
	}
	skewed := now.Add(time.Minute).Unix()
	if !claims.VerifyNotBefore(skewed, false) {
		return "", fmt.Errorf("%w: token not valid yet", ErrInvalidToken)
	}
	if !claims.VerifyIssuedAt(skewed, false) {
		return "", fmt.Errorf("%w: token used before issued", ErrInvalidToken)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return "", fmt.Errorf("%w: invalid audience", ErrInvalidToken)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return "", fmt.Errorf("%w: invalid issuer", ErrInvalidToken)
	}

	phone, _ := claims["phone_number"].(string)
	if phone == "" {
		return "", ErrMissingPhoneClaim
	}
	return phone, nil
}

func (v *Verifier) keyFor(token *jwt.Token) (any, error) {
	if v.secret != nil {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return v.secret, nil
	}
	if v.jwks == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && v.keyCacheTTL > 0 {
		if cached, ok := v.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if v.now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			v.keyCache.Delete(kid)
		}
	}

	key, err := v.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && v.keyCacheTTL > 0 {
		v.keyCache.Store(kid, cachedKey{key: key, expiresAt: v.now().Add(v.keyCacheTTL)})
	}
	return key, nil
}
