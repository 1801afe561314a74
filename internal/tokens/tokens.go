package tokens

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Operations an Edit Session Token may grant.
const (
	OpRead  = "read"
	OpWrite = "write"
)

var (
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = fmt.Errorf("%w: token expired", ErrInvalidSignature)
	ErrDocumentMismatch = fmt.Errorf("%w: token issued for another document", ErrInvalidSignature)
	ErrOperationDenied  = errors.New("operation not granted by token")
	ErrNoSigningKey     = errors.New("no signing key configured")
)

// Claims is the payload of an Edit Session Token. The envelope version is
// carried in the JWT "kid" header and selects the verification secret.
type Claims struct {
	DocumentID string   `json:"doc"`
	Tenant     string   `json:"azienda,omitempty"`
	Ops        []string `json:"ops"`
	jwt.RegisteredClaims
}

// Allows reports whether op was granted.
func (c *Claims) Allows(op string) bool {
	return slices.Contains(c.Ops, op)
}

// Keyring maps envelope versions to HMAC secrets. New tokens are always
// signed with the current version; older versions still verify until they
// are dropped from the ring.
type Keyring struct {
	current string
	secrets map[string][]byte
}

func NewKeyring(current, secret string, previous map[string]string) *Keyring {
	k := &Keyring{current: current, secrets: map[string][]byte{}}
	for ver, s := range previous {
		k.secrets[ver] = []byte(s)
	}
	if secret != "" {
		k.secrets[current] = []byte(secret)
	}
	return k
}

func (k *Keyring) lookup(ver string) ([]byte, bool) {
	s, ok := k.secrets[ver]
	return s, ok && len(s) > 0
}

// Issuer mints and verifies Edit Session Tokens.
type Issuer struct {
	keys *Keyring
	now  func() time.Time
}

type Option func(*Issuer)

// WithClock overrides the time source used for iat/exp.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(keys *Keyring, opts ...Option) *Issuer {
	i := &Issuer{keys: keys, now: time.Now}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Issue signs c with the current key version and an expiry ttl from now.
func (i *Issuer) Issue(c Claims, ttl time.Duration) (string, time.Time, error) {
	secret, ok := i.keys.lookup(i.keys.current)
	if !ok {
		return "", time.Time{}, ErrNoSigningKey
	}
	now := i.now()
	exp := now.Add(ttl)
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(exp)
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	jt.Header["kid"] = i.keys.current
	s, err := jt.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return s, c.ExpiresAt.Time, nil
}

// Verify checks signature, expiry, document binding and the granted
// operation. Every signature, expiry or binding failure is an
// ErrInvalidSignature; more specific causes are ErrExpired and
// ErrDocumentMismatch.
func (i *Issuer) Verify(raw, documentID, op string) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		ver, _ := t.Header["kid"].(string)
		secret, ok := i.keys.lookup(ver)
		if !ok {
			return nil, fmt.Errorf("unknown key version %q", ver)
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if c.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrInvalidSignature)
	}
	if c.DocumentID == "" || c.DocumentID != documentID {
		return nil, ErrDocumentMismatch
	}
	if op != "" && !c.Allows(op) {
		return nil, ErrOperationDenied
	}
	return &c, nil
}
