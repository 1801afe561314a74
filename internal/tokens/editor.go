package tokens

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// EditorJWT signs configuration handed to the external editor and verifies
// the JWTs the editor server attaches to its callbacks, using the secret
// shared with that server.
type EditorJWT struct {
	secret []byte
}

func NewEditorJWT(secret string) *EditorJWT {
	return &EditorJWT{secret: []byte(secret)}
}

// Sign returns v (any JSON-encodable value) as a signed HS256 JWT.
func (e *EditorJWT) Sign(v any) (string, error) {
	if len(e.secret) == 0 {
		return "", ErrNoSigningKey
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal editor claims: %w", err)
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(b, &claims); err != nil {
		return "", fmt.Errorf("editor claims must be a JSON object: %w", err)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.secret)
}

// Verify checks raw and decodes its claims into into. The editor wraps the
// callback body in a "payload" claim when the token travels in a header;
// both shapes are accepted.
func (e *EditorJWT) Verify(raw string, into any) error {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return fmt.Errorf("%w: missing editor token", ErrInvalidSignature)
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return e.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	var body any = map[string]interface{}(claims)
	if p, ok := claims["payload"].(map[string]interface{}); ok {
		body = p
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := json.Unmarshal(b, into); err != nil {
		return fmt.Errorf("%w: payload shape: %v", ErrInvalidSignature, err)
	}
	return nil
}
