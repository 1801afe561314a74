package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aziende/editorbridge/pkg/middleware"
)

// insecureToken is a minimal token that exposes claims parsed from a JWT payload.
type insecureToken struct {
	claims map[string]interface{}
}

func (t *insecureToken) Claims(v interface{}) error {
	b, err := json.Marshal(t.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// InsecureVerifier decodes a JWT payload WITHOUT checking its signature.
// Expired tokens are still refused. Only for local/integration tests.
type InsecureVerifier struct {
	now func() time.Time
}

func NewInsecureVerifier() *InsecureVerifier { return &InsecureVerifier{now: time.Now} }

func (v *InsecureVerifier) Verify(_ context.Context, raw string) (middleware.Token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) < 2 {
		return nil, errors.New("invalid token format")
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	if exp, ok := claims["exp"].(float64); ok && v.now().After(time.Unix(int64(exp), 0)) {
		return nil, errors.New("token expired")
	}
	return &insecureToken{claims: claims}, nil
}
