// Package auth resolves bearer tokens to user identities.
package auth

import (
	"net/http"
	"strings"
	"sync"

	apperrors "github.com/shelfmark/shelfmark/backend/internal/errors"
)

// Verifier turns a bearer token into a user id. Implementations must be
// safe for concurrent use.
type Verifier interface {
	Verify(token string) (userID string, err error)
}

// StaticVerifier checks tokens against a fixed token->user table. Used
// for development and tests; production wires a real identity provider.
type StaticVerifier struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewStaticVerifier creates a verifier over the given token->user map.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	cp := make(map[string]string, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &StaticVerifier{tokens: cp}
}

// Verify resolves a token to its user id.
func (v *StaticVerifier) Verify(token string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	userID, ok := v.tokens[token]
	if !ok {
		return "", apperrors.New(apperrors.ErrSyncUnauthorized, "invalid or expired token")
	}
	return userID, nil
}

// AddToken registers a token at runtime. Tests use this.
func (v *StaticVerifier) AddToken(token, userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = userID
}

// FromRequest extracts and verifies the bearer token on an HTTP
// request. Also accepts the token query parameter for WebSocket
// clients, which cannot set headers from the browser.
func FromRequest(r *http.Request, verifier Verifier) (string, error) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else if q := r.URL.Query().Get("token"); q != "" {
		token = q
	}
	if token == "" {
		return "", apperrors.New(apperrors.ErrSyncUnauthorized, "missing bearer token")
	}
	return verifier.Verify(token)
}
