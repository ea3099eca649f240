package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"

	"scheduleChat/pkg/middleware"
)

type verifier struct{}

func (verifier) VerifyIDToken(_ context.Context, token string) (*auth.Token, error) {
	if token != "good" {
		return nil, errors.New("invalid token")
	}
	return &auth.Token{UID: "u1"}, nil
}

func serve(req *http.Request) (*httptest.ResponseRecorder, string) {
	var uid string
	handler := middleware.Authenticator(verifier{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, _ = middleware.UID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, uid
}

func TestAuthenticatorAcceptsBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer good")

	rr, uid := serve(req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "u1", uid)
}

func TestAuthenticatorAcceptsQueryToken(t *testing.T) {
	rr, uid := serve(httptest.NewRequest(http.MethodGet, "/auth/me?token=good", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "u1", uid)
}

func TestAuthenticatorRejects(t *testing.T) {
	missing := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	invalid := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	invalid.Header.Set("Authorization", "Bearer forged")

	for _, req := range []*http.Request{missing, invalid} {
		rr, uid := serve(req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Empty(t, uid)
	}
}

func TestUIDWithoutAuthentication(t *testing.T) {
	_, ok := middleware.UID(context.Background())
	assert.False(t, ok)

	uid, ok := middleware.UID(middleware.WithUID(context.Background(), "u9"))
	assert.True(t, ok)
	assert.Equal(t, "u9", uid)
}
