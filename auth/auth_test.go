package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"negotiation-hub/errors"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func TestHashAndCompare(t *testing.T) {
	req := require.New(t)
	password := "An0perator-Passphrase!"

	hash, err := HashPassword(password)
	req.NoError(err)
	req.True(strings.HasPrefix(hash, "$argon2id$"))

	match, err := ComparePassword(password, hash)
	req.NoError(err)
	req.True(match)

	match, err = ComparePassword("wrong-password", hash)
	req.NoError(err)
	req.False(match)

	_, err = ComparePassword(password, "$bcrypt$nope")
	req.ErrorIs(err, ErrInvalidHash)
}

func TestValidateLogin(t *testing.T) {
	tests := []struct {
		name    string
		req     LoginRequest
		wantErr bool
	}{
		{"Valid request", LoginRequest{"ops", "long-enough-password"}, false},
		{"Missing name", LoginRequest{"", "long-enough-password"}, true},
		{"Password too short", LoginRequest{"ops", "short"}, true},
		{"Password too long", LoginRequest{"ops", strings.Repeat("a", 73)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLogin(tt.req)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSigner_RoundTrip(t *testing.T) {
	req := require.New(t)
	signer := NewSigner("test-secret", time.Minute)

	token, err := signer.GenerateToken("A", "requester", "Alice")
	req.NoError(err)

	claims, err := signer.ValidateToken(token)
	req.NoError(err)
	req.Equal("A", claims.UserID)
	req.Equal("requester", claims.Role)
	req.Equal("Alice", claims.Name)
}

func TestSigner_Rejects(t *testing.T) {
	req := require.New(t)
	signer := NewSigner("test-secret", time.Minute)

	other, err := NewSigner("other-secret", time.Minute).GenerateToken("A", "worker", "")
	req.NoError(err)
	_, err = signer.ValidateToken(other)
	req.ErrorIs(err, errors.ErrInvalidToken)

	expired, err := NewSigner("test-secret", -time.Minute).GenerateToken("A", "worker", "")
	req.NoError(err)
	_, err = signer.ValidateToken(expired)
	req.ErrorIs(err, errors.ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	req := require.New(t)
	signer := NewSigner("test-secret", time.Minute)
	e := echo.New()
	e.GET("/admin", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get(UserIDKey).(string))
	}, Middleware(signer), RequireRoles(RoleOperator))

	send := func(token string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if token != "" {
			r.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, r)
		return rec
	}

	req.Equal(http.StatusUnauthorized, send("").Code)
	req.Equal(http.StatusUnauthorized, send("garbage").Code)

	worker, err := signer.GenerateToken("W", "worker", "")
	req.NoError(err)
	req.Equal(http.StatusForbidden, send(worker).Code)

	operator, err := signer.GenerateToken("ops", RoleOperator, "")
	req.NoError(err)
	rec := send(operator)
	req.Equal(http.StatusOK, rec.Code)
	req.Equal("ops", rec.Body.String())
}
