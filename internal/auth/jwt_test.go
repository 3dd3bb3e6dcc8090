package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestGenerateToken(t *testing.T) {
	signed, expiresAt, err := GenerateToken("operator", "test-secret", time.Hour)
	assert.NoError(t, err)
	assert.NotEmpty(t, signed)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	token, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	assert.NoError(t, err)
	assert.True(t, token.Valid)

	claims, ok := token.Claims.(jwt.MapClaims)
	assert.True(t, ok)
	assert.Equal(t, "operator", claims[claimSubject])
	assert.Equal(t, "operator", claims[claimUserID])
}

func TestGenerateToken_Validation(t *testing.T) {
	_, _, err := GenerateToken("", "secret", time.Hour)
	assert.Error(t, err)
	_, _, err = GenerateToken("operator", "", time.Hour)
	assert.Error(t, err)
	_, _, err = GenerateToken("operator", "secret", 0)
	assert.Error(t, err)
}

func TestRefreshTokenFromContext(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	secret := "test-secret"
	userID := "operator"

	// The refreshed token must inherit the 5-minute lifespan, not the default.
	initialTokenStr, _, err := GenerateToken(userID, secret, 5*time.Minute)
	assert.NoError(t, err)

	token, err := jwt.Parse(initialTokenStr, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	assert.NoError(t, err)
	c.Set("user", token)

	time.Sleep(1 * time.Second)

	newTokenStr, newExpiresAt, err := RefreshTokenFromContext(c, secret, time.Hour)
	assert.NoError(t, err)
	assert.NotEmpty(t, newTokenStr)

	originalClaims, ok := token.Claims.(jwt.MapClaims)
	assert.True(t, ok)
	origIat := int64(originalClaims["iat"].(float64))
	origExp := int64(originalClaims["exp"].(float64))

	newToken, err := jwt.Parse(newTokenStr, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	assert.NoError(t, err)
	assert.True(t, newToken.Valid)

	newClaims, ok := newToken.Claims.(jwt.MapClaims)
	assert.True(t, ok)
	assert.Equal(t, userID, newClaims[claimSubject])
	assert.Equal(t, userID, newClaims[claimUserID])

	newIat := int64(newClaims["iat"].(float64))
	newExp := int64(newClaims["exp"].(float64))
	assert.Greater(t, newIat, origIat)
	assert.Equal(t, origExp-origIat, newExp-newIat)
	assert.Equal(t, int64(5*60), newExp-newIat)
	assert.Equal(t, newExpiresAt.Unix(), newExp)
}

func TestRefreshTokenFromContext_MissingUser(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_, _, err := RefreshTokenFromContext(c, "test-secret", time.Hour)
	assert.Error(t, err)

	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
	assert.Equal(t, "invalid token", httpErr.Message)
}
