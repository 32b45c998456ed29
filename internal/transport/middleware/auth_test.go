package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"venue-sync-engine/internal/repository/memory"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestGenerateAndValidateJWT(t *testing.T) {
	require := require.New(t)
	m := NewAuthMiddleware(memory.NewStore().Integrations(), "test-secret")

	token, err := m.GenerateJWT("user-1", "admin")
	require.NoError(err)
	require.NotEmpty(token)

	claims, err := m.validateJWT(token)
	require.NoError(err)
	require.Equal("user-1", claims["user_id"])
	require.Equal("admin", claims["role"])

	// Токен подписан другим секретом - отклоняется
	other := NewAuthMiddleware(memory.NewStore().Integrations(), "other-secret")
	_, err = other.validateJWT(token)
	require.Error(err)
}

func TestRequireAuth(t *testing.T) {
	require := require.New(t)
	m := NewAuthMiddleware(memory.NewStore().Integrations(), "test-secret")
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(m.RequireAuth(okHandler)(c))
	require.Equal(http.StatusUnauthorized, rec.Code)

	token, err := m.GenerateJWT("user-1", "admin")
	require.NoError(err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	require.NoError(m.RequireAuth(okHandler)(c))
	require.Equal(http.StatusOK, rec.Code)
	require.Equal("user-1", c.Get("user_id"))
}

func TestPasswordHashing(t *testing.T) {
	require := require.New(t)

	hash, err := HashPassword("hunter2")
	require.NoError(err)
	require.True(CheckPassword("hunter2", hash))
	require.False(CheckPassword("wrong", hash))
}

func TestHashAPIKeyDeterministic(t *testing.T) {
	require := require.New(t)

	require.Equal(HashAPIKey("key-1"), HashAPIKey("key-1"))
	require.NotEqual(HashAPIKey("key-1"), HashAPIKey("key-2"))
	require.Len(HashAPIKey("key-1"), 64)
}
