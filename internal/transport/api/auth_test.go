package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"venue-sync-engine/internal/domain"
	"venue-sync-engine/internal/repository/memory"
	"venue-sync-engine/internal/transport/middleware"
)

func newAuthFixture(t *testing.T) (*memory.Store, *AuthAPI) {
	t.Helper()

	store := memory.NewStore()
	hash, err := middleware.HashPassword("hunter2")
	require.NoError(t, err)
	store.AddUser(&domain.User{
		ID:           "user-1",
		Email:        "operator@example.com",
		PasswordHash: hash,
		Role:         "admin",
	})

	authMiddleware := middleware.NewAuthMiddleware(store.Integrations(), "test-secret")
	return store, NewAuthAPI(store.Integrations(), authMiddleware)
}

func TestLogin(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	_, authAPI := newAuthFixture(t)

	req, rec := f.request(http.MethodPost, "/api/v1/auth/login",
		`{"email":"operator@example.com","password":"hunter2"}`)
	c := f.echo.NewContext(req, rec)

	require.NoError(authAPI.Login(c))
	require.Equal(http.StatusOK, rec.Code)

	var resp LoginResponse
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(resp.Token)
	require.Equal("user-1", resp.User.ID)
	require.Equal("admin", resp.User.Role)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	_, authAPI := newAuthFixture(t)

	req, rec := f.request(http.MethodPost, "/api/v1/auth/login",
		`{"email":"operator@example.com","password":"wrong"}`)
	c := f.echo.NewContext(req, rec)
	require.NoError(authAPI.Login(c))
	require.Equal(http.StatusUnauthorized, rec.Code)

	req, rec = f.request(http.MethodPost, "/api/v1/auth/login",
		`{"email":"nobody@example.com","password":"hunter2"}`)
	c = f.echo.NewContext(req, rec)
	require.NoError(authAPI.Login(c))
	require.Equal(http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	_, authAPI := newAuthFixture(t)

	req, rec := f.request(http.MethodGet, "/api/v1/me", "")
	c := f.echo.NewContext(req, rec)
	c.Set("user_id", "user-1")

	require.NoError(authAPI.Me(c))
	require.Equal(http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal("operator@example.com", resp["email"])
}
