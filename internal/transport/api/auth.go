package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"venue-sync-engine/internal/repository/interface"
	"venue-sync-engine/internal/transport/middleware"
)

// AuthAPI - ручки аутентификации операторов
type AuthAPI struct {
	repo _interface.IntegrationRepository
	auth *middleware.AuthMiddleware
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
}

// NewAuthAPI создает API аутентификации
func NewAuthAPI(repo _interface.IntegrationRepository, auth *middleware.AuthMiddleware) *AuthAPI {
	return &AuthAPI{
		repo: repo,
		auth: auth,
	}
}

func (a *AuthAPI) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	// Ищем пользователя
	user, err := a.repo.FindUserByEmail(c.Request().Context(), req.Email)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	}

	// Проверяем пароль
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	}

	tokenString, err := a.auth.GenerateJWT(user.ID, user.Role)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to generate token"})
	}

	response := LoginResponse{Token: tokenString}
	response.User.ID = user.ID
	response.User.Email = user.Email
	response.User.Role = user.Role

	return c.JSON(http.StatusOK, response)
}

func (a *AuthAPI) Me(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)

	user, err := a.repo.FindUserByID(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "user not found"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":    user.ID,
		"email": user.Email,
		"role":  user.Role,
	})
}
