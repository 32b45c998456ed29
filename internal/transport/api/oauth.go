package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"venue-sync-engine/internal/domain"
	"venue-sync-engine/internal/service/oauth"
)

// OAuthAPI - ручки OAuth авторизации интеграций
type OAuthAPI struct {
	manager *oauth.Manager
}

// NewOAuthAPI создает OAuth API
func NewOAuthAPI(manager *oauth.Manager) *OAuthAPI {
	return &OAuthAPI{manager: manager}
}

// InitiateRequest - запрос на начало OAuth авторизации
type InitiateRequest struct {
	VenueID string `json:"venue_id"`
}

// Initiate начинает авторизацию и возвращает URL внешнего сервиса
func (api *OAuthAPI) Initiate(c echo.Context) error {
	t := domain.IntegrationType(c.Param("type"))

	var req InitiateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.VenueID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "venue_id is required"})
	}

	userID, _ := c.Get("user_id").(string)

	url, err := api.manager.Initiate(c.Request().Context(), req.VenueID, t, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "integration does not support oauth"})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]string{"authorization_url": url})
}

// Callback завершает авторизацию по редиректу от внешнего сервиса
// Публичный маршрут: сюда приходит сам провайдер
func (api *OAuthAPI) Callback(c echo.Context) error {
	t := domain.IntegrationType(c.Param("type"))
	code := c.QueryParam("code")
	state := c.QueryParam("state")

	if code == "" || state == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "code and state are required"})
	}

	result, err := api.manager.HandleCallback(c.Request().Context(), t, code, state)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidState):
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid state"})
		case errors.Is(err, domain.ErrExpiredState):
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "expired state"})
		default:
			var exchangeErr *domain.ExchangeError
			if errors.As(err, &exchangeErr) {
				return c.JSON(http.StatusBadGateway, map[string]string{"error": "token exchange failed"})
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.JSON(http.StatusOK, result)
}
