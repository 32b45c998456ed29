package api

import (
	"github.com/labstack/echo/v4"

	"venue-sync-engine/internal/provider"
	"venue-sync-engine/internal/repository/interface"
	"venue-sync-engine/internal/service/health"
	"venue-sync-engine/internal/service/oauth"
	"venue-sync-engine/internal/service/queue"
	"venue-sync-engine/internal/service/vault"
	"venue-sync-engine/internal/transport/middleware"
)

// SetupRoutes настраивает маршруты API
func SetupRoutes(
	e *echo.Echo,
	repo _interface.IntegrationRepository,
	v *vault.Vault,
	queueSvc *queue.Service,
	healthMon *health.Monitor,
	oauthMgr *oauth.Manager,
	providers *provider.Registry,
	authMiddleware *middleware.AuthMiddleware,
) {
	integrationAPI := NewIntegrationAPI(repo, v, queueSvc, healthMon, providers)
	oauthAPI := NewOAuthAPI(oauthMgr)
	webhookAPI := NewWebhookAPI(providers, queueSvc)
	authAPI := NewAuthAPI(repo, authMiddleware)

	// Публичные маршруты: сюда ходят внешние сервисы
	e.GET("/oauth/:type/callback", oauthAPI.Callback)
	e.POST("/webhook/:venue/:type", webhookAPI.Handle)

	apiGroup := e.Group("/api/v1")
	apiGroup.POST("/auth/login", authAPI.Login)

	// Защищенные маршруты (требуют JWT)
	protected := apiGroup.Group("")
	protected.Use(authMiddleware.RequireAuth)

	protected.GET("/me", authAPI.Me)

	protected.POST("/integrations/connect", integrationAPI.Connect)
	protected.GET("/venues/:venue/integrations", integrationAPI.List)
	protected.GET("/venues/:venue/integrations/:type", integrationAPI.Get)
	protected.DELETE("/venues/:venue/integrations/:type", integrationAPI.Disconnect)
	protected.POST("/venues/:venue/integrations/:type/sync", integrationAPI.SyncNow)
	protected.GET("/venues/:venue/integrations/:type/health", integrationAPI.Health)
	protected.GET("/venues/:venue/tasks", integrationAPI.Tasks)
	protected.GET("/tasks/:id", integrationAPI.Task)

	protected.POST("/oauth/:type/initiate", oauthAPI.Initiate)

	// Машинный доступ по API ключу, только чтение
	apiKeyGroup := apiGroup.Group("/service")
	apiKeyGroup.Use(authMiddleware.RequireAPIKey)
	apiKeyGroup.GET("/venues/:venue/integrations", integrationAPI.List)
	apiKeyGroup.GET("/venues/:venue/integrations/:type", integrationAPI.Get)
	apiKeyGroup.GET("/venues/:venue/integrations/:type/health", integrationAPI.Health)
}
