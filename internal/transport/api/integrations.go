package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"venue-sync-engine/internal/domain"
	"venue-sync-engine/internal/provider"
	repoInterface "venue-sync-engine/internal/repository/interface"
	"venue-sync-engine/internal/service/health"
	"venue-sync-engine/internal/service/queue"
	"venue-sync-engine/internal/service/vault"
)

// IntegrationAPI - ручки управления интеграциями площадок
type IntegrationAPI struct {
	repo      repoInterface.IntegrationRepository
	vault     *vault.Vault
	queue     *queue.Service
	healthMon *health.Monitor
	providers *provider.Registry
}

// NewIntegrationAPI создает API интеграций
func NewIntegrationAPI(
	repo repoInterface.IntegrationRepository,
	v *vault.Vault,
	q *queue.Service,
	healthMon *health.Monitor,
	providers *provider.Registry,
) *IntegrationAPI {
	return &IntegrationAPI{
		repo:      repo,
		vault:     v,
		queue:     q,
		healthMon: healthMon,
		providers: providers,
	}
}

// ConnectRequest - подключение интеграции по API ключу внешнего сервиса
type ConnectRequest struct {
	VenueID         string            `json:"venue_id"`
	IntegrationType string            `json:"integration_type"`
	Key             string            `json:"key"`
	Secret          string            `json:"secret"`
	Environment     string            `json:"environment"`
	SyncConfig      domain.SyncConfig `json:"sync_config"`
}

// SyncNowRequest - ручной запуск синхронизации
type SyncNowRequest struct {
	Operation      string          `json:"operation"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Priority       string          `json:"priority,omitempty"`
}

// Connect подключает интеграцию с API ключом (не-OAuth сервисы)
func (api *IntegrationAPI) Connect(c echo.Context) error {
	var req ConnectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.VenueID == "" || req.IntegrationType == "" || req.Key == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "venue_id, integration_type and key are required"})
	}

	ctx := c.Request().Context()
	t := domain.IntegrationType(req.IntegrationType)

	if _, err := api.providers.Resolve(t); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown integration type"})
	}

	cfg := &domain.IntegrationConfig{
		VenueID:         req.VenueID,
		IntegrationType: t,
		Status:          domain.StatusConnecting,
		Health:          domain.HealthUnknown,
		SyncConfig:      req.SyncConfig,
	}
	if err := api.repo.Upsert(ctx, cfg); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	secret := &domain.Secret{
		Kind: domain.CredentialAPIKey,
		APIKey: &domain.APIKeySecret{
			Key:         req.Key,
			Secret:      req.Secret,
			Environment: req.Environment,
			Valid:       true,
		},
	}
	if err := api.vault.Store(ctx, req.VenueID, t, secret); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := api.repo.UpdateStatus(ctx, req.VenueID, t, domain.StatusConnected); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	cfg.Status = domain.StatusConnected

	return c.JSON(http.StatusCreated, cfg)
}

// Disconnect отключает интеграцию и удаляет ее секрет
func (api *IntegrationAPI) Disconnect(c echo.Context) error {
	venueID := c.Param("venue")
	t := domain.IntegrationType(c.Param("type"))
	ctx := c.Request().Context()

	if _, err := api.repo.Find(ctx, venueID, t); err != nil {
		return api.notFoundOr500(c, err)
	}

	if err := api.vault.Delete(ctx, venueID, t); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// Конфигурация не удаляется жестко, остается disconnected
	if err := api.repo.UpdateStatus(ctx, venueID, t, domain.StatusDisconnected); err != nil {
		return api.notFoundOr500(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// SyncNow ставит задачу синхронизации в очередь
func (api *IntegrationAPI) SyncNow(c echo.Context) error {
	venueID := c.Param("venue")
	t := domain.IntegrationType(c.Param("type"))

	var req SyncNowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	operation := domain.OperationKind(req.Operation)
	if operation == "" {
		operation = domain.OpSync
	}

	enqueueReq := queue.EnqueueRequest{
		VenueID:         venueID,
		IntegrationType: t,
		Operation:       operation,
		EntityType:      req.EntityType,
		EntityID:        req.EntityID,
		Payload:         req.Payload,
		IdempotencyKey:  req.IdempotencyKey,
	}
	if p, ok := parsePriority(req.Priority); ok {
		enqueueReq.Priority = &p
	}

	task, err := api.queue.Enqueue(c.Request().Context(), enqueueReq)
	if err != nil {
		if errors.Is(err, domain.ErrQueueFull) {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "queue full"})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, task)
}

// List возвращает интеграции площадки
func (api *IntegrationAPI) List(c echo.Context) error {
	venueID := c.Param("venue")

	configs, err := api.repo.FindByVenue(c.Request().Context(), venueID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  configs,
		"total": len(configs),
	})
}

// Get возвращает статус одной интеграции
func (api *IntegrationAPI) Get(c echo.Context) error {
	venueID := c.Param("venue")
	t := domain.IntegrationType(c.Param("type"))

	cfg, err := api.repo.Find(c.Request().Context(), venueID, t)
	if err != nil {
		return api.notFoundOr500(c, err)
	}

	return c.JSON(http.StatusOK, cfg)
}

// Health возвращает кешированную сводку здоровья интеграции
func (api *IntegrationAPI) Health(c echo.Context) error {
	venueID := c.Param("venue")
	t := domain.IntegrationType(c.Param("type"))

	snapshot, err := api.healthMon.Summary(c.Request().Context(), venueID, t)
	if err != nil {
		return api.notFoundOr500(c, err)
	}

	return c.JSON(http.StatusOK, snapshot)
}

// Tasks возвращает задачи площадки постранично
func (api *IntegrationAPI) Tasks(c echo.Context) error {
	venueID := c.Param("venue")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	tasks, total, err := api.queue.List(c.Request().Context(), venueID, limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  tasks,
		"total": total,
	})
}

// Task возвращает одну задачу по ID
func (api *IntegrationAPI) Task(c echo.Context) error {
	task, err := api.queue.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return api.notFoundOr500(c, err)
	}

	return c.JSON(http.StatusOK, task)
}

func (api *IntegrationAPI) notFoundOr500(c echo.Context, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parsePriority(s string) (domain.TaskPriority, bool) {
	switch s {
	case "critical":
		return domain.PriorityCritical, true
	case "high":
		return domain.PriorityHigh, true
	case "normal":
		return domain.PriorityNormal, true
	case "low":
		return domain.PriorityLow, true
	default:
		return 0, false
	}
}
