package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"venue-sync-engine/internal/domain"
	"venue-sync-engine/internal/provider"
	"venue-sync-engine/internal/service/queue"
)

// WebhookAPI - публичный прием событий от внешних сервисов
// Подпись проверяется способностью адаптера, событие превращается в задачу
type WebhookAPI struct {
	providers *provider.Registry
	queue     *queue.Service
}

// NewWebhookAPI создает webhook API
func NewWebhookAPI(providers *provider.Registry, q *queue.Service) *WebhookAPI {
	return &WebhookAPI{providers: providers, queue: q}
}

// Handle принимает вебхук пары (venue, тип)
func (api *WebhookAPI) Handle(c echo.Context) error {
	venueID := c.Param("venue")
	t := domain.IntegrationType(c.Param("type"))

	p, err := api.providers.Resolve(t)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown integration type"})
	}

	webhookProvider, ok := p.(provider.WebhookProvider)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "integration does not accept webhooks"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read body"})
	}

	signature := c.Request().Header.Get("X-Webhook-Signature")
	if !webhookProvider.ValidateWebhookSignature(body, signature) {
		log.Warn().
			Str("venue_id", venueID).
			Str("integration_type", string(t)).
			Msg("webhook signature rejected")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	var event map[string]any
	if err := json.Unmarshal(body, &event); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}

	ctx := c.Request().Context()
	if err := webhookProvider.HandleWebhook(ctx, event); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "webhook rejected"})
	}

	// Вебхук - сигнал о внешнем изменении: ставим сверку в очередь
	// Ключ идемпотентности от провайдера защищает от повторной доставки
	idempotencyKey, _ := event["event_id"].(string)
	task, err := api.queue.Enqueue(ctx, queue.EnqueueRequest{
		VenueID:         venueID,
		IntegrationType: t,
		Operation:       domain.OpReconcile,
		EntityType:      "transactions",
		Payload:         body,
		IdempotencyKey:  idempotencyKey,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]string{"task_id": task.ID})
}
