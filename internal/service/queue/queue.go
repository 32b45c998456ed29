package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"venue-sync-engine/internal/domain"
	repoInterface "venue-sync-engine/internal/repository/interface"
)

// Config - настройки очереди задач
type Config struct {
	DefaultMaxAttempts int
	DefaultTTL         time.Duration
	MaxDepthPerVenue   int
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig() Config {
	return Config{
		DefaultMaxAttempts: 5,
		DefaultTTL:         7 * 24 * time.Hour,
		MaxDepthPerVenue:   10000,
	}
}

// EnqueueRequest - запрос на постановку задачи
type EnqueueRequest struct {
	VenueID         string                 `json:"venue_id"`
	IntegrationType domain.IntegrationType `json:"integration_type"`
	Operation       domain.OperationKind   `json:"operation"`
	EntityType      string                 `json:"entity_type"`
	EntityID        string                 `json:"entity_id"`
	Payload         json.RawMessage        `json:"payload,omitempty"`
	IdempotencyKey  string                 `json:"idempotency_key,omitempty"`
	Priority        *domain.TaskPriority   `json:"priority,omitempty"`
	MaxAttempts     int                    `json:"max_attempts,omitempty"`
	CorrelationID   string                 `json:"correlation_id,omitempty"`
}

// Service - durable очередь задач синхронизации поверх TaskRepository
type Service struct {
	tasks repoInterface.TaskRepository
	cfg   Config
}

// NewService создает сервис очереди
func NewService(tasks repoInterface.TaskRepository, cfg Config) *Service {
	return &Service{tasks: tasks, cfg: cfg}
}

// Enqueue ставит задачу в очередь
// Повторный вызов с тем же idempotency_key возвращает существующую задачу
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.SyncTask, error) {
	if req.VenueID == "" || req.IntegrationType == "" || req.Operation == "" {
		return nil, fmt.Errorf("enqueue: venue, integration type and operation are required")
	}

	// Повтор с известным ключом разрешается до проверки глубины:
	// он не добавляет работы и не должен упираться в лимит
	if req.IdempotencyKey != "" {
		existing, err := s.tasks.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			log.Debug().
				Str("task_id", existing.ID).
				Str("idempotency_key", req.IdempotencyKey).
				Msg("duplicate enqueue, returning existing task")
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("failed to resolve idempotency key: %w", err)
		}
	}

	if s.cfg.MaxDepthPerVenue > 0 {
		depth, _, err := s.tasks.QueueStats(ctx, req.VenueID, req.IntegrationType)
		if err != nil {
			return nil, fmt.Errorf("failed to check queue depth: %w", err)
		}
		if depth >= s.cfg.MaxDepthPerVenue {
			return nil, domain.ErrQueueFull
		}
	}

	priority := domain.PriorityNormal
	if req.Priority != nil {
		priority = *req.Priority
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.DefaultMaxAttempts
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	now := time.Now()
	task := &domain.SyncTask{
		ID:              uuid.NewString(),
		VenueID:         req.VenueID,
		IntegrationType: req.IntegrationType,
		Operation:       req.Operation,
		EntityType:      req.EntityType,
		EntityID:        req.EntityID,
		Payload:         req.Payload,
		Priority:        priority,
		Status:          domain.TaskPending,
		MaxAttempts:     maxAttempts,
		EnqueuedAt:      now,
		ExpiresAt:       now.Add(s.cfg.DefaultTTL),
		CorrelationID:   correlationID,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		task.IdempotencyKey = &key
	}

	stored, created, err := s.tasks.Insert(ctx, task)
	if err != nil {
		return nil, err
	}

	if !created {
		log.Debug().
			Str("task_id", stored.ID).
			Str("idempotency_key", req.IdempotencyKey).
			Msg("duplicate enqueue, returning existing task")
		return stored, nil
	}

	log.Info().
		Str("task_id", stored.ID).
		Str("venue_id", stored.VenueID).
		Str("integration_type", string(stored.IntegrationType)).
		Str("operation", string(stored.Operation)).
		Str("priority", stored.Priority.String()).
		Msg("task enqueued")

	return stored, nil
}

// Dequeue забирает следующую задачу по приоритету, затем FIFO
// Возвращает ErrNotFound, когда подходящих задач нет
func (s *Service) Dequeue(ctx context.Context) (*domain.SyncTask, error) {
	task, err := s.tasks.ClaimNext(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Complete подтверждает успешное выполнение задачи
func (s *Service) Complete(ctx context.Context, task *domain.SyncTask) error {
	if !domain.CanTransition(task.Status, domain.TaskCompleted) {
		return fmt.Errorf("cannot complete task in status %s", task.Status)
	}
	return s.tasks.MarkCompleted(ctx, task.ID, time.Now())
}

// Get возвращает задачу по ID
func (s *Service) Get(ctx context.Context, id string) (*domain.SyncTask, error) {
	return s.tasks.FindByID(ctx, id)
}

// List возвращает задачи площадки постранично
func (s *Service) List(ctx context.Context, venueID string, limit, offset int) ([]*domain.SyncTask, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.tasks.ListByVenue(ctx, venueID, limit, offset)
}

// ExpireOverdue списывает просроченные задачи; вызывается свипером
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	expired, err := s.tasks.ExpireOverdue(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		log.Info().Int64("expired", expired).Msg("overdue tasks discarded")
	}
	return expired, nil
}

// IsEmptyErr сообщает, означает ли ошибка пустую очередь
func IsEmptyErr(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
