package recovery

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"venue-sync-engine/internal/domain"
	"venue-sync-engine/internal/provider"
	repoInterface "venue-sync-engine/internal/repository/interface"
	"venue-sync-engine/internal/service/vault"
)

// Config - настройки восстановления
type Config struct {
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	StaleAfter      time.Duration
	DeadLetterBatch int
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig() Config {
	return Config{
		BaseDelay:       30 * time.Second,
		MaxDelay:        30 * time.Minute,
		StaleAfter:      30 * time.Minute,
		DeadLetterBatch: 100,
	}
}

// Service классифицирует отказы задач и решает их дальнейшую судьбу
type Service struct {
	tasks        repoInterface.TaskRepository
	integrations repoInterface.IntegrationRepository
	vault        *vault.Vault
	providers    *provider.Registry
	cfg          Config
}

// NewService создает сервис восстановления
func NewService(
	tasks repoInterface.TaskRepository,
	integrations repoInterface.IntegrationRepository,
	v *vault.Vault,
	providers *provider.Registry,
	cfg Config,
) *Service {
	return &Service{
		tasks:        tasks,
		integrations: integrations,
		vault:        v,
		providers:    providers,
		cfg:          cfg,
	}
}

// HandleFailure обрабатывает отказ задачи: классифицирует ошибку и либо
// планирует повтор, либо отключает интеграцию, либо хоронит задачу
// Ни одна ошибка задачи не должна уронить воркер
func (s *Service) HandleFailure(ctx context.Context, task *domain.SyncTask, cause error) error {
	class := Classify(cause)

	logEvent := log.Warn().
		Str("task_id", task.ID).
		Str("venue_id", task.VenueID).
		Str("integration_type", string(task.IntegrationType)).
		Int("attempts", task.Attempts).
		Str("class", string(class)).
		Err(cause)

	if err := s.tasks.MarkFailed(ctx, task.ID, cause.Error()); err != nil {
		return err
	}
	if err := s.integrations.RecordSyncResult(ctx, task.VenueID, task.IntegrationType, false, time.Now()); err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("failed to record sync failure")
	}

	switch class {
	case domain.ClassRetryable:
		logEvent.Msg("task failed, scheduling retry")
		return s.scheduleRetry(ctx, task, cause)

	case domain.ClassAuth:
		logEvent.Msg("task failed with auth error, attempting token refresh")
		return s.handleAuthFailure(ctx, task)

	default:
		// Фатальная ошибка уровня задачи: интеграцию не трогаем
		logEvent.Msg("task failed fatally, not rescheduling")
		return nil
	}
}

// scheduleRetry планирует повтор с экспоненциальной задержкой
// или хоронит задачу при исчерпании попыток
func (s *Service) scheduleRetry(ctx context.Context, task *domain.SyncTask, cause error) error {
	nextAttempt := task.Attempts + 1
	if nextAttempt >= task.MaxAttempts {
		log.Error().
			Str("task_id", task.ID).
			Int("attempts", nextAttempt).
			Msg("retries exhausted, task moved to dead letter")
		return s.tasks.MarkDeadLetter(ctx, task.ID, cause.Error())
	}

	delay := s.BackoffDelay(nextAttempt)
	return s.tasks.ScheduleRetry(ctx, task.ID, time.Now().Add(delay), true)
}

// handleAuthFailure пробует обновить токен; при неудаче интеграция
// приостанавливается, чтобы битые креды не блокировали очередь
func (s *Service) handleAuthFailure(ctx context.Context, task *domain.SyncTask) error {
	if err := s.refreshToken(ctx, task.VenueID, task.IntegrationType); err != nil {
		log.Error().Err(err).
			Str("venue_id", task.VenueID).
			Str("integration_type", string(task.IntegrationType)).
			Msg("token refresh failed, suspending integration")

		if err := s.integrations.UpdateStatus(ctx, task.VenueID, task.IntegrationType, domain.StatusSuspended); err != nil {
			return err
		}
		return nil
	}

	// Токен обновлен - повтор сразу, счетчик попыток не увеличиваем
	return s.tasks.ScheduleRetry(ctx, task.ID, time.Now(), false)
}

// refreshToken обновляет OAuth токен через адаптер и Vault
func (s *Service) refreshToken(ctx context.Context, venueID string, t domain.IntegrationType) error {
	p, err := s.providers.Resolve(t)
	if err != nil {
		return err
	}
	oauthProvider, ok := p.(provider.OAuthProvider)
	if !ok {
		return errors.New("provider does not support token refresh")
	}

	secret, err := s.vault.Get(ctx, venueID, t)
	if err != nil {
		return err
	}
	if secret.Kind != domain.CredentialOAuthToken || secret.OAuthToken == nil {
		return errors.New("credential is not an oauth token")
	}

	token, err := oauthProvider.RefreshToken(ctx, secret.OAuthToken.RefreshToken)
	if err != nil {
		return err
	}
	token.RefreshCount = secret.OAuthToken.RefreshCount + 1

	return s.vault.Store(ctx, venueID, t, &domain.Secret{
		Kind:       domain.CredentialOAuthToken,
		OAuthToken: token,
	})
}

// BackoffDelay возвращает задержку перед попыткой attempt
// delay = BaseDelay * 2^attempt с верхней границей MaxDelay
func (s *Service) BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return s.cfg.MaxDelay
	}

	delay := s.cfg.BaseDelay << uint(attempt)
	if delay > s.cfg.MaxDelay || delay <= 0 {
		return s.cfg.MaxDelay
	}
	return delay
}

// ProcessDeadLetterQueue переинжектит dead-letter задачи тех интеграций,
// которые снова стали здоровыми - единственный путь самовосстановления
// после того как оператор починил креды
func (s *Service) ProcessDeadLetterQueue(ctx context.Context) error {
	tasks, err := s.tasks.DeadLetterTasks(ctx, s.cfg.DeadLetterBatch)
	if err != nil {
		return err
	}

	reinjected := 0
	for _, task := range tasks {
		cfg, err := s.integrations.Find(ctx, task.VenueID, task.IntegrationType)
		if err != nil {
			continue
		}
		if cfg.Status != domain.StatusConnected || cfg.Health != domain.HealthHealthy {
			continue
		}

		// dead_letter терминален: создаем новую задачу с LOW приоритетом
		replacement := *task
		replacement.ID = uuid.NewString()
		replacement.Priority = domain.PriorityLow
		replacement.Status = domain.TaskPending
		replacement.Attempts = 0
		replacement.NextRetryAt = nil
		replacement.StartedAt = nil
		replacement.CompletedAt = nil
		replacement.LastError = ""
		replacement.IdempotencyKey = nil
		replacement.EnqueuedAt = time.Now()
		replacement.ExpiresAt = time.Now().Add(7 * 24 * time.Hour)

		if _, _, err := s.tasks.Insert(ctx, &replacement); err != nil {
			log.Warn().Err(err).Str("task_id", task.ID).Msg("failed to reinject dead letter task")
			continue
		}

		// Исходную запись помечаем, чтобы не инжектить повторно
		if err := s.tasks.MarkReinjected(ctx, task.ID, replacement.ID); err != nil {
			log.Warn().Err(err).Str("task_id", task.ID).Msg("failed to retire dead letter task")
		}
		reinjected++
	}

	if reinjected > 0 {
		log.Info().Int("reinjected", reinjected).Msg("dead letter tasks reinjected")
	}

	return nil
}

// RecoverStaleOperations возвращает зависшие processing задачи в pending,
// исчерпавшие попытки хоронит в dead_letter
// Защита от молча потерянной работы после падения воркера
func (s *Service) RecoverStaleOperations(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.cfg.StaleAfter)

	reclaimed, err := s.tasks.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		log.Warn().Int64("reclaimed", reclaimed).Msg("stale processing tasks reclaimed")
	}
	return reclaimed, nil
}

// Classify определяет класс ошибки внешнего сервиса
// Явно помеченные ProviderError имеют приоритет над текстовыми сигнатурами
func Classify(err error) domain.ErrorClass {
	if err == nil {
		return domain.ClassFatal
	}

	var providerErr *domain.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Class
	}

	// Ошибка Vault не означает проблему авторизации во внешнем сервисе
	var vaultErr *domain.VaultError
	if errors.As(err, &vaultErr) {
		return domain.ClassFatal
	}

	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return domain.ClassRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.ClassRetryable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "connection refused", "connection reset",
		"rate limit", "too many requests", "429", "502", "503", "504", "temporarily unavailable"):
		return domain.ClassRetryable
	case containsAny(msg, "401", "unauthorized", "invalid_token", "invalid token",
		"token expired", "access denied", "invalid_grant"):
		return domain.ClassAuth
	default:
		return domain.ClassFatal
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
