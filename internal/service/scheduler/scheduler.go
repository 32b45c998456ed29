package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"

	"venue-sync-engine/internal/service/health"
	"venue-sync-engine/internal/service/oauth"
	"venue-sync-engine/internal/service/queue"
	"venue-sync-engine/internal/service/recovery"
)

// Service управляет фоновыми таймерами ядра синхронизации
// Явный компонент с жизненным циклом вместо разбросанных по коду таймеров
type Service struct {
	scheduler *gocron.Scheduler
	oauth     *oauth.Manager
	healthMon *health.Monitor
	recovery  *recovery.Service
	queue     *queue.Service
}

// NewService создает планировщик фоновых задач
func NewService(
	oauthMgr *oauth.Manager,
	healthMon *health.Monitor,
	recoverySvc *recovery.Service,
	queueSvc *queue.Service,
) *Service {
	return &Service{
		scheduler: gocron.NewScheduler(time.UTC),
		oauth:     oauthMgr,
		healthMon: healthMon,
		recovery:  recoverySvc,
		queue:     queueSvc,
	}
}

// Start регистрирует фоновые задачи и запускает планировщик
func (s *Service) Start(ctx context.Context) error {
	// Джанитор истекших OAuth state токенов
	if _, err := s.scheduler.Every(1).Minute().Do(func() {
		s.oauth.SweepExpired()
	}); err != nil {
		return err
	}

	// Минутный опрос доступности интеграций
	if _, err := s.scheduler.Every(1).Minute().Do(func() {
		if err := s.healthMon.ProbeAll(ctx); err != nil {
			log.Warn().Err(err).Msg("connectivity probe run failed")
		}
	}); err != nil {
		return err
	}

	// Пятиминутный пересчет метрик здоровья
	if _, err := s.scheduler.Every(5).Minutes().Do(func() {
		if err := s.healthMon.RecomputeAll(ctx); err != nil {
			log.Warn().Err(err).Msg("health recompute run failed")
		}
	}); err != nil {
		return err
	}

	// Списание просроченных задач
	if _, err := s.scheduler.Every(1).Minute().Do(func() {
		if _, err := s.queue.ExpireOverdue(ctx); err != nil {
			log.Warn().Err(err).Msg("expire sweep failed")
		}
	}); err != nil {
		return err
	}

	// Реклейм зависших processing задач
	if _, err := s.scheduler.Every(5).Minutes().Do(func() {
		if _, err := s.recovery.RecoverStaleOperations(ctx); err != nil {
			log.Warn().Err(err).Msg("stale operation sweep failed")
		}
	}); err != nil {
		return err
	}

	// Переинжект dead-letter задач поздоровевших интеграций
	if _, err := s.scheduler.Every(5).Minutes().Do(func() {
		if err := s.recovery.ProcessDeadLetterQueue(ctx); err != nil {
			log.Warn().Err(err).Msg("dead letter sweep failed")
		}
	}); err != nil {
		return err
	}

	s.scheduler.StartAsync()
	log.Info().Msg("background scheduler started")
	return nil
}

// Stop останавливает все фоновые задачи
func (s *Service) Stop() {
	s.scheduler.Stop()
	log.Info().Msg("background scheduler stopped")
}
