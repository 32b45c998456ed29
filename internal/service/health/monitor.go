package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"venue-sync-engine/internal/domain"
	"venue-sync-engine/internal/provider"
	repoInterface "venue-sync-engine/internal/repository/interface"
	"venue-sync-engine/internal/service/vault"
)

// Config - настройки монитора здоровья
type Config struct {
	ProbeTimeout  time.Duration
	MetricsWindow time.Duration
	CacheTTL      time.Duration
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig() Config {
	return Config{
		ProbeTimeout:  15 * time.Second,
		MetricsWindow: 24 * time.Hour,
		CacheTTL:      5 * time.Minute,
	}
}

// DeriveState вычисляет состояние здоровья из трех детерминированных входов
// Чистая функция, пороги фиксированы
func DeriveState(connected bool, successRate float64, latencyMS float64) domain.HealthState {
	switch {
	case !connected:
		return domain.HealthUnhealthy
	case successRate < 0.5 || latencyMS > 10000:
		return domain.HealthUnhealthy
	case successRate < 0.9 || latencyMS > 5000:
		return domain.HealthDegraded
	default:
		return domain.HealthHealthy
	}
}

type pairKey struct {
	venueID string
	t       domain.IntegrationType
}

type cacheEntry struct {
	snapshot  *domain.HealthSnapshot
	expiresAt time.Time
}

// Monitor пересчитывает здоровье интеграций и управляет допуском трафика
// Читает историю задач, никогда не трогает задачи в работе
type Monitor struct {
	integrations repoInterface.IntegrationRepository
	tasks        repoInterface.TaskRepository
	snapshots    repoInterface.HealthRepository
	vault        *vault.Vault
	providers    *provider.Registry
	cfg          Config

	mu        sync.RWMutex
	connected map[pairKey]bool
	cache     map[pairKey]cacheEntry
}

// NewMonitor создает монитор здоровья
func NewMonitor(
	integrations repoInterface.IntegrationRepository,
	tasks repoInterface.TaskRepository,
	snapshots repoInterface.HealthRepository,
	v *vault.Vault,
	providers *provider.Registry,
	cfg Config,
) *Monitor {
	return &Monitor{
		integrations: integrations,
		tasks:        tasks,
		snapshots:    snapshots,
		vault:        v,
		providers:    providers,
		cfg:          cfg,
		connected:    make(map[pairKey]bool),
		cache:        make(map[pairKey]cacheEntry),
	}
}

// ProbeAll опрашивает все подключенные интеграции легким testConnection
// Запускается раз в минуту, результат участвует в выводе состояния
func (m *Monitor) ProbeAll(ctx context.Context) error {
	configs, err := m.integrations.FindAll(ctx)
	if err != nil {
		return err
	}

	for _, cfg := range configs {
		if cfg.Status != domain.StatusConnected {
			m.setConnected(cfg.VenueID, cfg.IntegrationType, false)
			continue
		}

		connected := m.probe(ctx, cfg)
		m.setConnected(cfg.VenueID, cfg.IntegrationType, connected)
	}

	return nil
}

func (m *Monitor) probe(ctx context.Context, cfg *domain.IntegrationConfig) bool {
	p, err := m.providers.Resolve(cfg.IntegrationType)
	if err != nil {
		return false
	}

	secret, err := m.vault.Get(ctx, cfg.VenueID, cfg.IntegrationType)
	if err != nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	if err := p.Initialize(probeCtx, secret); err != nil {
		return false
	}

	ok, err := p.TestConnection(probeCtx)
	if err != nil {
		log.Debug().Err(err).
			Str("venue_id", cfg.VenueID).
			Str("integration_type", string(cfg.IntegrationType)).
			Msg("connectivity probe failed")
		return false
	}
	return ok
}

// RecomputeAll пересчитывает метрики и состояние всех интеграций
// Запускается раз в 5 минут
func (m *Monitor) RecomputeAll(ctx context.Context) error {
	configs, err := m.integrations.FindAll(ctx)
	if err != nil {
		return err
	}

	for _, cfg := range configs {
		if err := m.recompute(ctx, cfg); err != nil {
			log.Warn().Err(err).
				Str("venue_id", cfg.VenueID).
				Str("integration_type", string(cfg.IntegrationType)).
				Msg("health recompute failed")
		}
	}

	return nil
}

func (m *Monitor) recompute(ctx context.Context, cfg *domain.IntegrationConfig) error {
	since := time.Now().Add(-m.cfg.MetricsWindow)

	metrics, err := m.tasks.MetricsWindow(ctx, cfg.VenueID, cfg.IntegrationType, since)
	if err != nil {
		return err
	}

	depth, oldest, err := m.tasks.QueueStats(ctx, cfg.VenueID, cfg.IntegrationType)
	if err != nil {
		return err
	}

	oldestSec := 0
	if oldest != nil {
		oldestSec = int(time.Since(*oldest).Seconds())
	}

	connected := m.isConnected(cfg.VenueID, cfg.IntegrationType)
	state := DeriveState(connected, metrics.SuccessRate(), metrics.AvgDurationMS)

	snapshot := &domain.HealthSnapshot{
		VenueID:          cfg.VenueID,
		IntegrationType:  cfg.IntegrationType,
		State:            state,
		SuccessRate:      metrics.SuccessRate(),
		AvgDurationMS:    metrics.AvgDurationMS,
		Attempted24h:     metrics.Attempted,
		Succeeded24h:     metrics.Succeeded,
		Failed24h:        metrics.Failed,
		APICalls24h:      metrics.APICalls,
		QueueDepth:       depth,
		OldestPendingSec: oldestSec,
		ComputedAt:       time.Now(),
	}

	if err := m.snapshots.Upsert(ctx, snapshot); err != nil {
		return err
	}
	m.cacheSet(cfg.VenueID, cfg.IntegrationType, snapshot)

	// Переход состояния фиксируем только при фактическом изменении,
	// чтобы не раздувать запись на здоровых интеграциях
	if state != cfg.Health {
		if err := m.integrations.UpdateHealth(ctx, cfg.VenueID, cfg.IntegrationType, state); err != nil {
			return err
		}
		log.Info().
			Str("venue_id", cfg.VenueID).
			Str("integration_type", string(cfg.IntegrationType)).
			Str("from", string(cfg.Health)).
			Str("to", string(state)).
			Float64("success_rate", snapshot.SuccessRate).
			Float64("avg_duration_ms", snapshot.AvgDurationMS).
			Msg("integration health state changed")
	}

	return nil
}

// Summary возвращает сводку здоровья, отдавая кешированную при ее свежести
func (m *Monitor) Summary(ctx context.Context, venueID string, t domain.IntegrationType) (*domain.HealthSnapshot, error) {
	if snapshot := m.cacheGet(venueID, t); snapshot != nil {
		return snapshot, nil
	}

	snapshot, err := m.snapshots.Find(ctx, venueID, t)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	m.cacheSet(venueID, t, snapshot)
	return snapshot, nil
}

func (m *Monitor) setConnected(venueID string, t domain.IntegrationType, connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected[pairKey{venueID, t}] = connected
}

func (m *Monitor) isConnected(venueID string, t domain.IntegrationType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	connected, ok := m.connected[pairKey{venueID, t}]
	if !ok {
		// До первого опроса считаем интеграцию доступной,
		// чтобы свежее подключение не стартовало как unhealthy
		return true
	}
	return connected
}

func (m *Monitor) cacheGet(venueID string, t domain.IntegrationType) *domain.HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.cache[pairKey{venueID, t}]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.snapshot
}

func (m *Monitor) cacheSet(venueID string, t domain.IntegrationType, snapshot *domain.HealthSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache[pairKey{venueID, t}] = cacheEntry{
		snapshot:  snapshot,
		expiresAt: time.Now().Add(m.cfg.CacheTTL),
	}
}
