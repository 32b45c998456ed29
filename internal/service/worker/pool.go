package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"venue-sync-engine/internal/domain"
	"venue-sync-engine/internal/provider"
	repoInterface "venue-sync-engine/internal/repository/interface"
	"venue-sync-engine/internal/service/queue"
	"venue-sync-engine/internal/service/recovery"
	"venue-sync-engine/internal/service/vault"
)

// Config - настройки пула воркеров
type Config struct {
	Workers      int
	PollInterval time.Duration
	CallTimeout  time.Duration
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		PollInterval: 2 * time.Second,
		CallTimeout:  60 * time.Second,
	}
}

// Pool - пул воркеров, разбирающих очередь синхронизации
type Pool struct {
	queue        *queue.Service
	recovery     *recovery.Service
	vault        *vault.Vault
	providers    *provider.Registry
	integrations repoInterface.IntegrationRepository
	cfg          Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool создает пул воркеров
func NewPool(
	q *queue.Service,
	r *recovery.Service,
	v *vault.Vault,
	providers *provider.Registry,
	integrations repoInterface.IntegrationRepository,
	cfg Config,
) *Pool {
	return &Pool{
		queue:        q,
		recovery:     r,
		vault:        v,
		providers:    providers,
		integrations: integrations,
		cfg:          cfg,
	}
}

// Start запускает воркеры
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}

	log.Info().Int("workers", p.cfg.Workers).Msg("worker pool started")
}

// Stop останавливает воркеры и дожидается завершения текущих задач
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	log.Info().Msg("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			if !queue.IsEmptyErr(err) {
				log.Error().Err(err).Int("worker", id).Msg("dequeue failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		p.execute(ctx, task)
	}
}

// execute выполняет одну задачу
// Любая ошибка задачи классифицируется и записывается, не роняя воркер
// После начала внешнего вызова задача доводится до конца, не прерываясь
func (p *Pool) execute(ctx context.Context, task *domain.SyncTask) {
	started := time.Now()
	task.Status = domain.TaskProcessing

	logCtx := log.With().
		Str("task_id", task.ID).
		Str("venue_id", task.VenueID).
		Str("integration_type", string(task.IntegrationType)).
		Str("operation", string(task.Operation)).
		Str("correlation_id", task.CorrelationID).
		Logger()

	err := p.runOperation(ctx, task)
	if err != nil {
		if recErr := p.recovery.HandleFailure(ctx, task, err); recErr != nil {
			logCtx.Error().Err(recErr).Msg("failure handling itself failed")
		}
		return
	}

	if err := p.queue.Complete(ctx, task); err != nil {
		logCtx.Error().Err(err).Msg("failed to mark task completed")
		return
	}
	if err := p.integrations.RecordSyncResult(ctx, task.VenueID, task.IntegrationType, true, time.Now()); err != nil {
		logCtx.Warn().Err(err).Msg("failed to record sync success")
	}

	logCtx.Info().Dur("duration", time.Since(started)).Msg("task completed")
}

// runOperation делает внешний вызов с ограниченным таймаутом
func (p *Pool) runOperation(ctx context.Context, task *domain.SyncTask) error {
	prov, err := p.providers.Resolve(task.IntegrationType)
	if err != nil {
		return domain.NewFatalError(err)
	}

	secret, err := p.vault.Get(ctx, task.VenueID, task.IntegrationType)
	if err != nil {
		// Ошибку Vault не превращаем молча в "нужно переподключить"
		return err
	}

	// Внешний вызов - единственная точка ожидания, всегда с таймаутом,
	// чтобы зависший апстрим не занял воркер навсегда
	callCtx, cancel := context.WithTimeout(context.Background(), p.cfg.CallTimeout)
	defer cancel()

	if err := prov.Initialize(callCtx, secret); err != nil {
		return err
	}

	switch task.Operation {
	case domain.OpSync, domain.OpCreate, domain.OpUpdate, domain.OpDelete:
		return p.syncEntities(callCtx, prov, task)
	case domain.OpReconcile:
		return p.reconcile(callCtx, prov, task)
	default:
		return domain.NewFatalError(fmt.Errorf("unknown operation %q", task.Operation))
	}
}

// syncEntities направляет элементы задачи в нужную способность адаптера
func (p *Pool) syncEntities(ctx context.Context, prov provider.IntegrationProvider, task *domain.SyncTask) error {
	items, err := decodeItems(task.Payload)
	if err != nil {
		return domain.NewFatalError(err)
	}

	var result *provider.SyncResult
	switch task.EntityType {
	case "products":
		syncer, ok := prov.(provider.ProductSyncer)
		if !ok {
			return domain.NewFatalError(fmt.Errorf("provider does not sync products"))
		}
		result, err = syncer.SyncProducts(ctx, items)
	case "customers":
		syncer, ok := prov.(provider.CustomerSyncer)
		if !ok {
			return domain.NewFatalError(fmt.Errorf("provider does not sync customers"))
		}
		result, err = syncer.SyncCustomers(ctx, items)
	case "transactions":
		syncer, ok := prov.(provider.TransactionSyncer)
		if !ok {
			return domain.NewFatalError(fmt.Errorf("provider does not sync transactions"))
		}
		result, err = syncer.SyncTransactions(ctx, items)
	default:
		return domain.NewFatalError(fmt.Errorf("unknown entity type %q", task.EntityType))
	}
	if err != nil {
		return err
	}

	if !result.Success {
		return domain.NewRetryableError(fmt.Errorf("sync incomplete: %d failed of %d", result.FailedCount, result.SyncedCount+result.FailedCount))
	}
	return nil
}

// reconcile выгружает транзакции за сутки для сверки
func (p *Pool) reconcile(ctx context.Context, prov provider.IntegrationProvider, task *domain.SyncTask) error {
	fetcher, ok := prov.(provider.TransactionFetcher)
	if !ok {
		return domain.NewFatalError(fmt.Errorf("provider does not fetch transactions"))
	}

	end := time.Now()
	start := end.Add(-24 * time.Hour)

	items, err := fetcher.FetchTransactions(ctx, start, end)
	if err != nil {
		return err
	}

	log.Debug().
		Str("task_id", task.ID).
		Int("fetched", len(items)).
		Msg("reconcile fetch completed")

	return nil
}

func decodeItems(payload []byte) ([]map[string]any, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var items []map[string]any
	if err := json.Unmarshal(payload, &items); err == nil {
		return items, nil
	}

	// Одиночный объект тоже допустим
	var single map[string]any
	if err := json.Unmarshal(payload, &single); err != nil {
		return nil, fmt.Errorf("failed to decode task payload: %w", err)
	}
	return []map[string]any{single}, nil
}
