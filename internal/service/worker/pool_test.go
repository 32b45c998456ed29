package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"venue-sync-engine/internal/domain"
	"venue-sync-engine/internal/provider"
	"venue-sync-engine/internal/repository/memory"
	"venue-sync-engine/internal/service/queue"
	"venue-sync-engine/internal/service/recovery"
	"venue-sync-engine/internal/service/vault"
)

type fixture struct {
	store *memory.Store
	mock  *provider.MockProvider
	queue *queue.Service
	pool  *Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	v, err := vault.NewVault(map[string]string{"v1": "test-phrase"}, "v1", store.Credentials())
	require.NoError(t, err)

	mock := provider.NewMockProvider()
	registry := provider.NewRegistry()
	registry.Register(domain.IntegrationSquare, mock)

	require.NoError(t, store.Integrations().Upsert(ctx, &domain.IntegrationConfig{
		VenueID:         "venue-1",
		IntegrationType: domain.IntegrationSquare,
		Status:          domain.StatusConnected,
		Health:          domain.HealthHealthy,
	}))
	require.NoError(t, v.Store(ctx, "venue-1", domain.IntegrationSquare, &domain.Secret{
		Kind:   domain.CredentialAPIKey,
		APIKey: &domain.APIKeySecret{Key: "k", Valid: true},
	}))

	q := queue.NewService(store.Tasks(), queue.DefaultConfig())
	rec := recovery.NewService(store.Tasks(), store.Integrations(), v, registry, recovery.DefaultConfig())

	cfg := Config{Workers: 2, PollInterval: 10 * time.Millisecond, CallTimeout: time.Second}
	return &fixture{
		store: store,
		mock:  mock,
		queue: q,
		pool:  NewPool(q, rec, v, registry, store.Integrations(), cfg),
	}
}

func (f *fixture) enqueue(t *testing.T, entityType string, payload []byte) *domain.SyncTask {
	t.Helper()
	task, err := f.queue.Enqueue(context.Background(), queue.EnqueueRequest{
		VenueID:         "venue-1",
		IntegrationType: domain.IntegrationSquare,
		Operation:       domain.OpSync,
		EntityType:      entityType,
		Payload:         payload,
	})
	require.NoError(t, err)
	return task
}

// waitStatus ждет, пока задача не перейдет в ожидаемый статус
func (f *fixture) waitStatus(t *testing.T, id string, want domain.TaskStatus) *domain.SyncTask {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := f.store.Tasks().FindByID(context.Background(), id)
		require.NoError(t, err)
		if task.Status == want {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %s", id, want)
	return nil
}

func TestPool_CompletesTask(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	task := f.enqueue(t, "products", []byte(`[{"sku":"a"},{"sku":"b"}]`))

	f.pool.Start(context.Background())
	defer f.pool.Stop()

	done := f.waitStatus(t, task.ID, domain.TaskCompleted)
	require.NotNil(done.CompletedAt)
	require.Empty(done.LastError)

	cfg, err := f.store.Integrations().Find(context.Background(), "venue-1", domain.IntegrationSquare)
	require.NoError(err)
	require.NotNil(cfg.LastSyncAt)
	require.Zero(cfg.FailureCount)
}

func TestPool_RetryableFailureSchedulesRetry(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.mock.SyncErr = domain.NewRetryableError(errors.New("503 upstream"))

	task := f.enqueue(t, "products", nil)

	f.pool.Start(context.Background())
	defer f.pool.Stop()

	// Задача возвращается в pending с отложенным повтором
	var retried *domain.SyncTask
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := f.store.Tasks().FindByID(context.Background(), task.ID)
		require.NoError(err)
		if stored.Status == domain.TaskPending && stored.Attempts > 0 {
			retried = stored
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(retried, "task was not rescheduled")
	require.Equal(1, retried.Attempts)
	require.NotNil(retried.NextRetryAt)
	require.True(retried.NextRetryAt.After(time.Now()))
}

func TestPool_FatalFailureLeavesTaskFailed(t *testing.T) {
	f := newFixture(t)

	task := f.enqueue(t, "unknown-entity", nil)

	f.pool.Start(context.Background())
	defer f.pool.Stop()

	failed := f.waitStatus(t, task.ID, domain.TaskFailed)
	require.Contains(t, failed.LastError, "unknown entity type")
}

func TestPool_Reconcile(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	task, err := f.queue.Enqueue(context.Background(), queue.EnqueueRequest{
		VenueID:         "venue-1",
		IntegrationType: domain.IntegrationSquare,
		Operation:       domain.OpReconcile,
		EntityType:      "transactions",
	})
	require.NoError(err)

	f.pool.Start(context.Background())
	defer f.pool.Stop()

	f.waitStatus(t, task.ID, domain.TaskCompleted)
}

func TestPool_StopWaitsForWorkers(t *testing.T) {
	f := newFixture(t)
	f.mock.SyncDelay = 50 * time.Millisecond

	task := f.enqueue(t, "products", nil)

	f.pool.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	f.pool.Stop()

	// После Stop взятая задача доведена до конца, не брошена в processing
	stored, err := f.store.Tasks().FindByID(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCompleted, stored.Status)
}

func TestDecodeItems(t *testing.T) {
	require := require.New(t)

	items, err := decodeItems(nil)
	require.NoError(err)
	require.Nil(items)

	items, err = decodeItems([]byte(`[{"a":1},{"b":2}]`))
	require.NoError(err)
	require.Len(items, 2)

	items, err = decodeItems([]byte(`{"a":1}`))
	require.NoError(err)
	require.Len(items, 1)

	_, err = decodeItems([]byte(`not json`))
	require.Error(err)
}
