package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"venue-sync-engine/internal/domain"
	repoInterface "venue-sync-engine/internal/repository/interface"
)

type pairKey struct {
	venueID string
	t       domain.IntegrationType
}

// Store - in-memory реализация всех репозиториев
// Повторяет семантику PostgreSQL реализации, используется в тестах
type Store struct {
	mu sync.Mutex

	integrations map[pairKey]*domain.IntegrationConfig
	credentials  map[pairKey]*domain.Credential
	tasks        map[string]*domain.SyncTask
	taskSeq      map[string]int64
	snapshots    map[pairKey]*domain.HealthSnapshot
	users        map[string]*domain.User
	apiKeys      map[string]*domain.APIKey

	seq int64
}

// NewStore создает пустое хранилище
func NewStore() *Store {
	return &Store{
		integrations: make(map[pairKey]*domain.IntegrationConfig),
		credentials:  make(map[pairKey]*domain.Credential),
		tasks:        make(map[string]*domain.SyncTask),
		taskSeq:      make(map[string]int64),
		snapshots:    make(map[pairKey]*domain.HealthSnapshot),
		users:        make(map[string]*domain.User),
		apiKeys:      make(map[string]*domain.APIKey),
	}
}

func (s *Store) Integrations() repoInterface.IntegrationRepository { return &integrationRepo{s} }
func (s *Store) Credentials() repoInterface.CredentialRepository   { return &credentialRepo{s} }
func (s *Store) Tasks() repoInterface.TaskRepository               { return &taskRepo{s} }
func (s *Store) Health() repoInterface.HealthRepository            { return &healthRepo{s} }

// AddUser добавляет пользователя (хелпер для тестов)
func (s *Store) AddUser(user *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// --- IntegrationRepository ---

type integrationRepo struct{ s *Store }

func (r *integrationRepo) Upsert(ctx context.Context, cfg *domain.IntegrationConfig) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := pairKey{cfg.VenueID, cfg.IntegrationType}
	now := time.Now()

	if existing, ok := r.s.integrations[key]; ok {
		existing.SyncConfig = cfg.SyncConfig
		existing.FieldMappingRef = cfg.FieldMappingRef
		existing.UpdatedAt = now
		*cfg = *existing
		return nil
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	stored := *cfg
	r.s.integrations[key] = &stored
	return nil
}

func (r *integrationRepo) Find(ctx context.Context, venueID string, t domain.IntegrationType) (*domain.IntegrationConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cfg, ok := r.s.integrations[pairKey{venueID, t}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *cfg
	return &copied, nil
}

func (r *integrationRepo) FindByVenue(ctx context.Context, venueID string) ([]*domain.IntegrationConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var configs []*domain.IntegrationConfig
	for key, cfg := range r.s.integrations {
		if key.venueID == venueID {
			copied := *cfg
			configs = append(configs, &copied)
		}
	}
	return configs, nil
}

func (r *integrationRepo) FindAll(ctx context.Context) ([]*domain.IntegrationConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var configs []*domain.IntegrationConfig
	for _, cfg := range r.s.integrations {
		copied := *cfg
		configs = append(configs, &copied)
	}
	return configs, nil
}

func (r *integrationRepo) UpdateStatus(ctx context.Context, venueID string, t domain.IntegrationType, status domain.IntegrationStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cfg, ok := r.s.integrations[pairKey{venueID, t}]
	if !ok {
		return domain.ErrNotFound
	}
	cfg.Status = status
	cfg.UpdatedAt = time.Now()
	return nil
}

func (r *integrationRepo) UpdateHealth(ctx context.Context, venueID string, t domain.IntegrationType, health domain.HealthState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cfg, ok := r.s.integrations[pairKey{venueID, t}]
	if !ok {
		return domain.ErrNotFound
	}
	cfg.Health = health
	cfg.UpdatedAt = time.Now()
	return nil
}

func (r *integrationRepo) RecordSyncResult(ctx context.Context, venueID string, t domain.IntegrationType, success bool, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cfg, ok := r.s.integrations[pairKey{venueID, t}]
	if !ok {
		return domain.ErrNotFound
	}
	if success {
		cfg.LastSyncAt = &at
		cfg.FailureCount = 0
	} else {
		cfg.LastFailureAt = &at
		cfg.FailureCount++
	}
	cfg.UpdatedAt = time.Now()
	return nil
}

func (r *integrationRepo) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, user := range r.s.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *integrationRepo) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *integrationRepo) FindAPIKeyByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, key := range r.s.apiKeys {
		if key.KeyHash == hash {
			copied := *key
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *integrationRepo) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key, ok := r.s.apiKeys[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

// --- CredentialRepository ---

type credentialRepo struct{ s *Store }

func (r *credentialRepo) Upsert(ctx context.Context, cred *domain.Credential) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := pairKey{cred.VenueID, cred.IntegrationType}
	now := time.Now()

	if existing, ok := r.s.credentials[key]; ok {
		existing.Kind = cred.Kind
		existing.Ciphertext = cred.Ciphertext
		existing.KeyVersion = cred.KeyVersion
		existing.UpdatedAt = now
		*cred = *existing
		return nil
	}

	cred.ID = uuid.NewString()
	cred.CreatedAt = now
	cred.UpdatedAt = now
	stored := *cred
	r.s.credentials[key] = &stored
	return nil
}

func (r *credentialRepo) Find(ctx context.Context, venueID string, t domain.IntegrationType) (*domain.Credential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cred, ok := r.s.credentials[pairKey{venueID, t}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *cred
	return &copied, nil
}

func (r *credentialRepo) TouchLastUsed(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, cred := range r.s.credentials {
		if cred.ID == id {
			now := time.Now()
			cred.LastUsedAt = &now
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *credentialRepo) Delete(ctx context.Context, venueID string, t domain.IntegrationType) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := pairKey{venueID, t}
	if _, ok := r.s.credentials[key]; !ok {
		return domain.ErrNotFound
	}
	delete(r.s.credentials, key)
	return nil
}

// --- TaskRepository ---

type taskRepo struct{ s *Store }

func (r *taskRepo) Insert(ctx context.Context, task *domain.SyncTask) (*domain.SyncTask, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if task.IdempotencyKey != nil {
		for _, existing := range r.s.tasks {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *task.IdempotencyKey {
				copied := *existing
				return &copied, false, nil
			}
		}
	}

	r.s.seq++
	stored := *task
	r.s.tasks[task.ID] = &stored
	r.s.taskSeq[task.ID] = r.s.seq

	copied := stored
	return &copied, true, nil
}

func (r *taskRepo) FindByIdempotencyKey(ctx context.Context, key string) (*domain.SyncTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, task := range r.s.tasks {
		if task.IdempotencyKey != nil && *task.IdempotencyKey == key {
			copied := *task
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *taskRepo) FindByID(ctx context.Context, id string) (*domain.SyncTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	task, ok := r.s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *task
	return &copied, nil
}

func (r *taskRepo) ListByVenue(ctx context.Context, venueID string, limit, offset int) ([]*domain.SyncTask, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []*domain.SyncTask
	for _, task := range r.s.tasks {
		if task.VenueID == venueID {
			copied := *task
			all = append(all, &copied)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].EnqueuedAt.After(all[j].EnqueuedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *taskRepo) ClaimNext(ctx context.Context, now time.Time) (*domain.SyncTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var best *domain.SyncTask
	for _, task := range r.s.tasks {
		if task.Status != domain.TaskPending {
			continue
		}
		if task.NextRetryAt != nil && task.NextRetryAt.After(now) {
			continue
		}
		if !task.ExpiresAt.After(now) {
			continue
		}

		cfg, ok := r.s.integrations[pairKey{task.VenueID, task.IntegrationType}]
		if !ok || cfg.Status != domain.StatusConnected || cfg.Health == domain.HealthUnhealthy {
			continue
		}

		if best == nil || r.less(task, best) {
			best = task
		}
	}

	if best == nil {
		return nil, domain.ErrNotFound
	}

	best.Status = domain.TaskProcessing
	best.StartedAt = &now

	copied := *best
	return &copied, nil
}

// less повторяет порядок выдачи SQL: приоритет, время постановки, порядок вставки
func (r *taskRepo) less(a, b *domain.SyncTask) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return r.s.taskSeq[a.ID] < r.s.taskSeq[b.ID]
}

func (r *taskRepo) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	return r.update(id, domain.TaskProcessing, func(task *domain.SyncTask) {
		task.Status = domain.TaskCompleted
		task.CompletedAt = &at
		task.LastError = ""
	})
}

func (r *taskRepo) MarkFailed(ctx context.Context, id string, lastError string) error {
	return r.update(id, domain.TaskProcessing, func(task *domain.SyncTask) {
		now := time.Now()
		task.Status = domain.TaskFailed
		task.CompletedAt = &now
		task.LastError = lastError
	})
}

func (r *taskRepo) ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time, incrementAttempts bool) error {
	return r.update(id, domain.TaskFailed, func(task *domain.SyncTask) {
		task.Status = domain.TaskPending
		task.NextRetryAt = &nextRetryAt
		if incrementAttempts {
			task.Attempts++
		}
		task.StartedAt = nil
		task.CompletedAt = nil
	})
}

func (r *taskRepo) MarkDeadLetter(ctx context.Context, id string, lastError string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	task, ok := r.s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	if task.Status != domain.TaskProcessing && task.Status != domain.TaskFailed {
		return domain.ErrNotFound
	}

	now := time.Now()
	task.Status = domain.TaskDeadLetter
	task.Attempts++
	task.CompletedAt = &now
	task.LastError = lastError
	return nil
}

func (r *taskRepo) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var reclaimed int64
	for _, task := range r.s.tasks {
		if task.Status == domain.TaskProcessing && task.StartedAt != nil && task.StartedAt.Before(olderThan) {
			task.Attempts++
			task.StartedAt = nil
			task.NextRetryAt = nil
			if task.Attempts >= task.MaxAttempts {
				task.Status = domain.TaskDeadLetter
				now := time.Now()
				task.CompletedAt = &now
				task.LastError = "stale claim, attempts exhausted"
			} else {
				task.Status = domain.TaskPending
			}
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (r *taskRepo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var expired int64
	for _, task := range r.s.tasks {
		if task.Status == domain.TaskPending && !task.ExpiresAt.After(now) {
			task.Status = domain.TaskFailed
			task.CompletedAt = &now
			task.LastError = "expired"
			task.NextRetryAt = nil
			expired++
		}
	}
	return expired, nil
}

func (r *taskRepo) DeadLetterTasks(ctx context.Context, limit int) ([]*domain.SyncTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var tasks []*domain.SyncTask
	for _, task := range r.s.tasks {
		if task.Status == domain.TaskDeadLetter && !strings.HasPrefix(task.LastError, "reinjected as ") {
			copied := *task
			tasks = append(tasks, &copied)
		}
		if len(tasks) >= limit {
			break
		}
	}
	return tasks, nil
}

func (r *taskRepo) MarkReinjected(ctx context.Context, id, replacementID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	task, ok := r.s.tasks[id]
	if !ok || task.Status != domain.TaskDeadLetter {
		return domain.ErrNotFound
	}
	task.LastError = "reinjected as " + replacementID
	return nil
}

func (r *taskRepo) QueueStats(ctx context.Context, venueID string, t domain.IntegrationType) (int, *time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	depth := 0
	var oldest *time.Time
	for _, task := range r.s.tasks {
		if task.VenueID != venueID || task.IntegrationType != t || task.Status != domain.TaskPending {
			continue
		}
		depth++
		if oldest == nil || task.EnqueuedAt.Before(*oldest) {
			enqueuedAt := task.EnqueuedAt
			oldest = &enqueuedAt
		}
	}
	return depth, oldest, nil
}

func (r *taskRepo) MetricsWindow(ctx context.Context, venueID string, t domain.IntegrationType, since time.Time) (*domain.TaskWindowMetrics, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var metrics domain.TaskWindowMetrics
	var totalDuration float64
	var durations int

	for _, task := range r.s.tasks {
		if task.VenueID != venueID || task.IntegrationType != t {
			continue
		}
		if task.CompletedAt == nil || task.CompletedAt.Before(since) {
			continue
		}

		switch task.Status {
		case domain.TaskCompleted:
			metrics.Attempted++
			metrics.Succeeded++
			metrics.APICalls += task.Attempts + 1
			if task.StartedAt != nil {
				totalDuration += float64(task.CompletedAt.Sub(*task.StartedAt).Milliseconds())
				durations++
			}
		case domain.TaskFailed, domain.TaskDeadLetter:
			metrics.Attempted++
			metrics.Failed++
			metrics.APICalls += task.Attempts + 1
		}
	}

	if durations > 0 {
		metrics.AvgDurationMS = totalDuration / float64(durations)
	}
	return &metrics, nil
}

func (r *taskRepo) update(id string, expected domain.TaskStatus, apply func(*domain.SyncTask)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	task, ok := r.s.tasks[id]
	if !ok || task.Status != expected {
		return domain.ErrNotFound
	}
	apply(task)
	return nil
}

// --- HealthRepository ---

type healthRepo struct{ s *Store }

func (r *healthRepo) Upsert(ctx context.Context, snapshot *domain.HealthSnapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	copied := *snapshot
	r.s.snapshots[pairKey{snapshot.VenueID, snapshot.IntegrationType}] = &copied
	return nil
}

func (r *healthRepo) Find(ctx context.Context, venueID string, t domain.IntegrationType) (*domain.HealthSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	snapshot, ok := r.s.snapshots[pairKey{venueID, t}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *snapshot
	return &copied, nil
}
