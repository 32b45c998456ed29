package domain

import (
	"encoding/json"
	"time"
)

// TaskPriority - приоритет задачи синхронизации
// Меньшее значение - выше приоритет, под ORDER BY priority ASC
type TaskPriority int

const (
	PriorityCritical TaskPriority = 0
	PriorityHigh     TaskPriority = 1
	PriorityNormal   TaskPriority = 2
	PriorityLow      TaskPriority = 3
)

// String возвращает человекочитаемое имя приоритета
func (p TaskPriority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// TaskStatus - статус задачи синхронизации
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskDeadLetter TaskStatus = "dead_letter"
)

// OperationKind - вид операции синхронизации
type OperationKind string

const (
	OpCreate    OperationKind = "create"
	OpUpdate    OperationKind = "update"
	OpDelete    OperationKind = "delete"
	OpSync      OperationKind = "sync"
	OpReconcile OperationKind = "reconcile"
)

// SyncTask - единица работы в очереди синхронизации
type SyncTask struct {
	ID              string          `db:"id" json:"id"`
	VenueID         string          `db:"venue_id" json:"venue_id"`
	IntegrationType IntegrationType `db:"integration_type" json:"integration_type"`
	Operation       OperationKind   `db:"operation" json:"operation"`
	EntityType      string          `db:"entity_type" json:"entity_type"`
	EntityID        string          `db:"entity_id" json:"entity_id"`
	Payload         json.RawMessage `db:"payload" json:"payload,omitempty"`
	IdempotencyKey  *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Priority        TaskPriority    `db:"priority" json:"priority"`
	Status          TaskStatus      `db:"status" json:"status"`
	Attempts        int             `db:"attempts" json:"attempts"`
	MaxAttempts     int             `db:"max_attempts" json:"max_attempts"`
	NextRetryAt     *time.Time      `db:"next_retry_at" json:"next_retry_at,omitempty"`
	LastError       string          `db:"last_error" json:"last_error,omitempty"`
	EnqueuedAt      time.Time       `db:"enqueued_at" json:"enqueued_at"`
	StartedAt       *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	ExpiresAt       time.Time       `db:"expires_at" json:"expires_at"`
	CorrelationID   string          `db:"correlation_id" json:"correlation_id"`
}

// Expired сообщает, истек ли срок жизни задачи
func (t *SyncTask) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Terminal сообщает, находится ли задача в терминальном статусе
func (t *SyncTask) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskDeadLetter
}

// taskTransitions описывает допустимые переходы статусов
// Единственный разрешенный обратный переход - реклейм processing -> pending
// после падения воркера
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskProcessing},
	TaskProcessing: {TaskCompleted, TaskFailed, TaskPending},
	TaskFailed:     {TaskPending, TaskDeadLetter},
	TaskCompleted:  {},
	TaskDeadLetter: {}, // переинжект из dead-letter создает новую задачу
}

// CanTransition проверяет допустимость перехода статусов
func CanTransition(from, to TaskStatus) bool {
	for _, allowed := range taskTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TaskWindowMetrics - агрегаты по истории задач за окно времени
type TaskWindowMetrics struct {
	Attempted     int     `db:"attempted"`
	Succeeded     int     `db:"succeeded"`
	Failed        int     `db:"failed"`
	APICalls      int     `db:"api_calls"`
	AvgDurationMS float64 `db:"avg_duration_ms"`
}

// SuccessRate возвращает долю успешных операций в окне, 0..1
func (m *TaskWindowMetrics) SuccessRate() float64 {
	if m.Attempted == 0 {
		return 1.0
	}
	return float64(m.Succeeded) / float64(m.Attempted)
}
