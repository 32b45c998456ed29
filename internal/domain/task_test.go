package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	require := require.New(t)

	require.True(CanTransition(TaskPending, TaskProcessing))
	require.True(CanTransition(TaskProcessing, TaskCompleted))
	require.True(CanTransition(TaskProcessing, TaskFailed))
	require.True(CanTransition(TaskProcessing, TaskPending)) // реклейм после падения воркера
	require.True(CanTransition(TaskFailed, TaskPending))
	require.True(CanTransition(TaskFailed, TaskDeadLetter))

	require.False(CanTransition(TaskPending, TaskCompleted))
	require.False(CanTransition(TaskPending, TaskDeadLetter))
	require.False(CanTransition(TaskCompleted, TaskPending))
	require.False(CanTransition(TaskCompleted, TaskFailed))
	require.False(CanTransition(TaskDeadLetter, TaskPending))
	require.False(CanTransition(TaskDeadLetter, TaskProcessing))
}

func TestTaskPriorityString(t *testing.T) {
	require := require.New(t)

	require.Equal("critical", PriorityCritical.String())
	require.Equal("high", PriorityHigh.String())
	require.Equal("normal", PriorityNormal.String())
	require.Equal("low", PriorityLow.String())
	require.Equal("unknown", TaskPriority(42).String())

	// Порядок значений совпадает с порядком выдачи из очереди
	require.Less(int(PriorityCritical), int(PriorityHigh))
	require.Less(int(PriorityHigh), int(PriorityNormal))
	require.Less(int(PriorityNormal), int(PriorityLow))
}

func TestTaskExpiredAndTerminal(t *testing.T) {
	require := require.New(t)
	now := time.Now()

	task := &SyncTask{Status: TaskPending, ExpiresAt: now.Add(time.Hour)}
	require.False(task.Expired(now))
	require.True(task.Expired(now.Add(2 * time.Hour)))
	require.False(task.Terminal())

	task.Status = TaskCompleted
	require.True(task.Terminal())
	task.Status = TaskDeadLetter
	require.True(task.Terminal())
	task.Status = TaskFailed
	require.False(task.Terminal())
}

func TestSuccessRate(t *testing.T) {
	require := require.New(t)

	empty := &TaskWindowMetrics{}
	require.Equal(1.0, empty.SuccessRate())

	m := &TaskWindowMetrics{Attempted: 10, Succeeded: 9, Failed: 1}
	require.InDelta(0.9, m.SuccessRate(), 0.0001)
}
