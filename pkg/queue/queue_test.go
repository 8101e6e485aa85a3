package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertAsynqStatus(t *testing.T) {
	done := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		info     *asynq.TaskInfo
		status   string
		progress float64
		errMsg   string
	}{
		{"pending", &asynq.TaskInfo{ID: "a", State: asynq.TaskStatePending}, "pending", 0, ""},
		{"scheduled", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateScheduled}, "pending", 0, ""},
		{"active", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateActive}, "running", 0, ""},
		{"completed", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateCompleted, CompletedAt: done}, "completed", 1, ""},
		{"retry", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateRetry, LastErr: "boom"}, "failed", 0, "boom"},
		{"archived", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateArchived, LastErr: "gave up"}, "failed", 0, "gave up"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := convertAsynqStatus(tt.info)
			assert.Equal(t, "a", s.TaskID)
			assert.Equal(t, tt.status, s.Status)
			assert.Equal(t, tt.progress, s.Progress)
			assert.Equal(t, tt.errMsg, s.Error)
			if tt.status == "completed" {
				assert.Equal(t, done, s.FinishedAt)
			}
		})
	}
}

func TestQueueForPriority(t *testing.T) {
	assert.Equal(t, QueueCritical, QueueForPriority(1))
	assert.Equal(t, QueueDefault, QueueForPriority(2))
	assert.Equal(t, QueueLow, QueueForPriority(0))
	assert.Equal(t, QueueLow, QueueForPriority(9))
}

func TestNewAsynqQueueRequiresAddr(t *testing.T) {
	_, err := NewAsynqQueue(&QueueConfig{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTaskNotFound))
}
