package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobinsight/discovery-service/internal/model"
)

// ── ParseQueueStatus ───────────────────────────────────────────────────────

func TestParseQueueStatus_ValidValues(t *testing.T) {
	for _, s := range []string{"pending", "processing", "done"} {
		got, err := model.ParseQueueStatus(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(got))
	}
}

func TestParseQueueStatus_Invalid(t *testing.T) {
	for _, s := range []string{"", "PENDING", " done", "failed"} {
		_, err := model.ParseQueueStatus(s)
		assert.Error(t, err, "ParseQueueStatus(%q)", s)
	}
}

// ── CanTransition ──────────────────────────────────────────────────────────

func TestCanTransition_Forward(t *testing.T) {
	assert.True(t, model.CanTransition(model.QueuePending, model.QueueProcessing))
	assert.True(t, model.CanTransition(model.QueueProcessing, model.QueueDone))
	assert.True(t, model.CanTransition(model.QueuePending, model.QueueDone))
}

func TestCanTransition_LeaseReclaim(t *testing.T) {
	assert.True(t, model.CanTransition(model.QueueProcessing, model.QueueProcessing))
}

// done is terminal: nothing leaves it, in particular never back to pending.
func TestCanTransition_FromDone(t *testing.T) {
	for _, to := range []model.QueueStatus{model.QueuePending, model.QueueProcessing, model.QueueDone} {
		assert.False(t, model.CanTransition(model.QueueDone, to), "done → %s", to)
	}
}

func TestCanTransition_Backwards(t *testing.T) {
	assert.False(t, model.CanTransition(model.QueueProcessing, model.QueuePending))
}
