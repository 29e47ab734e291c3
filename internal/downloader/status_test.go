package downloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Predicates(t *testing.T) {
	tests := []struct {
		status   Status
		active   bool
		terminal bool
	}{
		{StatusNotStarted, false, false},
		{StatusScheduled, true, false},
		{StatusInProgress, true, false},
		{StatusCompleted, false, true},
		{StatusCancelled, false, true},
		{StatusFailed, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.active, tt.status.IsActive())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestOutcome_Status(t *testing.T) {
	assert.Equal(t, StatusCompleted, OutcomeAlreadyPresent.status())
	assert.Equal(t, StatusCompleted, OutcomeCompleted.status())
	assert.Equal(t, StatusCancelled, OutcomeCancelled.status())
	assert.Equal(t, StatusFailed, OutcomeFailed.status())
}
