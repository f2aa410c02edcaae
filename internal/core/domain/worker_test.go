package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to WorkerState
		want     bool
	}{
		{WorkerIdle, WorkerPolling, true},
		{WorkerPolling, WorkerProcessing, true},
		{WorkerPolling, WorkerIdle, true},
		{WorkerProcessing, WorkerIdle, true},
		{WorkerIdle, WorkerProcessing, false},
		{WorkerProcessing, WorkerPolling, false},
		{WorkerStopping, WorkerStopped, true},
		{WorkerStopping, WorkerIdle, false},
		{WorkerStopped, WorkerIdle, false},
		{WorkerStopped, WorkerStopping, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCanTransition_StoppingFromAnyLiveState(t *testing.T) {
	for _, s := range []WorkerState{WorkerIdle, WorkerPolling, WorkerProcessing} {
		assert.True(t, CanTransition(s, WorkerStopping), s)
	}
	assert.True(t, WorkerStopped.IsTerminal())
	assert.False(t, WorkerStopping.IsTerminal())
}
