package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	happy := []State{
		StateValidating, StateSourceResolved, StateOtpVerified, StateSigned,
		StatePersisted, StateNotifySent, StateComplete,
	}
	for i := 0; i+1 < len(happy); i++ {
		assert.True(t, CanTransition(happy[i], happy[i+1]), "%s -> %s", happy[i], happy[i+1])
	}

	assert.True(t, CanTransition(StatePersisted, StateComplete))
	assert.False(t, CanTransition(StateValidating, StateSigned))
	assert.False(t, CanTransition(StateOtpVerified, StateOtpRejected))
	assert.False(t, CanTransition(StateComplete, StateValidating))
	assert.False(t, CanTransition(StatePersistenceFailed, StatePersisted))
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateComplete, StateRejectedInput, StateOtpRejected, StatePersistenceFailed} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []State{StateValidating, StateSigned, StatePersisted} {
		assert.False(t, s.IsTerminal(), s)
	}
	assert.False(t, StateComplete.IsFailure())
	assert.True(t, StateOtpRejected.IsFailure())
}

func TestTransition_RejectsIllegalStep(t *testing.T) {
	tx := newTransition()
	require.NoError(t, tx.advance(StateSourceResolved))
	require.Error(t, tx.advance(StatePersisted))
	assert.Equal(t, StateSourceResolved, tx.state)
	assert.Equal(t, []State{StateValidating, StateSourceResolved}, tx.history)
}
