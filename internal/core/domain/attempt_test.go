package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crashFault() Fault {
	return NewFault(FaultServiceCrash, "nginx", SeverityCritical, "container exited with code 137")
}

// =============================================================================
// Attempt Creation Tests
// =============================================================================

func TestNewHealingAttempt(t *testing.T) {
	fault := crashFault()

	attempt := NewHealingAttempt(fault, TriggerLoop)

	assert.NotEmpty(t, attempt.ID)
	assert.Equal(t, StatusStarted, attempt.Status)
	assert.Equal(t, fault.Signature(), attempt.FaultSignature)
	assert.Equal(t, TriggerLoop, attempt.Trigger)
	assert.NotNil(t, attempt.ActionsTaken)
	assert.Empty(t, attempt.ActionsTaken)
	assert.Nil(t, attempt.FinishedAt)
}

func TestNewHealingAttempt_UniqueIDs(t *testing.T) {
	a := NewHealingAttempt(crashFault(), TriggerLoop)
	b := NewHealingAttempt(crashFault(), TriggerLoop)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.FaultSignature, b.FaultSignature)
}

// =============================================================================
// Transition Tests
// =============================================================================

func TestHealingAttempt_Transition_HappyPath(t *testing.T) {
	attempt := NewHealingAttempt(crashFault(), TriggerLoop)

	require.NoError(t, attempt.Transition(StatusAnalyzing))
	require.NoError(t, attempt.Transition(StatusExecuting))
	require.NoError(t, attempt.Transition(StatusHealed))

	assert.Equal(t, StatusHealed, attempt.Status)
	assert.NotNil(t, attempt.FinishedAt)
}

func TestHealingAttempt_Transition_BackwardsRejected(t *testing.T) {
	attempt := NewHealingAttempt(crashFault(), TriggerLoop)
	require.NoError(t, attempt.Transition(StatusAnalyzing))

	err := attempt.Transition(StatusStarted)

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusAnalyzing, attempt.Status)
}

func TestHealingAttempt_Transition_TerminalNeverReopened(t *testing.T) {
	attempt := NewHealingAttempt(crashFault(), TriggerLoop)
	require.NoError(t, attempt.Transition(StatusAnalyzing))
	require.NoError(t, attempt.Transition(StatusNoAction))

	for _, to := range []AttemptStatus{StatusAnalyzing, StatusExecuting, StatusHealed, StatusException} {
		assert.ErrorIs(t, attempt.Transition(to), ErrInvalidTransition)
	}
	assert.Equal(t, StatusNoAction, attempt.Status)
}

func TestHealingAttempt_MarkException(t *testing.T) {
	attempt := NewHealingAttempt(crashFault(), TriggerLoop)
	require.NoError(t, attempt.Transition(StatusAnalyzing))
	require.NoError(t, attempt.Transition(StatusExecuting))

	attempt.MarkException("boom")

	assert.Equal(t, StatusException, attempt.Status)
	assert.Equal(t, "boom", attempt.ErrorMessage)
}

func TestHealingAttempt_MarkException_TerminalIsNoOp(t *testing.T) {
	attempt := NewHealingAttempt(crashFault(), TriggerLoop)
	require.NoError(t, attempt.Transition(StatusAnalyzing))
	require.NoError(t, attempt.Transition(StatusPendingApproval))

	attempt.MarkException("late failure")

	assert.Equal(t, StatusPendingApproval, attempt.Status)
	assert.Empty(t, attempt.ErrorMessage)
}

func TestValidateTransition_AllValid(t *testing.T) {
	validTransitions := []struct {
		from AttemptStatus
		to   AttemptStatus
	}{
		{StatusStarted, StatusAnalyzing},
		{StatusStarted, StatusException},
		{StatusAnalyzing, StatusNoAction},
		{StatusAnalyzing, StatusPendingApproval},
		{StatusAnalyzing, StatusExecuting},
		{StatusAnalyzing, StatusException},
		{StatusExecuting, StatusHealed},
		{StatusExecuting, StatusFailedVerification},
		{StatusExecuting, StatusFailed},
		{StatusExecuting, StatusException},
	}

	for _, tc := range validTransitions {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.NoError(t, ValidateTransition(tc.from, tc.to))
		})
	}
}

func TestValidateTransition_AllInvalid(t *testing.T) {
	invalidTransitions := []struct {
		from AttemptStatus
		to   AttemptStatus
	}{
		{StatusStarted, StatusExecuting},
		{StatusStarted, StatusHealed},
		{StatusAnalyzing, StatusHealed},
		{StatusExecuting, StatusAnalyzing},
		{StatusHealed, StatusExecuting},
		{StatusFailed, StatusHealed},
		{StatusException, StatusStarted},
		{"bogus", StatusStarted},
	}

	for _, tc := range invalidTransitions {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.ErrorIs(t, ValidateTransition(tc.from, tc.to), ErrInvalidTransition)
		})
	}
}

func TestTerminalStatuses_AreTerminal(t *testing.T) {
	for _, s := range TerminalStatuses() {
		assert.True(t, s.IsTerminal(), s)
	}
	assert.False(t, StatusStarted.IsTerminal())
	assert.False(t, StatusAnalyzing.IsTerminal())
	assert.False(t, StatusExecuting.IsTerminal())
}

// =============================================================================
// Clone Tests
// =============================================================================

func TestHealingAttempt_Clone_IsDeep(t *testing.T) {
	attempt := NewHealingAttempt(crashFault(), TriggerLoop)
	attempt.Analysis = &RootCauseAnalysis{RootCause: "oom", RecommendedActions: []string{"a"}}
	attempt.ActionsTaken = append(attempt.ActionsTaken, ActionResult{ActionType: ActionRestartContainer})

	clone := attempt.Clone()
	clone.Analysis.RecommendedActions[0] = "changed"
	clone.ActionsTaken[0].Output = "changed"

	assert.Equal(t, "a", attempt.Analysis.RecommendedActions[0])
	assert.Empty(t, attempt.ActionsTaken[0].Output)
}

// =============================================================================
// Statistics Tests
// =============================================================================

func TestComputeStatistics(t *testing.T) {
	attempts := []HealingAttempt{
		{Status: StatusHealed},
		{Status: StatusHealed},
		{Status: StatusFailed},
		{Status: StatusFailedVerification},
		{Status: StatusException},
		{Status: StatusPendingApproval},
		{Status: StatusNoAction},
	}

	stats := ComputeStatistics(attempts)

	assert.Equal(t, 7, stats.Total)
	assert.Equal(t, 2, stats.Successful)
	assert.Equal(t, 3, stats.Failed)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 28.6, stats.SuccessRate)
	assert.Equal(t, 1, stats.ByStatus[StatusNoAction])
}

func TestComputeStatistics_Empty(t *testing.T) {
	stats := ComputeStatistics(nil)

	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0.0, stats.SuccessRate)
}

func TestSuccessRate_Rounding(t *testing.T) {
	assert.Equal(t, 33.3, SuccessRate(1, 3))
	assert.Equal(t, 66.7, SuccessRate(2, 3))
	assert.Equal(t, 100.0, SuccessRate(5, 5))
	assert.Equal(t, 0.0, SuccessRate(0, 0))
}
