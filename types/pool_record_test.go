package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumchain/vellum/common"
)

func TestStageTransitions(t *testing.T) {
	tests := []struct {
		from, to TransactionPoolStage
		ok       bool
	}{
		{StageNew, StagePrepared, true},
		{StageNew, StageLocalOnly, true},
		{StageNew, StageLocalPrepared, false},
		{StagePrepared, StageLocalPrepared, true},
		{StagePrepared, StageLocalAccepted, true}, // output-only shortcut
		{StageLocalPrepared, StageAllPrepared, true},
		{StageLocalPrepared, StageSomePrepared, true},
		{StageLocalPrepared, StageLocalAccepted, false},
		{StageAllPrepared, StageLocalAccepted, true},
		{StageSomePrepared, StageLocalAccepted, true},
		{StageLocalAccepted, StageAllAccepted, true},
		{StageLocalAccepted, StageSomeAccepted, true},
		{StageAllAccepted, StageSomeAccepted, false},
		{StageLocalOnly, StagePrepared, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSetNextStageAndPromote(t *testing.T) {
	rec := NewTransactionPoolRecord(common.HexToHash("0x01"))
	require.NoError(t, rec.SetNextStage(StagePrepared))
	assert.Equal(t, StageNew, rec.CurrentStage)

	rec.PromotePendingStage()
	assert.Equal(t, StagePrepared, rec.CurrentStage)
	assert.Nil(t, rec.PendingStage)

	assert.Error(t, rec.SetNextStage(StageAllAccepted))
}

func TestLeaderFeeFormula(t *testing.T) {
	// leader_fee = fee/involved - (fee mod divisor)/involved
	fee := CalculateLeaderFee(103, 2, 20)
	assert.Equal(t, uint64(103/2-3/2), fee.Fee)
	assert.Equal(t, uint64(1), fee.GlobalExhaustBurn)

	// single shard group, no remainder
	fee = CalculateLeaderFee(100, 1, 20)
	assert.Equal(t, uint64(100), fee.Fee)
	assert.Equal(t, uint64(0), fee.GlobalExhaustBurn)

	// zero divisor burns nothing
	fee = CalculateLeaderFee(77, 1, 0)
	assert.Equal(t, uint64(77), fee.Fee)
}

func TestLeaderFeeConservationAcrossGroups(t *testing.T) {
	// The per-group fees of an evenly split transaction never exceed the
	// transaction fee.
	const txFee = 1003
	for involved := uint64(1); involved <= 5; involved++ {
		fee := CalculateLeaderFee(txFee, involved, 20)
		assert.LessOrEqual(t, fee.Fee*involved, uint64(txFee))
	}
}

func TestCurrentDecisionRemoteAbortWins(t *testing.T) {
	rec := NewTransactionPoolRecord(common.HexToHash("0x02"))
	rec.SetLocalDecision(Commit())
	assert.True(t, rec.CurrentDecision().IsCommit())

	rec.SetRemoteDecision(Abort(AbortForeignShardGroupDecidedToAbort))
	assert.True(t, rec.CurrentDecision().IsAbort())

	// An abort is sticky; a later remote commit cannot clear it.
	rec.SetRemoteDecision(Commit())
	assert.True(t, rec.CurrentDecision().IsAbort())
}

func TestIsSameOutcome(t *testing.T) {
	assert.True(t, Abort(AbortExecutionFailure).IsSameOutcome(Abort(AbortForeignShardGroupDecidedToAbort)))
	assert.False(t, Commit().IsSameOutcome(Abort(AbortExecutionFailure)))
	assert.True(t, Commit().IsSameOutcome(Commit()))
}

func TestReadinessPredicate(t *testing.T) {
	local := sgA
	foreign := sgB

	rec := NewTransactionPoolRecord(common.HexToHash("0x03"))
	rec.SetLocalDecision(Commit())
	assert.True(t, rec.IsReadyForPendingStage(local), "New records are ready")

	// Prepared with a foreign input group: not ready until the foreign
	// prepare QC is known.
	rec.CurrentStage = StagePrepared
	rec.Evidence.AddShardGroup(local).AddInput(intent(1, 0, LockWrite))
	rec.Evidence.AddShardGroup(foreign).AddInput(intent(200, 0, LockRead))
	assert.False(t, rec.IsReadyForPendingStage(local))

	rec.Evidence.SetPrepareQC(foreign, common.HexToHash("0xaa"))
	assert.True(t, rec.IsReadyForPendingStage(local))

	// LocalAccepted: every involved group must have accepted.
	rec.CurrentStage = StageLocalAccepted
	assert.False(t, rec.IsReadyForPendingStage(local))
	rec.Evidence.SetAcceptQC(local, common.HexToHash("0xbb"))
	rec.Evidence.SetAcceptQC(foreign, common.HexToHash("0xcc"))
	assert.True(t, rec.IsReadyForPendingStage(local))
}
