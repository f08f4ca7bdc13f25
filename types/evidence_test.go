package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumchain/vellum/common"
)

var (
	sgA = common.NewShardGroup(0, 128)
	sgB = common.NewShardGroup(128, 256)
)

func intent(b byte, version uint32, lock LockType) SubstateLockIntent {
	var id common.Hash
	id[0] = b
	return SubstateLockIntent{ID: id, Version: version, Lock: lock}
}

func TestEvidenceMonotonicMerge(t *testing.T) {
	ev := NewEvidence()
	ev.AddShardGroup(sgA).AddInput(intent(1, 0, LockWrite))

	other := NewEvidence()
	other.AddShardGroup(sgA).AddInput(intent(2, 0, LockRead))
	other.AddShardGroup(sgB).AddOutput(intent(3, 0, LockOutput))
	other.SetPrepareQC(sgB, common.HexToHash("0xbeef"))

	before := ev.Clone()
	ev.Merge(other)

	// Everything previously present must survive the merge.
	assert.True(t, ev.Contains(before))
	assert.True(t, ev.Contains(other))
	assert.Equal(t, 2, ev.NumShardGroups())

	// Merging again is idempotent.
	snapshot := ev.Clone()
	ev.Merge(other)
	assert.True(t, ev.EqPledges(snapshot))
	assert.Equal(t, snapshot.NumShardGroups(), ev.NumShardGroups())
}

func TestEvidenceMergeDoesNotOverwriteQCs(t *testing.T) {
	qc1 := common.HexToHash("0x01")
	qc2 := common.HexToHash("0x02")

	ev := NewEvidence()
	ev.SetPrepareQC(sgA, qc1)

	other := NewEvidence()
	other.SetPrepareQC(sgA, qc2)

	ev.Merge(other)
	assert.Equal(t, qc1, ev.Get(sgA).PrepareQC)
}

func TestAllInputShardGroupsPrepared(t *testing.T) {
	ev := NewEvidence()
	ev.AddShardGroup(sgA).AddInput(intent(1, 0, LockWrite))
	ev.AddShardGroup(sgB).AddOutput(intent(2, 0, LockOutput))

	// sgB has outputs only; only sgA's prepare QC is required.
	assert.False(t, ev.AllInputShardGroupsPrepared())
	ev.SetPrepareQC(sgA, common.HexToHash("0x01"))
	assert.True(t, ev.AllInputShardGroupsPrepared())
}

func TestIsCommitteeOutputOnly(t *testing.T) {
	ev := NewEvidence()
	ev.AddShardGroup(sgA).AddInput(intent(1, 0, LockWrite))
	ev.AddShardGroup(sgB).AddOutput(intent(2, 0, LockOutput))

	assert.False(t, ev.IsCommitteeOutputOnly(sgA))
	assert.True(t, ev.IsCommitteeOutputOnly(sgB))
	assert.False(t, ev.IsCommitteeOutputOnly(common.NewShardGroup(5, 6)))
}

func TestEqPledgesIgnoresQCs(t *testing.T) {
	a := NewEvidence()
	a.AddShardGroup(sgA).AddInput(intent(1, 0, LockWrite))

	b := a.Clone()
	b.SetPrepareQC(sgA, common.HexToHash("0x01"))
	b.SetAcceptQC(sgA, common.HexToHash("0x02"))

	assert.True(t, a.EqPledges(b))

	b.AddShardGroup(sgA).AddInput(intent(9, 1, LockRead))
	assert.False(t, a.EqPledges(b))
}

func TestEvidenceEntriesStaySorted(t *testing.T) {
	ev := NewEvidence()
	ev.AddShardGroup(sgB)
	ev.AddShardGroup(sgA)
	require.Equal(t, 2, ev.NumShardGroups())
	assert.Equal(t, sgA, ev.Entries[0].ShardGroup)
	assert.Equal(t, sgB, ev.Entries[1].ShardGroup)
}
