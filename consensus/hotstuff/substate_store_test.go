package hotstuff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/storage/database"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/types"
)

const testPreshards = 256

func newTestStore(t *testing.T) state.Store {
	t.Helper()
	return state.NewStore(database.NewMemDatabase())
}

func testHash(b byte) common.Hash {
	var h common.Hash
	h[0] = b
	return h
}

func testID(b byte, version uint32) types.VersionedSubstateID {
	return types.NewVersionedSubstateID(testHash(b), version)
}

func TestTryLockConflictMatrix(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	tx1 := testHash(0xa1)
	tx2 := testHash(0xa2)

	tests := []struct {
		name      string
		held      types.LockType
		requested types.LockType
		conflict  bool
		hard      bool
	}{
		{"read vs read", types.LockRead, types.LockRead, false, false},
		{"write vs read held", types.LockRead, types.LockWrite, true, true},
		{"read vs write held", types.LockWrite, types.LockRead, true, false}, // soft: defer
		{"write vs write", types.LockWrite, types.LockWrite, true, true},
		{"output vs read", types.LockRead, types.LockOutput, true, true},
		{"read vs output held", types.LockOutput, types.LockRead, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rtx := store.ReadTransaction()
			defer rtx.Close()
			sub := NewPendingSubstateStore(rtx, common.Hash{}, testPreshards)

			status, err := sub.TryLock(testID(1, 0), tt.held, tx1, false)
			require.NoError(t, err)
			require.True(t, status.IsAcquired())

			status, err = sub.TryLock(testID(1, 0), tt.requested, tx2, false)
			require.NoError(t, err)
			assert.Equal(t, tt.conflict, status.IsAnyFailed())
			assert.Equal(t, tt.hard, status.IsHardConflict())
			if tt.conflict {
				c := status.FirstConflict()
				require.NotNil(t, c)
				assert.Equal(t, tx1, c.HeldBy)
				assert.Equal(t, tx2, c.TransactionID)
			}
		})
	}
}

func TestTryLockSameTransactionNeverConflicts(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	rtx := store.ReadTransaction()
	defer rtx.Close()

	sub := NewPendingSubstateStore(rtx, common.Hash{}, testPreshards)
	txID := testHash(0xb1)

	status, err := sub.TryLock(testID(1, 0), types.LockWrite, txID, false)
	require.NoError(t, err)
	require.True(t, status.IsAcquired())

	status, err = sub.TryLock(testID(1, 0), types.LockWrite, txID, false)
	require.NoError(t, err)
	assert.True(t, status.IsAcquired())
}

func TestTryLockAllReportsPerItemStatus(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	rtx := store.ReadTransaction()
	defer rtx.Close()

	sub := NewPendingSubstateStore(rtx, common.Hash{}, testPreshards)
	holder := testHash(0xc1)
	_, err := sub.TryLock(testID(1, 0), types.LockWrite, holder, false)
	require.NoError(t, err)

	status, err := sub.TryLockAll(testHash(0xc2), []types.SubstateLockIntent{
		{ID: testHash(1), Version: 0, Lock: types.LockRead},  // soft conflict
		{ID: testHash(2), Version: 0, Lock: types.LockWrite}, // acquired
	}, false)
	require.NoError(t, err)
	assert.True(t, status.IsAnyFailed())
	assert.False(t, status.IsHardConflict())
	assert.Equal(t, 1, len(status.Conflicts()))
}

func TestOverlayReadsSeeCommittedAndPending(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	// committed substate
	err := store.WithWriteTx(func(tx state.WriteTransaction) error {
		return tx.SubstatesCreate(&types.SubstateRecord{
			SubstateID: testHash(1),
			Version:    0,
			Value:      []byte("committed"),
		})
	})
	require.NoError(t, err)

	rtx := store.ReadTransaction()
	defer rtx.Close()
	sub := NewPendingSubstateStore(rtx, common.Hash{}, testPreshards)

	got, err := sub.Get(testID(1, 0))
	require.NoError(t, err)
	assert.Equal(t, []byte("committed"), got.Value)

	// pending overlay: destroy v0, create v1
	txID := testHash(0xd1)
	require.NoError(t, sub.Put(types.DownChange(testID(1, 0), 3, txID)))
	require.NoError(t, sub.Put(types.UpChange(testID(1, 1), 3, txID, &types.Substate{Version: 1, Value: []byte("pending")})))

	_, err = sub.Get(testID(1, 0))
	assert.True(t, state.IsNotFound(err), "downed substate must disappear from reads")

	got, err = sub.Get(testID(1, 1))
	require.NoError(t, err)
	assert.Equal(t, []byte("pending"), got.Value)

	latest, err := sub.GetLatestVersion(testHash(1))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), latest)

	assert.Equal(t, 2, len(sub.Diff()))
}

func TestPutRejectsInvalidChanges(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	rtx := store.ReadTransaction()
	defer rtx.Close()
	sub := NewPendingSubstateStore(rtx, common.Hash{}, testPreshards)

	// down of a substate that does not exist
	err := sub.Put(types.DownChange(testID(9, 0), 3, testHash(0xe1)))
	assert.True(t, IsInvariantError(err))

	// double-up of the same version
	require.NoError(t, sub.Put(types.UpChange(testID(8, 0), 3, testHash(0xe1), &types.Substate{Value: []byte("x")})))
	err = sub.Put(types.UpChange(testID(8, 0), 3, testHash(0xe2), &types.Substate{Value: []byte("y")}))
	assert.True(t, IsInvariantError(err))
}

func TestChainLocksAndDiffsAreVisible(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	// Build one uncommitted block holding a write lock and an Up diff.
	blockQC := types.GenesisQC(1, common.AllShardsGroup(testPreshards))
	zero := types.ZeroBlock(1, common.AllShardsGroup(testPreshards))
	header := &types.BlockHeader{
		ParentID:    zero.ID(),
		JustifyQCID: blockQC.ID(),
		Height:      1,
		Epoch:       1,
		ShardGroup:  common.AllShardsGroup(testPreshards),
	}
	block := types.NewBlock(header, blockQC, nil)
	holder := testHash(0xf1)

	err := store.WithWriteTx(func(tx state.WriteTransaction) error {
		if err := tx.BlocksInsert(zero); err != nil {
			return err
		}
		if err := tx.BlocksSetCommitted(zero.ID()); err != nil {
			return err
		}
		if err := tx.BlocksInsert(block); err != nil {
			return err
		}
		if err := tx.SubstateLocksInsert(block.ID(), []*types.SubstateLock{{
			SubstateID:    testHash(1),
			Version:       0,
			TransactionID: holder,
			BlockID:       block.ID(),
			Lock:          types.LockWrite,
		}}); err != nil {
			return err
		}
		return tx.BlockDiffsInsert(block.ID(), []types.SubstateChange{
			types.UpChange(testID(2, 0), 3, holder, &types.Substate{Value: []byte("chained")}),
		})
	})
	require.NoError(t, err)

	rtx := store.ReadTransaction()
	defer rtx.Close()
	sub := NewPendingSubstateStore(rtx, block.ID(), testPreshards)

	// The chain lock conflicts with a new writer.
	status, err := sub.TryLock(testID(1, 0), types.LockWrite, testHash(0xf2), false)
	require.NoError(t, err)
	assert.True(t, status.IsHardConflict())

	// The chain diff is readable through the overlay.
	got, err := sub.Get(testID(2, 0))
	require.NoError(t, err)
	assert.Equal(t, []byte("chained"), got.Value)
}
