package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/storage/database"
	"github.com/vellumchain/vellum/types"
)

func newMemStore(t *testing.T) Store {
	t.Helper()
	return NewStore(database.NewMemDatabase())
}

func hash(b byte) common.Hash {
	var h common.Hash
	h[0] = b
	return h
}

func TestReadYourWritesAndCommitVisibility(t *testing.T) {
	store := newMemStore(t)
	defer store.Close()

	rec := types.NewTransactionPoolRecord(hash(1))
	tx := store.WriteTransaction()
	require.NoError(t, tx.TransactionPoolInsert(rec))

	// visible inside the transaction
	got, err := tx.TransactionPoolGet(hash(1))
	require.NoError(t, err)
	assert.Equal(t, rec.TransactionID, got.TransactionID)
	require.NoError(t, tx.Commit())

	// visible after commit
	err = store.WithReadTx(func(rtx ReadTransaction) error {
		_, err := rtx.TransactionPoolGet(hash(1))
		return err
	})
	require.NoError(t, err)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	store := newMemStore(t)
	defer store.Close()

	tx := store.WriteTransaction()
	require.NoError(t, tx.TransactionPoolInsert(types.NewTransactionPoolRecord(hash(2))))
	tx.Rollback()

	err := store.WithReadTx(func(rtx ReadTransaction) error {
		_, err := rtx.TransactionPoolGet(hash(2))
		return err
	})
	assert.True(t, IsNotFound(err))
}

func TestReadyIndexAdmissionOrder(t *testing.T) {
	store := newMemStore(t)
	defer store.Close()

	err := store.WithWriteTx(func(tx WriteTransaction) error {
		for i := byte(1); i <= 5; i++ {
			rec := types.NewTransactionPoolRecord(hash(i)).SetReady(i%2 == 1)
			if err := tx.TransactionPoolInsert(rec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = store.WithReadTx(func(tx ReadTransaction) error {
		ready, err := tx.TransactionPoolGetReady(10)
		require.NoError(t, err)
		require.Equal(t, 3, len(ready))
		// admission order: 1, 3, 5
		assert.Equal(t, hash(1), ready[0].TransactionID)
		assert.Equal(t, hash(3), ready[1].TransactionID)
		assert.Equal(t, hash(5), ready[2].TransactionID)

		capped, err := tx.TransactionPoolGetReady(2)
		require.NoError(t, err)
		assert.Equal(t, 2, len(capped))
		return nil
	})
	require.NoError(t, err)
}

func TestReadyIndexFollowsUpdates(t *testing.T) {
	store := newMemStore(t)
	defer store.Close()

	rec := types.NewTransactionPoolRecord(hash(1)).SetReady(true)
	require.NoError(t, store.WithWriteTx(func(tx WriteTransaction) error {
		return tx.TransactionPoolInsert(rec)
	}))

	// un-ready drops it from the batch
	require.NoError(t, store.WithWriteTx(func(tx WriteTransaction) error {
		return tx.TransactionPoolUpdate(rec.SetReady(false))
	}))
	store.WithReadTx(func(tx ReadTransaction) error {
		ready, err := tx.TransactionPoolGetReady(10)
		require.NoError(t, err)
		assert.Empty(t, ready)
		return nil
	})

	// final stages never surface, ready flag or not
	rec.CurrentStage = types.StageAllAccepted
	require.NoError(t, store.WithWriteTx(func(tx WriteTransaction) error {
		return tx.TransactionPoolUpdate(rec.SetReady(true))
	}))
	store.WithReadTx(func(tx ReadTransaction) error {
		ready, err := tx.TransactionPoolGetReady(10)
		require.NoError(t, err)
		assert.Empty(t, ready)
		return nil
	})

	require.NoError(t, store.WithWriteTx(func(tx WriteTransaction) error {
		return tx.TransactionPoolRemove(hash(1))
	}))
	store.WithReadTx(func(tx ReadTransaction) error {
		_, err := tx.TransactionPoolGet(hash(1))
		assert.True(t, IsNotFound(err))
		return nil
	})
}

func TestSubstateLifecycle(t *testing.T) {
	store := newMemStore(t)
	defer store.Close()

	id := types.NewVersionedSubstateID(hash(7), 0)
	require.NoError(t, store.WithWriteTx(func(tx WriteTransaction) error {
		return tx.SubstatesCreate(&types.SubstateRecord{SubstateID: id.ID, Version: 0, Value: []byte("v0")})
	}))

	// creating the same live version twice fails
	err := store.WithWriteTx(func(tx WriteTransaction) error {
		return tx.SubstatesCreate(&types.SubstateRecord{SubstateID: id.ID, Version: 0})
	})
	assert.Error(t, err)

	// destroy is monotone and idempotent
	destroyed := &types.SubstateDestroyed{ByTransaction: hash(9), AtHeight: 3}
	require.NoError(t, store.WithWriteTx(func(tx WriteTransaction) error {
		if err := tx.SubstatesDestroy(id, destroyed); err != nil {
			return err
		}
		return tx.SubstatesDestroy(id, &types.SubstateDestroyed{ByTransaction: hash(8)})
	}))
	store.WithReadTx(func(tx ReadTransaction) error {
		rec, err := tx.SubstatesGet(id)
		require.NoError(t, err)
		require.True(t, rec.IsDestroyed())
		assert.Equal(t, hash(9), rec.Destroyed.ByTransaction, "first destruction wins")
		return nil
	})

	// next version bumps the latest pointer
	require.NoError(t, store.WithWriteTx(func(tx WriteTransaction) error {
		return tx.SubstatesCreate(&types.SubstateRecord{SubstateID: id.ID, Version: 1, Value: []byte("v1")})
	}))
	store.WithReadTx(func(tx ReadTransaction) error {
		latest, err := tx.SubstatesGetLatestVersion(id.ID)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), latest)
		return nil
	})
}

func TestBlockChainWalks(t *testing.T) {
	store := newMemStore(t)
	defer store.Close()

	sg := common.AllShardsGroup(4)
	zero := types.ZeroBlock(1, sg)
	qc := zero.Justify()

	var chain []*types.Block
	parent := zero
	for h := common.Height(1); h <= 3; h++ {
		header := &types.BlockHeader{
			ParentID:    parent.ID(),
			JustifyQCID: qc.ID(),
			Height:      h,
			Epoch:       1,
			ShardGroup:  sg,
		}
		b := types.NewBlock(header, qc, nil)
		chain = append(chain, b)
		parent = b
	}

	require.NoError(t, store.WithWriteTx(func(tx WriteTransaction) error {
		if err := tx.BlocksInsert(zero); err != nil {
			return err
		}
		for _, b := range chain {
			if err := tx.BlocksInsert(b); err != nil {
				return err
			}
		}
		return nil
	}))

	store.WithReadTx(func(tx ReadTransaction) error {
		between, err := tx.BlocksGetAllBetween(chain[0].ID(), chain[2].ID())
		require.NoError(t, err)
		require.Equal(t, 2, len(between))
		assert.Equal(t, chain[1].ID(), between[0].ID())
		assert.Equal(t, chain[2].ID(), between[1].ID())

		up, err := tx.BlocksGetParentChain(chain[2].ID(), 10)
		require.NoError(t, err)
		require.Equal(t, 4, len(up))
		assert.Equal(t, chain[2].ID(), up[0].ID())
		assert.Equal(t, zero.ID(), up[3].ID())
		return nil
	})
}

func TestPointersDefaultToZero(t *testing.T) {
	store := newMemStore(t)
	defer store.Close()

	store.WithReadTx(func(tx ReadTransaction) error {
		voted, err := tx.LastVotedGet(1)
		require.NoError(t, err)
		assert.True(t, voted.BlockID.IsZero())
		assert.Equal(t, common.Height(0), voted.Height)

		high, err := tx.HighQcGet(1)
		require.NoError(t, err)
		assert.True(t, high.IsZero())
		return nil
	})
}

func TestLevelDBBackend(t *testing.T) {
	dir := t.TempDir()
	db, err := database.NewLDBDatabase(dir, 16, 16)
	require.NoError(t, err)
	store := NewStore(db)
	defer store.Close()

	require.NoError(t, store.WithWriteTx(func(tx WriteTransaction) error {
		return tx.TransactionPoolInsert(types.NewTransactionPoolRecord(hash(1)).SetReady(true))
	}))
	store.WithReadTx(func(tx ReadTransaction) error {
		ready, err := tx.TransactionPoolGetReady(10)
		require.NoError(t, err)
		assert.Equal(t, 1, len(ready))
		return nil
	})
}
