package hotstuff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/consensus/committee"
	"github.com/vellumchain/vellum/protocol"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/types"
)

func twoCommittees(t *testing.T) (local *committee.Committee, foreign *committee.Committee, foreignSigners []*Signer) {
	t.Helper()
	localMembers := make([]committee.Member, 2)
	for i := range localMembers {
		localMembers[i] = committee.Member{PublicKey: GenerateSigner().PublicKey()}
	}
	foreignSigners = make([]*Signer, 2)
	foreignMembers := make([]committee.Member, 2)
	for i := range foreignSigners {
		foreignSigners[i] = GenerateSigner()
		foreignMembers[i] = committee.Member{PublicKey: foreignSigners[i].PublicKey()}
	}
	local = committee.New(1, common.NewShardGroup(0, 128), 256, localMembers)
	foreign = committee.New(1, common.NewShardGroup(128, 256), 256, foreignMembers)
	return local, foreign, foreignSigners
}

// foreignBlock builds a justified foreign block carrying one LocalPrepare
// command for txID, with a signed QC over it.
func foreignBlock(t *testing.T, foreign *committee.Committee, signers []*Signer, txID common.Hash,
	evidence *types.Evidence, towards common.Shard, index uint64,
) (*types.Block, *types.QuorumCertificate) {
	t.Helper()
	var cs types.Commands
	cs.Insert(types.NewTransactionCommand(types.CmdLocalPrepare, &types.TransactionAtom{
		TransactionID: txID,
		Decision:      types.Commit(),
		Evidence:      evidence,
	}))
	var indexes types.ForeignIndexes
	indexes.Set(towards, index)
	header := &types.BlockHeader{
		ParentID:          common.HexToHash("0x0404"),
		JustifyQCID:       types.GenesisQC(1, foreign.ShardGroup()).ID(),
		Height:            3,
		Epoch:             1,
		ShardGroup:        foreign.ShardGroup(),
		ProposerPublicKey: signers[0].PublicKey(),
		CommandMerkleRoot: cs.MerkleRoot(),
		ForeignIndexes:    indexes,
	}
	block := types.NewBlock(header, types.GenesisQC(1, foreign.ShardGroup()), cs)

	sigs := make([]types.ValidatorSignature, len(signers))
	for i, s := range signers {
		sigs[i] = types.ValidatorSignature{
			PublicKey: s.PublicKey(),
			Signature: s.Sign(block.ID()),
			LeafHash:  block.ID(),
		}
	}
	qc := types.NewQuorumCertificate(block.ID(), block.ParentID(), block.Height(), 1,
		foreign.ShardGroup(), sigs, types.QuorumAccept)
	return block, qc
}

func TestForeignProposalUpdatesEvidenceAndPledges(t *testing.T) {
	local, foreign, signers := twoCommittees(t)
	store := newTestStore(t)
	defer store.Close()
	processor := &foreignProposalProcessor{}

	// a pooled transaction at Prepared with foreign inputs outstanding
	txID := common.HexToHash("0x1111")
	localInput := intentAt(t, local.ShardGroup(), 1)
	foreignInput := intentAt(t, foreign.ShardGroup(), 2)

	rec := types.NewTransactionPoolRecord(txID)
	rec.SetLocalDecision(types.Commit())
	rec.CurrentStage = types.StagePrepared
	rec.Evidence.AddShardGroup(local.ShardGroup()).AddInput(localInput)
	rec.Evidence.AddShardGroup(foreign.ShardGroup()).AddInput(foreignInput)

	evidence := rec.Evidence.Clone()
	fb, qc := foreignBlock(t, foreign, signers, txID, evidence, local.ShardGroup().Start, 1)

	pledge := &types.BlockPledge{}
	pledge.Add(txID, types.SubstatePledge{ID: foreignInput.VersionedID(), IsInput: true, Value: []byte("pledged")})
	msg := &protocol.ForeignProposalMessage{Block: fb, JustifyQC: qc, BlockPledge: pledge}

	err := store.WithWriteTx(func(tx state.WriteTransaction) error {
		if err := tx.TransactionPoolInsert(rec); err != nil {
			return err
		}
		return processor.handleReceived(tx, msg, foreign, local)
	})
	require.NoError(t, err)

	// process it into a local change set, as the validator would
	err = store.WithWriteTx(func(tx state.WriteTransaction) error {
		fp, err := tx.ForeignProposalsGet(fb.ID())
		if err != nil {
			return err
		}
		changeSet := NewProposedBlockChangeSet(common.HexToHash("0x2222"))
		if err := processor.processForeignBlock(tx, fp, local, changeSet); err != nil {
			return err
		}
		return changeSet.Save(tx)
	})
	require.NoError(t, err)

	store.WithReadTx(func(tx state.ReadTransaction) error {
		got, err := tx.TransactionPoolGet(txID)
		require.NoError(t, err)
		// foreign prepare QC stamped into evidence
		assert.Equal(t, qc.ID(), got.Evidence.Get(foreign.ShardGroup()).PrepareQC)

		// pledge values merged
		pledges, err := tx.ForeignSubstatePledgesGet(txID)
		require.NoError(t, err)
		p, ok := pledges.Get(foreignInput.VersionedID())
		require.True(t, ok)
		assert.Equal(t, []byte("pledged"), p.Value)
		assert.True(t, p.IsInput)

		// every foreign input group prepared: the record is ready again
		assert.True(t, got.Ready)

		// the receive counter advanced; a replay would be dropped
		count, err := tx.ForeignReceiveCounterGet(1, foreign.ShardGroup())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), count)
		return nil
	})
}

func TestForeignProposalRejectsOutOfOrder(t *testing.T) {
	local, foreign, signers := twoCommittees(t)
	store := newTestStore(t)
	defer store.Close()
	processor := &foreignProposalProcessor{}

	// index 3 while expecting 1
	fb, qc := foreignBlock(t, foreign, signers, common.HexToHash("0x3333"), types.NewEvidence(), local.ShardGroup().Start, 3)
	err := store.WithWriteTx(func(tx state.WriteTransaction) error {
		return processor.handleReceived(tx, &protocol.ForeignProposalMessage{Block: fb, JustifyQC: qc}, foreign, local)
	})
	assert.Error(t, err)
}

func TestForeignProposalRejectsBadQuorum(t *testing.T) {
	local, foreign, signers := twoCommittees(t)
	store := newTestStore(t)
	defer store.Close()
	processor := &foreignProposalProcessor{}

	fb, qc := foreignBlock(t, foreign, signers, common.HexToHash("0x4444"), types.NewEvidence(), local.ShardGroup().Start, 1)
	qc.Signatures = qc.Signatures[:1] // below threshold (2 of 2 required)

	err := store.WithWriteTx(func(tx state.WriteTransaction) error {
		return processor.handleReceived(tx, &protocol.ForeignProposalMessage{Block: fb, JustifyQC: qc}, foreign, local)
	})
	assert.Error(t, err)
}

// intentAt builds a lock intent whose substate address falls into sg.
func intentAt(t *testing.T, sg common.ShardGroup, salt byte) types.SubstateLockIntent {
	t.Helper()
	for i := 0; i < 10000; i++ {
		id := common.Blake2bHash([]byte{salt, byte(i), byte(i >> 8)})
		if sg.Contains(common.ShardForAddress(id, 256)) {
			return types.SubstateLockIntent{ID: id, Version: 0, Lock: types.LockWrite}
		}
	}
	t.Fatal("no address found for shard group")
	return types.SubstateLockIntent{}
}
