package hotstuff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/consensus/committee"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/types"
)

func fiveValidatorCommittee(t *testing.T) (*committee.Committee, []*Signer) {
	t.Helper()
	signers := make([]*Signer, 5)
	members := make([]committee.Member, 5)
	for i := range signers {
		signers[i] = GenerateSigner()
		members[i] = committee.Member{PublicKey: signers[i].PublicKey()}
	}
	return committee.New(1, common.AllShardsGroup(256), 256, members), signers
}

// Committed dummy blocks charge the skipped leader; committed real blocks
// clear their proposer and credit the QC signers.
func TestLeaderLivenessAccounting(t *testing.T) {
	com, signers := fiveValidatorCommittee(t)
	store := newTestStore(t)
	defer store.Close()
	cfg := testConsensusConfig()

	qc := types.GenesisQC(1, com.ShardGroup())
	skipped := com.Leader(2)

	err := store.WithWriteTx(func(tx state.WriteTransaction) error {
		dummy := types.NewDummyBlock(2, common.HexToHash("0x01"), qc, skipped, 0)
		for i := 0; i < 4; i++ {
			if err := accountLeaderLiveness(tx, dummy, com, cfg); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	store.WithReadTx(func(tx state.ReadTransaction) error {
		stats, err := tx.ValidatorStatsGet(1, skipped)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), stats.MissedProposals)

		// eviction candidates surface once over the threshold
		evict, err := tx.ValidatorStatsGetNodesToEvict(1, cfg.MissedProposalEvictThreshold, 10)
		require.NoError(t, err)
		require.Equal(t, 1, len(evict))
		assert.Equal(t, skipped, evict[0])
		return nil
	})

	// a committed real block from the same validator clears the counter
	var sigs []types.ValidatorSignature
	for _, s := range signers {
		sigs = append(sigs, types.ValidatorSignature{PublicKey: s.PublicKey()})
	}
	realQC := types.NewQuorumCertificate(common.HexToHash("0x02"), common.HexToHash("0x01"), 2, 1, com.ShardGroup(), sigs, types.QuorumAccept)
	header := &types.BlockHeader{
		Height: 3, Epoch: 1, ShardGroup: com.ShardGroup(),
		ProposerPublicKey: skipped, JustifyQCID: realQC.ID(),
	}
	real := types.NewBlock(header, realQC, nil)

	err = store.WithWriteTx(func(tx state.WriteTransaction) error {
		return accountLeaderLiveness(tx, real, com, cfg)
	})
	require.NoError(t, err)

	store.WithReadTx(func(tx state.ReadTransaction) error {
		stats, err := tx.ValidatorStatsGet(1, skipped)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), stats.MissedProposals)

		shares, err := tx.ValidatorStatsGet(1, signers[0].PublicKey())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), shares.ParticipationShares)
		return nil
	})
}

func TestMissedProposalsCapped(t *testing.T) {
	com, _ := fiveValidatorCommittee(t)
	store := newTestStore(t)
	defer store.Close()
	cfg := testConsensusConfig()

	pk := com.Leader(1)
	err := store.WithWriteTx(func(tx state.WriteTransaction) error {
		for i := uint64(0); i < cfg.MaxMissedProposalsCap*2; i++ {
			if err := tx.ValidatorStatsIncrementMissed(1, pk, cfg.MaxMissedProposalsCap); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	store.WithReadTx(func(tx state.ReadTransaction) error {
		stats, err := tx.ValidatorStatsGet(1, pk)
		require.NoError(t, err)
		assert.Equal(t, cfg.MaxMissedProposalsCap, stats.MissedProposals)
		return nil
	})
}

// The EvictNode vote contract: threshold not reached, double eviction and
// quorum floor all refuse; a justified eviction passes.
func TestEvaluateEvictNode(t *testing.T) {
	com, _ := fiveValidatorCommittee(t)
	store := newTestStore(t)
	defer store.Close()
	cfg := testConsensusConfig()
	v := &onReadyToVote{config: cfg}

	target := com.Leader(2)
	header := &types.BlockHeader{Height: 9, Epoch: 1, ShardGroup: com.ShardGroup()}
	block := types.NewBlock(header, types.GenesisQC(1, com.ShardGroup()), nil)
	cmd := types.NewEvictNodeCommand(&types.EvictNodeAtom{PublicKey: target})

	// below threshold: refuse
	err := store.WithWriteTx(func(tx state.WriteTransaction) error {
		reason, err := v.evaluateEvictNode(tx, cmd, block, com)
		require.NoError(t, err)
		assert.Equal(t, NoVoteShouldNotEvictNode, reason)
		return nil
	})
	require.NoError(t, err)

	// over threshold: accept
	err = store.WithWriteTx(func(tx state.WriteTransaction) error {
		for i := uint64(0); i < cfg.MissedProposalEvictThreshold; i++ {
			if err := tx.ValidatorStatsIncrementMissed(1, target, cfg.MaxMissedProposalsCap); err != nil {
				return err
			}
		}
		reason, err := v.evaluateEvictNode(tx, cmd, block, com)
		require.NoError(t, err)
		assert.Equal(t, NoVoteNone, reason)

		// once evicted, a second eviction refuses
		if err := tx.EvictedNodesInsert(1, target); err != nil {
			return err
		}
		reason, err = v.evaluateEvictNode(tx, cmd, block, com)
		require.NoError(t, err)
		assert.Equal(t, NoVoteNodeAlreadyEvicted, reason)
		return nil
	})
	require.NoError(t, err)

	// evicting below the quorum floor refuses: with f=1 only one eviction
	// is allowed in a committee of five
	other := com.Leader(3)
	otherCmd := types.NewEvictNodeCommand(&types.EvictNodeAtom{PublicKey: other})
	err = store.WithWriteTx(func(tx state.WriteTransaction) error {
		for i := uint64(0); i < cfg.MissedProposalEvictThreshold; i++ {
			if err := tx.ValidatorStatsIncrementMissed(1, other, cfg.MaxMissedProposalsCap); err != nil {
				return err
			}
		}
		reason, err := v.evaluateEvictNode(tx, otherCmd, block, com)
		require.NoError(t, err)
		assert.Equal(t, NoVoteCannotEvictNodeBelowQuorumThreshold, reason)
		return nil
	})
	require.NoError(t, err)
}
