// Copyright 2025 The vellum Authors
// This file is part of the vellum library.
//
// The vellum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The vellum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the vellum library. If not, see <http://www.gnu.org/licenses/>.

package hotstuff

import (
	"github.com/rcrowley/go-metrics"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/consensus/committee"
	"github.com/vellumchain/vellum/params"
	"github.com/vellumchain/vellum/statetree"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/txpool"
	"github.com/vellumchain/vellum/types"
)

var (
	votedBlockCounter = metrics.NewRegisteredCounter("hotstuff/vote/accepted", nil)
	noVoteCounter     = metrics.NewRegisteredCounter("hotstuff/vote/withheld", nil)
)

// onReadyToVote re-derives every command of a received proposal with the
// identical inputs the proposer used. Any mismatch withholds the vote; it
// never fails the node. The block change set is produced either way.
type onReadyToVote struct {
	txManager *transactionManager
	foreign   *foreignProposalProcessor
	config    params.ConsensusConfig
}

// handle evaluates the block and returns its change set. The caller persists
// the set and, when it carries an Accept decision, emits the vote.
func (v *onReadyToVote) handle(tx state.WriteTransaction, block *types.Block, local *committee.Committee, epochEnded bool) (*ProposedBlockChangeSet, error) {
	changeSet := NewProposedBlockChangeSet(block.ID())

	lastVoted, err := tx.LastVotedGet(block.Epoch())
	if err != nil {
		return nil, err
	}
	// Single vote per height; LastVoted.Height starts at zero.
	if !lastVoted.BlockID.IsZero() && block.Height() <= lastVoted.Height {
		noVoteCounter.Inc(1)
		return changeSet.NoVote(NoVoteAlreadyVotedAtHeight), nil
	}

	if err := v.decideWhatToVote(tx, block, local, changeSet, epochEnded); err != nil {
		return nil, err
	}
	if changeSet.IsNoVote() {
		noVoteCounter.Inc(1)
		logger.Warn("NO VOTE", "block", block.String(), "reason", changeSet.NoVoteReason().String())
		return changeSet, nil
	}

	changeSet.SetQuorumDecision(types.QuorumAccept)
	votedBlockCounter.Inc(1)
	return changeSet, nil
}

func (v *onReadyToVote) decideWhatToVote(tx state.WriteTransaction, block *types.Block,
	local *committee.Committee, changeSet *ProposedBlockChangeSet, epochEnded bool,
) error {
	parentExists, err := tx.BlocksExists(block.ParentID())
	if err != nil {
		return err
	}
	startOfChain := types.LeafBlock{BlockID: block.ParentID(), Height: block.Height().Sub(1), Epoch: block.Epoch()}
	if !parentExists {
		startOfChain = block.Justify().AsLeafBlock()
	}

	subStore := NewPendingSubstateStore(tx, startOfChain.BlockID, v.config.NumPreshards)
	totalLeaderFee := uint64(0)

	// Commands are evaluated in canonical order so locks and overlays are
	// derived identically on every node.
	for _, cmd := range block.Commands() {
		var reason NoVoteReason
		var fee uint64
		switch cmd.Type {
		case types.CmdLocalOnly:
			reason, fee, err = v.evaluateLocalOnly(tx, cmd, startOfChain, local, subStore, changeSet)
		case types.CmdPrepare:
			reason, err = v.evaluatePrepare(tx, cmd, startOfChain, local, subStore, changeSet)
		case types.CmdLocalPrepare:
			reason, err = v.evaluateLocalPrepare(tx, cmd, local, changeSet)
		case types.CmdAllPrepare:
			reason, err = v.evaluateAllPrepare(tx, cmd, startOfChain, local, subStore, changeSet)
		case types.CmdSomePrepare:
			reason, err = v.evaluateSomePrepare(tx, cmd, changeSet)
		case types.CmdLocalAccept:
			reason, err = v.evaluateLocalAccept(tx, cmd, local, changeSet)
		case types.CmdAllAccept:
			reason, fee, err = v.evaluateAllAccept(tx, cmd, startOfChain, local, subStore, changeSet)
		case types.CmdSomeAccept:
			reason, err = v.evaluateSomeAccept(tx, cmd, changeSet)
		case types.CmdForeignProposal:
			reason, err = v.evaluateForeignProposal(tx, cmd, block, local, subStore, changeSet)
		case types.CmdMintConfidentialOutput:
			reason, err = v.evaluateMint(tx, cmd, subStore, changeSet)
		case types.CmdEvictNode:
			reason, err = v.evaluateEvictNode(tx, cmd, block, local)
		case types.CmdEndEpoch:
			reason = v.evaluateEndEpoch(block, epochEnded)
		default:
			return invariantErrorf("unknown command type %d in block %s", cmd.Type, block.ID().TerminalString())
		}
		if err != nil {
			return err
		}
		if reason != NoVoteNone {
			logger.Warn("Refusing command", "cmd", cmd.String(), "reason", reason.String())
			changeSet.NoVote(reason)
			return nil
		}
		totalLeaderFee += fee
	}

	if totalLeaderFee != block.TotalLeaderFee() {
		changeSet.NoVote(NoVoteTotalLeaderFeeDisagreement)
		return nil
	}
	if totalLeaderFee > 0 {
		err := applyLeaderFeeToSubstateStore(subStore, block.Epoch(), block.Height(), local.ShardGroup(), block.Proposer(), totalLeaderFee)
		if err != nil {
			return err
		}
	}

	pendingDiffs, err := tx.PendingStateTreeDiffsGetAllUpToCommitBlock(startOfChain.BlockID)
	if err != nil {
		return err
	}
	stateRoot, treeDiffs, err := statetree.CalculateStateRoot(tx, local.ShardGroup(), v.config.NumPreshards, pendingDiffs, subStore.Diff())
	if err != nil {
		return err
	}
	if stateRoot != block.StateMerkleRoot() {
		changeSet.NoVote(NoVoteStateMerkleRootMismatch)
		return nil
	}

	diff, locks := subStore.IntoParts()
	changeSet.SetSubstateChanges(diff, locks)
	changeSet.SetTreeDiffs(treeDiffs)
	return nil
}

// getRecord loads the pool record through the change-set overlay, mapping
// absence onto TransactionNotInPool.
func (v *onReadyToVote) getRecord(tx state.ReadTransaction, changeSet *ProposedBlockChangeSet, txID common.Hash) (*types.TransactionPoolRecord, NoVoteReason, error) {
	rec, err := changeSet.GetTransaction(tx, txID)
	if err != nil {
		if state.IsNotFound(err) {
			return nil, NoVoteTransactionNotInPool, nil
		}
		return nil, NoVoteNone, err
	}
	return rec, NoVoteNone, nil
}

// localEvidenceMatches compares the pledged substates of the local shard
// group between the atom and the record.
func localEvidenceMatches(atom *types.TransactionAtom, rec *types.TransactionPoolRecord, local *committee.Committee) bool {
	if atom.Evidence == nil {
		return rec.Evidence.Get(local.ShardGroup()) == nil
	}
	atomLocal := atom.Evidence.Get(local.ShardGroup())
	recLocal := rec.Evidence.Get(local.ShardGroup())
	if atomLocal == nil || recLocal == nil {
		return atomLocal == recLocal
	}
	sub := &types.Evidence{}
	sub.Entries = append(sub.Entries, types.EvidenceEntry{ShardGroup: local.ShardGroup(), Evidence: atomLocal})
	mine := &types.Evidence{}
	mine.Entries = append(mine.Entries, types.EvidenceEntry{ShardGroup: local.ShardGroup(), Evidence: recLocal})
	return mine.EqPledges(sub)
}

func (v *onReadyToVote) evaluateLocalOnly(tx state.WriteTransaction, cmd *types.Command, startOfChain types.LeafBlock,
	local *committee.Committee, subStore *PendingSubstateStore, changeSet *ProposedBlockChangeSet,
) (NoVoteReason, uint64, error) {
	atom := cmd.Transaction
	rec, reason, err := v.getRecord(tx, changeSet, atom.TransactionID)
	if err != nil || reason != NoVoteNone {
		return reason, 0, err
	}
	if rec.CurrentStage != types.StageNew {
		return NoVoteStageDisagreement, 0, nil
	}

	txRec, err := tx.TransactionsGet(atom.TransactionID)
	if err != nil {
		if state.IsNotFound(err) {
			return NoVoteTransactionNotInPool, 0, nil
		}
		return NoVoteNone, 0, err
	}
	prepared, err := v.txManager.prepare(subStore, local, startOfChain.Epoch, txRec, startOfChain.BlockID)
	if err != nil {
		return NoVoteNone, 0, err
	}
	if !prepared.IsLocalOnly() {
		return NoVoteLocalOnlyProposedForMultiShard, 0, nil
	}
	exec := prepared.LocalOnly.Execution

	if !exec.Decision.IsSameOutcome(atom.Decision) {
		// A proposer abort on a lock conflict is binding: we may visit the
		// conflicting pair in a different (canonical) order and see no
		// conflict ourselves. A proposer commit still requires our own
		// execution to agree.
		if atom.Decision.IsAbort() && atom.Decision.Reason == types.AbortFailedToLockInputs {
			exec.SetAbortReason(types.AbortFailedToLockInputs)
			subStore.ReleaseLocks(atom.TransactionID)
		} else {
			return NoVoteDecisionDisagreement, 0, nil
		}
	}
	if exec.TransactionFee != atom.TransactionFee {
		return NoVoteFeeDisagreement, 0, nil
	}
	rec.UpdateFromExecution(local.NumPreshards(), local.GroupFor, exec)

	var leaderFee uint64
	if atom.Decision.IsCommit() {
		if atom.LeaderFee == nil {
			return NoVoteNoLeaderFee, 0, nil
		}
		expected := rec.CalculateLeaderFee(1, v.config.FeeExhaustDivisor)
		if !expected.Eq(atom.LeaderFee) {
			return NoVoteLeaderFeeDisagreement, 0, nil
		}
		rec.SetLeaderFee(atom.LeaderFee)
		leaderFee = atom.LeaderFee.Fee
		if err := subStore.PutDiff(atom.TransactionID, exec.Diff); err != nil {
			if IsInvariantError(err) {
				return NoVoteDecisionDisagreement, 0, nil
			}
			return NoVoteNone, 0, err
		}
	}

	if err := rec.SetNextStage(types.StageLocalOnly); err != nil {
		return NoVoteStageTransitionNotApplicable, 0, nil
	}
	changeSet.SetNextTransactionUpdate(rec)
	changeSet.AddExecution(exec)
	return NoVoteNone, leaderFee, nil
}

func (v *onReadyToVote) evaluatePrepare(tx state.WriteTransaction, cmd *types.Command, startOfChain types.LeafBlock,
	local *committee.Committee, subStore *PendingSubstateStore, changeSet *ProposedBlockChangeSet,
) (NoVoteReason, error) {
	atom := cmd.Transaction
	rec, reason, err := v.getRecord(tx, changeSet, atom.TransactionID)
	if err != nil || reason != NoVoteNone {
		return reason, err
	}
	if rec.CurrentStage != types.StageNew {
		return NoVoteStageDisagreement, nil
	}
	if atom.Evidence == nil || !atom.Evidence.Has(local.ShardGroup()) {
		return NoVoteMissingInvolvedShardGroup, nil
	}

	txRec, err := tx.TransactionsGet(atom.TransactionID)
	if err != nil {
		if state.IsNotFound(err) {
			return NoVoteTransactionNotInPool, nil
		}
		return NoVoteNone, err
	}
	prepared, err := v.txManager.prepare(subStore, local, startOfChain.Epoch, txRec, startOfChain.BlockID)
	if err != nil {
		return NoVoteNone, err
	}
	if prepared.IsLocalOnly() {
		return NoVoteMultiShardProposedForLocalOnly, nil
	}

	multi := prepared.MultiShard
	if multi.Execution != nil {
		exec := multi.Execution
		if !exec.Decision.IsSameOutcome(atom.Decision) {
			return NoVoteDecisionDisagreement, nil
		}
		rec.UpdateFromExecution(local.NumPreshards(), local.GroupFor, exec)
		changeSet.AddExecution(exec)
	} else {
		rec.SetLocalDecision(types.Commit())
		rec.SetEvidence(multi.Evidence)
		if atom.Decision.IsAbort() {
			return NoVoteDecisionDisagreement, nil
		}
	}
	rec.Evidence.AddShardGroup(local.ShardGroup())

	if !localEvidenceMatches(atom, rec, local) {
		return NoVoteMismatchedEvidence, nil
	}
	// Adopt the proposer's view of the involved foreign shard groups.
	rec.Evidence.Merge(atom.Evidence)
	rec.SetTransactionFee(atom.TransactionFee)

	if err := rec.SetNextStage(types.StagePrepared); err != nil {
		return NoVoteStageTransitionNotApplicable, nil
	}
	changeSet.SetNextTransactionUpdate(rec)
	return NoVoteNone, nil
}

func (v *onReadyToVote) evaluateLocalPrepare(tx state.WriteTransaction, cmd *types.Command,
	local *committee.Committee, changeSet *ProposedBlockChangeSet,
) (NoVoteReason, error) {
	atom := cmd.Transaction
	rec, reason, err := v.getRecord(tx, changeSet, atom.TransactionID)
	if err != nil || reason != NoVoteNone {
		return reason, err
	}
	if rec.CurrentStage != types.StagePrepared {
		return NoVoteStageDisagreement, nil
	}
	// The remote decision is ignored here: foreign LocalPrepared evidence
	// may not have reached the proposer yet.
	if !rec.LocalDecision.IsSameOutcome(atom.Decision) {
		return NoVoteDecisionDisagreement, nil
	}
	if rec.TransactionFee != atom.TransactionFee {
		return NoVoteFeeDisagreement, nil
	}
	if !localEvidenceMatches(atom, rec, local) {
		return NoVoteMismatchedEvidence, nil
	}
	rec.Evidence.Merge(atom.Evidence)
	if err := rec.SetNextStage(types.StageLocalPrepared); err != nil {
		return NoVoteStageTransitionNotApplicable, nil
	}
	changeSet.SetNextTransactionUpdate(rec)
	return NoVoteNone, nil
}

func (v *onReadyToVote) evaluateAllPrepare(tx state.WriteTransaction, cmd *types.Command, startOfChain types.LeafBlock,
	local *committee.Committee, subStore *PendingSubstateStore, changeSet *ProposedBlockChangeSet,
) (NoVoteReason, error) {
	atom := cmd.Transaction
	rec, reason, err := v.getRecord(tx, changeSet, atom.TransactionID)
	if err != nil || reason != NoVoteNone {
		return reason, err
	}
	if rec.CurrentStage != types.StageLocalPrepared {
		return NoVoteStageDisagreement, nil
	}
	// A proposer must not propose Commit when we already know of an abort.
	if atom.Decision.IsCommit() && rec.CurrentDecision().IsAbort() {
		return NoVoteDecisionDisagreement, nil
	}
	if !rec.Evidence.AllInputShardGroupsPrepared() {
		return NoVoteNotAllShardGroupsPrepared, nil
	}

	if atom.Decision.IsCommit() {
		ok, err := txpool.HasAllRequiredForeignInputPledges(tx, rec, local)
		if err != nil {
			return NoVoteNone, err
		}
		if !ok {
			return NoVoteNotAllForeignInputPledges, nil
		}
	}

	exec, err := v.txManager.execute(tx, subStore, startOfChain.BlockID, startOfChain.Epoch, rec, local)
	if err != nil {
		return NoVoteNone, err
	}
	status, err := subStore.TryLockAll(atom.TransactionID, localOutputIntents(exec, local), false)
	if err != nil {
		return NoVoteNone, err
	}
	if status.IsAnyFailed() {
		exec.SetAbortReason(types.AbortFailedToLockOutputs)
		subStore.ReleaseLocks(atom.TransactionID)
	}
	if !exec.Decision.IsSameOutcome(atom.Decision) {
		if atom.Decision.IsAbort() && atom.Decision.Reason == types.AbortFailedToLockOutputs {
			exec.SetAbortReason(types.AbortFailedToLockOutputs)
			subStore.ReleaseLocks(atom.TransactionID)
		} else {
			return NoVoteDecisionDisagreement, nil
		}
	}
	rec.UpdateFromExecution(local.NumPreshards(), local.GroupFor, exec)

	if rec.TransactionFee != atom.TransactionFee {
		return NoVoteFeeDisagreement, nil
	}
	if !rec.Evidence.EqPledges(atom.Evidence) {
		return NoVoteMismatchedEvidence, nil
	}

	if err := rec.SetNextStage(types.StageAllPrepared); err != nil {
		return NoVoteStageTransitionNotApplicable, nil
	}
	changeSet.SetNextTransactionUpdate(rec)
	changeSet.AddExecution(exec)
	return NoVoteNone, nil
}

func (v *onReadyToVote) evaluateSomePrepare(tx state.WriteTransaction, cmd *types.Command, changeSet *ProposedBlockChangeSet) (NoVoteReason, error) {
	atom := cmd.Transaction
	if atom.Decision.IsCommit() {
		return NoVoteDecisionDisagreement, nil
	}
	rec, reason, err := v.getRecord(tx, changeSet, atom.TransactionID)
	if err != nil || reason != NoVoteNone {
		return reason, err
	}
	if rec.CurrentStage != types.StageLocalPrepared {
		return NoVoteStageDisagreement, nil
	}
	if rec.CurrentDecision().IsCommit() {
		return NoVoteDecisionDisagreement, nil
	}
	if rec.TransactionFee != atom.TransactionFee {
		return NoVoteFeeDisagreement, nil
	}
	if err := rec.SetNextStage(types.StageSomePrepared); err != nil {
		return NoVoteStageTransitionNotApplicable, nil
	}
	changeSet.SetNextTransactionUpdate(rec)
	return NoVoteNone, nil
}

func (v *onReadyToVote) evaluateLocalAccept(tx state.WriteTransaction, cmd *types.Command,
	local *committee.Committee, changeSet *ProposedBlockChangeSet,
) (NoVoteReason, error) {
	atom := cmd.Transaction
	rec, reason, err := v.getRecord(tx, changeSet, atom.TransactionID)
	if err != nil || reason != NoVoteNone {
		return reason, err
	}

	applicable := false
	switch rec.CurrentStage {
	case types.StageAllPrepared:
		applicable = true
	case types.StageSomePrepared:
		applicable = atom.Decision.IsAbort()
	case types.StagePrepared:
		// Output-only committees elide LocalPrepare/AllPrepare; aborts may
		// jump straight to the acceptance phase too.
		applicable = atom.Decision.IsAbort() || rec.Evidence.IsCommitteeOutputOnly(local.ShardGroup())
	}
	if !applicable {
		return NoVoteStageTransitionNotApplicable, nil
	}

	if !rec.CurrentDecision().IsSameOutcome(atom.Decision) {
		return NoVoteDecisionDisagreement, nil
	}
	if rec.TransactionFee != atom.TransactionFee {
		return NoVoteFeeDisagreement, nil
	}
	if !rec.Evidence.EqPledges(atom.Evidence) {
		return NoVoteMismatchedEvidence, nil
	}
	if atom.Decision.IsCommit() {
		if atom.LeaderFee == nil {
			return NoVoteNoLeaderFee, nil
		}
		involved := rec.Evidence.NumShardGroups()
		if involved == 0 {
			return NoVoteLeaderFeeDisagreement, nil
		}
		expected := rec.CalculateLeaderFee(uint64(involved), v.config.FeeExhaustDivisor)
		if !expected.Eq(atom.LeaderFee) {
			return NoVoteLeaderFeeDisagreement, nil
		}
		// The leader fee is not accumulated here; only AllAccept commits it
		// into the block total.
		rec.SetLeaderFee(atom.LeaderFee)
	}
	rec.Evidence.Merge(atom.Evidence)
	if err := rec.SetNextStage(types.StageLocalAccepted); err != nil {
		return NoVoteStageTransitionNotApplicable, nil
	}
	changeSet.SetNextTransactionUpdate(rec)
	return NoVoteNone, nil
}

func (v *onReadyToVote) evaluateAllAccept(tx state.WriteTransaction, cmd *types.Command, startOfChain types.LeafBlock,
	local *committee.Committee, subStore *PendingSubstateStore, changeSet *ProposedBlockChangeSet,
) (NoVoteReason, uint64, error) {
	atom := cmd.Transaction
	if atom.Decision.IsAbort() {
		return NoVoteDecisionDisagreement, 0, nil
	}
	rec, reason, err := v.getRecord(tx, changeSet, atom.TransactionID)
	if err != nil || reason != NoVoteNone {
		return reason, 0, err
	}
	if rec.CurrentStage != types.StageLocalAccepted {
		return NoVoteStageDisagreement, 0, nil
	}
	if !rec.CurrentDecision().IsSameOutcome(atom.Decision) {
		return NoVoteDecisionDisagreement, 0, nil
	}
	if rec.TransactionFee != atom.TransactionFee {
		return NoVoteFeeDisagreement, 0, nil
	}
	if !rec.Evidence.EqPledges(atom.Evidence) {
		return NoVoteMismatchedEvidence, 0, nil
	}
	if atom.LeaderFee == nil {
		return NoVoteNoLeaderFee, 0, nil
	}
	involved := rec.Evidence.NumShardGroups()
	expected := rec.CalculateLeaderFee(uint64(involved), v.config.FeeExhaustDivisor)
	if !expected.Eq(atom.LeaderFee) {
		return NoVoteLeaderFeeDisagreement, 0, nil
	}
	ok, err := txpool.HasAllRequiredForeignInputPledges(tx, rec, local)
	if err != nil {
		return NoVoteNone, 0, err
	}
	if !ok {
		return NoVoteNotAllForeignInputPledges, 0, nil
	}

	pending, err := tx.TransactionExecutionsGetPendingForBlock(atom.TransactionID, startOfChain.BlockID)
	if err != nil {
		if state.IsNotFound(err) {
			return NoVoteNone, 0, invariantErrorf("AllAccept for %s but no execution for parent block",
				atom.TransactionID.TerminalString())
		}
		return NoVoteNone, 0, err
	}
	diff := filterDiffForCommittee(pending.Execution.Diff, local)
	if err := subStore.PutDiff(atom.TransactionID, diff); err != nil {
		return NoVoteNone, 0, err
	}

	rec.SetLeaderFee(atom.LeaderFee)
	if err := rec.SetNextStage(types.StageAllAccepted); err != nil {
		return NoVoteStageTransitionNotApplicable, 0, nil
	}
	changeSet.SetNextTransactionUpdate(rec)
	return NoVoteNone, atom.LeaderFee.Fee, nil
}

func (v *onReadyToVote) evaluateSomeAccept(tx state.WriteTransaction, cmd *types.Command, changeSet *ProposedBlockChangeSet) (NoVoteReason, error) {
	atom := cmd.Transaction
	if atom.Decision.IsCommit() {
		return NoVoteDecisionDisagreement, nil
	}
	rec, reason, err := v.getRecord(tx, changeSet, atom.TransactionID)
	if err != nil || reason != NoVoteNone {
		return reason, err
	}
	if rec.CurrentStage != types.StageLocalAccepted {
		return NoVoteStageDisagreement, nil
	}
	if rec.CurrentDecision().IsCommit() {
		return NoVoteDecisionDisagreement, nil
	}
	if err := rec.SetNextStage(types.StageSomeAccepted); err != nil {
		return NoVoteStageTransitionNotApplicable, nil
	}
	changeSet.SetNextTransactionUpdate(rec)
	return NoVoteNone, nil
}

func (v *onReadyToVote) evaluateForeignProposal(tx state.WriteTransaction, cmd *types.Command, block *types.Block,
	local *committee.Committee, subStore *PendingSubstateStore, changeSet *ProposedBlockChangeSet,
) (NoVoteReason, error) {
	atom := cmd.ForeignProposal
	fp, err := tx.ForeignProposalsGet(atom.BlockID)
	if err != nil {
		if state.IsNotFound(err) {
			return NoVoteForeignProposalNotReceived, nil
		}
		return NoVoteNone, err
	}
	switch fp.Status {
	case types.ForeignProposalConfirmed:
		return NoVoteForeignProposalAlreadyConfirmed, nil
	case types.ForeignProposalProposed:
		return NoVoteForeignProposalAlreadyProposed, nil
	}
	if err := v.foreign.processForeignBlock(tx, fp, local, changeSet); err != nil {
		if IsInvariantError(err) {
			return NoVoteNone, err
		}
		logger.Warn("Foreign proposal processing failed", "foreignBlock", atom.BlockID.TerminalString(), "err", err)
		return NoVoteForeignProposalProcessingFailed, nil
	}
	changeSet.SetForeignProposalStatus(atom.BlockID, types.ForeignProposalProposed)
	return NoVoteNone, nil
}

func (v *onReadyToVote) evaluateMint(tx state.WriteTransaction, cmd *types.Command,
	subStore *PendingSubstateStore, changeSet *ProposedBlockChangeSet,
) (NoVoteReason, error) {
	atom := cmd.Mint
	utxo, err := tx.BurntUtxosGet(atom.Commitment)
	if err != nil {
		if state.IsNotFound(err) {
			return NoVoteMintConfidentialOutputUnknown, nil
		}
		return NoVoteNone, err
	}
	id := types.NewVersionedSubstateID(utxo.Commitment, 0)
	change := types.UpChange(id, common.GlobalShard, common.Hash{}, &types.Substate{Version: 0, Value: utxo.Output})
	if err := subStore.Put(change); err != nil {
		if IsInvariantError(err) {
			return NoVoteMintConfidentialOutputStoreFailed, nil
		}
		return NoVoteNone, err
	}
	changeSet.AddProposedUtxo(utxo.Commitment)
	return NoVoteNone, nil
}

func (v *onReadyToVote) evaluateEvictNode(tx state.WriteTransaction, cmd *types.Command, block *types.Block, local *committee.Committee) (NoVoteReason, error) {
	atom := cmd.Evict
	evicted, err := tx.EvictedNodesIsEvicted(block.Epoch(), atom.PublicKey)
	if err != nil {
		return NoVoteNone, err
	}
	if evicted {
		return NoVoteNodeAlreadyEvicted, nil
	}
	count, err := tx.EvictedNodesCount(block.Epoch())
	if err != nil {
		return NoVoteNone, err
	}
	if local.Size()-(count+1) < local.QuorumThreshold() {
		return NoVoteCannotEvictNodeBelowQuorumThreshold, nil
	}
	stats, err := tx.ValidatorStatsGet(block.Epoch(), atom.PublicKey)
	if err != nil {
		return NoVoteNone, err
	}
	if stats.MissedProposals < v.config.MissedProposalEvictThreshold {
		return NoVoteShouldNotEvictNode, nil
	}
	return NoVoteNone, nil
}

func (v *onReadyToVote) evaluateEndEpoch(block *types.Block, epochEnded bool) NoVoteReason {
	if !epochEnded {
		return NoVoteNotEndOfEpoch
	}
	if len(block.Commands()) != 1 {
		return NoVoteEndOfEpochWithOtherCommands
	}
	return NoVoteNone
}
