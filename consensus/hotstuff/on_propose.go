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
	"context"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/consensus/committee"
	"github.com/vellumchain/vellum/epoch"
	"github.com/vellumchain/vellum/execution"
	"github.com/vellumchain/vellum/params"
	"github.com/vellumchain/vellum/protocol"
	"github.com/vellumchain/vellum/statetree"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/txpool"
	"github.com/vellumchain/vellum/types"
)

var (
	proposedBlockCounter   = metrics.NewRegisteredCounter("hotstuff/propose/blocks", nil)
	proposeSkippedCounter  = metrics.NewRegisteredCounter("hotstuff/propose/skipped", nil)
	proposeDeferredCounter = metrics.NewRegisteredCounter("hotstuff/propose/deferred", nil)
	proposeTimer           = metrics.NewRegisteredTimer("hotstuff/propose/elapsed", nil)
)

// foreignProposalBlockCost is the block-size units one foreign proposal
// consumes; everything else costs one unit.
const foreignProposalBlockCost = 4

// onPropose builds the next block when this node leads the view. At most one
// proposal is produced per (epoch, height); re-entry is idempotent via the
// LastProposed guard.
type onPropose struct {
	store     state.Store
	pool      *txpool.Pool
	txManager *transactionManager
	signer    *Signer
	transport protocol.Transport
	epochs    epoch.Manager
	config    params.ConsensusConfig
}

type nextBlock struct {
	block            *types.Block
	foreignProposals []*types.ForeignProposal
	executions       []*types.TransactionExecution
	lockConflicts    map[common.Hash][]*types.LockConflict
}

type proposalBatch struct {
	foreignProposals []*types.ForeignProposal
	burntUtxos       []*types.BurntUtxo
	evictNodes       []common.PublicKey
	transactions     []*types.TransactionPoolRecord
}

// handle produces and broadcasts the proposal for nextHeight.
func (p *onPropose) handle(ctx context.Context, local *committee.Committee, nextHeight common.Height, proposeEpochEnd bool) error {
	defer func(start time.Time) { proposeTimer.UpdateSince(start) }(time.Now())

	epochNum := local.Epoch()

	var nb *nextBlock
	err := p.store.WithWriteTx(func(tx state.WriteTransaction) error {
		lastProposed, err := tx.LastProposedGet(epochNum)
		if err != nil {
			return err
		}
		if lastProposed.Height >= nextHeight && !lastProposed.BlockID.IsZero() {
			proposeSkippedCounter.Inc(1)
			logger.Debug("Already proposed for height, skipping", "height", nextHeight, "lastProposed", lastProposed.Height)
			return nil
		}

		highQC, err := tx.HighQcGet(epochNum)
		if err != nil {
			return err
		}
		qc, err := tx.QuorumCertificatesGet(highQC.QCID)
		if err != nil {
			return err
		}
		leaf, err := tx.LeafBlockGet(epochNum)
		if err != nil {
			return err
		}

		baseLayer, err := p.epochs.CurrentBaseLayerBlockInfo(ctx)
		if err != nil {
			return err
		}

		nb, err = p.buildNextBlock(tx, epochNum, nextHeight, leaf, qc, local, baseLayer, proposeEpochEnd)
		if err != nil {
			return err
		}

		if err := tx.BlocksInsert(nb.block); err != nil {
			return err
		}
		for _, exec := range nb.executions {
			if err := tx.TransactionExecutionsInsert(nb.block.ID(), exec); err != nil {
				return err
			}
		}
		for txID, conflicts := range nb.lockConflicts {
			if err := p.pool.RecordLockConflicts(tx, txID, conflicts); err != nil {
				return err
			}
		}
		return tx.LastProposedSet(types.LastProposed{BlockID: nb.block.ID(), Height: nextHeight, Epoch: epochNum})
	})
	if err != nil {
		return err
	}
	if nb == nil {
		return nil
	}

	proposedBlockCounter.Inc(1)
	logger.Info("Proposing block", "block", nb.block.String(), "commands", len(nb.block.Commands()))

	// self first: the leader validates its own proposal like any other
	return p.transport.Multicast(ctx, local.PublicKeys(), &protocol.ProposalMessage{
		Block:            nb.block,
		ForeignProposals: nb.foreignProposals,
	})
}

func (p *onPropose) buildNextBlock(tx state.ReadTransaction, epochNum common.Epoch, nextHeight common.Height,
	parent types.LeafBlock, highQC *types.QuorumCertificate, local *committee.Committee,
	baseLayer epoch.BaseLayerBlockInfo, proposeEpochEnd bool,
) (*nextBlock, error) {
	// The parent will only ever not exist if it is a dummy block that was
	// never materialized; fall back to the justified block for every
	// chain-scoped query.
	parentExists, err := tx.BlocksExists(parent.BlockID)
	if err != nil {
		return nil, err
	}
	startOfChain := parent
	if !parentExists {
		startOfChain = highQC.AsLeafBlock()
	}

	var batch proposalBatch
	if !proposeEpochEnd {
		batch, err = p.fetchNextProposalBatch(tx, local, startOfChain)
		if err != nil {
			return nil, err
		}
	}

	var commands types.Commands
	if proposeEpochEnd {
		commands.Insert(types.NewEndEpochCommand())
	} else {
		for _, fp := range batch.foreignProposals {
			commands.Insert(types.NewForeignProposalCommand(fp.ToAtom()))
		}
		for _, utxo := range batch.burntUtxos {
			commands.Insert(types.NewMintCommand(utxo.ToAtom()))
		}
		for _, pk := range batch.evictNodes {
			commands.Insert(types.NewEvictNodeCommand(&types.EvictNodeAtom{PublicKey: pk}))
		}
	}

	changeSet := NewProposedBlockChangeSet(common.Hash{})

	// Apply the pool updates implied by the newly justified block so this
	// proposal can carry evidence relating to its commands.
	if len(batch.transactions) > 0 {
		justified, err := tx.BlocksGet(highQC.BlockID())
		if err != nil {
			return nil, err
		}
		isJustified, err := tx.BlocksIsJustified(justified.ID())
		if err != nil {
			return nil, err
		}
		if !isJustified {
			if err := processNewlyJustifiedBlock(tx, justified, highQC.ID(), local, changeSet); err != nil {
				return nil, err
			}
		}
	}

	subStore := NewPendingSubstateStore(tx, startOfChain.BlockID, p.config.NumPreshards)
	var executions []*types.TransactionExecution
	lockConflicts := make(map[common.Hash][]*types.LockConflict)
	totalLeaderFee := uint64(0)

	for _, rec := range batch.transactions {
		changeSet.ApplyTransactionUpdate(&rec)
		cmd, exec, err := p.transactionPoolRecordToCommand(tx, startOfChain, rec, local, subStore, lockConflicts)
		if err != nil {
			return nil, err
		}
		if cmd == nil {
			proposeDeferredCounter.Inc(1)
			continue
		}
		if exec != nil {
			executions = append(executions, exec)
		}
		if committing := cmd.Committing(); committing != nil && committing.LeaderFee != nil {
			totalLeaderFee += committing.LeaderFee.Fee
		}
		commands.Insert(cmd)
	}

	// UTXO ups are ordered after transaction commands.
	for _, utxo := range batch.burntUtxos {
		id := types.NewVersionedSubstateID(utxo.Commitment, 0)
		change := types.UpChange(id, common.GlobalShard, common.Hash{}, &types.Substate{Version: 0, Value: utxo.Output})
		if err := subStore.Put(change); err != nil {
			return nil, err
		}
	}

	if totalLeaderFee > 0 {
		if err := applyLeaderFeeToSubstateStore(subStore, epochNum, nextHeight, local.ShardGroup(), p.signer.PublicKey(), totalLeaderFee); err != nil {
			return nil, err
		}
	}

	pendingDiffs, err := tx.PendingStateTreeDiffsGetAllUpToCommitBlock(startOfChain.BlockID)
	if err != nil {
		return nil, err
	}
	stateRoot, _, err := statetree.CalculateStateRoot(tx, local.ShardGroup(), p.config.NumPreshards, pendingDiffs, subStore.Diff())
	if err != nil {
		return nil, err
	}

	foreignIndexes, err := nextForeignIndexes(tx, parent.BlockID, subStore.Diff(), local)
	if err != nil {
		return nil, err
	}

	header := &types.BlockHeader{
		ParentID:             parent.BlockID,
		JustifyQCID:          highQC.ID(),
		Height:               nextHeight,
		Epoch:                epochNum,
		ShardGroup:           local.ShardGroup(),
		ProposerPublicKey:    p.signer.PublicKey(),
		StateMerkleRoot:      stateRoot,
		CommandMerkleRoot:    commands.MerkleRoot(),
		TotalLeaderFee:       totalLeaderFee,
		ForeignIndexes:       foreignIndexes,
		Timestamp:            uint64(time.Now().Unix()),
		BaseLayerBlockHeight: baseLayer.Height,
		BaseLayerBlockHash:   baseLayer.Hash,
	}
	header.Signature = p.signer.Sign(header.ID())

	return &nextBlock{
		block:            types.NewBlock(header, highQC, commands),
		foreignProposals: batch.foreignProposals,
		executions:       executions,
		lockConflicts:    lockConflicts,
	}, nil
}

// fetchNextProposalBatch fills the block in priority order with saturating
// size budgeting: foreign proposals, burnt UTXOs, evictions, then ready
// transactions. A zero budget yields empty slices for later categories.
func (p *onPropose) fetchNextProposalBatch(tx state.ReadTransaction, local *committee.Committee, startOfChain types.LeafBlock) (proposalBatch, error) {
	var batch proposalBatch

	fps, err := tx.ForeignProposalsGetAllNew(p.config.MaxBlockSize / foreignProposalBlockCost)
	if err != nil {
		return batch, err
	}
	batch.foreignProposals = fps

	remaining := p.config.MaxBlockSize - len(fps)*foreignProposalBlockCost
	if remaining < 0 {
		remaining = 0
	}

	if remaining > 0 {
		batch.burntUtxos, err = tx.BurntUtxosGetAllUnproposed(remaining)
		if err != nil {
			return batch, err
		}
		remaining -= len(batch.burntUtxos)
	}

	if remaining > 0 {
		evicted, err := tx.EvictedNodesCount(startOfChain.Epoch)
		if err != nil {
			return batch, err
		}
		maxToEvict := local.MaxFailures() - evicted
		if maxToEvict > remaining {
			maxToEvict = remaining
		}
		if maxToEvict > 0 {
			batch.evictNodes, err = tx.ValidatorStatsGetNodesToEvict(startOfChain.Epoch, p.config.MissedProposalEvictThreshold, maxToEvict)
			if err != nil {
				return batch, err
			}
			remaining -= len(batch.evictNodes)
		}
	}

	if remaining > 0 {
		batch.transactions, err = p.pool.GetBatchForNextBlock(tx, remaining)
		if err != nil {
			return batch, err
		}
	}
	return batch, nil
}

// transactionPoolRecordToCommand dispatches on the record's current stage.
// A nil command means the transaction is skipped in this block (deferred on
// a lock conflict).
func (p *onPropose) transactionPoolRecordToCommand(tx state.ReadTransaction, startOfChain types.LeafBlock,
	rec *types.TransactionPoolRecord, local *committee.Committee, subStore *PendingSubstateStore,
	lockConflicts map[common.Hash][]*types.LockConflict,
) (*types.Command, *types.TransactionExecution, error) {
	switch rec.CurrentStage {
	case types.StageNew:
		return p.prepareTransaction(tx, startOfChain, rec, local, subStore, lockConflicts)

	// Leader thinks all local nodes have prepared.
	case types.StagePrepared:
		if rec.CurrentDecision().IsAbort() {
			return types.NewTransactionCommand(types.CmdLocalAccept, rec.GetCurrentTransactionAtom()), nil, nil
		}
		if rec.Evidence.IsCommitteeOutputOnly(local.ShardGroup()) {
			ok, err := txpool.HasAllRequiredForeignInputPledges(tx, rec, local)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				logger.Error("Output-only transaction marked ready without foreign input pledges, skipping",
					"tx", rec.TransactionID.TerminalString())
				return nil, nil, nil
			}
			involved := rec.Evidence.NumShardGroups()
			if involved == 0 {
				return nil, nil, invariantErrorf("transaction %s involves zero shard groups", rec.TransactionID.TerminalString())
			}
			rec.SetLeaderFee(rec.CalculateLeaderFee(uint64(involved), p.config.FeeExhaustDivisor))
			return types.NewTransactionCommand(types.CmdLocalAccept, rec.GetLocalTransactionAtom()), nil, nil
		}
		return types.NewTransactionCommand(types.CmdLocalPrepare, rec.GetLocalTransactionAtom()), nil, nil

	// All foreign PREPARE pledges received.
	case types.StageLocalPrepared:
		return p.allOrSomePrepareTransaction(tx, startOfChain, rec, local, subStore)

	// All local nodes agree all shard groups prepared.
	case types.StageAllPrepared:
		atom, err := p.atomWithLeaderFee(rec)
		if err != nil {
			return nil, nil, err
		}
		return types.NewTransactionCommand(types.CmdLocalAccept, atom), nil, nil

	// Local nodes are ready to accept an ABORT.
	case types.StageSomePrepared:
		return types.NewTransactionCommand(types.CmdLocalAccept, rec.GetCurrentTransactionAtom()), nil, nil

	// All foreign ACCEPT pledges received; finalize.
	case types.StageLocalAccepted:
		return p.acceptTransaction(tx, startOfChain, rec, local, subStore)

	default:
		// Nothing to propose for final stages; the ready index must never
		// surface them.
		return nil, nil, invariantErrorf("stage %s is ready to propose for transaction %s",
			rec.CurrentStage, rec.TransactionID.TerminalString())
	}
}

func (p *onPropose) prepareTransaction(tx state.ReadTransaction, startOfChain types.LeafBlock,
	rec *types.TransactionPoolRecord, local *committee.Committee, subStore *PendingSubstateStore,
	lockConflicts map[common.Hash][]*types.LockConflict,
) (*types.Command, *types.TransactionExecution, error) {
	txRec, err := tx.TransactionsGet(rec.TransactionID)
	if err != nil {
		if state.IsNotFound(err) {
			return nil, nil, invariantErrorf("transaction %s in pool but record missing", rec.TransactionID.TerminalString())
		}
		return nil, nil, err
	}

	prepared, err := p.txManager.prepare(subStore, local, startOfChain.Epoch, txRec, startOfChain.BlockID)
	if err != nil {
		return nil, nil, err
	}

	if status := prepared.LockStatus(); status.IsAnyFailed() && !status.IsHardConflict() {
		// Soft conflicts defer the transaction; persisting them lets it be
		// retried after the holder finalizes.
		logger.Warn("Transaction has lock conflicts, deferring", "tx", rec.TransactionID.TerminalString())
		lockConflicts[rec.TransactionID] = status.Conflicts()
		subStore.ReleaseLocks(rec.TransactionID)
		return nil, nil, nil
	}

	if prepared.IsLocalOnly() {
		return p.prepareLocalOnly(rec, local, subStore, prepared.LocalOnly)
	}
	return p.prepareMultiShard(rec, local, prepared.MultiShard)
}

func (p *onPropose) prepareLocalOnly(rec *types.TransactionPoolRecord, local *committee.Committee,
	subStore *PendingSubstateStore, localPrep *execution.LocalPreparedTransaction,
) (*types.Command, *types.TransactionExecution, error) {
	exec := localPrep.Execution
	rec.UpdateFromExecution(local.NumPreshards(), local.GroupFor, exec)

	if localPrep.EarlyAbort {
		logger.Info("Local-only early abort", "tx", rec.TransactionID.TerminalString())
		subStore.ReleaseLocks(rec.TransactionID)
		return types.NewTransactionCommand(types.CmdLocalOnly, rec.GetCurrentTransactionAtom()), exec, nil
	}

	if rec.CurrentDecision().IsCommit() {
		rec.SetLeaderFee(rec.CalculateLeaderFee(1, p.config.FeeExhaustDivisor))
		if err := subStore.PutDiff(rec.TransactionID, exec.Diff); err != nil {
			if IsInvariantError(err) {
				logger.Error("Failed to stage local-only diff, skipping", "tx", rec.TransactionID.TerminalString(), "err", err)
				return nil, nil, nil
			}
			return nil, nil, err
		}
	}
	return types.NewTransactionCommand(types.CmdLocalOnly, rec.GetCurrentTransactionAtom()), exec, nil
}

func (p *onPropose) prepareMultiShard(rec *types.TransactionPoolRecord, local *committee.Committee,
	multi *execution.MultiShardPreparedTransaction,
) (*types.Command, *types.TransactionExecution, error) {
	var exec *types.TransactionExecution
	if multi.Execution != nil {
		// All inputs were local (or already pledged); executed up front.
		exec = multi.Execution
		rec.UpdateFromExecution(local.NumPreshards(), local.GroupFor, exec)
	} else {
		// Local inputs resolved; consensus continues to collect foreign
		// pledges.
		rec.SetLocalDecision(types.Commit())
		rec.SetEvidence(multi.Evidence)
	}
	// Ensure the local shard group always appears in evidence, even after an
	// abort execution with no local outputs.
	rec.Evidence.AddShardGroup(local.ShardGroup())

	logger.Info("Multi-shard transaction, proposing Prepare",
		"tx", rec.TransactionID.TerminalString(), "decision", rec.LocalDecision.String())
	return types.NewTransactionCommand(types.CmdPrepare, rec.GetLocalTransactionAtom()), exec, nil
}

func (p *onPropose) allOrSomePrepareTransaction(tx state.ReadTransaction, startOfChain types.LeafBlock,
	rec *types.TransactionPoolRecord, local *committee.Committee, subStore *PendingSubstateStore,
) (*types.Command, *types.TransactionExecution, error) {
	// Only abort here if the local or a foreign shard group already decided
	// to.
	if rec.CurrentDecision().IsAbort() {
		return types.NewTransactionCommand(types.CmdSomePrepare, rec.GetCurrentTransactionAtom()), nil, nil
	}

	ok, err := txpool.HasAllRequiredForeignInputPledges(tx, rec, local)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		logger.Error("AllPrepare proposed without all input pledges, skipping", "tx", rec.TransactionID.TerminalString())
		return nil, nil, nil
	}

	exec, err := p.txManager.execute(tx, subStore, startOfChain.BlockID, startOfChain.Epoch, rec, local)
	if err != nil {
		return nil, nil, err
	}

	// Lock local outputs; failing that, the transaction aborts but still
	// proceeds through AllPrepare so foreign groups observe the abort.
	localOutputs := localOutputIntents(exec, local)
	status, err := subStore.TryLockAll(rec.TransactionID, localOutputs, false)
	if err != nil {
		return nil, nil, err
	}
	if status.IsAnyFailed() {
		logger.Warn("Failed to lock outputs, proposing abort", "tx", rec.TransactionID.TerminalString())
		exec.SetAbortReason(types.AbortFailedToLockOutputs)
		subStore.ReleaseLocks(rec.TransactionID)
	}
	rec.UpdateFromExecution(local.NumPreshards(), local.GroupFor, exec)
	return types.NewTransactionCommand(types.CmdAllPrepare, rec.GetCurrentTransactionAtom()), exec, nil
}

func (p *onPropose) acceptTransaction(tx state.ReadTransaction, startOfChain types.LeafBlock,
	rec *types.TransactionPoolRecord, local *committee.Committee, subStore *PendingSubstateStore,
) (*types.Command, *types.TransactionExecution, error) {
	if rec.CurrentDecision().IsAbort() {
		return types.NewTransactionCommand(types.CmdSomeAccept, rec.GetCurrentTransactionAtom()), nil, nil
	}

	pending, err := tx.TransactionExecutionsGetPendingForBlock(rec.TransactionID, startOfChain.BlockID)
	if err != nil {
		if state.IsNotFound(err) {
			return nil, nil, invariantErrorf("transaction %s has COMMIT decision but execution is missing",
				rec.TransactionID.TerminalString())
		}
		return nil, nil, err
	}
	diff := filterDiffForCommittee(pending.Execution.Diff, local)
	if err := subStore.PutDiff(rec.TransactionID, diff); err != nil {
		return nil, nil, err
	}
	atom, err := p.atomWithLeaderFee(rec)
	if err != nil {
		return nil, nil, err
	}
	return types.NewTransactionCommand(types.CmdAllAccept, atom), nil, nil
}

func (p *onPropose) atomWithLeaderFee(rec *types.TransactionPoolRecord) (*types.TransactionAtom, error) {
	if rec.CurrentDecision().IsCommit() {
		involved := rec.Evidence.NumShardGroups()
		if involved == 0 {
			return nil, invariantErrorf("transaction %s involves zero shard groups", rec.TransactionID.TerminalString())
		}
		rec.SetLeaderFee(rec.CalculateLeaderFee(uint64(involved), p.config.FeeExhaustDivisor))
	}
	return rec.GetCurrentTransactionAtom(), nil
}

// processNewlyJustifiedBlock promotes the pool effects of the block the high
// QC just justified: pending stages become current, LocalPrepare/LocalAccept
// commands stamp their QC ids into evidence, and readiness is recomputed.
func processNewlyJustifiedBlock(tx state.ReadTransaction, justified *types.Block, highQcID common.Hash,
	local *committee.Committee, changeSet *ProposedBlockChangeSet,
) error {
	logger.Debug("Processing newly justified block", "block", justified.String())
	for _, cmd := range justified.Commands() {
		atom := cmd.TransactionAtomRef()
		if atom == nil {
			continue
		}
		rec, err := changeSet.GetTransaction(tx, atom.TransactionID)
		if err != nil {
			if state.IsNotFound(err) {
				if cmd.Finalizing() {
					// Removed when an ancestor committed; nothing to update.
					continue
				}
				return invariantErrorf("transaction %s in justified block %s not in pool",
					atom.TransactionID.TerminalString(), justified.ID().TerminalString())
			}
			return err
		}

		rec.PromotePendingStage()
		switch {
		case cmd.IsLocalPrepare():
			rec.Evidence.SetPrepareQC(local.ShardGroup(), highQcID)
		case cmd.IsLocalAccept():
			rec.Evidence.SetAcceptQC(local.ShardGroup(), highQcID)
		}
		if err := txpool.UpdateReadiness(tx, rec, local); err != nil {
			return err
		}
		changeSet.SetNextTransactionUpdate(rec)
	}
	return nil
}

// applyLeaderFeeToSubstateStore ups the leader-fee substate at the
// shard-group-start address. The id derives from header fields every
// validator knows, so re-derivation matches exactly.
func applyLeaderFeeToSubstateStore(subStore *PendingSubstateStore, epochNum common.Epoch, height common.Height,
	sg common.ShardGroup, proposer common.PublicKey, totalLeaderFee uint64,
) error {
	var meta [16]byte
	for i := 0; i < 8; i++ {
		meta[i] = byte(uint64(epochNum) >> (56 - 8*i))
		meta[8+i] = byte(uint64(height) >> (56 - 8*i))
	}
	id := common.Blake2bHash([]byte("leader-fee"), meta[:], proposer.Bytes())
	var value [8]byte
	for i := 0; i < 8; i++ {
		value[i] = byte(totalLeaderFee >> (56 - 8*i))
	}
	change := types.UpChange(
		types.NewVersionedSubstateID(id, 0),
		sg.Start,
		common.Hash{},
		&types.Substate{Version: 0, Value: append(proposer.Bytes(), value[:]...)},
	)
	return subStore.Put(change)
}

// nextForeignIndexes advances the per-shard send counters for every
// non-local shard touched by the diff.
func nextForeignIndexes(tx state.ReadTransaction, parentID common.Hash, diff []types.SubstateChange, local *committee.Committee) (types.ForeignIndexes, error) {
	counters, err := tx.ForeignSendCountersGet(parentID)
	if err != nil {
		return nil, err
	}
	var indexes types.ForeignIndexes
	seen := make(map[common.Shard]bool)
	for i := range diff {
		shard := diff[i].Shard
		if shard.IsGlobal() || local.ShardGroup().Contains(shard) || seen[shard] {
			continue
		}
		seen[shard] = true
		count, _ := counters.Get(shard)
		indexes.Set(shard, count+1)
	}
	return indexes, nil
}

// localOutputIntents filters an execution's resulting outputs to the local
// committee, as Output lock intents.
func localOutputIntents(exec *types.TransactionExecution, local *committee.Committee) []types.SubstateLockIntent {
	var intents []types.SubstateLockIntent
	for _, out := range exec.ResultingOutputs {
		if local.IncludesSubstateID(out.ID) {
			intents = append(intents, types.SubstateLockIntent{ID: out.ID, Version: out.Version, Lock: types.LockOutput})
		}
	}
	return intents
}

// filterDiffForCommittee keeps changes owned by the local committee or the
// global shard.
func filterDiffForCommittee(diff []types.SubstateChange, local *committee.Committee) []types.SubstateChange {
	var out []types.SubstateChange
	for i := range diff {
		ch := diff[i]
		if ch.Shard.IsGlobal() || local.ShardGroup().Contains(ch.Shard) {
			out = append(out, ch)
		}
	}
	return out
}
