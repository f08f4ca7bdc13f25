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

	"github.com/vellumchain/vellum/consensus/committee"
	"github.com/vellumchain/vellum/params"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/txpool"
	"github.com/vellumchain/vellum/types"
)

var (
	committedBlockCounter = metrics.NewRegisteredCounter("hotstuff/commit/blocks", nil)
	committedTxCounter    = metrics.NewRegisteredCounter("hotstuff/commit/transactions", nil)
)

// commitResult reports the side effects of a commit walk that the worker
// must act on outside the write transaction.
type commitResult struct {
	committed  []*types.Block
	epochEnded bool
	evicted    []types.EvictNodeAtom
}

// commitChain commits every uncommitted ancestor of target (oldest first),
// then target itself. For each block the substate diff becomes durable, tree
// diffs fold into the committed tree, finalized transactions leave the pool
// and their locks are released, and validator liveness stats are updated.
func commitChain(tx state.WriteTransaction, target *types.Block, com *committee.Committee,
	pool *txpool.Pool, config params.ConsensusConfig,
) (*commitResult, error) {
	lastExecuted, err := tx.LastExecutedGet(target.Epoch())
	if err != nil {
		return nil, err
	}
	if !lastExecuted.BlockID.IsZero() && target.Height() <= lastExecuted.Height {
		return &commitResult{}, nil
	}

	chain, err := tx.BlocksGetAllBetween(lastExecuted.BlockID, target.ID())
	if err != nil {
		return nil, err
	}

	result := &commitResult{}
	for _, block := range chain {
		committed, err := tx.BlocksIsCommitted(block.ID())
		if err != nil {
			return nil, err
		}
		if committed {
			continue
		}
		if err := commitBlock(tx, block, com, pool, config, result); err != nil {
			return nil, err
		}
		result.committed = append(result.committed, block)
	}

	if len(result.committed) > 0 {
		tip := result.committed[len(result.committed)-1]
		err = tx.LastExecutedSet(types.LastExecuted{BlockID: tip.ID(), Height: tip.Height(), Epoch: tip.Epoch()})
		if err != nil {
			return nil, err
		}
		committedGauge.Update(int64(tip.Height()))
	}
	return result, nil
}

func commitBlock(tx state.WriteTransaction, block *types.Block, com *committee.Committee,
	pool *txpool.Pool, config params.ConsensusConfig, result *commitResult,
) error {
	committedBlockCounter.Inc(1)
	if err := tx.BlocksSetCommitted(block.ID()); err != nil {
		return err
	}

	if err := accountLeaderLiveness(tx, block, com, config); err != nil {
		return err
	}

	if block.IsDummy() {
		return nil
	}

	// Substate changes become durable records.
	diff, err := tx.BlockDiffsGet(block.ID())
	if err != nil {
		return err
	}
	for i := range diff {
		ch := diff[i]
		if ch.Up {
			err = tx.SubstatesCreate(&types.SubstateRecord{
				SubstateID:           ch.ID.ID,
				Version:              ch.ID.Version,
				Value:                ch.Substate.Value,
				CreatedByTransaction: ch.TransactionID,
				CreatedJustifyQC:     block.Justify().ID(),
				CreatedByBlock:       block.ID(),
				CreatedAtEpoch:       block.Epoch(),
				CreatedAtHeight:      block.Height(),
				CreatedByShard:       ch.Shard,
			})
			if err != nil {
				return err
			}
			continue
		}
		err = tx.SubstatesDestroy(ch.ID, &types.SubstateDestroyed{
			ByTransaction: ch.TransactionID,
			JustifyQC:     block.Justify().ID(),
			ByBlock:       block.ID(),
			AtEpoch:       block.Epoch(),
			AtHeight:      block.Height(),
			ByShard:       ch.Shard,
		})
		if err != nil {
			return err
		}
	}

	// Fold pending tree diffs into the committed tree.
	treeDiffs, err := tx.PendingStateTreeDiffsGetAllUpToCommitBlock(block.ID())
	if err != nil {
		return err
	}
	for _, td := range treeDiffs {
		if td.BlockID != block.ID() {
			continue
		}
		if err := tx.StateTreeLeavesApply(td.Shard, td.Changes); err != nil {
			return err
		}
	}
	if err := tx.PendingStateTreeDiffsRemoveByBlock(block.ID()); err != nil {
		return err
	}
	if err := tx.BlockDiffsRemove(block.ID()); err != nil {
		return err
	}

	// Command side effects.
	for _, cmd := range block.Commands() {
		switch cmd.Type {
		case types.CmdForeignProposal:
			if err := tx.ForeignProposalsSetStatus(cmd.ForeignProposal.BlockID, types.ForeignProposalConfirmed); err != nil {
				return err
			}
		case types.CmdMintConfidentialOutput:
			if err := tx.BurntUtxosRemove(cmd.Mint.Commitment); err != nil {
				return err
			}
		case types.CmdEvictNode:
			if err := tx.EvictedNodesInsert(block.Epoch(), cmd.Evict.PublicKey); err != nil {
				return err
			}
			result.evicted = append(result.evicted, *cmd.Evict)
		case types.CmdEndEpoch:
			result.epochEnded = true
		default:
			atom := cmd.TransactionAtomRef()
			if atom == nil || !cmd.Finalizing() {
				continue
			}
			if err := pool.Finalize(tx, atom.TransactionID); err != nil {
				return err
			}
			committedTxCounter.Inc(1)
		}
	}

	// Locks held for this block's transactions die with the commit; locks of
	// pruned sibling chains are unreachable from any live chain walk and are
	// garbage-collected the same way.
	return tx.SubstateLocksRemoveByBlock(block.ID())
}

// accountLeaderLiveness updates the leader-failure detector counters (C8): a
// committed dummy block charges a missed proposal to the leader that skipped
// its view, a committed real block clears its proposer's counter, and the
// signers of the carried QC earn participation shares.
func accountLeaderLiveness(tx state.WriteTransaction, block *types.Block, com *committee.Committee, config params.ConsensusConfig) error {
	if block.IsDummy() {
		if block.Height() == 0 {
			return nil
		}
		leader := com.Leader(block.Height())
		return tx.ValidatorStatsIncrementMissed(block.Epoch(), leader, config.MaxMissedProposalsCap)
	}
	if err := tx.ValidatorStatsResetMissed(block.Epoch(), block.Proposer()); err != nil {
		return err
	}
	for _, sig := range block.Justify().Signatures {
		if err := tx.ValidatorStatsIncrementShares(block.Epoch(), sig.PublicKey); err != nil {
			return err
		}
	}
	return nil
}
