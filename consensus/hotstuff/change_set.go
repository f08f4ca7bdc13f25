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
	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/types"
)

// ProposedBlockChangeSet accumulates everything a build or validate pass
// decides about one block, and persists it in a single write transaction.
// A set with a no-vote reason still persists (for observation) but carries
// no state changes.
type ProposedBlockChangeSet struct {
	blockID common.Hash

	noVote         NoVoteReason
	quorumDecision types.QuorumDecision

	diff      []types.SubstateChange
	locks     []*types.SubstateLock
	treeDiffs map[common.Shard][]types.StateTreeChange

	poolUpdates   map[common.Hash]*types.TransactionPoolRecord
	poolOrder     []common.Hash
	executions    []*types.TransactionExecution
	fpStatuses    map[common.Hash]types.ForeignProposalStatus
	pledges       map[common.Hash]types.SubstatePledges
	proposedUtxos []common.Hash
}

func NewProposedBlockChangeSet(blockID common.Hash) *ProposedBlockChangeSet {
	return &ProposedBlockChangeSet{
		blockID:     blockID,
		poolUpdates: make(map[common.Hash]*types.TransactionPoolRecord),
		fpStatuses:  make(map[common.Hash]types.ForeignProposalStatus),
		pledges:     make(map[common.Hash]types.SubstatePledges),
		treeDiffs:   make(map[common.Shard][]types.StateTreeChange),
	}
}

// NoVote poisons the change set: state changes are dropped, only the refusal
// is recorded.
func (cs *ProposedBlockChangeSet) NoVote(reason NoVoteReason) *ProposedBlockChangeSet {
	cs.noVote = reason
	return cs
}

func (cs *ProposedBlockChangeSet) IsNoVote() bool { return cs.noVote != NoVoteNone }

func (cs *ProposedBlockChangeSet) NoVoteReason() NoVoteReason { return cs.noVote }

func (cs *ProposedBlockChangeSet) SetQuorumDecision(d types.QuorumDecision) {
	cs.quorumDecision = d
}

func (cs *ProposedBlockChangeSet) QuorumDecision() types.QuorumDecision { return cs.quorumDecision }

func (cs *ProposedBlockChangeSet) SetSubstateChanges(diff []types.SubstateChange, locks []*types.SubstateLock) {
	for _, l := range locks {
		l.BlockID = cs.blockID
	}
	cs.diff, cs.locks = diff, locks
}

func (cs *ProposedBlockChangeSet) SetTreeDiffs(byShard map[common.Shard][]types.StateTreeChange) {
	cs.treeDiffs = byShard
}

// GetTransaction materializes a pool record through this change set's
// overlay: an update recorded here shadows the stored row.
func (cs *ProposedBlockChangeSet) GetTransaction(tx state.ReadTransaction, txID common.Hash) (*types.TransactionPoolRecord, error) {
	if rec, ok := cs.poolUpdates[txID]; ok {
		return rec, nil
	}
	return tx.TransactionPoolGet(txID)
}

// SetNextTransactionUpdate records the updated pool record for txID.
func (cs *ProposedBlockChangeSet) SetNextTransactionUpdate(rec *types.TransactionPoolRecord) {
	if _, ok := cs.poolUpdates[rec.TransactionID]; !ok {
		cs.poolOrder = append(cs.poolOrder, rec.TransactionID)
	}
	cs.poolUpdates[rec.TransactionID] = rec
}

// ApplyTransactionUpdate overlays a previously recorded update onto rec.
func (cs *ProposedBlockChangeSet) ApplyTransactionUpdate(rec **types.TransactionPoolRecord) {
	if upd, ok := cs.poolUpdates[(*rec).TransactionID]; ok {
		*rec = upd
	}
}

func (cs *ProposedBlockChangeSet) AddExecution(exec *types.TransactionExecution) {
	cs.executions = append(cs.executions, exec)
}

func (cs *ProposedBlockChangeSet) SetForeignProposalStatus(blockID common.Hash, status types.ForeignProposalStatus) {
	cs.fpStatuses[blockID] = status
}

func (cs *ProposedBlockChangeSet) AddPledges(txID common.Hash, pledges types.SubstatePledges) {
	cs.pledges[txID] = pledges
}

func (cs *ProposedBlockChangeSet) AddProposedUtxo(commitment common.Hash) {
	cs.proposedUtxos = append(cs.proposedUtxos, commitment)
}

// Save persists the change set. No-vote sets save nothing but remain a valid
// outcome: the caller still records the block itself.
func (cs *ProposedBlockChangeSet) Save(tx state.WriteTransaction) error {
	if cs.IsNoVote() {
		return nil
	}
	if len(cs.diff) > 0 {
		if err := tx.BlockDiffsInsert(cs.blockID, cs.diff); err != nil {
			return err
		}
	}
	if len(cs.locks) > 0 {
		if err := tx.SubstateLocksInsert(cs.blockID, cs.locks); err != nil {
			return err
		}
	}
	for shard, changes := range cs.treeDiffs {
		err := tx.PendingStateTreeDiffsInsert(&types.PendingShardStateTreeDiff{
			BlockID: cs.blockID,
			Shard:   shard,
			Changes: changes,
		})
		if err != nil {
			return err
		}
	}
	for _, txID := range cs.poolOrder {
		if err := tx.TransactionPoolUpdate(cs.poolUpdates[txID]); err != nil {
			return err
		}
	}
	for _, exec := range cs.executions {
		if err := tx.TransactionExecutionsInsert(cs.blockID, exec); err != nil {
			return err
		}
	}
	for blockID, status := range cs.fpStatuses {
		if err := tx.ForeignProposalsSetStatus(blockID, status); err != nil {
			return err
		}
	}
	for txID, pledges := range cs.pledges {
		existing, err := tx.ForeignSubstatePledgesGet(txID)
		if err != nil {
			return err
		}
		for _, p := range pledges {
			existing.Add(p)
		}
		if err := tx.ForeignSubstatePledgesSave(txID, existing); err != nil {
			return err
		}
	}
	for _, commitment := range cs.proposedUtxos {
		if err := tx.BurntUtxosSetProposed(commitment); err != nil {
			return err
		}
	}
	return nil
}
