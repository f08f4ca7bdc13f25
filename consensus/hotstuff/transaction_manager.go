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
	"github.com/vellumchain/vellum/consensus/committee"
	"github.com/vellumchain/vellum/execution"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/types"
)

// transactionManager glues the external executor to the consensus stores:
// it resolves pledges, reuses prior speculative executions, and keeps
// execution deterministic across proposer and validators.
type transactionManager struct {
	executor execution.Executor
}

func newTransactionManager(executor execution.Executor) *transactionManager {
	return &transactionManager{executor: executor}
}

// prepare classifies and (where possible) executes a New transaction against
// the pending substate store.
func (tm *transactionManager) prepare(subStore *PendingSubstateStore, local *committee.Committee,
	epoch common.Epoch, txRec *types.TransactionRecord, parentBlockID common.Hash,
) (*execution.PreparedTransaction, error) {
	return tm.executor.Prepare(subStore, local, epoch, txRec, parentBlockID)
}

// execute runs the transaction over its pledges, reusing a pending execution
// for the parent block when one exists.
func (tm *transactionManager) execute(tx state.ReadTransaction, subStore *PendingSubstateStore,
	parentBlockID common.Hash, epoch common.Epoch, rec *types.TransactionPoolRecord, local *committee.Committee,
) (*types.TransactionExecution, error) {
	if existing, err := tx.TransactionExecutionsGetPendingForBlock(rec.TransactionID, parentBlockID); err == nil {
		return existing.Execution, nil
	} else if !state.IsNotFound(err) {
		return nil, err
	}

	txRec, err := tx.TransactionsGet(rec.TransactionID)
	if err != nil {
		if state.IsNotFound(err) {
			return nil, invariantErrorf("transaction %s in pool but record missing", rec.TransactionID.TerminalString())
		}
		return nil, err
	}

	pledged, err := tm.loadPledges(tx, subStore, txRec, rec, local)
	if err != nil {
		return nil, err
	}
	return tm.executor.Execute(epoch, pledged)
}

// loadPledges resolves local input values through the pending store and
// foreign values from the pledge table.
func (tm *transactionManager) loadPledges(tx state.ReadTransaction, subStore *PendingSubstateStore,
	txRec *types.TransactionRecord, rec *types.TransactionPoolRecord, local *committee.Committee,
) (*execution.PledgedTransaction, error) {
	pledged := &execution.PledgedTransaction{Transaction: txRec}

	foreign, err := tx.ForeignSubstatePledgesGet(rec.TransactionID)
	if err != nil {
		return nil, err
	}
	pledged.ForeignPledges = foreign

	localEvidence := rec.Evidence.Get(local.ShardGroup())
	if localEvidence == nil {
		return pledged, nil
	}
	for _, in := range localEvidence.Inputs {
		substate, err := subStore.Get(in.VersionedID())
		if err != nil {
			if state.IsNotFound(err) {
				return nil, invariantErrorf("local pledge %s missing for transaction %s",
					in.VersionedID(), rec.TransactionID.TerminalString())
			}
			return nil, err
		}
		pledged.LocalPledges.Add(types.SubstatePledge{
			ID:      in.VersionedID(),
			IsInput: true,
			Value:   substate.Value,
		})
	}
	return pledged, nil
}
