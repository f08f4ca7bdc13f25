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

package types

import (
	"github.com/vellumchain/vellum/common"
)

// TransactionExecution is the executor's verdict over a pledged input set:
// the decision, the fee, the resulting outputs and the substate diff.
type TransactionExecution struct {
	TransactionID    common.Hash
	Decision         Decision
	TransactionFee   uint64
	ResolvedInputs   []SubstateLockIntent
	ResultingOutputs []VersionedSubstateID
	Diff             []SubstateChange
}

// SetAbortReason downgrades a successful execution to an abort, clearing the
// diff. Used when output locking fails after execution succeeded.
func (e *TransactionExecution) SetAbortReason(reason AbortReason) {
	e.Decision = Abort(reason)
	e.Diff = nil
}

// ToEvidence derives the local evidence contribution from the resolved
// inputs and resulting outputs, split across shard groups by address.
func (e *TransactionExecution) ToEvidence(numPreshards uint32, groupFor func(common.Shard) common.ShardGroup) *Evidence {
	ev := NewEvidence()
	for _, in := range e.ResolvedInputs {
		sg := groupFor(common.ShardForAddress(in.ID, numPreshards))
		ev.AddShardGroup(sg).AddInput(in)
	}
	for _, out := range e.ResultingOutputs {
		sg := groupFor(common.ShardForAddress(out.ID, numPreshards))
		ev.AddShardGroup(sg).AddOutput(SubstateLockIntent{ID: out.ID, Version: out.Version, Lock: LockOutput})
	}
	return ev
}

// BlockTransactionExecution pins an execution to the block it was produced
// for. Executions are speculative until the block commits.
type BlockTransactionExecution struct {
	BlockID   common.Hash
	Execution *TransactionExecution
}
