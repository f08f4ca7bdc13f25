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

// Package execution defines the transaction-executor contract the consensus
// core drives. The executor itself is an external collaborator.
package execution

import (
	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/types"
)

// InputResolver is the view the executor needs during prepare: pending
// overlay-on-committed reads plus lock acquisition. The consensus core's
// pending substate store satisfies it.
type InputResolver interface {
	// GetLatestVersion resolves an unversioned input against the overlay
	// chain.
	GetLatestVersion(id common.Hash) (uint32, error)
	// Get reads a substate through the overlay.
	Get(id types.VersionedSubstateID) (*types.Substate, error)
	// TryLockAll acquires the given locks for txID.
	TryLockAll(txID common.Hash, intents []types.SubstateLockIntent, isLocalOnly bool) (*types.LockStatus, error)
}

// CommitteeView restricts prepare to locally owned substates.
type CommitteeView interface {
	IncludesSubstateID(id common.Hash) bool
	ShardGroup() common.ShardGroup
	NumPreshards() uint32
	GroupFor(shard common.Shard) common.ShardGroup
}

// LocalPreparedTransaction is the prepare outcome for a transaction whose
// inputs and outputs all live in the local shard group.
type LocalPreparedTransaction struct {
	Execution  *types.TransactionExecution
	EarlyAbort bool
	LockStatus *types.LockStatus
}

// MultiShardPreparedTransaction is the prepare outcome for a cross-committee
// transaction: either evidence (foreign inputs outstanding) or a full
// execution (all inputs local or already pledged).
type MultiShardPreparedTransaction struct {
	Evidence   *types.Evidence
	Execution  *types.TransactionExecution
	LockStatus *types.LockStatus
}

// PreparedTransaction is the union returned by Prepare.
type PreparedTransaction struct {
	LocalOnly  *LocalPreparedTransaction
	MultiShard *MultiShardPreparedTransaction
}

func (p *PreparedTransaction) IsLocalOnly() bool { return p.LocalOnly != nil }

func (p *PreparedTransaction) LockStatus() *types.LockStatus {
	if p.LocalOnly != nil {
		return p.LocalOnly.LockStatus
	}
	if p.MultiShard != nil {
		return p.MultiShard.LockStatus
	}
	return &types.LockStatus{}
}

// IsInvolved reports whether the local committee appears in the prepared
// evidence or execution.
func (p *PreparedTransaction) IsInvolved(view CommitteeView) bool {
	if p.LocalOnly != nil {
		return true
	}
	if p.MultiShard == nil {
		return false
	}
	if p.MultiShard.Evidence != nil {
		return p.MultiShard.Evidence.Has(view.ShardGroup())
	}
	exec := p.MultiShard.Execution
	for _, in := range exec.ResolvedInputs {
		if view.IncludesSubstateID(in.ID) {
			return true
		}
	}
	for _, out := range exec.ResultingOutputs {
		if view.IncludesSubstateID(out.ID) {
			return true
		}
	}
	return false
}

// PledgedTransaction is a transaction together with every pledge required to
// execute it deterministically.
type PledgedTransaction struct {
	Transaction    *types.TransactionRecord
	LocalPledges   types.SubstatePledges
	ForeignPledges types.SubstatePledges
}

// Executor produces decisions, fees and substate diffs from pledged input
// sets. Implementations must be deterministic: every honest node executing
// the same pledged transaction derives the identical execution.
type Executor interface {
	// Prepare resolves inputs, acquires locks through the resolver and
	// classifies the transaction as local-only or multi-shard.
	Prepare(resolver InputResolver, view CommitteeView, epoch common.Epoch,
		tx *types.TransactionRecord, parentBlockID common.Hash) (*PreparedTransaction, error)
	// Execute runs the transaction over its pledged inputs.
	Execute(epoch common.Epoch, pledged *PledgedTransaction) (*types.TransactionExecution, error)
}
