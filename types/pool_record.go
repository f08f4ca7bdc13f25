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
	"fmt"

	"github.com/vellumchain/vellum/common"
)

// TransactionPoolStage is the consensus stage of a pooled transaction.
type TransactionPoolStage uint8

const (
	StageNew TransactionPoolStage = iota
	StagePrepared
	StageLocalPrepared
	StageAllPrepared
	StageSomePrepared
	StageLocalAccepted
	StageAllAccepted
	StageSomeAccepted
	StageLocalOnly
)

var stageNames = [...]string{
	"New", "Prepared", "LocalPrepared", "AllPrepared", "SomePrepared",
	"LocalAccepted", "AllAccepted", "SomeAccepted", "LocalOnly",
}

func (s TransactionPoolStage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// IsFinal reports whether no further stage transition is permitted.
func (s TransactionPoolStage) IsFinal() bool {
	switch s {
	case StageAllAccepted, StageSomeAccepted, StageLocalOnly:
		return true
	default:
		return false
	}
}

// NextStageFor maps a command type onto the stage it transitions its
// transaction into.
func NextStageFor(t CommandType) (TransactionPoolStage, bool) {
	switch t {
	case CmdLocalOnly:
		return StageLocalOnly, true
	case CmdPrepare:
		return StagePrepared, true
	case CmdLocalPrepare:
		return StageLocalPrepared, true
	case CmdAllPrepare:
		return StageAllPrepared, true
	case CmdSomePrepare:
		return StageSomePrepared, true
	case CmdLocalAccept:
		return StageLocalAccepted, true
	case CmdAllAccept:
		return StageAllAccepted, true
	case CmdSomeAccept:
		return StageSomeAccepted, true
	default:
		return 0, false
	}
}

// CanTransitionTo enforces the stage machine:
//
//	New → Prepared → LocalPrepared → AllPrepared  → LocalAccepted → AllAccepted
//	                              ↘ SomePrepared ↗              ↘ SomeAccepted
//	New → LocalOnly
//
// plus Prepared → LocalAccepted for output-only committees.
func (s TransactionPoolStage) CanTransitionTo(next TransactionPoolStage) bool {
	switch s {
	case StageNew:
		return next == StagePrepared || next == StageLocalOnly
	case StagePrepared:
		return next == StageLocalPrepared || next == StageLocalAccepted
	case StageLocalPrepared:
		return next == StageAllPrepared || next == StageSomePrepared
	case StageAllPrepared, StageSomePrepared:
		return next == StageLocalAccepted
	case StageLocalAccepted:
		return next == StageAllAccepted || next == StageSomeAccepted
	default:
		return false
	}
}

// TransactionPoolRecord is the per-transaction consensus state. Records are
// materialized fresh per store transaction from the persisted row plus the
// working change-set overlay; they are never shared between goroutines.
type TransactionPoolRecord struct {
	TransactionID  common.Hash
	CurrentStage   TransactionPoolStage
	PendingStage   *TransactionPoolStage `rlp:"nil"`
	Ready          bool
	LocalDecision  Decision
	RemoteDecision *Decision `rlp:"nil"`
	TransactionFee uint64
	LeaderFee      *LeaderFee `rlp:"nil"`
	Evidence       *Evidence
}

// NewTransactionPoolRecord admits a transaction into the pool at stage New.
func NewTransactionPoolRecord(txID common.Hash) *TransactionPoolRecord {
	return &TransactionPoolRecord{
		TransactionID: txID,
		CurrentStage:  StageNew,
		Evidence:      NewEvidence(),
	}
}

func (r *TransactionPoolRecord) ID() common.Hash { return r.TransactionID }

// CurrentDecision is the effective decision: any remote abort overrides a
// local commit.
func (r *TransactionPoolRecord) CurrentDecision() Decision {
	if r.RemoteDecision != nil && r.RemoteDecision.IsAbort() {
		return *r.RemoteDecision
	}
	return r.LocalDecision
}

func (r *TransactionPoolRecord) SetLocalDecision(d Decision) *TransactionPoolRecord {
	r.LocalDecision = d
	return r
}

// SetRemoteDecision records the last observed foreign decision. An abort is
// sticky: once any shard group reports abort the outcome is abort.
func (r *TransactionPoolRecord) SetRemoteDecision(d Decision) *TransactionPoolRecord {
	if r.RemoteDecision != nil && r.RemoteDecision.IsAbort() {
		return r
	}
	d2 := d
	r.RemoteDecision = &d2
	return r
}

func (r *TransactionPoolRecord) SetTransactionFee(fee uint64) *TransactionPoolRecord {
	r.TransactionFee = fee
	return r
}

func (r *TransactionPoolRecord) SetLeaderFee(fee *LeaderFee) *TransactionPoolRecord {
	r.LeaderFee = fee
	return r
}

// SetEvidence replaces the evidence wholesale. Only valid while populating a
// New record; later updates must go through Merge to preserve monotonicity.
func (r *TransactionPoolRecord) SetEvidence(ev *Evidence) *TransactionPoolRecord {
	r.Evidence = ev
	return r
}

// UpdateFromExecution folds an execution result into the record.
func (r *TransactionPoolRecord) UpdateFromExecution(numPreshards uint32, groupFor func(common.Shard) common.ShardGroup, exec *TransactionExecution) *TransactionPoolRecord {
	r.SetLocalDecision(exec.Decision)
	r.SetTransactionFee(exec.TransactionFee)
	r.Evidence.Merge(exec.ToEvidence(numPreshards, groupFor))
	return r
}

// CalculateLeaderFee computes this transaction's leader fee for the given
// number of involved shard groups.
func (r *TransactionPoolRecord) CalculateLeaderFee(involved uint64, feeExhaustDivisor uint64) *LeaderFee {
	return CalculateLeaderFee(r.TransactionFee, involved, feeExhaustDivisor)
}

// SetNextStage records the pending transition. The transition is promoted to
// CurrentStage once the enclosing block is locked.
func (r *TransactionPoolRecord) SetNextStage(next TransactionPoolStage) error {
	if !r.CurrentStage.CanTransitionTo(next) {
		return fmt.Errorf("invalid stage transition %s -> %s for transaction %s",
			r.CurrentStage, next, r.TransactionID.TerminalString())
	}
	n := next
	r.PendingStage = &n
	r.Ready = false
	return nil
}

// PromotePendingStage applies the pending transition.
func (r *TransactionPoolRecord) PromotePendingStage() {
	if r.PendingStage != nil {
		r.CurrentStage = *r.PendingStage
		r.PendingStage = nil
	}
}

func (r *TransactionPoolRecord) SetReady(ready bool) *TransactionPoolRecord {
	r.Ready = ready
	return r
}

// IsReadyForPendingStage evaluates the readiness predicate for the stage the
// record currently sits in. Pledge availability (AllPrepared) is checked by
// the pool against the store; this method covers the evidence-only
// conditions.
func (r *TransactionPoolRecord) IsReadyForPendingStage(localSG common.ShardGroup) bool {
	switch r.CurrentStage {
	case StageNew:
		return true
	case StagePrepared:
		// Justification of our Prepare is observed via the pending stage
		// having been promoted; at that point readiness depends on foreign
		// LocalPrepare evidence, or nothing for output-only committees.
		if r.CurrentDecision().IsAbort() {
			return true
		}
		if r.Evidence.IsCommitteeOutputOnly(localSG) {
			return true
		}
		return r.allForeignInputShardGroupsPrepared(localSG)
	case StageLocalPrepared:
		if r.CurrentDecision().IsAbort() {
			return true
		}
		return r.Evidence.AllInputShardGroupsPrepared()
	case StageAllPrepared, StageSomePrepared:
		return true
	case StageLocalAccepted:
		if r.CurrentDecision().IsAbort() {
			return true
		}
		return r.allShardGroupsAccepted()
	default:
		return false
	}
}

func (r *TransactionPoolRecord) allForeignInputShardGroupsPrepared(localSG common.ShardGroup) bool {
	for _, e := range r.Evidence.Entries {
		if e.ShardGroup == localSG {
			continue
		}
		if len(e.Evidence.Inputs) > 0 && e.Evidence.PrepareQC.IsZero() {
			return false
		}
	}
	return true
}

func (r *TransactionPoolRecord) allShardGroupsAccepted() bool {
	for _, e := range r.Evidence.Entries {
		if e.Evidence.AcceptQC.IsZero() {
			return false
		}
	}
	return true
}

// GetCurrentTransactionAtom snapshots the record into an atom carrying the
// effective (local+remote) decision.
func (r *TransactionPoolRecord) GetCurrentTransactionAtom() *TransactionAtom {
	return &TransactionAtom{
		TransactionID:  r.TransactionID,
		Decision:       r.CurrentDecision(),
		TransactionFee: r.TransactionFee,
		LeaderFee:      r.LeaderFee,
		Evidence:       r.Evidence.Clone(),
	}
}

// GetLocalTransactionAtom snapshots the record with only the local decision,
// used for Prepare-phase commands where foreign decisions are not yet
// binding.
func (r *TransactionPoolRecord) GetLocalTransactionAtom() *TransactionAtom {
	return &TransactionAtom{
		TransactionID:  r.TransactionID,
		Decision:       r.LocalDecision,
		TransactionFee: r.TransactionFee,
		LeaderFee:      r.LeaderFee,
		Evidence:       r.Evidence.Clone(),
	}
}

func (r *TransactionPoolRecord) String() string {
	return fmt.Sprintf("PoolRecord(%s, %s, ready %v)", r.TransactionID.TerminalString(), r.CurrentStage, r.Ready)
}
