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

package execution

import (
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/log"
	"github.com/vellumchain/vellum/types"
)

var logger = log.NewModuleLogger(log.Execution)

// TransferPayload is the instruction set of the reference executor: down the
// declared inputs, up the listed outputs. Abort forces an execution failure,
// exercising the abort paths end to end.
type TransferPayload struct {
	Outputs []TransferOutput
	Fee     uint64
	Abort   bool
}

type TransferOutput struct {
	ID    common.Hash
	Value []byte
}

// EncodeTransferPayload builds a transaction payload for the reference
// executor.
func EncodeTransferPayload(p *TransferPayload) []byte {
	enc, err := rlp.EncodeToBytes(p)
	if err != nil {
		panic("transfer payload encode: " + err.Error())
	}
	return enc
}

// TransferExecutor is a deterministic executor over versioned substates:
// every Write-locked input is destroyed, every output created at version 0. It backs
// local networks and the consensus test suite; production deployments plug
// in their own engine behind the Executor interface.
type TransferExecutor struct {
	numPreshards uint32
}

func NewTransferExecutor(numPreshards uint32) *TransferExecutor {
	if numPreshards == 0 {
		numPreshards = 1
	}
	return &TransferExecutor{numPreshards: numPreshards}
}

func (e *TransferExecutor) decode(tx *types.TransactionRecord) (*TransferPayload, error) {
	var payload TransferPayload
	if err := rlp.DecodeBytes(tx.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Prepare resolves and locks local inputs, then classifies the transaction.
// All-local transactions execute immediately; transactions with foreign
// inputs or outputs return partial evidence for the Prepare phase.
func (e *TransferExecutor) Prepare(resolver InputResolver, view CommitteeView, epochNum common.Epoch,
	tx *types.TransactionRecord, parentBlockID common.Hash,
) (*PreparedTransaction, error) {
	payload, err := e.decode(tx)
	if err != nil {
		return nil, err
	}

	localOnly := true
	var resolved []types.SubstateLockIntent
	var localIntents []types.SubstateLockIntent
	for _, in := range tx.Inputs {
		if !view.IncludesSubstateID(in.SubstateID) {
			localOnly = false
			resolved = append(resolved, types.SubstateLockIntent{ID: in.SubstateID, Version: versionOrZero(in.Version), Lock: in.Lock})
			continue
		}
		version := uint32(0)
		if in.Version != nil {
			version = *in.Version
		} else {
			version, err = resolver.GetLatestVersion(in.SubstateID)
			if err != nil {
				// Unresolvable local input: early abort.
				return earlyAbort(tx, payload, types.AbortExecutionFailure), nil
			}
		}
		intent := types.SubstateLockIntent{ID: in.SubstateID, Version: version, Lock: in.Lock}
		if _, err := resolver.Get(intent.VersionedID()); err != nil {
			// The resolved version no longer exists: a committed transaction
			// downed it. Deterministic on every node.
			return earlyAbort(tx, payload, types.AbortInputsDowned), nil
		}
		resolved = append(resolved, intent)
		localIntents = append(localIntents, intent)
	}
	for _, out := range payload.Outputs {
		if !view.IncludesSubstateID(out.ID) {
			localOnly = false
		}
	}

	status, err := resolver.TryLockAll(tx.ID(), localIntents, localOnly)
	if err != nil {
		return nil, err
	}

	if localOnly {
		exec := e.executeResolved(tx, payload, resolved)
		if status.IsAnyFailed() {
			if status.IsHardConflict() {
				exec.SetAbortReason(types.AbortFailedToLockInputs)
			}
			return &PreparedTransaction{LocalOnly: &LocalPreparedTransaction{
				Execution:  exec,
				EarlyAbort: status.IsHardConflict(),
				LockStatus: status,
			}}, nil
		}
		return &PreparedTransaction{LocalOnly: &LocalPreparedTransaction{Execution: exec, LockStatus: status}}, nil
	}

	// Multi-shard: if every input is local we can execute now; otherwise
	// surface partial evidence and wait for foreign pledges.
	allInputsLocal := true
	for _, in := range tx.Inputs {
		if !view.IncludesSubstateID(in.SubstateID) {
			allInputsLocal = false
			break
		}
	}
	if allInputsLocal && !status.IsAnyFailed() {
		exec := e.executeResolved(tx, payload, resolved)
		return &PreparedTransaction{MultiShard: &MultiShardPreparedTransaction{Execution: exec, LockStatus: status}}, nil
	}

	evidence := types.NewEvidence()
	for _, intent := range resolved {
		sg := view.GroupFor(common.ShardForAddress(intent.ID, view.NumPreshards()))
		evidence.AddShardGroup(sg).AddInput(intent)
	}
	for _, out := range payload.Outputs {
		sg := view.GroupFor(common.ShardForAddress(out.ID, view.NumPreshards()))
		evidence.AddShardGroup(sg).AddOutput(types.SubstateLockIntent{ID: out.ID, Version: 0, Lock: types.LockOutput})
	}
	return &PreparedTransaction{MultiShard: &MultiShardPreparedTransaction{Evidence: evidence, LockStatus: status}}, nil
}

// Execute runs the transaction over its pledged inputs. Deterministic by
// construction: the diff depends only on the transaction and the pledges.
func (e *TransferExecutor) Execute(epochNum common.Epoch, pledged *PledgedTransaction) (*types.TransactionExecution, error) {
	payload, err := e.decode(pledged.Transaction)
	if err != nil {
		return nil, err
	}
	var resolved []types.SubstateLockIntent
	for _, in := range pledged.Transaction.Inputs {
		version := versionOrZero(in.Version)
		if in.Version == nil {
			if p, ok := findPledge(pledged, in.SubstateID); ok {
				version = p.ID.Version
			}
		}
		resolved = append(resolved, types.SubstateLockIntent{ID: in.SubstateID, Version: version, Lock: in.Lock})
	}
	return e.executeResolved(pledged.Transaction, payload, resolved), nil
}

func (e *TransferExecutor) executeResolved(tx *types.TransactionRecord, payload *TransferPayload,
	resolved []types.SubstateLockIntent,
) *types.TransactionExecution {
	exec := &types.TransactionExecution{
		TransactionID:  tx.ID(),
		Decision:       types.Commit(),
		TransactionFee: payload.Fee,
		ResolvedInputs: resolved,
	}
	if payload.Abort {
		exec.Decision = types.Abort(types.AbortExecutionFailure)
		return exec
	}
	for _, in := range resolved {
		if in.Lock.IsWrite() {
			exec.Diff = append(exec.Diff, types.DownChange(in.VersionedID(), e.shardOf(in.ID), tx.ID()))
		}
	}
	for _, out := range payload.Outputs {
		id := types.NewVersionedSubstateID(out.ID, 0)
		exec.ResultingOutputs = append(exec.ResultingOutputs, id)
		exec.Diff = append(exec.Diff, types.UpChange(id, e.shardOf(out.ID), tx.ID(),
			&types.Substate{Version: 0, Value: out.Value}))
	}
	return exec
}

func earlyAbort(tx *types.TransactionRecord, payload *TransferPayload, reason types.AbortReason) *PreparedTransaction {
	return &PreparedTransaction{LocalOnly: &LocalPreparedTransaction{
		Execution: &types.TransactionExecution{
			TransactionID:  tx.ID(),
			Decision:       types.Abort(reason),
			TransactionFee: payload.Fee,
		},
		EarlyAbort: true,
		LockStatus: &types.LockStatus{},
	}}
}

func versionOrZero(v *uint32) uint32 {
	if v == nil {
		return 0
	}
	return *v
}

func findPledge(pledged *PledgedTransaction, id common.Hash) (types.SubstatePledge, bool) {
	for _, p := range pledged.LocalPledges {
		if p.ID.ID == id {
			return p, true
		}
	}
	for _, p := range pledged.ForeignPledges {
		if p.ID.ID == id {
			return p, true
		}
	}
	return types.SubstatePledge{}, false
}

func (e *TransferExecutor) shardOf(id common.Hash) common.Shard {
	return common.ShardForAddress(id, e.numPreshards)
}
