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

// Package state implements the consensus state store over a key-value
// backend. Read transactions may be held concurrently; write transactions
// are serialized and commit atomically.
package state

import (
	"errors"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/log"
	"github.com/vellumchain/vellum/types"
)

var logger = log.NewModuleLogger(log.StorageState)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("state: not found")

// IsNotFound reports whether err is the store's not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// ReadTransaction is a read view over the store. It takes no snapshot: each
// read sees the batches committed before it.
type ReadTransaction interface {
	BlocksGet(id common.Hash) (*types.Block, error)
	BlocksExists(id common.Hash) (bool, error)
	BlocksIsJustified(id common.Hash) (bool, error)
	BlocksIsCommitted(id common.Hash) (bool, error)
	// BlocksGetParentChain returns the chain from id upwards (towards
	// genesis), starting with id itself, at most limit entries.
	BlocksGetParentChain(id common.Hash, limit int) ([]*types.Block, error)
	// BlocksGetAllBetween returns the blocks strictly above startExclusive up
	// to and including endInclusive, ordered ascending by height.
	BlocksGetAllBetween(startExclusive, endInclusive common.Hash) ([]*types.Block, error)
	BlockDiffsGet(blockID common.Hash) ([]types.SubstateChange, error)

	QuorumCertificatesGet(id common.Hash) (*types.QuorumCertificate, error)

	LeafBlockGet(epoch common.Epoch) (types.LeafBlock, error)
	LockedBlockGet(epoch common.Epoch) (types.LockedBlock, error)
	LastExecutedGet(epoch common.Epoch) (types.LastExecuted, error)
	LastVotedGet(epoch common.Epoch) (types.LastVoted, error)
	LastProposedGet(epoch common.Epoch) (types.LastProposed, error)
	HighQcGet(epoch common.Epoch) (types.HighQC, error)

	TransactionsGet(id common.Hash) (*types.TransactionRecord, error)
	TransactionsExists(id common.Hash) (bool, error)

	TransactionPoolGet(txID common.Hash) (*types.TransactionPoolRecord, error)
	TransactionPoolExists(txID common.Hash) (bool, error)
	TransactionPoolCount() (int, error)
	// TransactionPoolGetReady returns ready, non-final records in admission
	// order, at most max entries.
	TransactionPoolGetReady(max int) ([]*types.TransactionPoolRecord, error)

	TransactionExecutionsGetPendingForBlock(txID, blockID common.Hash) (*types.BlockTransactionExecution, error)

	SubstatesGet(id types.VersionedSubstateID) (*types.SubstateRecord, error)
	SubstatesGetLatestVersion(id common.Hash) (uint32, error)
	SubstatesExistsAnyVersion(id common.Hash) (bool, error)

	// SubstateLocksGetByBlock returns the locks persisted with one block.
	SubstateLocksGetByBlock(blockID common.Hash) ([]*types.SubstateLock, error)

	ForeignProposalsGet(blockID common.Hash) (*types.ForeignProposal, error)
	ForeignProposalsExists(blockID common.Hash) (bool, error)
	// ForeignProposalsGetAllNew returns unproposed foreign proposals in
	// arrival order, at most max entries.
	ForeignProposalsGetAllNew(max int) ([]*types.ForeignProposal, error)
	ForeignSubstatePledgesGet(txID common.Hash) (types.SubstatePledges, error)
	ForeignSendCountersGet(blockID common.Hash) (types.ForeignIndexes, error)
	ForeignReceiveCounterGet(epoch common.Epoch, sg common.ShardGroup) (uint64, error)

	BurntUtxosGet(commitment common.Hash) (*types.BurntUtxo, error)
	BurntUtxosGetAllUnproposed(max int) ([]*types.BurntUtxo, error)

	ValidatorStatsGet(epoch common.Epoch, pk common.PublicKey) (*types.ValidatorConsensusStats, error)
	// ValidatorStatsGetNodesToEvict lists validators whose missed-proposal
	// counters reached threshold and that are not yet evicted.
	ValidatorStatsGetNodesToEvict(epoch common.Epoch, threshold uint64, max int) ([]common.PublicKey, error)
	EvictedNodesCount(epoch common.Epoch) (int, error)
	EvictedNodesIsEvicted(epoch common.Epoch, pk common.PublicKey) (bool, error)

	// PendingStateTreeDiffsGetAllUpToCommitBlock collects the tree diffs of
	// all uncommitted ancestors of blockID (inclusive), ordered from the
	// oldest ancestor to blockID.
	PendingStateTreeDiffsGetAllUpToCommitBlock(blockID common.Hash) ([]*types.PendingShardStateTreeDiff, error)

	// StateTreeLeavesGetByShard returns the committed tree leaves of one
	// shard in ascending key order.
	StateTreeLeavesGetByShard(shard common.Shard) ([]types.StateTreeChange, error)

	LockConflictsGetForTransaction(txID common.Hash) ([]*types.LockConflict, error)

	ParkedBlocksExists(blockID common.Hash) (bool, error)

	Close()
}

// WriteTransaction extends a read view with mutations. All mutations become
// visible atomically on Commit.
type WriteTransaction interface {
	ReadTransaction

	BlocksInsert(b *types.Block) error
	BlocksSetJustified(id common.Hash) error
	BlocksSetCommitted(id common.Hash) error
	BlockDiffsInsert(blockID common.Hash, diff []types.SubstateChange) error
	BlockDiffsRemove(blockID common.Hash) error

	QuorumCertificatesInsert(qc *types.QuorumCertificate) error

	LeafBlockSet(l types.LeafBlock) error
	LockedBlockSet(l types.LockedBlock) error
	LastExecutedSet(l types.LastExecuted) error
	LastVotedSet(l types.LastVoted) error
	LastProposedSet(l types.LastProposed) error
	HighQcSet(h types.HighQC) error

	TransactionsInsert(t *types.TransactionRecord) error

	TransactionPoolInsert(r *types.TransactionPoolRecord) error
	TransactionPoolUpdate(r *types.TransactionPoolRecord) error
	TransactionPoolRemove(txID common.Hash) error

	TransactionExecutionsInsert(blockID common.Hash, exec *types.TransactionExecution) error

	SubstatesCreate(rec *types.SubstateRecord) error
	SubstatesDestroy(id types.VersionedSubstateID, destroyed *types.SubstateDestroyed) error

	SubstateLocksInsert(blockID common.Hash, locks []*types.SubstateLock) error
	SubstateLocksRemoveByBlock(blockID common.Hash) error

	ForeignProposalsUpsert(fp *types.ForeignProposal) error
	ForeignProposalsSetStatus(blockID common.Hash, status types.ForeignProposalStatus) error
	ForeignSubstatePledgesSave(txID common.Hash, pledges types.SubstatePledges) error
	ForeignSubstatePledgesRemove(txID common.Hash) error
	ForeignSendCountersSet(blockID common.Hash, indexes types.ForeignIndexes) error
	ForeignReceiveCounterSet(epoch common.Epoch, sg common.ShardGroup, count uint64) error

	BurntUtxosInsert(utxo *types.BurntUtxo) error
	BurntUtxosSetProposed(commitment common.Hash) error
	BurntUtxosRemove(commitment common.Hash) error

	ValidatorStatsIncrementMissed(epoch common.Epoch, pk common.PublicKey, cap uint64) error
	ValidatorStatsResetMissed(epoch common.Epoch, pk common.PublicKey) error
	ValidatorStatsIncrementShares(epoch common.Epoch, pk common.PublicKey) error
	EvictedNodesInsert(epoch common.Epoch, pk common.PublicKey) error

	PendingStateTreeDiffsInsert(diff *types.PendingShardStateTreeDiff) error
	PendingStateTreeDiffsRemoveByBlock(blockID common.Hash) error

	// StateTreeLeavesApply folds a committed block's tree changes into the
	// durable per-shard leaf set.
	StateTreeLeavesApply(shard common.Shard, changes []types.StateTreeChange) error

	LockConflictsInsert(txID common.Hash, conflicts []*types.LockConflict) error
	LockConflictsRemoveForTransaction(txID common.Hash) error

	ParkedBlocksInsert(blockID common.Hash, payload []byte) error
	ParkedBlocksRemove(blockID common.Hash) ([]byte, error)

	Commit() error
	Rollback()
}

// Store hands out transactions over the backing database.
type Store interface {
	ReadTransaction() ReadTransaction
	WriteTransaction() WriteTransaction

	// WithReadTx runs fn with a read transaction that is closed on return.
	WithReadTx(fn func(tx ReadTransaction) error) error
	// WithWriteTx runs fn with a write transaction; commit on nil error,
	// rollback otherwise.
	WithWriteTx(fn func(tx WriteTransaction) error) error

	Close()
}
