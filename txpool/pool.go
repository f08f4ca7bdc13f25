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

// Package txpool drives the per-transaction consensus stage machine over the
// state store's transaction-pool table.
package txpool

import (
	"errors"

	"github.com/rcrowley/go-metrics"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/consensus/committee"
	"github.com/vellumchain/vellum/log"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/types"
)

var logger = log.NewModuleLogger(log.TxPool)

var (
	ErrKnownTransaction   = errors.New("known transaction")
	ErrUnknownTransaction = errors.New("unknown transaction")
)

var (
	admittedTxCounter  = metrics.NewRegisteredCounter("txpool/admitted", nil)
	finalizedTxCounter = metrics.NewRegisteredCounter("txpool/finalized", nil)
	deferredTxCounter  = metrics.NewRegisteredCounter("txpool/deferred", nil)
)

// Pool materializes transaction-pool records from the store and applies
// stage transitions. Records are never shared: every caller works on a fresh
// copy scoped to its store transaction.
type Pool struct {
	store state.Store
}

func New(store state.Store) *Pool {
	return &Pool{store: store}
}

// Admit inserts a newly received transaction at stage New, ready for the
// next proposal.
func (p *Pool) Admit(tx state.WriteTransaction, record *types.TransactionRecord) error {
	exists, err := tx.TransactionPoolExists(record.ID())
	if err != nil {
		return err
	}
	if exists {
		return ErrKnownTransaction
	}
	if err := tx.TransactionsInsert(record); err != nil {
		return err
	}
	rec := types.NewTransactionPoolRecord(record.ID()).SetReady(true)
	if err := tx.TransactionPoolInsert(rec); err != nil {
		return err
	}
	admittedTxCounter.Inc(1)
	logger.Debug("Admitted transaction", "tx", record.ID().TerminalString())
	return nil
}

// Get returns a fresh copy of the pool record.
func (p *Pool) Get(tx state.ReadTransaction, txID common.Hash) (*types.TransactionPoolRecord, error) {
	rec, err := tx.TransactionPoolGet(txID)
	if err != nil {
		if state.IsNotFound(err) {
			return nil, ErrUnknownTransaction
		}
		return nil, err
	}
	return rec, nil
}

// GetBatchForNextBlock returns up to max ready records in admission order.
func (p *Pool) GetBatchForNextBlock(tx state.ReadTransaction, max int) ([]*types.TransactionPoolRecord, error) {
	if max <= 0 {
		return nil, nil
	}
	return tx.TransactionPoolGetReady(max)
}

// Finalize removes a transaction whose enclosing block committed, releasing
// its pledges and conflicts.
func (p *Pool) Finalize(tx state.WriteTransaction, txID common.Hash) error {
	if err := tx.TransactionPoolRemove(txID); err != nil {
		return err
	}
	if err := tx.ForeignSubstatePledgesRemove(txID); err != nil {
		return err
	}
	if err := tx.LockConflictsRemoveForTransaction(txID); err != nil {
		return err
	}
	finalizedTxCounter.Inc(1)
	return nil
}

// RecordLockConflicts persists soft conflicts so the transaction is retried
// once the conflicting holder finalizes.
func (p *Pool) RecordLockConflicts(tx state.WriteTransaction, txID common.Hash, conflicts []*types.LockConflict) error {
	deferredTxCounter.Inc(1)
	return tx.LockConflictsInsert(txID, conflicts)
}

// RetryDeferred re-readies transactions whose recorded conflicts were held
// by the just-finalized transaction.
func (p *Pool) RetryDeferred(tx state.WriteTransaction, finalized common.Hash, waiters []common.Hash) error {
	for _, txID := range waiters {
		conflicts, err := tx.LockConflictsGetForTransaction(txID)
		if err != nil {
			return err
		}
		stillBlocked := false
		for _, c := range conflicts {
			if c.HeldBy != finalized {
				stillBlocked = true
				break
			}
		}
		if stillBlocked || len(conflicts) == 0 {
			continue
		}
		rec, err := p.Get(tx, txID)
		if err != nil {
			if errors.Is(err, ErrUnknownTransaction) {
				continue
			}
			return err
		}
		if err := tx.LockConflictsRemoveForTransaction(txID); err != nil {
			return err
		}
		if err := tx.TransactionPoolUpdate(rec.SetReady(true)); err != nil {
			return err
		}
		logger.Debug("Retrying deferred transaction", "tx", txID.TerminalString(), "after", finalized.TerminalString())
	}
	return nil
}

// HasAllRequiredForeignInputPledges checks the pledge table against the
// record's foreign input evidence.
func HasAllRequiredForeignInputPledges(tx state.ReadTransaction, rec *types.TransactionPoolRecord, local *committee.Committee) (bool, error) {
	pledges, err := tx.ForeignSubstatePledgesGet(rec.TransactionID)
	if err != nil {
		return false, err
	}
	for _, entry := range rec.Evidence.Entries {
		if entry.ShardGroup == local.ShardGroup() {
			continue
		}
		if !pledges.HasAllInputs(entry.Evidence.Inputs) {
			return false, nil
		}
	}
	return true, nil
}

// UpdateReadiness recomputes the record's ready flag, consulting the pledge
// table when the next step needs foreign input values.
func UpdateReadiness(tx state.ReadTransaction, rec *types.TransactionPoolRecord, local *committee.Committee) error {
	ready := rec.IsReadyForPendingStage(local.ShardGroup())
	if ready && rec.CurrentStage == types.StageLocalPrepared && rec.CurrentDecision().IsCommit() {
		ok, err := HasAllRequiredForeignInputPledges(tx, rec, local)
		if err != nil {
			return err
		}
		ready = ok
	}
	rec.SetReady(ready)
	return nil
}
