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

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/protocol"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/txpool"
)

// handleMissingTxRequest serves transaction records to a peer that parked a
// proposal.
func (w *Worker) handleMissingTxRequest(ctx context.Context, msg *protocol.MissingTransactionsRequestMessage, from common.PublicKey) {
	response := &protocol.MissingTransactionsResponseMessage{
		RequestID: msg.RequestID,
		Epoch:     msg.Epoch,
		BlockID:   msg.BlockID,
	}
	err := w.store.WithReadTx(func(tx state.ReadTransaction) error {
		for _, txID := range msg.Transactions {
			rec, err := tx.TransactionsGet(txID)
			if err != nil {
				if state.IsNotFound(err) {
					continue
				}
				return err
			}
			response.Transactions = append(response.Transactions, rec)
		}
		return nil
	})
	if err != nil {
		logger.Error("Missing-transaction lookup failed", "err", err)
		return
	}
	if err := w.transport.Send(ctx, from, response); err != nil {
		logger.Error("Missing-transaction response failed", "err", err)
	}
}

// handleMissingTxResponse admits the received transactions and resumes the
// parked proposal.
func (w *Worker) handleMissingTxResponse(ctx context.Context, msg *protocol.MissingTransactionsResponseMessage) {
	blockID, ok := w.requests[string(msg.RequestID)]
	if !ok || blockID != msg.BlockID {
		logger.Debug("Unsolicited missing-transaction response", "block", msg.BlockID.TerminalString())
		return
	}
	delete(w.requests, string(msg.RequestID))

	err := w.store.WithWriteTx(func(tx state.WriteTransaction) error {
		for _, rec := range msg.Transactions {
			if err := w.pool.Admit(tx, rec); err != nil && err != txpool.ErrKnownTransaction {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("Failed to admit fetched transactions", "err", err)
		return
	}

	parked, ok := w.parked[msg.BlockID]
	if !ok {
		return
	}
	delete(w.parked, msg.BlockID)
	logger.Info("Resuming parked proposal", "block", parked.Block.String())
	w.processBlock(ctx, parked.Block)
}

// handleForeignProposalNotification pulls the announced proposal.
func (w *Worker) handleForeignProposalNotification(ctx context.Context, msg *protocol.ForeignProposalNotificationMessage, from common.PublicKey) {
	var exists bool
	err := w.store.WithReadTx(func(tx state.ReadTransaction) error {
		var err error
		exists, err = tx.ForeignProposalsExists(msg.BlockID)
		return err
	})
	if err != nil || exists {
		return
	}
	err = w.transport.Send(ctx, from, &protocol.ForeignProposalRequestMessage{
		ByBlockID:     msg.BlockID,
		ForShardGroup: w.local.ShardGroup(),
		Epoch:         msg.Epoch,
	})
	if err != nil {
		logger.Error("Foreign proposal request failed", "err", err)
	}
}

// handleForeignProposalRequest serves a previously committed local block to
// a foreign committee.
func (w *Worker) handleForeignProposalRequest(ctx context.Context, msg *protocol.ForeignProposalRequestMessage, from common.PublicKey) {
	if msg.ByBlockID.IsZero() {
		logger.Debug("Foreign proposal request without block id", "from", from.Hex())
		return
	}
	var response *protocol.ForeignProposalMessage
	err := w.store.WithReadTx(func(tx state.ReadTransaction) error {
		block, err := tx.BlocksGet(msg.ByBlockID)
		if err != nil {
			return err
		}
		qc, err := justifyOf(tx, block)
		if err != nil || qc == nil {
			return err
		}
		messages, err := buildOutgoingForeignProposals(tx, block, qc, w.local)
		if err != nil {
			return err
		}
		response = messages[msg.ForShardGroup]
		return nil
	})
	if err != nil || response == nil {
		logger.Debug("Cannot serve foreign proposal request", "block", msg.ByBlockID.TerminalString(), "err", err)
		return
	}
	if err := w.transport.Send(ctx, from, response); err != nil {
		logger.Error("Foreign proposal response failed", "err", err)
	}
}

// handleForeignProposal ingests a proposal pushed by a foreign committee.
func (w *Worker) handleForeignProposal(ctx context.Context, msg *protocol.ForeignProposalMessage) {
	foreignCommittee, err := w.epochs.GetCommitteeByShardGroup(ctx, msg.Block.Epoch(), msg.Block.ShardGroup())
	if err != nil {
		logger.Warn("Foreign proposal from unknown committee", "sg", msg.Block.ShardGroup().String())
		return
	}
	err = w.store.WithWriteTx(func(tx state.WriteTransaction) error {
		return w.foreign.handleReceived(tx, msg, foreignCommittee, w.local)
	})
	if err != nil {
		logger.Warn("Rejected foreign proposal", "foreignBlock", msg.Block.ID().TerminalString(), "err", err)
	}
}

// requestSync asks the local committee for the missing chain suffix.
func (w *Worker) requestSync(ctx context.Context) {
	epochNum := w.local.Epoch()
	var highQC *protocol.SyncRequestMessage
	err := w.store.WithReadTx(func(tx state.ReadTransaction) error {
		high, err := tx.HighQcGet(epochNum)
		if err != nil {
			return err
		}
		qc, err := tx.QuorumCertificatesGet(high.QCID)
		if err != nil {
			return err
		}
		highQC = &protocol.SyncRequestMessage{Epoch: epochNum, HighQC: qc}
		return nil
	})
	if err != nil {
		logger.Error("Sync request build failed", "err", err)
		return
	}
	if err := w.transport.Multicast(ctx, w.local.PublicKeys(), highQC); err != nil {
		logger.Error("Sync request failed", "err", err)
	}
}

// handleSyncRequest streams the blocks above the requester's high QC.
func (w *Worker) handleSyncRequest(ctx context.Context, msg *protocol.SyncRequestMessage, from common.PublicKey) {
	response := &protocol.SyncResponseMessage{Epoch: msg.Epoch}
	err := w.store.WithReadTx(func(tx state.ReadTransaction) error {
		leaf, err := tx.LeafBlockGet(msg.Epoch)
		if err != nil {
			return err
		}
		blocks, err := tx.BlocksGetAllBetween(msg.HighQC.BlockID(), leaf.BlockID)
		if err != nil {
			return err
		}
		for _, b := range blocks {
			full := &protocol.FullBlock{Block: b}
			for _, txID := range b.AllTransactionIDs() {
				rec, err := tx.TransactionsGet(txID)
				if err != nil {
					if state.IsNotFound(err) {
						continue
					}
					return err
				}
				full.Transactions = append(full.Transactions, rec)
			}
			full.QCs = append(full.QCs, b.Justify())
			response.Blocks = append(response.Blocks, full)
		}
		return nil
	})
	if err != nil {
		logger.Error("Sync response build failed", "err", err)
		return
	}
	if len(response.Blocks) == 0 {
		return
	}
	if err := w.transport.Send(ctx, from, response); err != nil {
		logger.Error("Sync response failed", "err", err)
	}
}

// handleSyncResponse replays the received chain through the normal receive
// pipeline, ascending by height, so catch-up commits go through the same
// three-chain path as live blocks.
func (w *Worker) handleSyncResponse(ctx context.Context, msg *protocol.SyncResponseMessage) {
	for _, full := range msg.Blocks {
		if full.Block == nil || full.Block.IsDummy() {
			continue
		}
		err := w.store.WithWriteTx(func(tx state.WriteTransaction) error {
			for _, rec := range full.Transactions {
				if err := w.pool.Admit(tx, rec); err != nil && err != txpool.ErrKnownTransaction {
					return err
				}
			}
			for _, qc := range full.QCs {
				if err := tx.QuorumCertificatesInsert(qc); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			logger.Error("Sync block preparation failed", "err", err)
			return
		}
		w.processBlock(ctx, full.Block)
	}
}
