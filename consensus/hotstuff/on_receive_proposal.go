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

	"github.com/google/uuid"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/protocol"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/types"
)

// handleProposal validates and votes on a received proposal, including this
// node's own. It runs on the blocking pool and owns one write transaction
// per block.
func (w *Worker) handleProposal(ctx context.Context, msg *protocol.ProposalMessage, from common.PublicKey) {
	block := msg.Block
	if err := block.SanityCheck(); err != nil {
		logger.Warn("Rejecting malformed proposal", "err", err)
		return
	}
	if block.Epoch() != w.local.Epoch() || block.ShardGroup() != w.local.ShardGroup() {
		logger.Warn("Proposal for wrong committee", "block", block.String())
		return
	}
	expectedLeader := w.local.Leader(block.Height())
	if block.Proposer() != expectedLeader {
		logger.Warn("Proposal from unexpected leader", "block", block.String(),
			"proposer", block.Proposer().Hex(), "expected", expectedLeader.Hex())
		return
	}
	if !Verify(block.Proposer(), block.ID(), block.Header().Signature) {
		logger.Warn("Proposal signature invalid", "block", block.String())
		return
	}

	// Foreign proposals bundled with the block are ingested first; the
	// block's ForeignProposal commands reference them.
	for _, fp := range msg.ForeignProposals {
		w.storeBundledForeignProposal(ctx, fp)
	}

	if w.requestMissingTransactions(ctx, msg, from) {
		return
	}

	w.processBlock(ctx, block)
}

// storeBundledForeignProposal persists a foreign proposal that arrived
// attached to a local proposal rather than over the foreign channel.
func (w *Worker) storeBundledForeignProposal(ctx context.Context, fp *types.ForeignProposal) {
	foreignCommittee, err := w.epochs.GetCommitteeByShardGroup(ctx, fp.Block.Epoch(), fp.ShardGroup())
	if err != nil {
		logger.Warn("Unknown foreign committee for bundled proposal", "sg", fp.ShardGroup().String(), "err", err)
		return
	}
	err = w.store.WithWriteTx(func(tx state.WriteTransaction) error {
		return w.foreign.handleReceived(tx, &protocol.ForeignProposalMessage{
			Block:       fp.Block,
			JustifyQC:   fp.JustifyQC,
			BlockPledge: fp.BlockPledge,
		}, foreignCommittee, w.local)
	})
	if err != nil {
		logger.Warn("Failed to store bundled foreign proposal", "foreignBlock", fp.BlockID().TerminalString(), "err", err)
	}
}

// requestMissingTransactions parks the proposal and asks the proposer for
// transactions we have not seen. Returns true when the proposal is parked.
func (w *Worker) requestMissingTransactions(ctx context.Context, msg *protocol.ProposalMessage, from common.PublicKey) bool {
	block := msg.Block
	var missing []common.Hash
	err := w.store.WithReadTx(func(tx state.ReadTransaction) error {
		for _, txID := range block.AllTransactionIDs() {
			exists, err := tx.TransactionsExists(txID)
			if err != nil {
				return err
			}
			if !exists {
				missing = append(missing, txID)
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("Missing-transaction scan failed", "err", err)
		return false
	}
	if len(missing) == 0 {
		return false
	}

	requestID := uuid.New().String()
	w.parked[block.ID()] = msg
	w.requests[requestID] = block.ID()
	logger.Info("Parking proposal awaiting transactions", "block", block.String(), "missing", len(missing))

	err = w.transport.Send(ctx, from, &protocol.MissingTransactionsRequestMessage{
		RequestID:    []byte(requestID),
		Epoch:        block.Epoch(),
		BlockID:      block.ID(),
		Transactions: missing,
	})
	if err != nil {
		logger.Error("Missing-transaction request failed", "err", err)
	}
	return true
}

// processBlock runs the full receive pipeline for one block: chain linkage,
// safety, validation, voting and the three-chain commit walk.
func (w *Worker) processBlock(ctx context.Context, block *types.Block) {
	epochNum := block.Epoch()
	active, err := w.epochs.IsEpochActive(ctx, epochNum)
	if err != nil {
		logger.Error("Epoch manager unavailable", "err", err)
		return
	}
	epochEnded := !active || w.epochEnded

	var (
		changeSet *ProposedBlockChangeSet
		commits   *commitResult
		voted     bool
	)

	err = w.store.WithWriteTx(func(tx state.WriteTransaction) error {
		if _, err := updateHighQC(tx, block.Justify()); err != nil {
			return err
		}

		// Materialize skipped views so the parent chain exists.
		parentExists, err := tx.BlocksExists(block.ParentID())
		if err != nil {
			return err
		}
		if !parentExists {
			justified, err := tx.BlocksGet(block.Justify().BlockID())
			if err != nil {
				if state.IsNotFound(err) {
					logger.Warn("Proposal justifies unknown block, requesting sync", "block", block.String())
					return errNeedsSync
				}
				return err
			}
			parent, err := synthesizeDummyChain(tx, block.Justify(), justified, block.Height(), w.local)
			if err != nil {
				return err
			}
			if parent.BlockID != block.ParentID() {
				logger.Warn("Proposal parent does not match dummy chain", "block", block.String())
				return errBadChain
			}
		}

		safe, err := safeNode(tx, block)
		if err != nil {
			return err
		}
		if !safe {
			logger.Warn("Proposal does not extend the locked block, ignoring", "block", block.String())
			return errNotSafe
		}

		if err := tx.BlocksInsert(block); err != nil {
			return err
		}
		if err := updateLeaf(tx, block); err != nil {
			return err
		}

		// Promote the pool effects of the block this proposal justifies.
		// These persist independently of our vote: a no-vote must not lose
		// stage promotions every honest peer applies.
		justified, err := tx.BlocksGet(block.Justify().BlockID())
		if err != nil && !state.IsNotFound(err) {
			return err
		}
		if justified != nil {
			isJustified, err := tx.BlocksIsJustified(justified.ID())
			if err != nil {
				return err
			}
			if !isJustified {
				justifiedSet := NewProposedBlockChangeSet(justified.ID())
				if err := processNewlyJustifiedBlock(tx, justified, block.Justify().ID(), w.local, justifiedSet); err != nil {
					return err
				}
				if err := justifiedSet.Save(tx); err != nil {
					return err
				}
				if err := tx.BlocksSetJustified(justified.ID()); err != nil {
					return err
				}
			}
		}

		changeSet, err = w.validator.handle(tx, block, w.local, epochEnded)
		if err != nil {
			return err
		}
		if err := changeSet.Save(tx); err != nil {
			return err
		}

		if !changeSet.IsNoVote() {
			voted = true
			err = tx.LastVotedSet(types.LastVoted{BlockID: block.ID(), Height: block.Height(), Epoch: epochNum})
			if err != nil {
				return err
			}
		}

		commitCandidate, err := updateBlocks(tx, block)
		if err != nil {
			return err
		}
		if commitCandidate != nil {
			commits, err = commitChain(tx, commitCandidate, w.local, w.pool, w.config)
			if err != nil {
				return err
			}
		}
		return nil
	})
	switch err {
	case nil:
	case errNotSafe, errBadChain:
		return
	case errNeedsSync:
		w.requestSync(ctx)
		return
	default:
		if IsInvariantError(err) {
			logger.Crit("Invariant violation while processing block", "block", block.String(), "err", err)
		}
		logger.Error("Failed to process block", "block", block.String(), "err", err)
		return
	}

	w.afterBlockProcessed(ctx, block, commits, voted, changeSet)
}

// afterBlockProcessed performs the network half of the receive pipeline:
// vote emission, foreign-proposal fan-out and timer management.
func (w *Worker) afterBlockProcessed(ctx context.Context, block *types.Block, commits *commitResult, voted bool, changeSet *ProposedBlockChangeSet) {
	if commits != nil {
		for _, evicted := range commits.evicted {
			w.local.MarkEvicted(evicted.PublicKey)
			logger.Warn("Validator evicted", "pk", evicted.PublicKey.Hex())
		}
		if commits.epochEnded {
			w.epochEnded = true
		}
		for _, committed := range commits.committed {
			w.notifyForeignCommittees(ctx, committed)
		}
	}

	// Replay any votes that arrived before the block.
	w.pendingVotesMu.Lock()
	replay := w.pendingVotes[block.ID()]
	delete(w.pendingVotes, block.ID())
	w.pendingVotesMu.Unlock()
	for _, pv := range replay {
		w.handleVote(ctx, pv.msg, pv.from)
	}

	if voted {
		next := block.Height() + 1
		vote := &protocol.VoteMessage{
			Epoch:       block.Epoch(),
			BlockID:     block.ID(),
			BlockHeight: block.Height(),
			Decision:    changeSet.QuorumDecision(),
			Signature: types.ValidatorSignature{
				PublicKey: w.signer.PublicKey(),
				Signature: w.signer.Sign(block.ID()),
				LeafHash:  block.ID(),
			},
		}
		if err := w.transport.Send(ctx, w.local.Leader(next), vote); err != nil {
			logger.Error("Vote send failed", "err", err)
		}
		w.pacemaker.resetTimer(next)
	}
}

// notifyForeignCommittees fans a committed block out to every foreign shard
// group its transactions involve. Sending at commit time guarantees the
// carried pledges are final.
func (w *Worker) notifyForeignCommittees(ctx context.Context, block *types.Block) {
	if block.IsDummy() || w.sentFP.Contains(block.ID()) {
		return
	}
	w.sentFP.Add(block.ID(), true)

	var messages map[common.ShardGroup]*protocol.ForeignProposalMessage
	err := w.store.WithReadTx(func(tx state.ReadTransaction) error {
		// The QC over this block is carried by its committed child.
		qc, err := justifyOf(tx, block)
		if err != nil || qc == nil {
			return err
		}
		messages, err = buildOutgoingForeignProposals(tx, block, qc, w.local)
		return err
	})
	if err != nil {
		logger.Error("Failed to build foreign proposals", "block", block.String(), "err", err)
		return
	}
	for sg, msg := range messages {
		foreignCommittee, err := w.epochs.GetCommitteeByShardGroup(ctx, block.Epoch(), sg)
		if err != nil {
			logger.Error("Unknown foreign committee", "sg", sg.String(), "err", err)
			continue
		}
		if err := w.transport.Multicast(ctx, foreignCommittee.PublicKeys(), msg); err != nil {
			logger.Error("Foreign proposal multicast failed", "sg", sg.String(), "err", err)
		}
	}
}

// justifyOf finds the QC certifying block, held by its justified child.
func justifyOf(tx state.ReadTransaction, block *types.Block) (*types.QuorumCertificate, error) {
	leaf, err := tx.LeafBlockGet(block.Epoch())
	if err != nil {
		return nil, err
	}
	chain, err := tx.BlocksGetParentChain(leaf.BlockID, int(leaf.Height-block.Height())+1)
	if err != nil {
		return nil, err
	}
	for _, b := range chain {
		if b.Justify().BlockID() == block.ID() {
			return b.Justify(), nil
		}
	}
	return nil, nil
}

var (
	errNotSafe   = errSentinel("proposal not safe")
	errBadChain  = errSentinel("proposal chain invalid")
	errNeedsSync = errSentinel("sync required")
)

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
