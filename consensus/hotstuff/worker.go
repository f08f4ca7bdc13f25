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

// Package hotstuff implements the per-committee pipelined HotStuff state
// machine and the multi-shard transaction lifecycle layered on top of it.
package hotstuff

import (
	"context"
	"errors"
	"sync"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/consensus/committee"
	"github.com/vellumchain/vellum/epoch"
	"github.com/vellumchain/vellum/execution"
	"github.com/vellumchain/vellum/log"
	"github.com/vellumchain/vellum/params"
	"github.com/vellumchain/vellum/protocol"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/txpool"
	"github.com/vellumchain/vellum/types"
)

var logger = log.NewModuleLogger(log.ConsensusHotstuff)

// Worker is the single consensus task: it owns the event loop, dispatches
// CPU-bound build/validate steps onto a blocking pool, and is the only
// component opening write transactions against the state store.
type Worker struct {
	config    params.ConsensusConfig
	store     state.Store
	pool      *txpool.Pool
	epochs    epoch.Manager
	transport protocol.Transport
	signer    *Signer

	proposer  *onPropose
	validator *onReadyToVote
	foreign   *foreignProposalProcessor
	pacemaker *pacemaker
	votes     *voteCollector
	newViews  *newViewCollector

	local      *committee.Committee
	epochEnded bool

	// blocking pool: CPU-bound steps run here so the loop keeps receiving
	blockingCh chan func()

	txCh     chan *types.TransactionRecord
	utxoCh   chan *types.BurntUtxo
	parked   map[common.Hash]*protocol.ProposalMessage
	requests map[string]common.Hash // missing-tx request id -> block id
	sentFP   common.Cache

	// votes that raced ahead of their block
	pendingVotesMu sync.Mutex
	pendingVotes   map[common.Hash][]pendingVote

	quitOnce sync.Once
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewWorker wires the consensus core together. Start boots the chain and the
// event loop.
func NewWorker(config params.ConsensusConfig, store state.Store, epochs epoch.Manager,
	transport protocol.Transport, executor execution.Executor, signer *Signer,
) *Worker {
	config = (&config).Sanitize()
	pool := txpool.New(store)
	txManager := newTransactionManager(executor)
	foreign := &foreignProposalProcessor{}
	w := &Worker{
		config:    config,
		store:     store,
		pool:      pool,
		epochs:    epochs,
		transport: transport,
		signer:    signer,
		proposer: &onPropose{
			store:     store,
			pool:      pool,
			txManager: txManager,
			signer:    signer,
			transport: transport,
			epochs:    epochs,
			config:    config,
		},
		validator: &onReadyToVote{
			txManager: txManager,
			foreign:   foreign,
			config:    config,
		},
		foreign:      foreign,
		pacemaker:    newPacemaker(config.PacemakerBlockTime),
		votes:        newVoteCollector(),
		newViews:     newNewViewCollector(),
		blockingCh:   make(chan func(), 64),
		txCh:         make(chan *types.TransactionRecord, 1024),
		utxoCh:       make(chan *types.BurntUtxo, 64),
		parked:       make(map[common.Hash]*protocol.ProposalMessage),
		requests:     make(map[string]common.Hash),
		pendingVotes: make(map[common.Hash][]pendingVote),
		sentFP:       common.NewCache(1024),
		quit:         make(chan struct{}),
	}
	return w
}

// Start bootstraps the epoch chain and launches the worker loop.
func (w *Worker) Start(ctx context.Context) error {
	epochNum, err := w.epochs.CurrentEpoch(ctx)
	if err != nil {
		return err
	}
	w.local, err = w.epochs.LocalCommittee(ctx, epochNum)
	if err != nil {
		return err
	}
	if err := w.bootstrap(epochNum); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.blockingLoop()
	go w.loop(ctx)

	// kick off the first view
	leaf, err := w.leafHeight(epochNum)
	if err != nil {
		return err
	}
	w.pacemaker.resetTimer(leaf + 1)
	if w.local.IsLeader(w.signer.PublicKey(), leaf+1) {
		w.enqueueBlocking(func() { w.propose(ctx, leaf+1) })
	}
	logger.Info("Consensus worker started", "epoch", epochNum, "committee", w.local.Size(),
		"shardGroup", w.local.ShardGroup().String())
	return nil
}

// Stop terminates the worker loop and waits for it.
func (w *Worker) Stop() {
	w.quitOnce.Do(func() {
		close(w.quit)
	})
	w.pacemaker.stop()
	w.wg.Wait()
	logger.Info("Consensus worker stopped")
}

// SubmitTransaction admits a transaction for ordering; it becomes ready for
// the next proposal.
func (w *Worker) SubmitTransaction(rec *types.TransactionRecord) error {
	select {
	case w.txCh <- rec:
		return nil
	case <-w.quit:
		return errStopped
	}
}

// SubmitBurntUtxo registers a base-layer commitment for minting.
func (w *Worker) SubmitBurntUtxo(utxo *types.BurntUtxo) error {
	select {
	case w.utxoCh <- utxo:
		return nil
	case <-w.quit:
		return errStopped
	}
}

// bootstrap inserts the committed zero block and its genesis QC so the first
// proposal has a justified parent chain.
func (w *Worker) bootstrap(epochNum common.Epoch) error {
	return w.store.WithWriteTx(func(tx state.WriteTransaction) error {
		zero := types.ZeroBlock(epochNum, w.local.ShardGroup())
		exists, err := tx.BlocksExists(zero.ID())
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if err := tx.BlocksInsert(zero); err != nil {
			return err
		}
		if err := tx.BlocksSetJustified(zero.ID()); err != nil {
			return err
		}
		if err := tx.BlocksSetCommitted(zero.ID()); err != nil {
			return err
		}
		qc := zero.Justify()
		if err := tx.QuorumCertificatesInsert(qc); err != nil {
			return err
		}
		if err := tx.HighQcSet(types.HighQC{QCID: qc.ID(), BlockID: zero.ID(), BlockHeight: 0, Epoch: epochNum}); err != nil {
			return err
		}
		if err := tx.LeafBlockSet(zero.AsLeafBlock()); err != nil {
			return err
		}
		if err := tx.LockedBlockSet(types.LockedBlock{BlockID: zero.ID(), Epoch: epochNum}); err != nil {
			return err
		}
		return tx.LastExecutedSet(types.LastExecuted{BlockID: zero.ID(), Epoch: epochNum})
	})
}

func (w *Worker) leafHeight(epochNum common.Epoch) (common.Height, error) {
	var h common.Height
	err := w.store.WithReadTx(func(tx state.ReadTransaction) error {
		leaf, err := tx.LeafBlockGet(epochNum)
		if err != nil {
			return err
		}
		h = leaf.Height
		return nil
	})
	return h, err
}

// loop is the worker's cooperative event loop. Suspension points: awaiting
// the next message or timer, awaiting an offloaded build/validate task, and
// network sends.
func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case inbound := <-w.transport.Messages():
			w.dispatch(ctx, inbound)

		case height := <-w.pacemaker.C():
			w.onViewTimeout(ctx, height)

		case rec := <-w.txCh:
			err := w.store.WithWriteTx(func(tx state.WriteTransaction) error {
				return w.pool.Admit(tx, rec)
			})
			if err != nil && err != txpool.ErrKnownTransaction {
				logger.Error("Failed to admit transaction", "tx", rec.ID().TerminalString(), "err", err)
			}

		case utxo := <-w.utxoCh:
			err := w.store.WithWriteTx(func(tx state.WriteTransaction) error {
				return tx.BurntUtxosInsert(utxo)
			})
			if err != nil {
				logger.Error("Failed to store burnt utxo", "commitment", utxo.Commitment.TerminalString(), "err", err)
			}

		case <-ctx.Done():
			return
		case <-w.quit:
			return
		}
	}
}

// blockingLoop runs CPU-bound steps off the receive path. Each task opens
// its own write transaction and commits atomically.
func (w *Worker) blockingLoop() {
	defer w.wg.Done()
	for {
		select {
		case fn := <-w.blockingCh:
			fn()
		case <-w.quit:
			return
		}
	}
}

// enqueueBlocking never blocks the caller: tasks enqueued from within the
// blocking loop itself must not deadlock on a full queue.
func (w *Worker) enqueueBlocking(fn func()) {
	select {
	case w.blockingCh <- fn:
	case <-w.quit:
	default:
		go func() {
			select {
			case w.blockingCh <- fn:
			case <-w.quit:
			}
		}()
	}
}

func (w *Worker) dispatch(ctx context.Context, inbound protocol.InboundMessage) {
	switch msg := inbound.Message.(type) {
	case *protocol.ProposalMessage:
		w.enqueueBlocking(func() { w.handleProposal(ctx, msg, inbound.From) })
	case *protocol.VoteMessage:
		w.enqueueBlocking(func() { w.handleVote(ctx, msg, inbound.From) })
	case *protocol.NewViewMessage:
		w.enqueueBlocking(func() { w.handleNewView(ctx, msg, inbound.From) })
	case *protocol.ForeignProposalMessage:
		w.enqueueBlocking(func() { w.handleForeignProposal(ctx, msg) })
	case *protocol.ForeignProposalNotificationMessage:
		w.handleForeignProposalNotification(ctx, msg, inbound.From)
	case *protocol.ForeignProposalRequestMessage:
		w.handleForeignProposalRequest(ctx, msg, inbound.From)
	case *protocol.MissingTransactionsRequestMessage:
		w.handleMissingTxRequest(ctx, msg, inbound.From)
	case *protocol.MissingTransactionsResponseMessage:
		w.enqueueBlocking(func() { w.handleMissingTxResponse(ctx, msg) })
	case *protocol.SyncRequestMessage:
		w.handleSyncRequest(ctx, msg, inbound.From)
	case *protocol.SyncResponseMessage:
		w.enqueueBlocking(func() { w.handleSyncResponse(ctx, msg) })
	default:
		logger.Warn("Unknown inbound message", "code", inbound.Code)
	}
}

// onViewTimeout fires when no proposal arrived in time: broadcast NewView
// for the next height to the whole committee so the next leader can act.
func (w *Worker) onViewTimeout(ctx context.Context, height common.Height) {
	epochNum := w.local.Epoch()
	var highQC *types.QuorumCertificate
	err := w.store.WithReadTx(func(tx state.ReadTransaction) error {
		high, err := tx.HighQcGet(epochNum)
		if err != nil {
			return err
		}
		highQC, err = tx.QuorumCertificatesGet(high.QCID)
		return err
	})
	if err != nil {
		logger.Error("View timeout: failed to load high QC", "err", err)
		return
	}
	next := height + 1
	logger.Warn("View timed out, broadcasting NewView", "timedOut", height, "next", next)
	msg := &protocol.NewViewMessage{HighQC: highQC, NewHeight: next}
	if err := w.transport.Multicast(ctx, w.local.PublicKeys(), msg); err != nil {
		logger.Error("NewView multicast failed", "err", err)
	}
	w.pacemaker.resetTimer(next)
}

type pendingVote struct {
	msg  *protocol.VoteMessage
	from common.PublicKey
}

// handleVote collects votes towards a QC; it runs on the blocking pool so
// the collectors are only ever touched from one goroutine.
func (w *Worker) handleVote(ctx context.Context, msg *protocol.VoteMessage, from common.PublicKey) {
	var block *types.Block
	err := w.store.WithReadTx(func(tx state.ReadTransaction) error {
		var err error
		block, err = tx.BlocksGet(msg.BlockID)
		return err
	})
	if err != nil {
		// The vote raced ahead of its proposal; park it until the block is
		// processed.
		logger.Debug("Vote for unknown block, parking", "block", msg.BlockID.TerminalString())
		w.pendingVotesMu.Lock()
		if len(w.pendingVotes[msg.BlockID]) < 64 {
			w.pendingVotes[msg.BlockID] = append(w.pendingVotes[msg.BlockID], pendingVote{msg: msg, from: from})
		}
		w.pendingVotesMu.Unlock()
		return
	}
	qc := w.votes.collect(msg, from, block, w.local)
	if qc == nil {
		return
	}
	logger.Info("Quorum reached", "block", msg.BlockID.TerminalString(), "height", msg.BlockHeight)

	if err := w.store.WithWriteTx(func(tx state.WriteTransaction) error {
		_, err := updateHighQC(tx, qc)
		return err
	}); err != nil {
		logger.Error("Failed to store QC", "err", err)
		return
	}

	next := msg.BlockHeight + 1
	if w.local.IsLeader(w.signer.PublicKey(), next) {
		w.enqueueBlocking(func() { w.propose(ctx, next) })
	}
	w.votes.prune(msg.BlockHeight)
}

// handleNewView collects view-change demands; the designated leader for the
// demanded height proposes once a quorum asks for it.
func (w *Worker) handleNewView(ctx context.Context, msg *protocol.NewViewMessage, from common.PublicKey) {
	if msg.HighQC != nil && !msg.HighQC.IsGenesis() {
		if err := authenticateQC(msg.HighQC, w.local); err != nil {
			logger.Warn("NewView carries invalid QC", "from", from.Hex(), "err", err)
			return
		}
		if err := w.store.WithWriteTx(func(tx state.WriteTransaction) error {
			_, err := updateHighQC(tx, msg.HighQC)
			return err
		}); err != nil {
			logger.Error("Failed to store NewView QC", "err", err)
			return
		}
	}
	if !w.newViews.collect(msg, from, w.local) {
		return
	}
	if !w.local.IsLeader(w.signer.PublicKey(), msg.NewHeight) {
		return
	}
	height := msg.NewHeight
	w.enqueueBlocking(func() { w.propose(ctx, height) })
	w.newViews.prune(height)
}

// propose fills skipped views with dummy blocks, then builds and broadcasts
// the proposal for height.
func (w *Worker) propose(ctx context.Context, height common.Height) {
	epochNum := w.local.Epoch()
	err := w.store.WithWriteTx(func(tx state.WriteTransaction) error {
		high, err := tx.HighQcGet(epochNum)
		if err != nil {
			return err
		}
		if high.BlockHeight+1 >= height {
			return nil
		}
		qc, err := tx.QuorumCertificatesGet(high.QCID)
		if err != nil {
			return err
		}
		justified, err := tx.BlocksGet(high.BlockID)
		if err != nil {
			return err
		}
		leaf, err := synthesizeDummyChain(tx, qc, justified, height, w.local)
		if err != nil {
			return err
		}
		return tx.LeafBlockSet(leaf)
	})
	if err != nil {
		logger.Error("Failed to synthesize dummy chain", "height", height, "err", err)
		return
	}

	active, err := w.epochs.IsEpochActive(ctx, epochNum)
	if err != nil {
		logger.Error("Epoch manager unavailable", "err", err)
		return
	}
	if err := w.proposer.handle(ctx, w.local, height, !active || w.epochEnded); err != nil {
		if IsInvariantError(err) {
			logger.Crit("Invariant violation while proposing", "height", height, "err", err)
		}
		logger.Error("Propose failed", "height", height, "err", err)
	}
}

var errStopped = errors.New("consensus worker stopped")
