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
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/vellumchain/vellum/consensus/committee"
	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/types"
)

var (
	viewChangeCounter = metrics.NewRegisteredCounter("hotstuff/pacemaker/viewchanges", nil)
	lockedBlockGauge  = metrics.NewRegisteredGauge("hotstuff/pacemaker/locked", nil)
	committedGauge    = metrics.NewRegisteredGauge("hotstuff/pacemaker/committed", nil)
	dummyBlockCounter = metrics.NewRegisteredCounter("hotstuff/pacemaker/dummyblocks", nil)
)

// pacemaker tracks the leaf, locked and last-executed pointers, synthesizes
// dummy chains for skipped views and drives the per-view timer.
type pacemaker struct {
	blockTime time.Duration

	mu         sync.Mutex
	timer      *time.Timer
	timeoutCh  chan common.Height
	currHeight common.Height
	stopped    bool
}

func newPacemaker(blockTime time.Duration) *pacemaker {
	return &pacemaker{
		blockTime: blockTime,
		timeoutCh: make(chan common.Height, 1),
	}
}

// C returns the view-timeout channel; the worker selects on it.
func (pm *pacemaker) C() <-chan common.Height { return pm.timeoutCh }

// resetTimer restarts the view timer for the given height.
func (pm *pacemaker) resetTimer(height common.Height) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.stopped {
		return
	}
	pm.currHeight = height
	if pm.timer != nil {
		pm.timer.Stop()
	}
	h := height
	pm.timer = time.AfterFunc(pm.blockTime, func() {
		viewChangeCounter.Inc(1)
		select {
		case pm.timeoutCh <- h:
		default:
		}
	})
}

func (pm *pacemaker) stop() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.stopped = true
	if pm.timer != nil {
		pm.timer.Stop()
	}
}

// updateHighQC advances the high QC and the leaf pointer when qc certifies a
// higher block than currently known. Returns true on advance.
func updateHighQC(tx state.WriteTransaction, qc *types.QuorumCertificate) (bool, error) {
	high, err := tx.HighQcGet(qc.Epoch)
	if err != nil {
		return false, err
	}
	if !high.QCID.IsZero() && qc.BlockHeight <= high.BlockHeight {
		return false, nil
	}
	if err := tx.QuorumCertificatesInsert(qc); err != nil {
		return false, err
	}
	err = tx.HighQcSet(types.HighQC{
		QCID:        qc.ID(),
		BlockID:     qc.BlockID(),
		BlockHeight: qc.BlockHeight,
		Epoch:       qc.Epoch,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// updateLeaf advances the leaf pointer to block if it is higher.
func updateLeaf(tx state.WriteTransaction, block *types.Block) error {
	leaf, err := tx.LeafBlockGet(block.Epoch())
	if err != nil {
		return err
	}
	if !leaf.BlockID.IsZero() && block.Height() <= leaf.Height {
		return nil
	}
	return tx.LeafBlockSet(block.AsLeafBlock())
}

// updateBlocks applies the three-chain rule for a newly received valid block
// b*:
//
//	b'' = b*.justify.block   (just justified)
//	b'  = b''.justify.block  (locked candidate)
//	b   = b'.justify.block   (commit candidate)
//
// b' becomes locked when higher than the current locked block; b commits
// when the three links are direct parent edges. Returns the committed block,
// if any.
func updateBlocks(tx state.WriteTransaction, bStar *types.Block) (*types.Block, error) {
	b2, err := justifiedAncestor(tx, bStar)
	if err != nil || b2 == nil {
		return nil, err
	}
	if err := tx.BlocksSetJustified(b2.ID()); err != nil {
		return nil, err
	}
	b1, err := justifiedAncestor(tx, b2)
	if err != nil || b1 == nil {
		return nil, err
	}
	locked, err := tx.LockedBlockGet(bStar.Epoch())
	if err != nil {
		return nil, err
	}
	if b1.Height() > locked.Height {
		// move the locked pointer up to b1
		if err := lockChain(tx, b1, locked); err != nil {
			return nil, err
		}
		lockedBlockGauge.Update(int64(b1.Height()))
	}
	b0, err := justifiedAncestor(tx, b1)
	if err != nil || b0 == nil {
		return nil, err
	}
	if b2.ParentID() == b1.ID() && b1.ParentID() == b0.ID() {
		return b0, nil
	}
	return nil, nil
}

func justifiedAncestor(tx state.ReadTransaction, b *types.Block) (*types.Block, error) {
	if b.IsZero() {
		return nil, nil
	}
	ancestor, err := tx.BlocksGet(b.Justify().BlockID())
	if err != nil {
		if state.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return ancestor, nil
}

// lockChain advances the locked pointer to newLocked. Only the pointer is
// written: the ancestors between prev and newLocked are not visited and no
// per-block lock state is recorded.
func lockChain(tx state.WriteTransaction, newLocked *types.Block, prev types.LockedBlock) error {
	return tx.LockedBlockSet(types.LockedBlock{
		BlockID: newLocked.ID(),
		Height:  newLocked.Height(),
		Epoch:   newLocked.Epoch(),
	})
}

// synthesizeDummyChain materializes the unsigned empty blocks for the views
// skipped between the justified block and toHeight (exclusive), returning
// the resulting parent pointer for a block at toHeight. Dummy headers derive
// deterministically from the justify QC and the leader schedule, so every
// node computes identical dummy ids. Dummy blocks carry no state changes.
func synthesizeDummyChain(tx state.WriteTransaction, qc *types.QuorumCertificate, justified *types.Block,
	toHeight common.Height, com *committee.Committee,
) (types.LeafBlock, error) {
	parent := justified.AsLeafBlock()
	for h := justified.Height() + 1; h < toHeight; h++ {
		leader := com.Leader(h)
		dummy := types.NewDummyBlock(h, parent.BlockID, qc, leader, justified.Header().Timestamp)
		exists, err := tx.BlocksExists(dummy.ID())
		if err != nil {
			return parent, err
		}
		if !exists {
			if err := tx.BlocksInsert(dummy); err != nil {
				return parent, err
			}
			dummyBlockCounter.Inc(1)
		}
		parent = dummy.AsLeafBlock()
	}
	return parent, nil
}
