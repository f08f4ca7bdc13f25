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
	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/types"
)

// PendingSubstateStore overlays a working diff on the committed substates,
// together with the diffs and locks of the uncommitted ancestor chain from
// the start-of-chain block. All operations return errors; none panic.
//
// Reads always see overlay-on-committed: the overlay is isomorphic to the
// concatenation of the ancestor-chain diffs plus the working diff.
type PendingSubstateStore struct {
	tx           state.ReadTransaction
	startOfChain common.Hash
	numPreshards uint32

	loaded     bool
	chainLocks map[types.VersionedSubstateID][]*types.SubstateLock
	chainState map[types.VersionedSubstateID]*overlayEntry
	chainHead  map[common.Hash]uint32 // highest version upped in chain, per substate

	diff     []types.SubstateChange
	head     map[common.Hash]uint32
	pending  map[types.VersionedSubstateID]*overlayEntry
	newLocks []*types.SubstateLock
}

type overlayEntry struct {
	substate *types.Substate
	downed   bool
}

// NewPendingSubstateStore builds a store over the chain ending at
// startOfChainBlockID.
func NewPendingSubstateStore(tx state.ReadTransaction, startOfChainBlockID common.Hash, numPreshards uint32) *PendingSubstateStore {
	return &PendingSubstateStore{
		tx:           tx,
		startOfChain: startOfChainBlockID,
		numPreshards: numPreshards,
		chainLocks:   make(map[types.VersionedSubstateID][]*types.SubstateLock),
		chainState:   make(map[types.VersionedSubstateID]*overlayEntry),
		chainHead:    make(map[common.Hash]uint32),
		head:         make(map[common.Hash]uint32),
		pending:      make(map[types.VersionedSubstateID]*overlayEntry),
	}
}

// load walks the uncommitted ancestors of the start-of-chain block (oldest
// first) and folds their persisted diffs and locks in.
func (s *PendingSubstateStore) load() error {
	if s.loaded {
		return nil
	}
	s.loaded = true

	var uncommitted []*types.Block
	cur := s.startOfChain
	for !cur.IsZero() {
		committed, err := s.tx.BlocksIsCommitted(cur)
		if err != nil {
			return err
		}
		if committed {
			break
		}
		b, err := s.tx.BlocksGet(cur)
		if err != nil {
			if state.IsNotFound(err) {
				break
			}
			return err
		}
		uncommitted = append(uncommitted, b)
		if b.IsZero() {
			break
		}
		cur = b.ParentID()
	}

	for i := len(uncommitted) - 1; i >= 0; i-- {
		b := uncommitted[i]
		locks, err := s.tx.SubstateLocksGetByBlock(b.ID())
		if err != nil {
			return err
		}
		for _, l := range locks {
			s.chainLocks[l.VersionedID()] = append(s.chainLocks[l.VersionedID()], l)
		}
		diff, err := s.tx.BlockDiffsGet(b.ID())
		if err != nil {
			return err
		}
		for j := range diff {
			ch := diff[j]
			if ch.Up {
				s.chainState[ch.ID] = &overlayEntry{substate: ch.Substate}
				if v, ok := s.chainHead[ch.ID.ID]; !ok || ch.ID.Version > v {
					s.chainHead[ch.ID.ID] = ch.ID.Version
				}
				continue
			}
			if e, ok := s.chainState[ch.ID]; ok {
				e.downed = true
				continue
			}
			s.chainState[ch.ID] = &overlayEntry{downed: true}
		}
	}
	return nil
}

// Get reads a substate version through the overlay.
func (s *PendingSubstateStore) Get(id types.VersionedSubstateID) (*types.Substate, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	if e, ok := s.pending[id]; ok {
		if e.downed || e.substate == nil {
			return nil, state.ErrNotFound
		}
		return e.substate, nil
	}
	if e, ok := s.chainState[id]; ok {
		if e.downed || e.substate == nil {
			return nil, state.ErrNotFound
		}
		return e.substate, nil
	}
	rec, err := s.tx.SubstatesGet(id)
	if err != nil {
		return nil, err
	}
	if rec.IsDestroyed() {
		return nil, state.ErrNotFound
	}
	return rec.ToSubstate(), nil
}

// GetLatestVersion resolves the highest version of id visible through the
// overlay.
func (s *PendingSubstateStore) GetLatestVersion(id common.Hash) (uint32, error) {
	if err := s.load(); err != nil {
		return 0, err
	}
	best := int64(-1)
	if v, ok := s.head[id]; ok {
		best = int64(v)
	}
	if v, ok := s.chainHead[id]; ok && int64(v) > best {
		best = int64(v)
	}
	if v, err := s.tx.SubstatesGetLatestVersion(id); err == nil {
		if int64(v) > best {
			best = int64(v)
		}
	} else if !state.IsNotFound(err) {
		return 0, err
	}
	if best < 0 {
		return 0, state.ErrNotFound
	}
	return uint32(best), nil
}

// TryLock acquires a lock valid for the duration of the working chain.
//
// Conflict policy:
//   - Write vs any existing lock: hard conflict, the requester aborts.
//   - Read vs existing Write: soft conflict, the requester is deferred.
//   - Read vs Read: compatible.
//   - Output locks conflict with every other lock on the same version.
func (s *PendingSubstateStore) TryLock(id types.VersionedSubstateID, lock types.LockType, txID common.Hash, isLocalOnly bool) (*types.LockStatus, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	status := &types.LockStatus{}
	s.tryLockInto(status, id, lock, txID, isLocalOnly)
	return status, nil
}

func (s *PendingSubstateStore) tryLockInto(status *types.LockStatus, id types.VersionedSubstateID, lock types.LockType, txID common.Hash, isLocalOnly bool) {
	existing := make([]*types.SubstateLock, 0, 2)
	existing = append(existing, s.chainLocks[id]...)
	for _, l := range s.newLocks {
		if l.VersionedID() == id {
			existing = append(existing, l)
		}
	}
	for _, held := range existing {
		if held.TransactionID == txID {
			continue
		}
		kind, conflicting := conflictKind(lock, held.Lock)
		if !conflicting {
			continue
		}
		status.AddConflict(&types.LockConflict{
			ID:            id,
			TransactionID: txID,
			HeldBy:        held.TransactionID,
			Requested:     lock,
			Existing:      held.Lock,
			Kind:          kind,
		})
		return
	}
	s.newLocks = append(s.newLocks, &types.SubstateLock{
		SubstateID:    id.ID,
		Version:       id.Version,
		TransactionID: txID,
		Lock:          lock,
		IsLocalOnly:   isLocalOnly,
	})
}

// conflictKind classifies a requested-vs-held pair; ok means compatible.
func conflictKind(requested, held types.LockType) (types.LockConflictKind, bool) {
	switch {
	case requested.IsOutput() || held.IsOutput():
		return types.LockConflictHard, true
	case requested.IsWrite():
		return types.LockConflictHard, true
	case held.IsWrite():
		// Read hits a Write: defer, don't abort.
		return types.LockConflictSoft, true
	default:
		return 0, false
	}
}

// TryLockAll acquires a batch, returning per-item status. IsHardConflict is
// true iff any item hit a hard conflict (a Write request or any Output lock).
func (s *PendingSubstateStore) TryLockAll(txID common.Hash, intents []types.SubstateLockIntent, isLocalOnly bool) (*types.LockStatus, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	status := &types.LockStatus{}
	for _, intent := range intents {
		s.tryLockInto(status, intent.VersionedID(), intent.Lock, txID, isLocalOnly)
	}
	return status, nil
}

// Put appends one substate change to the working overlay.
func (s *PendingSubstateStore) Put(ch types.SubstateChange) error {
	if err := s.load(); err != nil {
		return err
	}
	if ch.Up {
		if _, err := s.Get(ch.ID); err == nil {
			return invariantErrorf("substate %s already exists when upping", ch.ID)
		} else if !state.IsNotFound(err) {
			return err
		}
		s.pending[ch.ID] = &overlayEntry{substate: ch.Substate}
		if v, ok := s.head[ch.ID.ID]; !ok || ch.ID.Version > v {
			s.head[ch.ID.ID] = ch.ID.Version
		}
	} else {
		if _, err := s.Get(ch.ID); err != nil {
			if state.IsNotFound(err) {
				return invariantErrorf("substate %s does not exist when downing", ch.ID)
			}
			return err
		}
		if e, ok := s.pending[ch.ID]; ok {
			e.downed = true
		} else {
			s.pending[ch.ID] = &overlayEntry{downed: true}
		}
	}
	s.diff = append(s.diff, ch)
	return nil
}

// PutDiff appends a transaction's full result diff.
func (s *PendingSubstateStore) PutDiff(txID common.Hash, diff []types.SubstateChange) error {
	for i := range diff {
		ch := diff[i]
		ch.TransactionID = txID
		if err := s.Put(ch); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseLocks drops the locks txID acquired through this store. Called
// when a transaction aborts mid-build so its locks cannot shadow-conflict
// with transactions processed after it.
func (s *PendingSubstateStore) ReleaseLocks(txID common.Hash) {
	kept := s.newLocks[:0]
	for _, l := range s.newLocks {
		if l.TransactionID != txID {
			kept = append(kept, l)
		}
	}
	s.newLocks = kept
}

// Diff is the ordered working overlay; state-root computation folds it in
// after the pending chain diffs.
func (s *PendingSubstateStore) Diff() []types.SubstateChange { return s.diff }

// NewLocks are the locks acquired through this store.
func (s *PendingSubstateStore) NewLocks() []*types.SubstateLock { return s.newLocks }

// IntoParts consumes the store for persistence into the block change set.
func (s *PendingSubstateStore) IntoParts() ([]types.SubstateChange, []*types.SubstateLock) {
	diff, locks := s.diff, s.newLocks
	s.diff, s.newLocks = nil, nil
	return diff, locks
}
