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

// safeNode implements the HotStuff safety predicate. A block is acceptable
// iff its justify QC is higher than the locked block (liveness) or the block
// extends the locked block (safety). Together with the single-vote-per-
// height guard this gives safety under at most (n-1)/3 Byzantine validators
// per committee.
func safeNode(tx state.ReadTransaction, block *types.Block) (bool, error) {
	locked, err := tx.LockedBlockGet(block.Epoch())
	if err != nil {
		return false, err
	}
	if locked.BlockID.IsZero() {
		return true, nil
	}
	// Liveness rule
	if block.Justify().BlockHeight > locked.Height {
		return true, nil
	}
	// Safety rule: walk the parent chain until the locked block or genesis.
	return extendsBlock(tx, block, locked.BlockID)
}

func extendsBlock(tx state.ReadTransaction, block *types.Block, ancestorID common.Hash) (bool, error) {
	cur := block.ParentID()
	for !cur.IsZero() {
		if cur == ancestorID {
			return true, nil
		}
		parent, err := tx.BlocksGet(cur)
		if err != nil {
			if state.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		if parent.IsZero() || parent.Height() == 0 {
			return false, nil
		}
		cur = parent.ParentID()
	}
	return false, nil
}
