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

package statetree

import (
	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/types"
)

// CalculateStateRoot computes the state Merkle root a block must carry:
// committed leaves, overlaid with the pending tree diffs of the uncommitted
// ancestor chain (oldest first), overlaid with the working substate diff.
// Only shards in the local shard group plus the global shard contribute, so
// every honest node filters identically.
//
// The returned per-shard changes are exactly what the working diff added;
// they become the block's PendingShardStateTreeDiff entries.
func CalculateStateRoot(tx state.ReadTransaction, sg common.ShardGroup, numPreshards uint32,
	pendingDiffs []*types.PendingShardStateTreeDiff, diff []types.SubstateChange,
) (common.Hash, map[common.Shard][]types.StateTreeChange, error) {
	isLocal := func(s common.Shard) bool { return s.IsGlobal() || sg.Contains(s) }

	trees := make(map[common.Shard]*Tree)
	loadShard := func(s common.Shard) (*Tree, error) {
		if t, ok := trees[s]; ok {
			return t, nil
		}
		t := New()
		leaves, err := tx.StateTreeLeavesGetByShard(s)
		if err != nil {
			return nil, err
		}
		for _, l := range leaves {
			t.Set(l.Key, l.ValueHash)
		}
		trees[s] = t
		return t, nil
	}

	// Pending diffs of uncommitted ancestors, oldest first.
	for _, pd := range pendingDiffs {
		if !isLocal(pd.Shard) {
			continue
		}
		t, err := loadShard(pd.Shard)
		if err != nil {
			return common.Hash{}, nil, err
		}
		applyChanges(t, pd.Changes)
	}

	// The working overlay of the block being built or validated.
	changesByShard := make(map[common.Shard][]types.StateTreeChange)
	for i := range diff {
		ch := &diff[i]
		if !isLocal(ch.Shard) {
			continue
		}
		t, err := loadShard(ch.Shard)
		if err != nil {
			return common.Hash{}, nil, err
		}
		tc := treeChange(ch)
		applyChanges(t, []types.StateTreeChange{tc})
		changesByShard[ch.Shard] = append(changesByShard[ch.Shard], tc)
	}

	// Shards with committed leaves but no changes still contribute.
	for s := sg.Start; s < sg.End; s++ {
		if _, ok := trees[s]; ok {
			continue
		}
		if _, err := loadShard(s); err != nil {
			return common.Hash{}, nil, err
		}
	}
	if _, ok := trees[common.GlobalShard]; !ok {
		if _, err := loadShard(common.GlobalShard); err != nil {
			return common.Hash{}, nil, err
		}
	}

	entries := make([]ShardRootEntry, 0, len(trees))
	for s, t := range trees {
		entries = append(entries, ShardRootEntry{Shard: s, Root: t.Root()})
	}
	return FoldShardRoots(entries), changesByShard, nil
}

func applyChanges(t *Tree, changes []types.StateTreeChange) {
	for _, ch := range changes {
		if ch.Deleted {
			t.Delete(ch.Key)
			continue
		}
		t.Set(ch.Key, ch.ValueHash)
	}
}

// treeChange maps a substate change onto its tree leaf mutation. An Up sets
// the leaf for the created version; a Down deletes the destroyed version's
// leaf.
func treeChange(ch *types.SubstateChange) types.StateTreeChange {
	key := leafKey(ch.ID)
	if ch.IsDown() {
		return types.StateTreeChange{Key: key, Deleted: true}
	}
	return types.StateTreeChange{Key: key, ValueHash: ch.Substate.ValueHash()}
}

func leafKey(id types.VersionedSubstateID) common.Hash {
	var vbuf [4]byte
	vbuf[0] = byte(id.Version >> 24)
	vbuf[1] = byte(id.Version >> 16)
	vbuf[2] = byte(id.Version >> 8)
	vbuf[3] = byte(id.Version)
	return common.Blake2bHash(id.ID.Bytes(), vbuf[:])
}
