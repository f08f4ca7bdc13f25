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

// Package statetree computes the sparse Merkle roots that blocks agree on.
// Leaves are keyed by 32-byte substate address; each shard has its own
// sub-tree and the state root folds the per-shard roots together.
package statetree

import (
	"sort"

	"github.com/vellumchain/vellum/common"
)

var (
	leafDomain     = []byte{0x00}
	internalDomain = []byte{0x01}
)

// zeroHash marks an empty subtree.
var zeroHash = common.Hash{}

// LeafHash binds a key to its value hash.
func LeafHash(key, valueHash common.Hash) common.Hash {
	return common.Blake2bHash(leafDomain, key.Bytes(), valueHash.Bytes())
}

func internalHash(left, right common.Hash) common.Hash {
	return common.Blake2bHash(internalDomain, left.Bytes(), right.Bytes())
}

type leaf struct {
	key       common.Hash
	valueHash common.Hash
}

// Tree is a compact sparse Merkle tree over 256-bit keys. Subtrees holding a
// single leaf collapse to the leaf hash, so the depth stays logarithmic in
// the leaf count while the root remains position-binding.
type Tree struct {
	leaves map[common.Hash]common.Hash
}

func New() *Tree {
	return &Tree{leaves: make(map[common.Hash]common.Hash)}
}

// Set inserts or replaces the leaf at key. A zero value hash deletes it.
func (t *Tree) Set(key, valueHash common.Hash) {
	if valueHash.IsZero() {
		delete(t.leaves, key)
		return
	}
	t.leaves[key] = valueHash
}

func (t *Tree) Delete(key common.Hash) {
	delete(t.leaves, key)
}

func (t *Tree) Len() int { return len(t.leaves) }

// Root computes the tree root. Empty trees have a zero root.
func (t *Tree) Root() common.Hash {
	if len(t.leaves) == 0 {
		return zeroHash
	}
	leaves := make([]leaf, 0, len(t.leaves))
	for k, v := range t.leaves {
		leaves = append(leaves, leaf{key: k, valueHash: v})
	}
	sort.Slice(leaves, func(i, j int) bool {
		return leafLess(leaves[i].key, leaves[j].key)
	})
	return subtreeRoot(leaves, 0)
}

func leafLess(a, b common.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func bitAt(h common.Hash, depth int) byte {
	return (h[depth/8] >> (7 - uint(depth%8))) & 1
}

// subtreeRoot folds sorted leaves into a root, splitting on the key bit at
// the current depth.
func subtreeRoot(leaves []leaf, depth int) common.Hash {
	switch len(leaves) {
	case 0:
		return zeroHash
	case 1:
		return LeafHash(leaves[0].key, leaves[0].valueHash)
	}
	// keys are distinct, so depth never exceeds 255 with 2+ leaves
	split := sort.Search(len(leaves), func(i int) bool {
		return bitAt(leaves[i].key, depth) == 1
	})
	return internalHash(subtreeRoot(leaves[:split], depth+1), subtreeRoot(leaves[split:], depth+1))
}

// ShardRootEntry pairs a shard with its sub-tree root.
type ShardRootEntry struct {
	Shard common.Shard
	Root  common.Hash
}

// FoldShardRoots combines per-shard roots into the block state root. Entries
// are folded in ascending shard order; shards with a zero root are skipped so
// untouched shards do not perturb the root.
func FoldShardRoots(entries []ShardRootEntry) common.Hash {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Shard < entries[j].Shard })
	h := common.Hash{}
	var buf [4]byte
	for _, e := range entries {
		if e.Root.IsZero() {
			continue
		}
		buf[0] = byte(e.Shard >> 24)
		buf[1] = byte(e.Shard >> 16)
		buf[2] = byte(e.Shard >> 8)
		buf[3] = byte(e.Shard)
		h = common.Blake2bHash(h.Bytes(), buf[:], e.Root.Bytes())
	}
	return h
}
