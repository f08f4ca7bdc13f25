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

package types

import (
	"github.com/vellumchain/vellum/common"
)

// StateTreeChange is one leaf mutation of the state Merkle tree: set when
// Deleted is false, removal otherwise.
type StateTreeChange struct {
	Key       common.Hash
	ValueHash common.Hash
	Deleted   bool
}

// PendingShardStateTreeDiff is the tree mutation a block produced for one
// shard. Diffs persist until the block commits, then fold into the durable
// tree.
type PendingShardStateTreeDiff struct {
	BlockID common.Hash
	Shard   common.Shard
	Changes []StateTreeChange
	Version uint64
}
