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

// Package committee models the validator set owning one shard group in one
// epoch, and the round-robin leader schedule over it.
package committee

import (
	"bytes"
	"sort"
	"sync"

	"github.com/vellumchain/vellum/common"
)

// Member is one committee validator.
type Member struct {
	PublicKey common.PublicKey
}

func (m Member) String() string { return m.PublicKey.Hex() }

// Committee is the sorted validator set for one shard group in one epoch.
type Committee struct {
	epoch        common.Epoch
	shardGroup   common.ShardGroup
	numPreshards uint32
	members      []Member

	evictedMu sync.RWMutex
	evicted   map[common.PublicKey]bool
}

// New builds a committee. Members are sorted by public key so every node
// derives the same leader schedule.
func New(epoch common.Epoch, sg common.ShardGroup, numPreshards uint32, members []Member) *Committee {
	sorted := append([]Member(nil), members...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].PublicKey.Bytes(), sorted[j].PublicKey.Bytes()) < 0
	})
	return &Committee{
		epoch:        epoch,
		shardGroup:   sg,
		numPreshards: numPreshards,
		members:      sorted,
		evicted:      make(map[common.PublicKey]bool),
	}
}

func (c *Committee) Epoch() common.Epoch { return c.epoch }

func (c *Committee) ShardGroup() common.ShardGroup { return c.shardGroup }

func (c *Committee) NumPreshards() uint32 { return c.numPreshards }

func (c *Committee) Size() int { return len(c.members) }

func (c *Committee) Members() []Member { return c.members }

// PublicKeys returns the member keys in schedule order.
func (c *Committee) PublicKeys() []common.PublicKey {
	pks := make([]common.PublicKey, len(c.members))
	for i, m := range c.members {
		pks[i] = m.PublicKey
	}
	return pks
}

func (c *Committee) Contains(pk common.PublicKey) bool {
	for _, m := range c.members {
		if m.PublicKey == pk {
			return true
		}
	}
	return false
}

// MaxFailures is the Byzantine tolerance f = (n-1)/3.
func (c *Committee) MaxFailures() int {
	if len(c.members) == 0 {
		return 0
	}
	return (len(c.members) - 1) / 3
}

// QuorumThreshold is the number of matching votes required for a QC:
// n - f.
func (c *Committee) QuorumThreshold() int {
	return len(c.members) - c.MaxFailures()
}

// Leader returns the round-robin leader for the given height. Evicted
// members stay in the schedule (their views produce dummy blocks) so the
// mapping height -> leader never changes mid-epoch.
func (c *Committee) Leader(height common.Height) common.PublicKey {
	if len(c.members) == 0 {
		return common.PublicKey{}
	}
	return c.members[uint64(height)%uint64(len(c.members))].PublicKey
}

func (c *Committee) IsLeader(pk common.PublicKey, height common.Height) bool {
	return c.Leader(height) == pk
}

// MarkEvicted excludes pk from quorum accounting for the rest of the epoch.
func (c *Committee) MarkEvicted(pk common.PublicKey) {
	c.evictedMu.Lock()
	defer c.evictedMu.Unlock()
	c.evicted[pk] = true
}

func (c *Committee) IsEvicted(pk common.PublicKey) bool {
	c.evictedMu.RLock()
	defer c.evictedMu.RUnlock()
	return c.evicted[pk]
}

// ActiveSize is the member count excluding evicted nodes.
func (c *Committee) ActiveSize() int {
	c.evictedMu.RLock()
	defer c.evictedMu.RUnlock()
	n := 0
	for _, m := range c.members {
		if !c.evicted[m.PublicKey] {
			n++
		}
	}
	return n
}

// IncludesSubstateID reports whether the substate address maps onto a
// preshard in this committee's shard group.
func (c *Committee) IncludesSubstateID(id common.Hash) bool {
	shard := common.ShardForAddress(id, c.numPreshards)
	return c.shardGroup.Contains(shard)
}

// GroupFor maps a shard onto the shard group owning it, assuming equal-width
// contiguous groups. The global shard maps onto the local group.
func (c *Committee) GroupFor(shard common.Shard) common.ShardGroup {
	if shard.IsGlobal() {
		return c.shardGroup
	}
	width := c.shardGroup.Len()
	if width == 0 || width >= c.numPreshards {
		return common.AllShardsGroup(c.numPreshards)
	}
	start := uint32(shard) / width * width
	end := start + width
	if end > c.numPreshards {
		end = c.numPreshards
	}
	return common.NewShardGroup(common.Shard(start), common.Shard(end))
}
