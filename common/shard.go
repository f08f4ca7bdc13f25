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

package common

import (
	"encoding/binary"
	"fmt"
)

// Shard is a single preshard index. The total preshard count is a network
// parameter.
type Shard uint32

// GlobalShard holds cross-committee substates (leader fees, burnt outputs).
// It is reserved and never part of any committee's shard group range.
const GlobalShard Shard = ^Shard(0)

func (s Shard) Uint32() uint32 { return uint32(s) }

func (s Shard) IsGlobal() bool { return s == GlobalShard }

func (s Shard) String() string {
	if s.IsGlobal() {
		return "shard(global)"
	}
	return fmt.Sprintf("shard(%d)", uint32(s))
}

// ShardGroup is a contiguous range [Start, End) over the preshard space,
// owned by a single committee in a given epoch.
type ShardGroup struct {
	Start Shard
	End   Shard
}

func NewShardGroup(start, end Shard) ShardGroup {
	if end < start {
		start, end = end, start
	}
	return ShardGroup{Start: start, End: end}
}

// AllShardsGroup covers the entire preshard space; used by single-committee
// networks.
func AllShardsGroup(numPreshards uint32) ShardGroup {
	return ShardGroup{Start: 0, End: Shard(numPreshards)}
}

func (sg ShardGroup) Contains(s Shard) bool {
	return s >= sg.Start && s < sg.End
}

func (sg ShardGroup) Len() uint32 { return uint32(sg.End - sg.Start) }

func (sg ShardGroup) IsZero() bool { return sg.Start == 0 && sg.End == 0 }

// Less imposes the canonical ordering used wherever shard groups key an
// ordered collection (evidence entries, foreign index maps).
func (sg ShardGroup) Less(other ShardGroup) bool {
	if sg.Start != other.Start {
		return sg.Start < other.Start
	}
	return sg.End < other.End
}

func (sg ShardGroup) String() string {
	return fmt.Sprintf("sg(%d-%d)", sg.Start, sg.End)
}

// ShardForAddress maps a 32-byte substate address onto a preshard. The first
// four big-endian bytes of the address select the preshard uniformly.
func ShardForAddress(addr Hash, numPreshards uint32) Shard {
	if numPreshards == 0 {
		return 0
	}
	v := binary.BigEndian.Uint32(addr[:4])
	return Shard(v % numPreshards)
}
