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
	"fmt"

	"github.com/vellumchain/vellum/common"
)

// VersionedSubstateID addresses one version of a substate.
type VersionedSubstateID struct {
	ID      common.Hash
	Version uint32
}

func NewVersionedSubstateID(id common.Hash, version uint32) VersionedSubstateID {
	return VersionedSubstateID{ID: id, Version: version}
}

// ToShard maps the versioned substate onto its preshard. All versions of a
// substate live in the same preshard.
func (v VersionedSubstateID) ToShard(numPreshards uint32) common.Shard {
	return common.ShardForAddress(v.ID, numPreshards)
}

// ToNext returns the address of the version that a destroying transaction
// would create.
func (v VersionedSubstateID) ToNext() VersionedSubstateID {
	return VersionedSubstateID{ID: v.ID, Version: v.Version + 1}
}

func (v VersionedSubstateID) Less(o VersionedSubstateID) bool {
	for i := range v.ID {
		if v.ID[i] != o.ID[i] {
			return v.ID[i] < o.ID[i]
		}
	}
	return v.Version < o.Version
}

func (v VersionedSubstateID) String() string {
	return fmt.Sprintf("%s v%d", v.ID.TerminalString(), v.Version)
}

// Substate is a versioned value in the keyspace.
type Substate struct {
	Version uint32
	Value   []byte
}

// ValueHash is the leaf hash contributed to the state Merkle tree.
func (s *Substate) ValueHash() common.Hash {
	var vbuf [4]byte
	vbuf[0] = byte(s.Version >> 24)
	vbuf[1] = byte(s.Version >> 16)
	vbuf[2] = byte(s.Version >> 8)
	vbuf[3] = byte(s.Version)
	return common.Blake2bHash(vbuf[:], s.Value)
}

// SubstateDestroyed records how a substate version was downed.
type SubstateDestroyed struct {
	ByTransaction common.Hash
	JustifyQC     common.Hash
	ByBlock       common.Hash
	AtEpoch       common.Epoch
	AtHeight      common.Height
	ByShard       common.Shard
}

// SubstateRecord is the persisted lifecycle of one (substate, version).
// At most one non-destroyed record exists per versioned id; Destroyed is set
// monotonically and never cleared.
type SubstateRecord struct {
	SubstateID           common.Hash
	Version              uint32
	Value                []byte
	CreatedByTransaction common.Hash
	CreatedJustifyQC     common.Hash
	CreatedByBlock       common.Hash
	CreatedAtEpoch       common.Epoch
	CreatedAtHeight      common.Height
	CreatedByShard       common.Shard
	Destroyed            *SubstateDestroyed `rlp:"nil"`
}

func (r *SubstateRecord) VersionedID() VersionedSubstateID {
	return VersionedSubstateID{ID: r.SubstateID, Version: r.Version}
}

func (r *SubstateRecord) IsDestroyed() bool { return r.Destroyed != nil }

func (r *SubstateRecord) ToSubstate() *Substate {
	return &Substate{Version: r.Version, Value: r.Value}
}

// SubstateChange is one entry of a working overlay: an Up creates a new
// substate version, a Down destroys one.
type SubstateChange struct {
	Up            bool
	ID            VersionedSubstateID
	Shard         common.Shard
	TransactionID common.Hash
	Substate      *Substate `rlp:"nil"`
}

func UpChange(id VersionedSubstateID, shard common.Shard, txID common.Hash, substate *Substate) SubstateChange {
	return SubstateChange{Up: true, ID: id, Shard: shard, TransactionID: txID, Substate: substate}
}

func DownChange(id VersionedSubstateID, shard common.Shard, txID common.Hash) SubstateChange {
	return SubstateChange{ID: id, Shard: shard, TransactionID: txID}
}

func (c *SubstateChange) IsDown() bool { return !c.Up }

func (c *SubstateChange) String() string {
	if c.Up {
		return fmt.Sprintf("Up(%s)", c.ID)
	}
	return fmt.Sprintf("Down(%s)", c.ID)
}
