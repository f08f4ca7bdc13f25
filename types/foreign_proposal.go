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

// ForeignProposalStatus tracks a received foreign proposal through local
// sequencing.
type ForeignProposalStatus uint8

const (
	// ForeignProposalNew: received, not yet included in a local block.
	ForeignProposalNew ForeignProposalStatus = iota
	// ForeignProposalProposed: included in a local (uncommitted) block.
	ForeignProposalProposed
	// ForeignProposalConfirmed: the including local block committed. A
	// confirmed proposal must never be re-included.
	ForeignProposalConfirmed
)

func (s ForeignProposalStatus) String() string {
	switch s {
	case ForeignProposalNew:
		return "New"
	case ForeignProposalProposed:
		return "Proposed"
	case ForeignProposalConfirmed:
		return "Confirmed"
	default:
		return fmt.Sprintf("ForeignProposalStatus(%d)", uint8(s))
	}
}

// ForeignProposal is a peer committee's justified block together with its
// substate pledges, received over the wire and sequenced into local blocks.
type ForeignProposal struct {
	Block       *Block
	JustifyQC   *QuorumCertificate
	BlockPledge *BlockPledge `rlp:"nil"`
	Status      ForeignProposalStatus
}

func (fp *ForeignProposal) BlockID() common.Hash { return fp.Block.ID() }

func (fp *ForeignProposal) ShardGroup() common.ShardGroup { return fp.Block.ShardGroup() }

// ToAtom references this proposal from a local command.
func (fp *ForeignProposal) ToAtom() *ForeignProposalAtom {
	return &ForeignProposalAtom{BlockID: fp.Block.ID(), ShardGroup: fp.Block.ShardGroup()}
}
