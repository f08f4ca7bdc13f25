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

// ValidatorConsensusStats counts a committee member's liveness signals within
// one epoch. Missed proposals increment when a committed dummy block skips a
// height the validator led; participation shares increment when the
// validator's signature appears in a committed QC.
type ValidatorConsensusStats struct {
	PublicKey           common.PublicKey
	Epoch               common.Epoch
	MissedProposals     uint64
	ParticipationShares uint64
}

// BurntUtxo is a base-layer commitment awaiting a MintConfidentialOutput
// command that ups it into the global shard.
type BurntUtxo struct {
	Commitment common.Hash
	Output     []byte
	Proposed   bool
}

func (b *BurntUtxo) ToAtom() *MintConfidentialOutputAtom {
	return &MintConfidentialOutputAtom{Commitment: b.Commitment}
}
