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

// LeafBlock points at the tip of the local chain.
type LeafBlock struct {
	BlockID common.Hash
	Height  common.Height
	Epoch   common.Epoch
}

func (l LeafBlock) IsZero() bool { return l.BlockID.IsZero() }

func (l LeafBlock) String() string {
	return fmt.Sprintf("leaf(%s, height %d)", l.BlockID.TerminalString(), l.Height)
}

// LockedBlock is the highest block with a two-chain above it.
type LockedBlock struct {
	BlockID common.Hash
	Height  common.Height
	Epoch   common.Epoch
}

// LastExecuted is the highest committed block.
type LastExecuted struct {
	BlockID common.Hash
	Height  common.Height
	Epoch   common.Epoch
}

// LastVoted guards the single-vote-per-height rule.
type LastVoted struct {
	BlockID common.Hash
	Height  common.Height
	Epoch   common.Epoch
}

// LastProposed makes on-propose idempotent per (epoch, height).
type LastProposed struct {
	BlockID common.Hash
	Height  common.Height
	Epoch   common.Epoch
}

// HighQC tracks the highest-height quorum certificate known locally.
type HighQC struct {
	QCID        common.Hash
	BlockID     common.Hash
	BlockHeight common.Height
	Epoch       common.Epoch
}

func (h HighQC) IsZero() bool { return h.QCID.IsZero() }
