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

// LeaderFee is the portion of a transaction fee claimed by the proposing
// leader, after the global exhaust burn.
type LeaderFee struct {
	Fee               uint64
	GlobalExhaustBurn uint64
}

// CalculateLeaderFee splits the transaction fee across the involved shard
// groups and burns the per-group share of the division remainder:
//
//	leader_fee = fee/involved - (fee mod divisor)/involved
func CalculateLeaderFee(transactionFee, involvedShardGroups, feeExhaustDivisor uint64) *LeaderFee {
	if involvedShardGroups == 0 {
		involvedShardGroups = 1
	}
	burn := uint64(0)
	if feeExhaustDivisor > 0 {
		burn = (transactionFee % feeExhaustDivisor) / involvedShardGroups
	}
	return &LeaderFee{
		Fee:               transactionFee/involvedShardGroups - burn,
		GlobalExhaustBurn: burn,
	}
}

func (f *LeaderFee) Eq(other *LeaderFee) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.Fee == other.Fee && f.GlobalExhaustBurn == other.GlobalExhaustBurn
}

// TransactionAtom is the per-transaction payload carried by a command.
type TransactionAtom struct {
	TransactionID  common.Hash
	Decision       Decision
	TransactionFee uint64
	LeaderFee      *LeaderFee `rlp:"nil"`
	Evidence       *Evidence  `rlp:"nil"`
}

func (a *TransactionAtom) ID() common.Hash { return a.TransactionID }

func (a *TransactionAtom) String() string {
	return fmt.Sprintf("Atom(%s, %s, fee %d)", a.TransactionID.TerminalString(), a.Decision, a.TransactionFee)
}

// ForeignProposalAtom sequences a foreign committee's proposal into a local
// block.
type ForeignProposalAtom struct {
	BlockID    common.Hash
	ShardGroup common.ShardGroup
}

// MintConfidentialOutputAtom ups a burnt base-layer commitment into the
// global shard at version 0.
type MintConfidentialOutputAtom struct {
	Commitment common.Hash
}

// EvictNodeAtom proposes removing a validator whose missed-proposal counter
// crossed the eviction threshold.
type EvictNodeAtom struct {
	PublicKey common.PublicKey
}
