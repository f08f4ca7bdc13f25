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
	"sort"

	"github.com/vellumchain/vellum/common"
)

// SubstatePledge is a committee's commitment to the value of one substate
// version, made at LocalPrepare (inputs) or LocalAccept (outputs) time.
// Output pledges carry no value: the substate does not exist yet.
type SubstatePledge struct {
	ID      VersionedSubstateID
	IsInput bool
	Value   []byte
}

// SubstatePledges is a sorted collection of pledges for one transaction.
type SubstatePledges []SubstatePledge

func (sp SubstatePledges) find(id VersionedSubstateID) (int, bool) {
	i := sort.Search(len(sp), func(i int) bool { return !sp[i].ID.Less(id) })
	return i, i < len(sp) && sp[i].ID == id
}

func (sp SubstatePledges) Has(id VersionedSubstateID) bool {
	_, ok := sp.find(id)
	return ok
}

func (sp SubstatePledges) Get(id VersionedSubstateID) (SubstatePledge, bool) {
	i, ok := sp.find(id)
	if !ok {
		return SubstatePledge{}, false
	}
	return sp[i], true
}

// Add inserts the pledge keeping sorted order. Pledges are conditional only
// on block commits, so an existing entry is left untouched.
func (sp *SubstatePledges) Add(p SubstatePledge) {
	i, ok := sp.find(p.ID)
	if ok {
		return
	}
	*sp = append(*sp, SubstatePledge{})
	copy((*sp)[i+1:], (*sp)[i:])
	(*sp)[i] = p
}

// HasAllInputs reports whether every given intent has an input pledge.
func (sp SubstatePledges) HasAllInputs(intents []SubstateLockIntent) bool {
	for _, intent := range intents {
		i, ok := sp.find(intent.VersionedID())
		if !ok || !sp[i].IsInput {
			return false
		}
	}
	return true
}

// BlockPledgeEntry binds a transaction to the substates pledged for it in a
// block.
type BlockPledgeEntry struct {
	TransactionID common.Hash
	Pledges       SubstatePledges
}

// BlockPledge is broadcast with a ForeignProposal: per transaction, the
// pledged substate versions and (for inputs) their values.
type BlockPledge struct {
	Entries []BlockPledgeEntry // sorted by transaction id
}

func (bp *BlockPledge) find(txID common.Hash) (int, bool) {
	i := sort.Search(len(bp.Entries), func(i int) bool {
		return !hashLess(bp.Entries[i].TransactionID, txID)
	})
	return i, i < len(bp.Entries) && bp.Entries[i].TransactionID == txID
}

func (bp *BlockPledge) Get(txID common.Hash) (SubstatePledges, bool) {
	i, ok := bp.find(txID)
	if !ok {
		return nil, false
	}
	return bp.Entries[i].Pledges, true
}

func (bp *BlockPledge) Add(txID common.Hash, p SubstatePledge) {
	i, ok := bp.find(txID)
	if !ok {
		bp.Entries = append(bp.Entries, BlockPledgeEntry{})
		copy(bp.Entries[i+1:], bp.Entries[i:])
		bp.Entries[i] = BlockPledgeEntry{TransactionID: txID}
	}
	bp.Entries[i].Pledges.Add(p)
}

func (bp *BlockPledge) Len() int { return len(bp.Entries) }

func hashLess(a, b common.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
