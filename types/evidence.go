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

// SubstateLockIntent is a pledged input or output: a substate version plus
// the lock type the pledging shard group holds over it.
type SubstateLockIntent struct {
	ID      common.Hash
	Version uint32
	Lock    LockType
}

func (s SubstateLockIntent) VersionedID() VersionedSubstateID {
	return VersionedSubstateID{ID: s.ID, Version: s.Version}
}

// ShardGroupEvidence is what one shard group has pledged for a transaction:
// the substate versions it pledges on input and output, and the QCs that
// justified its LocalPrepare / LocalAccept commands.
type ShardGroupEvidence struct {
	Inputs    []SubstateLockIntent // sorted by (ID, Version)
	Outputs   []SubstateLockIntent // sorted by (ID, Version)
	PrepareQC common.Hash          // zero until this SG issued LocalPrepare
	AcceptQC  common.Hash          // zero until this SG issued LocalAccept
}

func (e *ShardGroupEvidence) insert(list []SubstateLockIntent, intent SubstateLockIntent) []SubstateLockIntent {
	i := sort.Search(len(list), func(i int) bool { return !list[i].VersionedID().Less(intent.VersionedID()) })
	if i < len(list) && list[i].VersionedID() == intent.VersionedID() {
		// Values are only added, never removed; upgrade Read to Write if the
		// stronger lock arrives later.
		if intent.Lock.IsWrite() {
			list[i].Lock = intent.Lock
		}
		return list
	}
	list = append(list, SubstateLockIntent{})
	copy(list[i+1:], list[i:])
	list[i] = intent
	return list
}

func (e *ShardGroupEvidence) AddInput(intent SubstateLockIntent) {
	e.Inputs = e.insert(e.Inputs, intent)
}

func (e *ShardGroupEvidence) AddOutput(intent SubstateLockIntent) {
	e.Outputs = e.insert(e.Outputs, intent)
}

func (e *ShardGroupEvidence) IsPrepareJustified() bool { return !e.PrepareQC.IsZero() }

func (e *ShardGroupEvidence) IsAcceptJustified() bool { return !e.AcceptQC.IsZero() }

func intentsEqual(a, b []SubstateLockIntent) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EvidenceEntry pairs a shard group with its pledged evidence. Entries are
// kept sorted by shard group so evidence serializes canonically.
type EvidenceEntry struct {
	ShardGroup common.ShardGroup
	Evidence   *ShardGroupEvidence
}

// Evidence is the accumulated per-transaction knowledge of which shard groups
// have prepared or accepted and which substate versions they pledged. It is
// monotonically populated: values are only added, never removed.
type Evidence struct {
	Entries []EvidenceEntry
}

func NewEvidence() *Evidence { return &Evidence{} }

func (ev *Evidence) Len() int { return len(ev.Entries) }

func (ev *Evidence) NumShardGroups() int { return len(ev.Entries) }

func (ev *Evidence) Has(sg common.ShardGroup) bool {
	_, ok := ev.get(sg)
	return ok
}

func (ev *Evidence) get(sg common.ShardGroup) (*ShardGroupEvidence, bool) {
	i := sort.Search(len(ev.Entries), func(i int) bool { return !ev.Entries[i].ShardGroup.Less(sg) })
	if i < len(ev.Entries) && ev.Entries[i].ShardGroup == sg {
		return ev.Entries[i].Evidence, true
	}
	return nil, false
}

func (ev *Evidence) Get(sg common.ShardGroup) *ShardGroupEvidence {
	e, _ := ev.get(sg)
	return e
}

// AddShardGroup ensures an entry exists for sg and returns it.
func (ev *Evidence) AddShardGroup(sg common.ShardGroup) *ShardGroupEvidence {
	i := sort.Search(len(ev.Entries), func(i int) bool { return !ev.Entries[i].ShardGroup.Less(sg) })
	if i < len(ev.Entries) && ev.Entries[i].ShardGroup == sg {
		return ev.Entries[i].Evidence
	}
	entry := EvidenceEntry{ShardGroup: sg, Evidence: &ShardGroupEvidence{}}
	ev.Entries = append(ev.Entries, EvidenceEntry{})
	copy(ev.Entries[i+1:], ev.Entries[i:])
	ev.Entries[i] = entry
	return entry.Evidence
}

func (ev *Evidence) SetPrepareQC(sg common.ShardGroup, qcID common.Hash) *Evidence {
	ev.AddShardGroup(sg).PrepareQC = qcID
	return ev
}

func (ev *Evidence) SetAcceptQC(sg common.ShardGroup, qcID common.Hash) *Evidence {
	ev.AddShardGroup(sg).AcceptQC = qcID
	return ev
}

// Merge unions other into ev. QC ids are set when present in other and unset
// locally; pledged substates are unioned. Merging never removes anything.
func (ev *Evidence) Merge(other *Evidence) *Evidence {
	if other == nil {
		return ev
	}
	for _, entry := range other.Entries {
		local := ev.AddShardGroup(entry.ShardGroup)
		for _, in := range entry.Evidence.Inputs {
			local.AddInput(in)
		}
		for _, out := range entry.Evidence.Outputs {
			local.AddOutput(out)
		}
		if local.PrepareQC.IsZero() {
			local.PrepareQC = entry.Evidence.PrepareQC
		}
		if local.AcceptQC.IsZero() {
			local.AcceptQC = entry.Evidence.AcceptQC
		}
	}
	return ev
}

// ShardGroups returns the involved shard groups in canonical order.
func (ev *Evidence) ShardGroups() []common.ShardGroup {
	sgs := make([]common.ShardGroup, len(ev.Entries))
	for i, e := range ev.Entries {
		sgs[i] = e.ShardGroup
	}
	return sgs
}

// InputShardGroups returns the shard groups appearing in any input.
func (ev *Evidence) InputShardGroups() []common.ShardGroup {
	var sgs []common.ShardGroup
	for _, e := range ev.Entries {
		if len(e.Evidence.Inputs) > 0 {
			sgs = append(sgs, e.ShardGroup)
		}
	}
	return sgs
}

// HasInputs reports whether sg pledged any inputs.
func (ev *Evidence) HasInputs(sg common.ShardGroup) bool {
	e, ok := ev.get(sg)
	return ok && len(e.Inputs) > 0
}

// IsCommitteeOutputOnly reports whether sg appears with outputs only. Such a
// committee elides the LocalPrepare/AllPrepare phases: there is nothing local
// to pledge on input.
func (ev *Evidence) IsCommitteeOutputOnly(sg common.ShardGroup) bool {
	e, ok := ev.get(sg)
	return ok && len(e.Inputs) == 0
}

// AllInputShardGroupsPrepared is true iff every shard group appearing in any
// input has a prepare QC set.
func (ev *Evidence) AllInputShardGroupsPrepared() bool {
	for _, e := range ev.Entries {
		if len(e.Evidence.Inputs) > 0 && e.Evidence.PrepareQC.IsZero() {
			return false
		}
	}
	return true
}

// AllShardGroupsAccepted is true iff every involved shard group has an accept
// QC set.
func (ev *Evidence) AllShardGroupsAccepted() bool {
	for _, e := range ev.Entries {
		if e.Evidence.AcceptQC.IsZero() {
			return false
		}
	}
	return true
}

// EqPledges compares only the pledged substates (inputs and outputs) of both
// evidence maps, ignoring QC ids. Proposer and validator may be at different
// points of QC accumulation while agreeing on the pledges.
func (ev *Evidence) EqPledges(other *Evidence) bool {
	if other == nil {
		return len(ev.Entries) == 0
	}
	if len(ev.Entries) != len(other.Entries) {
		return false
	}
	for i, e := range ev.Entries {
		o := other.Entries[i]
		if e.ShardGroup != o.ShardGroup {
			return false
		}
		if !intentsEqual(e.Evidence.Inputs, o.Evidence.Inputs) {
			return false
		}
		if !intentsEqual(e.Evidence.Outputs, o.Evidence.Outputs) {
			return false
		}
	}
	return true
}

// Clone deep-copies the evidence.
func (ev *Evidence) Clone() *Evidence {
	cp := &Evidence{Entries: make([]EvidenceEntry, len(ev.Entries))}
	for i, e := range ev.Entries {
		sge := &ShardGroupEvidence{
			Inputs:    append([]SubstateLockIntent(nil), e.Evidence.Inputs...),
			Outputs:   append([]SubstateLockIntent(nil), e.Evidence.Outputs...),
			PrepareQC: e.Evidence.PrepareQC,
			AcceptQC:  e.Evidence.AcceptQC,
		}
		cp.Entries[i] = EvidenceEntry{ShardGroup: e.ShardGroup, Evidence: sge}
	}
	return cp
}

// Contains reports whether every pledge in sub is present in ev. Used to
// check evidence monotonicity across record updates.
func (ev *Evidence) Contains(sub *Evidence) bool {
	if sub == nil {
		return true
	}
	for _, entry := range sub.Entries {
		local, ok := ev.get(entry.ShardGroup)
		if !ok {
			return false
		}
		for _, in := range entry.Evidence.Inputs {
			if !containsIntent(local.Inputs, in) {
				return false
			}
		}
		for _, out := range entry.Evidence.Outputs {
			if !containsIntent(local.Outputs, out) {
				return false
			}
		}
	}
	return true
}

func containsIntent(list []SubstateLockIntent, intent SubstateLockIntent) bool {
	i := sort.Search(len(list), func(i int) bool { return !list[i].VersionedID().Less(intent.VersionedID()) })
	return i < len(list) && list[i].VersionedID() == intent.VersionedID()
}
