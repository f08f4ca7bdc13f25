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
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/vellumchain/vellum/common"
)

// SubstateRequirement declares one input of a transaction. A nil version
// means "latest at execution time"; the executor resolves it during prepare.
type SubstateRequirement struct {
	SubstateID common.Hash
	Version    *uint32 `rlp:"nil"`
	Lock       LockType
}

func (r *SubstateRequirement) VersionedID(resolved uint32) VersionedSubstateID {
	if r.Version != nil {
		resolved = *r.Version
	}
	return VersionedSubstateID{ID: r.SubstateID, Version: resolved}
}

// TransactionRecord is an admitted transaction awaiting or undergoing
// consensus. The payload is opaque to the consensus core; the executor
// interprets it.
type TransactionRecord struct {
	TransactionID common.Hash
	Inputs        []SubstateRequirement
	Payload       []byte
}

// NewTransactionRecord derives the transaction id from the inputs and
// payload.
func NewTransactionRecord(inputs []SubstateRequirement, payload []byte) *TransactionRecord {
	enc, err := rlp.EncodeToBytes([]interface{}{inputs, payload})
	if err != nil {
		panic("transaction encode: " + err.Error())
	}
	return &TransactionRecord{
		TransactionID: common.Blake2bHash(enc),
		Inputs:        inputs,
		Payload:       payload,
	}
}

func (t *TransactionRecord) ID() common.Hash { return t.TransactionID }

// HasInputsInShardGroup reports whether any declared input falls into sg.
func (t *TransactionRecord) HasInputsInShardGroup(sg common.ShardGroup, numPreshards uint32) bool {
	for _, in := range t.Inputs {
		if sg.Contains(common.ShardForAddress(in.SubstateID, numPreshards)) {
			return true
		}
	}
	return false
}
