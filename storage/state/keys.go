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

package state

import (
	"encoding/binary"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/types"
)

// Table prefixes. Every key is prefix || key-material; iteration happens per
// prefix in ascending byte order.
// All prefixes are exactly two bytes so prefix iteration over one table can
// never leak into another.
var (
	blockPrefix          = []byte("b:") // blockPrefix || id -> Block
	blockJustifiedPrefix = []byte("bj") // || id -> 0x01
	blockCommittedPrefix = []byte("bc") // || id -> 0x01
	blockDiffPrefix      = []byte("bd") // || id -> []SubstateChange
	qcPrefix             = []byte("q:") // || id -> QuorumCertificate
	pointerPrefix        = []byte("p:") // || kind || epoch -> pointer record
	txPrefix             = []byte("t:") // || id -> TransactionRecord
	poolPrefix           = []byte("tp") // || id -> TransactionPoolRecord
	poolReadyPrefix      = []byte("tr") // || seq -> tx id (ready index, admission order)
	poolSeqPrefix        = []byte("ts") // || id -> seq (reverse of ready index)
	execPrefix           = []byte("te") // || block id || tx id -> TransactionExecution
	substatePrefix       = []byte("s:") // || id || version -> SubstateRecord
	substateLatestPrefix = []byte("sl") // || id -> latest version
	lockPrefix           = []byte("k:") // || block id -> []SubstateLock
	fpPrefix             = []byte("f:") // || block id -> ForeignProposal
	fpNewPrefix          = []byte("fn") // || seq -> block id (unproposed index)
	fpSeqPrefix          = []byte("fs") // || block id -> seq
	pledgePrefix         = []byte("fp") // || tx id -> SubstatePledges
	sendCtrPrefix        = []byte("fc") // || block id -> ForeignIndexes
	recvCtrPrefix        = []byte("fr") // || epoch || sg -> counter
	burntPrefix          = []byte("u:") // || commitment -> BurntUtxo
	vstatsPrefix         = []byte("v:") // || epoch || pk -> ValidatorConsensusStats
	evictedPrefix        = []byte("ve") // || epoch || pk -> 0x01
	treeDiffPrefix       = []byte("d:") // || block id -> []PendingShardStateTreeDiff
	treeNodePrefix       = []byte("dn") // || shard || key -> leaf value hash
	conflictPrefix       = []byte("c:") // || tx id -> []LockConflict
	parkedPrefix         = []byte("pb") // || block id -> parked payload
	seqCounterKey        = []byte("zz-seq")
)

const (
	pointerLeaf = iota
	pointerLocked
	pointerLastExecuted
	pointerLastVoted
	pointerLastProposed
	pointerHighQC
)

func epochKey(e common.Epoch) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(e))
	return buf[:]
}

func seqKey(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return buf[:]
}

func mkKey(prefix []byte, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	key := make([]byte, 0, n)
	key = append(key, prefix...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func pointerKey(kind byte, epoch common.Epoch) []byte {
	return mkKey(pointerPrefix, []byte{kind}, epochKey(epoch))
}

func substateKey(id types.VersionedSubstateID) []byte {
	var vbuf [4]byte
	binary.BigEndian.PutUint32(vbuf[:], id.Version)
	return mkKey(substatePrefix, id.ID.Bytes(), vbuf[:])
}

func shardGroupKey(sg common.ShardGroup) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(sg.Start))
	binary.BigEndian.PutUint32(buf[4:], uint32(sg.End))
	return buf[:]
}

func shardKey(s common.Shard) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(s))
	return buf[:]
}
