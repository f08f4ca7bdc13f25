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
	"io"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/vellumchain/vellum/common"
)

// QuorumDecision is the decision a quorum certified.
type QuorumDecision uint8

const (
	QuorumAccept QuorumDecision = iota
	QuorumReject
)

func (d QuorumDecision) String() string {
	if d == QuorumAccept {
		return "Accept"
	}
	return "Reject"
}

// ValidatorSignature is one validator's vote contribution to a QC.
type ValidatorSignature struct {
	PublicKey common.PublicKey
	Signature []byte
	LeafHash  common.Hash
}

// QuorumCertificate certifies that a quorum of a committee voted for a block
// header.
type QuorumCertificate struct {
	HeaderHash  common.Hash
	ParentID    common.Hash
	BlockHeight common.Height
	Epoch       common.Epoch
	ShardGroup  common.ShardGroup
	Signatures  []ValidatorSignature
	Decision    QuorumDecision

	id atomic.Pointer[common.Hash]
}

// NewQuorumCertificate assembles a QC from collected votes. Signatures must
// already be validated against the committee.
func NewQuorumCertificate(headerHash, parentID common.Hash, height common.Height, epoch common.Epoch,
	sg common.ShardGroup, signatures []ValidatorSignature, decision QuorumDecision,
) *QuorumCertificate {
	return &QuorumCertificate{
		HeaderHash:  headerHash,
		ParentID:    parentID,
		BlockHeight: height,
		Epoch:       epoch,
		ShardGroup:  sg,
		Signatures:  signatures,
		Decision:    decision,
	}
}

// GenesisQC is the self-justifying certificate for the zero block of an
// epoch's chain. It carries no signatures.
func GenesisQC(epoch common.Epoch, sg common.ShardGroup) *QuorumCertificate {
	return &QuorumCertificate{
		HeaderHash: ZeroBlockID(epoch, sg),
		Epoch:      epoch,
		ShardGroup: sg,
		Decision:   QuorumAccept,
	}
}

// ID is the QC's content hash.
func (qc *QuorumCertificate) ID() common.Hash {
	if h := qc.id.Load(); h != nil {
		return *h
	}
	enc, err := rlp.EncodeToBytes(qc)
	if err != nil {
		panic(fmt.Sprintf("qc encode: %v", err))
	}
	h := common.Blake2bHash(enc)
	qc.id.Store(&h)
	return h
}

// BlockID is the block this QC certifies.
func (qc *QuorumCertificate) BlockID() common.Hash { return qc.HeaderHash }

func (qc *QuorumCertificate) IsGenesis() bool { return len(qc.Signatures) == 0 && qc.BlockHeight == 0 }

// AsLeafBlock views the certified block as a chain pointer.
func (qc *QuorumCertificate) AsLeafBlock() LeafBlock {
	return LeafBlock{BlockID: qc.HeaderHash, Height: qc.BlockHeight, Epoch: qc.Epoch}
}

// SignedBy reports whether pk contributed a signature.
func (qc *QuorumCertificate) SignedBy(pk common.PublicKey) bool {
	for _, sig := range qc.Signatures {
		if sig.PublicKey == pk {
			return true
		}
	}
	return false
}

func (qc *QuorumCertificate) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, []interface{}{
		qc.HeaderHash, qc.ParentID, qc.BlockHeight, qc.Epoch, qc.ShardGroup, qc.Signatures, qc.Decision,
	})
}

func (qc *QuorumCertificate) DecodeRLP(s *rlp.Stream) error {
	var dec struct {
		HeaderHash  common.Hash
		ParentID    common.Hash
		BlockHeight common.Height
		Epoch       common.Epoch
		ShardGroup  common.ShardGroup
		Signatures  []ValidatorSignature
		Decision    QuorumDecision
	}
	if err := s.Decode(&dec); err != nil {
		return err
	}
	qc.HeaderHash, qc.ParentID, qc.BlockHeight, qc.Epoch, qc.ShardGroup, qc.Signatures, qc.Decision =
		dec.HeaderHash, dec.ParentID, dec.BlockHeight, dec.Epoch, dec.ShardGroup, dec.Signatures, dec.Decision
	return nil
}

func (qc *QuorumCertificate) String() string {
	return fmt.Sprintf("QC(block %s, height %d, %s, %d sigs)",
		qc.HeaderHash.TerminalString(), qc.BlockHeight, qc.Decision, len(qc.Signatures))
}
