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
	"sort"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/vellumchain/vellum/common"
)

// ForeignIndex sequences cross-committee messages towards one shard: the
// counter is monotonic per (epoch, from shard group, shard).
type ForeignIndex struct {
	Shard common.Shard
	Count uint64
}

// ForeignIndexes is kept sorted by shard for canonical header encoding.
type ForeignIndexes []ForeignIndex

func (f ForeignIndexes) Get(shard common.Shard) (uint64, bool) {
	i := sort.Search(len(f), func(i int) bool { return f[i].Shard >= shard })
	if i < len(f) && f[i].Shard == shard {
		return f[i].Count, true
	}
	return 0, false
}

func (f *ForeignIndexes) Set(shard common.Shard, count uint64) {
	i := sort.Search(len(*f), func(i int) bool { return (*f)[i].Shard >= shard })
	if i < len(*f) && (*f)[i].Shard == shard {
		(*f)[i].Count = count
		return
	}
	*f = append(*f, ForeignIndex{})
	copy((*f)[i+1:], (*f)[i:])
	(*f)[i] = ForeignIndex{Shard: shard, Count: count}
}

// BlockHeader holds every field that contributes to the block id, plus the
// proposer signature over the id.
type BlockHeader struct {
	ParentID             common.Hash
	JustifyQCID          common.Hash
	Height               common.Height
	Epoch                common.Epoch
	ShardGroup           common.ShardGroup
	ProposerPublicKey    common.PublicKey
	StateMerkleRoot      common.Hash
	CommandMerkleRoot    common.Hash
	TotalLeaderFee       uint64
	ForeignIndexes       ForeignIndexes
	Timestamp            uint64
	BaseLayerBlockHeight uint64
	BaseLayerBlockHash   common.Hash
	ExtraData            []byte
	IsDummy              bool

	// Signature is the proposer's signature over ID(). Excluded from the id
	// and absent on dummy blocks.
	Signature []byte

	id atomic.Pointer[common.Hash]
}

// ID is the hash of the header fields in fixed order, excluding the
// signature. The zero block's id is ZeroBlockID, the id its genesis QC
// certifies.
func (h *BlockHeader) ID() common.Hash {
	if id := h.id.Load(); id != nil {
		return *id
	}
	if h.Height == 0 && h.IsDummy && h.ParentID.IsZero() {
		id := ZeroBlockID(h.Epoch, h.ShardGroup)
		h.id.Store(&id)
		return id
	}
	enc, err := rlp.EncodeToBytes([]interface{}{
		h.ParentID, h.JustifyQCID, h.Height, h.Epoch, h.ShardGroup,
		h.ProposerPublicKey, h.StateMerkleRoot, h.CommandMerkleRoot,
		h.TotalLeaderFee, h.ForeignIndexes, h.Timestamp,
		h.BaseLayerBlockHeight, h.BaseLayerBlockHash, h.ExtraData, h.IsDummy,
	})
	if err != nil {
		panic(fmt.Sprintf("header encode: %v", err))
	}
	id := common.Blake2bHash(enc)
	h.id.Store(&id)
	return id
}

func (h *BlockHeader) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, []interface{}{
		h.ParentID, h.JustifyQCID, h.Height, h.Epoch, h.ShardGroup,
		h.ProposerPublicKey, h.StateMerkleRoot, h.CommandMerkleRoot,
		h.TotalLeaderFee, h.ForeignIndexes, h.Timestamp,
		h.BaseLayerBlockHeight, h.BaseLayerBlockHash, h.ExtraData, h.IsDummy,
		h.Signature,
	})
}

func (h *BlockHeader) DecodeRLP(s *rlp.Stream) error {
	var dec struct {
		ParentID             common.Hash
		JustifyQCID          common.Hash
		Height               common.Height
		Epoch                common.Epoch
		ShardGroup           common.ShardGroup
		ProposerPublicKey    common.PublicKey
		StateMerkleRoot      common.Hash
		CommandMerkleRoot    common.Hash
		TotalLeaderFee       uint64
		ForeignIndexes       ForeignIndexes
		Timestamp            uint64
		BaseLayerBlockHeight uint64
		BaseLayerBlockHash   common.Hash
		ExtraData            []byte
		IsDummy              bool
		Signature            []byte
	}
	if err := s.Decode(&dec); err != nil {
		return err
	}
	*h = BlockHeader{
		ParentID: dec.ParentID, JustifyQCID: dec.JustifyQCID, Height: dec.Height,
		Epoch: dec.Epoch, ShardGroup: dec.ShardGroup, ProposerPublicKey: dec.ProposerPublicKey,
		StateMerkleRoot: dec.StateMerkleRoot, CommandMerkleRoot: dec.CommandMerkleRoot,
		TotalLeaderFee: dec.TotalLeaderFee, ForeignIndexes: dec.ForeignIndexes,
		Timestamp: dec.Timestamp, BaseLayerBlockHeight: dec.BaseLayerBlockHeight,
		BaseLayerBlockHash: dec.BaseLayerBlockHash, ExtraData: dec.ExtraData,
		IsDummy: dec.IsDummy, Signature: dec.Signature,
	}
	return nil
}

// Block is a proposal: a header, the QC justifying its parent chain, and the
// command set in canonical order. A block exclusively owns its header and
// commands; the justify QC is shared by reference with descendants.
type Block struct {
	header   *BlockHeader
	justify  *QuorumCertificate
	commands Commands
}

// NewBlock assembles a block. Commands must already be in canonical order.
func NewBlock(header *BlockHeader, justify *QuorumCertificate, commands Commands) *Block {
	return &Block{header: header, justify: justify, commands: commands}
}

// NewDummyBlock synthesizes the empty unsigned block for a skipped view.
func NewDummyBlock(height common.Height, parentID common.Hash, justify *QuorumCertificate, leader common.PublicKey, timestamp uint64) *Block {
	header := &BlockHeader{
		ParentID:          parentID,
		JustifyQCID:       justify.ID(),
		Height:            height,
		Epoch:             justify.Epoch,
		ShardGroup:        justify.ShardGroup,
		ProposerPublicKey: leader,
		Timestamp:         timestamp,
		IsDummy:           true,
	}
	return &Block{header: header, justify: justify}
}

// ZeroBlockID is the id of the implicit start-of-epoch block every chain
// extends.
func ZeroBlockID(epoch common.Epoch, sg common.ShardGroup) common.Hash {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(epoch) >> (56 - 8*i))
	}
	return common.Blake2bHash([]byte("zero-block"), buf[:], []byte(sg.String()))
}

// ZeroBlock is the deterministic genesis block for (epoch, shard group). It
// is committed by construction.
func ZeroBlock(epoch common.Epoch, sg common.ShardGroup) *Block {
	qc := GenesisQC(epoch, sg)
	header := &BlockHeader{
		JustifyQCID: qc.ID(),
		Epoch:       epoch,
		ShardGroup:  sg,
		IsDummy:     true,
	}
	return &Block{header: header, justify: qc}
}

func (b *Block) Header() *BlockHeader { return b.header }

func (b *Block) ID() common.Hash { return b.header.ID() }

func (b *Block) ParentID() common.Hash { return b.header.ParentID }

func (b *Block) Justify() *QuorumCertificate { return b.justify }

func (b *Block) Height() common.Height { return b.header.Height }

func (b *Block) Epoch() common.Epoch { return b.header.Epoch }

func (b *Block) ShardGroup() common.ShardGroup { return b.header.ShardGroup }

func (b *Block) Proposer() common.PublicKey { return b.header.ProposerPublicKey }

func (b *Block) TotalLeaderFee() uint64 { return b.header.TotalLeaderFee }

func (b *Block) StateMerkleRoot() common.Hash { return b.header.StateMerkleRoot }

func (b *Block) Commands() Commands { return b.commands }

func (b *Block) IsDummy() bool { return b.header.IsDummy }

// IsZero reports whether this is the implicit start-of-epoch block.
func (b *Block) IsZero() bool {
	return b.header.Height == 0 && b.header.IsDummy && b.header.ParentID.IsZero()
}

// AsLeafBlock views the block as a chain pointer.
func (b *Block) AsLeafBlock() LeafBlock {
	return LeafBlock{BlockID: b.ID(), Height: b.Height(), Epoch: b.Epoch()}
}

// AllTransactionIDs returns the ids of all transaction commands.
func (b *Block) AllTransactionIDs() []common.Hash {
	var ids []common.Hash
	for _, cmd := range b.commands {
		if atom := cmd.TransactionAtomRef(); atom != nil {
			ids = append(ids, atom.TransactionID)
		}
	}
	return ids
}

type extBlock struct {
	Header   *BlockHeader
	Justify  *QuorumCertificate
	Commands Commands
}

func (b *Block) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &extBlock{Header: b.header, Justify: b.justify, Commands: b.commands})
}

func (b *Block) DecodeRLP(s *rlp.Stream) error {
	var eb extBlock
	if err := s.Decode(&eb); err != nil {
		return err
	}
	b.header, b.justify, b.commands = eb.Header, eb.Justify, eb.Commands
	return nil
}

// SanityCheck verifies the structural invariants of a decoded block: the
// command root must match the canonical command set and dummy blocks must be
// empty and unsigned.
func (b *Block) SanityCheck() error {
	if b.header == nil || b.justify == nil {
		return fmt.Errorf("block %s: missing header or justify", b.ID().TerminalString())
	}
	if b.header.JustifyQCID != b.justify.ID() {
		return fmt.Errorf("block %s: justify QC mismatch", b.ID().TerminalString())
	}
	if !b.commands.IsSorted() {
		return fmt.Errorf("block %s: commands out of canonical order", b.ID().TerminalString())
	}
	if b.commands.MerkleRoot() != b.header.CommandMerkleRoot {
		return fmt.Errorf("block %s: command merkle root mismatch", b.ID().TerminalString())
	}
	if b.header.IsDummy {
		if len(b.commands) != 0 {
			return fmt.Errorf("dummy block %s carries commands", b.ID().TerminalString())
		}
		if len(b.header.Signature) != 0 {
			return fmt.Errorf("dummy block %s is signed", b.ID().TerminalString())
		}
	}
	return nil
}

func (b *Block) String() string {
	return fmt.Sprintf("[%s height %d epoch %d %s cmds %d]",
		b.ID().TerminalString(), b.Height(), b.Epoch(), b.ShardGroup(), len(b.commands))
}
