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
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/vellumchain/vellum/common"
)

// CommandType discriminates the command union.
type CommandType uint8

const (
	CmdLocalOnly CommandType = iota
	CmdPrepare
	CmdLocalPrepare
	CmdAllPrepare
	CmdSomePrepare
	CmdLocalAccept
	CmdAllAccept
	CmdSomeAccept
	CmdForeignProposal
	CmdMintConfidentialOutput
	CmdEvictNode
	CmdEndEpoch
)

var commandTypeNames = [...]string{
	"LocalOnly", "Prepare", "LocalPrepare", "AllPrepare", "SomePrepare",
	"LocalAccept", "AllAccept", "SomeAccept", "ForeignProposal",
	"MintConfidentialOutput", "EvictNode", "EndEpoch",
}

func (t CommandType) String() string {
	if int(t) < len(commandTypeNames) {
		return commandTypeNames[t]
	}
	return fmt.Sprintf("CommandType(%d)", uint8(t))
}

// Command is one entry of a block's ordered command set. Exactly one payload
// field is populated according to Type (none for EndEpoch).
type Command struct {
	Type            CommandType
	Transaction     *TransactionAtom            `rlp:"nil"`
	ForeignProposal *ForeignProposalAtom        `rlp:"nil"`
	Mint            *MintConfidentialOutputAtom `rlp:"nil"`
	Evict           *EvictNodeAtom              `rlp:"nil"`

	hash atomic.Pointer[common.Hash]
}

func NewTransactionCommand(t CommandType, atom *TransactionAtom) *Command {
	return &Command{Type: t, Transaction: atom}
}

func NewForeignProposalCommand(atom *ForeignProposalAtom) *Command {
	return &Command{Type: CmdForeignProposal, ForeignProposal: atom}
}

func NewMintCommand(atom *MintConfidentialOutputAtom) *Command {
	return &Command{Type: CmdMintConfidentialOutput, Mint: atom}
}

func NewEvictNodeCommand(atom *EvictNodeAtom) *Command {
	return &Command{Type: CmdEvictNode, Evict: atom}
}

func NewEndEpochCommand() *Command { return &Command{Type: CmdEndEpoch} }

// Hash is the content hash establishing the canonical command order within a
// block. It is cached after first use.
func (c *Command) Hash() common.Hash {
	if h := c.hash.Load(); h != nil {
		return *h
	}
	enc, err := rlp.EncodeToBytes(c)
	if err != nil {
		// All command payloads are RLP-encodable by construction.
		panic(fmt.Sprintf("command encode: %v", err))
	}
	h := common.Blake2bHash(enc)
	c.hash.Store(&h)
	return h
}

// EncodeRLP encodes the command without the cached hash.
func (c *Command) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, []interface{}{c.Type, c.Transaction, c.ForeignProposal, c.Mint, c.Evict})
}

// DecodeRLP decodes a command encoded by EncodeRLP.
func (c *Command) DecodeRLP(s *rlp.Stream) error {
	var dec struct {
		Type            CommandType
		Transaction     *TransactionAtom            `rlp:"nil"`
		ForeignProposal *ForeignProposalAtom        `rlp:"nil"`
		Mint            *MintConfidentialOutputAtom `rlp:"nil"`
		Evict           *EvictNodeAtom              `rlp:"nil"`
	}
	if err := s.Decode(&dec); err != nil {
		return err
	}
	c.Type, c.Transaction, c.ForeignProposal, c.Mint, c.Evict =
		dec.Type, dec.Transaction, dec.ForeignProposal, dec.Mint, dec.Evict
	return nil
}

// TransactionAtomRef returns the transaction atom, or nil for non-transaction
// commands.
func (c *Command) TransactionAtomRef() *TransactionAtom { return c.Transaction }

func (c *Command) IsTransactionCommand() bool { return c.Transaction != nil }

func (c *Command) IsLocalPrepare() bool { return c.Type == CmdLocalPrepare }

func (c *Command) IsLocalAccept() bool { return c.Type == CmdLocalAccept }

// Committing returns the atom iff this command finalizes a committed
// transaction in this shard group: LocalOnly with a Commit decision, or
// AllAccept. Only committing atoms contribute to the block's total leader
// fee.
func (c *Command) Committing() *TransactionAtom {
	switch c.Type {
	case CmdLocalOnly:
		if c.Transaction != nil && c.Transaction.Decision.IsCommit() {
			return c.Transaction
		}
	case CmdAllAccept:
		return c.Transaction
	}
	return nil
}

// Finalizing reports whether the command removes its transaction from the
// pool once the enclosing block commits.
func (c *Command) Finalizing() bool {
	switch c.Type {
	case CmdLocalOnly, CmdAllAccept, CmdSomeAccept:
		return true
	default:
		return false
	}
}

func (c *Command) String() string {
	if c.Transaction != nil {
		return fmt.Sprintf("%s(%s)", c.Type, c.Transaction.TransactionID.TerminalString())
	}
	return c.Type.String()
}

// Commands is a block's command set, materialized in canonical order (by
// command hash) so that command Merkle roots and per-command processing are
// deterministic on every node.
type Commands []*Command

// Insert places cmd at its canonical position. Duplicate hashes are dropped.
func (cs *Commands) Insert(cmd *Command) {
	h := cmd.Hash()
	i := sort.Search(len(*cs), func(i int) bool {
		return bytes.Compare((*cs)[i].Hash().Bytes(), h.Bytes()) >= 0
	})
	if i < len(*cs) && (*cs)[i].Hash() == h {
		return
	}
	*cs = append(*cs, nil)
	copy((*cs)[i+1:], (*cs)[i:])
	(*cs)[i] = cmd
}

// Sort re-establishes canonical order after bulk decode.
func (cs Commands) Sort() {
	sort.Slice(cs, func(i, j int) bool {
		return bytes.Compare(cs[i].Hash().Bytes(), cs[j].Hash().Bytes()) < 0
	})
}

// IsSorted verifies canonical order; decoded blocks are rejected when their
// commands arrive out of order.
func (cs Commands) IsSorted() bool {
	return sort.SliceIsSorted(cs, func(i, j int) bool {
		return bytes.Compare(cs[i].Hash().Bytes(), cs[j].Hash().Bytes()) < 0
	})
}

// Hashes returns the command hashes in canonical order.
func (cs Commands) Hashes() []common.Hash {
	hashes := make([]common.Hash, len(cs))
	for i, c := range cs {
		hashes[i] = c.Hash()
	}
	return hashes
}

// MerkleRoot computes the binary Merkle root over the command hashes in
// canonical order. An empty set has a zero root.
func (cs Commands) MerkleRoot() common.Hash {
	if len(cs) == 0 {
		return common.Hash{}
	}
	level := cs.Hashes()
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]common.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, common.Blake2bHash(level[i].Bytes(), level[i+1].Bytes()))
		}
		level = next
	}
	return level[0]
}
