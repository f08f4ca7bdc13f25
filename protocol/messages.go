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

// Package protocol defines the consensus wire messages and the transport
// the worker sends them through.
package protocol

import (
	"fmt"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/types"
)

// ProtocolVersion is bumped on incompatible frame changes.
const ProtocolVersion = 1

// Message codes.
const (
	MsgProposal uint64 = iota
	MsgForeignProposal
	MsgForeignProposalNotification
	MsgForeignProposalRequest
	MsgVote
	MsgNewView
	MsgMissingTransactionsRequest
	MsgMissingTransactionsResponse
	MsgSyncRequest
	MsgSyncResponse
)

// MsgCodeLength is the number of message codes; transports size their
// dispatch tables from it.
const MsgCodeLength = MsgSyncResponse + 1

// ProposalMessage carries a leader's block to its local committee, together
// with the foreign proposals the block sequences.
type ProposalMessage struct {
	Block            *types.Block
	ForeignProposals []*types.ForeignProposal
}

// ForeignProposalMessage carries a justified local block to a foreign
// committee, with the pledges its transactions need.
type ForeignProposalMessage struct {
	Block       *types.Block
	JustifyQC   *types.QuorumCertificate
	BlockPledge *types.BlockPledge `rlp:"nil"`
}

// ForeignProposalNotificationMessage announces availability for pull-based
// fetching.
type ForeignProposalNotificationMessage struct {
	BlockID common.Hash
	Epoch   common.Epoch
}

// ForeignProposalRequestMessage pulls a foreign proposal by block or by
// transaction.
type ForeignProposalRequestMessage struct {
	ByBlockID       common.Hash
	ByTransactionID common.Hash
	ForShardGroup   common.ShardGroup
	Epoch           common.Epoch
}

// VoteMessage is one validator's accept/reject over a block.
type VoteMessage struct {
	Epoch       common.Epoch
	BlockID     common.Hash
	BlockHeight common.Height
	Decision    types.QuorumDecision
	Signature   types.ValidatorSignature
}

// NewViewMessage requests the next leader to propose, carrying the sender's
// high QC and optionally its last vote.
type NewViewMessage struct {
	HighQC    *types.QuorumCertificate
	NewHeight common.Height
	LastVote  *VoteMessage `rlp:"nil"`
}

// MissingTransactionsRequestMessage asks a peer for transactions referenced
// by a proposal but unknown locally.
type MissingTransactionsRequestMessage struct {
	RequestID    []byte // uuid
	Epoch        common.Epoch
	BlockID      common.Hash
	Transactions []common.Hash
}

// MissingTransactionsResponseMessage answers with the requested transaction
// records.
type MissingTransactionsResponseMessage struct {
	RequestID    []byte
	Epoch        common.Epoch
	BlockID      common.Hash
	Transactions []*types.TransactionRecord
}

// SyncRequestMessage asks a peer for blocks above the sender's high QC.
type SyncRequestMessage struct {
	Epoch  common.Epoch
	HighQC *types.QuorumCertificate
}

// FullBlock is a block with everything needed to validate it during
// catch-up.
type FullBlock struct {
	Block        *types.Block
	QCs          []*types.QuorumCertificate
	Transactions []*types.TransactionRecord
}

// SyncResponseMessage streams the catch-up chain in ascending height order.
type SyncResponseMessage struct {
	Epoch  common.Epoch
	Blocks []*FullBlock
}

// CodeOf maps a message to its wire code.
func CodeOf(msg interface{}) (uint64, error) {
	switch msg.(type) {
	case *ProposalMessage:
		return MsgProposal, nil
	case *ForeignProposalMessage:
		return MsgForeignProposal, nil
	case *ForeignProposalNotificationMessage:
		return MsgForeignProposalNotification, nil
	case *ForeignProposalRequestMessage:
		return MsgForeignProposalRequest, nil
	case *VoteMessage:
		return MsgVote, nil
	case *NewViewMessage:
		return MsgNewView, nil
	case *MissingTransactionsRequestMessage:
		return MsgMissingTransactionsRequest, nil
	case *MissingTransactionsResponseMessage:
		return MsgMissingTransactionsResponse, nil
	case *SyncRequestMessage:
		return MsgSyncRequest, nil
	case *SyncResponseMessage:
		return MsgSyncResponse, nil
	default:
		return 0, fmt.Errorf("protocol: unknown message type %T", msg)
	}
}

// NewMessage allocates the payload struct for a wire code.
func NewMessage(code uint64) (interface{}, error) {
	switch code {
	case MsgProposal:
		return new(ProposalMessage), nil
	case MsgForeignProposal:
		return new(ForeignProposalMessage), nil
	case MsgForeignProposalNotification:
		return new(ForeignProposalNotificationMessage), nil
	case MsgForeignProposalRequest:
		return new(ForeignProposalRequestMessage), nil
	case MsgVote:
		return new(VoteMessage), nil
	case MsgNewView:
		return new(NewViewMessage), nil
	case MsgMissingTransactionsRequest:
		return new(MissingTransactionsRequestMessage), nil
	case MsgMissingTransactionsResponse:
		return new(MissingTransactionsResponseMessage), nil
	case MsgSyncRequest:
		return new(SyncRequestMessage), nil
	case MsgSyncResponse:
		return new(SyncResponseMessage), nil
	default:
		return nil, fmt.Errorf("protocol: unknown message code %d", code)
	}
}
