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

package hotstuff

import (
	"fmt"
)

// NoVoteReason makes a node withhold its vote for one block. It is a value,
// not an error: the validator keeps running and saves the block change set
// for observation.
type NoVoteReason int

const (
	NoVoteNone NoVoteReason = iota
	NoVoteAlreadyVotedAtHeight
	NoVoteStageDisagreement
	NoVoteDecisionDisagreement
	NoVoteFeeDisagreement
	NoVoteLeaderFeeDisagreement
	NoVoteNoLeaderFee
	NoVoteTotalLeaderFeeDisagreement
	NoVoteMismatchedEvidence
	NoVoteMissingInvolvedShardGroup
	NoVoteNotAllShardGroupsPrepared
	NoVoteNotAllForeignInputPledges
	NoVoteStateMerkleRootMismatch
	NoVoteTransactionNotInPool
	NoVoteLocalOnlyProposedForMultiShard
	NoVoteMultiShardProposedForLocalOnly
	NoVoteStageTransitionNotApplicable
	NoVoteNodeAlreadyEvicted
	NoVoteCannotEvictNodeBelowQuorumThreshold
	NoVoteShouldNotEvictNode
	NoVoteNotEndOfEpoch
	NoVoteEndOfEpochWithOtherCommands
	NoVoteForeignProposalAlreadyProposed
	NoVoteForeignProposalNotReceived
	NoVoteForeignProposalAlreadyConfirmed
	NoVoteForeignProposalProcessingFailed
	NoVoteMintConfidentialOutputUnknown
	NoVoteMintConfidentialOutputStoreFailed
	NoVoteNotSafeBlock
	NoVoteInvalidSignature
)

var noVoteReasonNames = map[NoVoteReason]string{
	NoVoteNone:                                "None",
	NoVoteAlreadyVotedAtHeight:                "AlreadyVotedAtHeight",
	NoVoteStageDisagreement:                   "StageDisagreement",
	NoVoteDecisionDisagreement:                "DecisionDisagreement",
	NoVoteFeeDisagreement:                     "FeeDisagreement",
	NoVoteLeaderFeeDisagreement:               "LeaderFeeDisagreement",
	NoVoteNoLeaderFee:                         "NoLeaderFee",
	NoVoteTotalLeaderFeeDisagreement:          "TotalLeaderFeeDisagreement",
	NoVoteMismatchedEvidence:                  "InvalidEvidence(MismatchedEvidence)",
	NoVoteMissingInvolvedShardGroup:           "InvalidEvidence(MissingInvolvedShardGroup)",
	NoVoteNotAllShardGroupsPrepared:           "NotAllShardGroupsPrepared",
	NoVoteNotAllForeignInputPledges:           "NotAllForeignInputPledges",
	NoVoteStateMerkleRootMismatch:             "StateMerkleRootMismatch",
	NoVoteTransactionNotInPool:                "TransactionNotInPool",
	NoVoteLocalOnlyProposedForMultiShard:      "LocalOnlyProposedForMultiShard",
	NoVoteMultiShardProposedForLocalOnly:      "MultiShardProposedForLocalOnly",
	NoVoteStageTransitionNotApplicable:        "StageTransitionNotApplicable",
	NoVoteNodeAlreadyEvicted:                  "NodeAlreadyEvicted",
	NoVoteCannotEvictNodeBelowQuorumThreshold: "CannotEvictNodeBelowQuorumThreshold",
	NoVoteShouldNotEvictNode:                  "ShouldNotEvictNode",
	NoVoteNotEndOfEpoch:                       "NotEndOfEpoch",
	NoVoteEndOfEpochWithOtherCommands:         "EndOfEpochWithOtherCommands",
	NoVoteForeignProposalAlreadyProposed:      "ForeignProposalAlreadyProposed",
	NoVoteForeignProposalNotReceived:          "ForeignProposalNotReceived",
	NoVoteForeignProposalAlreadyConfirmed:     "ForeignProposalAlreadyConfirmed",
	NoVoteForeignProposalProcessingFailed:     "ForeignProposalProcessingFailed",
	NoVoteMintConfidentialOutputUnknown:       "MintConfidentialOutputUnknown",
	NoVoteMintConfidentialOutputStoreFailed:   "MintConfidentialOutputStoreFailed",
	NoVoteNotSafeBlock:                        "NotSafeBlock",
	NoVoteInvalidSignature:                    "InvalidSignature",
}

func (r NoVoteReason) String() string {
	if s, ok := noVoteReasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("NoVoteReason(%d)", int(r))
}

// InvariantError is fatal: it signals corruption or a broken contract
// between components. The worker logs it and stops; it must not silently
// continue.
type InvariantError struct {
	Context string
}

func (e *InvariantError) Error() string {
	return "invariant violation: " + e.Context
}

func invariantErrorf(format string, args ...interface{}) *InvariantError {
	return &InvariantError{Context: fmt.Sprintf(format, args...)}
}

// IsInvariantError reports whether err (or its cause chain) is fatal to the
// worker.
func IsInvariantError(err error) bool {
	for err != nil {
		if _, ok := err.(*InvariantError); ok {
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
