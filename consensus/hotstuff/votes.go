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
	"bytes"
	"sort"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/consensus/committee"
	"github.com/vellumchain/vellum/protocol"
	"github.com/vellumchain/vellum/types"
)

// voteCollector accumulates votes per block until the committee's quorum
// threshold is met, then assembles the quorum certificate. Evicted members'
// votes are discarded.
type voteCollector struct {
	votes map[common.Hash]map[common.PublicKey]*protocol.VoteMessage
}

func newVoteCollector() *voteCollector {
	return &voteCollector{votes: make(map[common.Hash]map[common.PublicKey]*protocol.VoteMessage)}
}

// collect adds a vote and returns the assembled QC once quorum is reached
// for one decision. Duplicate votes from a validator are ignored.
func (vc *voteCollector) collect(vote *protocol.VoteMessage, from common.PublicKey, block *types.Block, com *committee.Committee) *types.QuorumCertificate {
	if !com.Contains(from) || com.IsEvicted(from) {
		logger.Warn("Discarding vote from non-member", "from", from.Hex())
		return nil
	}
	if vote.Signature.PublicKey != from {
		logger.Warn("Vote signer mismatch", "from", from.Hex())
		return nil
	}
	if !Verify(from, vote.BlockID, vote.Signature.Signature) {
		logger.Warn("Discarding vote with invalid signature", "from", from.Hex())
		return nil
	}

	byValidator, ok := vc.votes[vote.BlockID]
	if !ok {
		byValidator = make(map[common.PublicKey]*protocol.VoteMessage)
		vc.votes[vote.BlockID] = byValidator
	}
	if _, voted := byValidator[from]; voted {
		return nil
	}
	byValidator[from] = vote

	matching := make([]*protocol.VoteMessage, 0, len(byValidator))
	for _, v := range byValidator {
		if v.Decision == vote.Decision {
			matching = append(matching, v)
		}
	}
	if len(matching) < com.QuorumThreshold() {
		return nil
	}

	signatures := make([]types.ValidatorSignature, len(matching))
	for i, v := range matching {
		signatures[i] = v.Signature
	}
	sort.Slice(signatures, func(i, j int) bool {
		return bytes.Compare(signatures[i].PublicKey.Bytes(), signatures[j].PublicKey.Bytes()) < 0
	})

	qc := types.NewQuorumCertificate(block.ID(), block.ParentID(), block.Height(), block.Epoch(),
		block.ShardGroup(), signatures, vote.Decision)
	delete(vc.votes, vote.BlockID)
	return qc
}

// prune drops vote state at or below the given height.
func (vc *voteCollector) prune(height common.Height) {
	for blockID, byValidator := range vc.votes {
		for _, v := range byValidator {
			if v.BlockHeight <= height {
				delete(vc.votes, blockID)
			}
			break
		}
	}
}

// newViewCollector counts NewView messages per height; once a quorum of the
// committee demands a view, the next leader may propose.
type newViewCollector struct {
	views map[common.Height]map[common.PublicKey]*protocol.NewViewMessage
}

func newNewViewCollector() *newViewCollector {
	return &newViewCollector{views: make(map[common.Height]map[common.PublicKey]*protocol.NewViewMessage)}
}

// collect returns true once the height has gathered a quorum of NewViews.
func (nv *newViewCollector) collect(msg *protocol.NewViewMessage, from common.PublicKey, com *committee.Committee) bool {
	if !com.Contains(from) || com.IsEvicted(from) {
		return false
	}
	byValidator, ok := nv.views[msg.NewHeight]
	if !ok {
		byValidator = make(map[common.PublicKey]*protocol.NewViewMessage)
		nv.views[msg.NewHeight] = byValidator
	}
	byValidator[from] = msg
	if len(byValidator) < com.QuorumThreshold() {
		return false
	}
	delete(nv.views, msg.NewHeight)
	return true
}

func (nv *newViewCollector) prune(height common.Height) {
	for h := range nv.views {
		if h <= height {
			delete(nv.views, h)
		}
	}
}
