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
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/consensus/committee"
	"github.com/vellumchain/vellum/protocol"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/txpool"
	"github.com/vellumchain/vellum/types"
)

var (
	foreignProposalCounter  = metrics.NewRegisteredCounter("hotstuff/foreign/received", nil)
	foreignOutOfOrderMeter  = metrics.NewRegisteredMeter("hotstuff/foreign/outoforder", nil)
	foreignRejectedCounter  = metrics.NewRegisteredCounter("hotstuff/foreign/rejected", nil)
	foreignProcessedCounter = metrics.NewRegisteredCounter("hotstuff/foreign/processed", nil)
)

var (
	errForeignQuorumNotMet   = errors.New("foreign proposal justify QC does not meet quorum")
	errForeignOutOfOrder     = errors.New("foreign proposal received out of order")
	errForeignWrongCommittee = errors.New("foreign proposal signer not in expected committee")
)

// foreignProposalProcessor ingests proposals from peer committees: it
// authenticates their QCs, enforces per-(epoch, shard group) ordering,
// accumulates evidence and applies pledges to local pool records.
type foreignProposalProcessor struct{}

// handleReceived authenticates and stores an incoming foreign proposal.
// It is the wire-side half; sequencing into a local block happens when a
// proposer picks the stored proposal up.
func (f *foreignProposalProcessor) handleReceived(tx state.WriteTransaction, msg *protocol.ForeignProposalMessage,
	foreignCommittee *committee.Committee, local *committee.Committee,
) error {
	foreignProposalCounter.Inc(1)
	block := msg.Block

	if msg.JustifyQC.BlockID() != block.ID() {
		foreignRejectedCounter.Inc(1)
		return errors.Errorf("justify QC certifies %s, not foreign block %s",
			msg.JustifyQC.BlockID().TerminalString(), block.ID().TerminalString())
	}
	if err := authenticateQC(msg.JustifyQC, foreignCommittee); err != nil {
		foreignRejectedCounter.Inc(1)
		return err
	}

	exists, err := tx.ForeignProposalsExists(block.ID())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	// Cross-committee ordering: proposals from one shard group must arrive
	// in foreign-index order.
	expected, err := tx.ForeignReceiveCounterGet(block.Epoch(), block.ShardGroup())
	if err != nil {
		return err
	}
	index, ok := relevantForeignIndex(block, local)
	if ok {
		if index <= expected {
			// duplicate of an already-sequenced proposal
			return nil
		}
		if index != expected+1 {
			foreignOutOfOrderMeter.Mark(1)
			return errors.Wrapf(errForeignOutOfOrder, "got %d, expected %d", index, expected+1)
		}
		if err := tx.ForeignReceiveCounterSet(block.Epoch(), block.ShardGroup(), index); err != nil {
			return err
		}
	}

	return tx.ForeignProposalsUpsert(&types.ForeignProposal{
		Block:       block,
		JustifyQC:   msg.JustifyQC,
		BlockPledge: msg.BlockPledge,
		Status:      types.ForeignProposalNew,
	})
}

// relevantForeignIndex extracts the sender's counter towards any of our
// shards.
func relevantForeignIndex(block *types.Block, local *committee.Committee) (uint64, bool) {
	for _, fi := range block.Header().ForeignIndexes {
		if local.ShardGroup().Contains(fi.Shard) {
			return fi.Count, true
		}
	}
	return 0, false
}

// authenticateQC verifies the QC's signatures against the committee expected
// for (epoch, shard group) and checks the quorum threshold.
func authenticateQC(qc *types.QuorumCertificate, expected *committee.Committee) error {
	if qc.Epoch != expected.Epoch() || qc.ShardGroup != expected.ShardGroup() {
		return errForeignWrongCommittee
	}
	valid := 0
	for _, sig := range qc.Signatures {
		if !expected.Contains(sig.PublicKey) {
			return errForeignWrongCommittee
		}
		if !Verify(sig.PublicKey, qc.BlockID(), sig.Signature) {
			return errors.Errorf("invalid QC signature from %s", sig.PublicKey.Hex())
		}
		valid++
	}
	if valid < expected.QuorumThreshold() {
		return errForeignQuorumNotMet
	}
	return nil
}

// processForeignBlock applies a stored foreign proposal to the local pool:
// per applicable command, stamp the foreign shard group's prepare or accept
// QC into evidence, merge the relevant pledges, propagate the remote
// decision and recompute readiness. Atomic with the local change set.
func (f *foreignProposalProcessor) processForeignBlock(tx state.WriteTransaction, fp *types.ForeignProposal,
	local *committee.Committee, changeSet *ProposedBlockChangeSet,
) error {
	foreignSG := fp.ShardGroup()
	qcID := fp.JustifyQC.ID()

	for _, cmd := range fp.Block.Commands() {
		if !cmd.IsLocalPrepare() && !cmd.IsLocalAccept() {
			continue
		}
		atom := cmd.TransactionAtomRef()
		if atom == nil {
			return invariantErrorf("foreign %s command without transaction atom", cmd.Type)
		}

		rec, err := changeSet.GetTransaction(tx, atom.TransactionID)
		if err != nil {
			if state.IsNotFound(err) {
				// Not our transaction; foreign blocks interleave commands for
				// many committees.
				continue
			}
			return err
		}

		// Learn the foreign group's pledged substates and QC.
		if foreignEv := atom.Evidence.Get(foreignSG); foreignEv != nil {
			mine := rec.Evidence.AddShardGroup(foreignSG)
			for _, in := range foreignEv.Inputs {
				mine.AddInput(in)
			}
			for _, out := range foreignEv.Outputs {
				mine.AddOutput(out)
			}
		}
		if cmd.IsLocalPrepare() {
			rec.Evidence.SetPrepareQC(foreignSG, qcID)
		} else {
			rec.Evidence.SetAcceptQC(foreignSG, qcID)
		}

		if fp.BlockPledge != nil {
			if pledges, ok := fp.BlockPledge.Get(atom.TransactionID); ok {
				changeSet.AddPledges(atom.TransactionID, pledges)
			}
		}

		rec.SetRemoteDecision(atom.Decision)
		if err := txpool.UpdateReadiness(tx, rec, local); err != nil {
			return err
		}
		changeSet.SetNextTransactionUpdate(rec)
		foreignProcessedCounter.Inc(1)
	}
	return nil
}

// buildOutgoingForeignProposals assembles the per-shard-group foreign
// proposal messages for a freshly justified local block. Input values are
// pledged for LocalPrepare commands. For a committing LocalAccept, the local
// output versions are pledged without values to every foreign group that
// holds inputs; output-only groups get the proposal with no pledge for it.
func buildOutgoingForeignProposals(tx state.ReadTransaction, block *types.Block, justify *types.QuorumCertificate,
	local *committee.Committee,
) (map[common.ShardGroup]*protocol.ForeignProposalMessage, error) {
	out := make(map[common.ShardGroup]*protocol.ForeignProposalMessage)

	target := func(sg common.ShardGroup) *protocol.ForeignProposalMessage {
		msg, ok := out[sg]
		if !ok {
			msg = &protocol.ForeignProposalMessage{Block: block, JustifyQC: justify, BlockPledge: &types.BlockPledge{}}
			out[sg] = msg
		}
		return msg
	}

	for _, cmd := range block.Commands() {
		atom := cmd.TransactionAtomRef()
		if atom == nil || atom.Evidence == nil {
			continue
		}
		localEv := atom.Evidence.Get(local.ShardGroup())

		for _, entry := range atom.Evidence.Entries {
			if entry.ShardGroup == local.ShardGroup() {
				continue
			}
			switch {
			case cmd.IsLocalPrepare():
				msg := target(entry.ShardGroup)
				if localEv == nil {
					continue
				}
				for _, in := range localEv.Inputs {
					substate, err := readPledgedValue(tx, in.VersionedID())
					if err != nil {
						return nil, err
					}
					msg.BlockPledge.Add(atom.TransactionID, types.SubstatePledge{
						ID:      in.VersionedID(),
						IsInput: true,
						Value:   substate,
					})
				}
			case cmd.IsLocalAccept():
				// Groups holding inputs get the local output versions
				// (valueless); output-only groups and aborts get no pledges.
				if !atom.Evidence.IsCommitteeOutputOnly(entry.ShardGroup) && !atom.Decision.IsAbort() {
					if localEv == nil {
						continue
					}
					msg := target(entry.ShardGroup)
					for _, outIntent := range localEv.Outputs {
						msg.BlockPledge.Add(atom.TransactionID, types.SubstatePledge{
							ID: outIntent.VersionedID(),
						})
					}
					continue
				}
				target(entry.ShardGroup)
			}
		}
	}
	return out, nil
}

func readPledgedValue(tx state.ReadTransaction, id types.VersionedSubstateID) ([]byte, error) {
	rec, err := tx.SubstatesGet(id)
	if err != nil {
		if state.IsNotFound(err) {
			// The substate may only exist in the pending chain; it is
			// pledged without a value.
			return nil, nil
		}
		return nil, err
	}
	return rec.Value, nil
}
