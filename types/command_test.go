package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumchain/vellum/common"
)

func txCommand(t CommandType, b byte) *Command {
	var id common.Hash
	id[0] = b
	return NewTransactionCommand(t, &TransactionAtom{TransactionID: id, Evidence: NewEvidence()})
}

func TestCommandsCanonicalOrder(t *testing.T) {
	var cs Commands
	cs.Insert(txCommand(CmdPrepare, 3))
	cs.Insert(txCommand(CmdLocalOnly, 1))
	cs.Insert(NewEndEpochCommand())
	cs.Insert(txCommand(CmdPrepare, 3)) // duplicate, dropped

	require.Equal(t, 3, len(cs))
	assert.True(t, cs.IsSorted())

	// Order is independent of insertion order.
	var cs2 Commands
	cs2.Insert(NewEndEpochCommand())
	cs2.Insert(txCommand(CmdPrepare, 3))
	cs2.Insert(txCommand(CmdLocalOnly, 1))
	assert.Equal(t, cs.Hashes(), cs2.Hashes())
	assert.Equal(t, cs.MerkleRoot(), cs2.MerkleRoot())
}

func TestCommandMerkleRootChangesWithContent(t *testing.T) {
	var a, b Commands
	a.Insert(txCommand(CmdPrepare, 1))
	b.Insert(txCommand(CmdPrepare, 2))
	assert.NotEqual(t, a.MerkleRoot(), b.MerkleRoot())
	assert.Equal(t, common.Hash{}, Commands{}.MerkleRoot())
}

func TestCommandRLPRoundTrip(t *testing.T) {
	atom := &TransactionAtom{
		TransactionID:  common.HexToHash("0xabcd"),
		Decision:       Abort(AbortExecutionFailure),
		TransactionFee: 42,
		LeaderFee:      &LeaderFee{Fee: 10, GlobalExhaustBurn: 1},
		Evidence:       NewEvidence(),
	}
	atom.Evidence.AddShardGroup(sgA).AddInput(intent(7, 2, LockWrite))
	cmd := NewTransactionCommand(CmdAllPrepare, atom)

	enc, err := rlp.EncodeToBytes(cmd)
	require.NoError(t, err)

	var dec Command
	require.NoError(t, rlp.DecodeBytes(enc, &dec))
	assert.Equal(t, cmd.Hash(), dec.Hash())
	assert.Equal(t, atom.TransactionID, dec.Transaction.TransactionID)
	assert.Equal(t, atom.Decision, dec.Transaction.Decision)
	assert.True(t, dec.Transaction.LeaderFee.Eq(atom.LeaderFee))
}

func TestBlockRLPRoundTripAndSanity(t *testing.T) {
	qc := GenesisQC(1, sgA)
	var cs Commands
	cs.Insert(txCommand(CmdLocalOnly, 9))

	header := &BlockHeader{
		ParentID:          common.HexToHash("0x01"),
		JustifyQCID:       qc.ID(),
		Height:            5,
		Epoch:             1,
		ShardGroup:        sgA,
		CommandMerkleRoot: cs.MerkleRoot(),
		Timestamp:         1000,
		Signature:         []byte{1, 2, 3},
	}
	block := NewBlock(header, qc, cs)
	require.NoError(t, block.SanityCheck())

	enc, err := rlp.EncodeToBytes(block)
	require.NoError(t, err)
	var dec Block
	require.NoError(t, rlp.DecodeBytes(enc, &dec))
	assert.Equal(t, block.ID(), dec.ID())
	require.NoError(t, dec.SanityCheck())
}

func TestHeaderIDExcludesSignature(t *testing.T) {
	h1 := &BlockHeader{Height: 1, Epoch: 1, ShardGroup: sgA}
	h2 := &BlockHeader{Height: 1, Epoch: 1, ShardGroup: sgA, Signature: []byte{0xff}}
	assert.Equal(t, h1.ID(), h2.ID())

	h3 := &BlockHeader{Height: 2, Epoch: 1, ShardGroup: sgA}
	assert.NotEqual(t, h1.ID(), h3.ID())
}

func TestDummyBlockInvariants(t *testing.T) {
	qc := GenesisQC(1, sgA)
	zero := ZeroBlock(1, sgA)
	dummy := NewDummyBlock(3, zero.ID(), qc, common.PublicKey{}, 0)
	require.NoError(t, dummy.SanityCheck())
	assert.True(t, dummy.IsDummy())
	assert.Empty(t, dummy.Commands())
	assert.Empty(t, dummy.Header().Signature)
}
