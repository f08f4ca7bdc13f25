package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/types"
)

func testBlock() *types.Block {
	sg := common.AllShardsGroup(256)
	qc := types.GenesisQC(1, sg)
	var cs types.Commands
	cs.Insert(types.NewTransactionCommand(types.CmdPrepare, &types.TransactionAtom{
		TransactionID: common.HexToHash("0x0101"),
		TransactionFee: 5,
		Evidence:      types.NewEvidence(),
	}))
	header := &types.BlockHeader{
		ParentID:          common.HexToHash("0x02"),
		JustifyQCID:       qc.ID(),
		Height:            7,
		Epoch:             1,
		ShardGroup:        sg,
		CommandMerkleRoot: cs.MerkleRoot(),
		Signature:         []byte{1},
	}
	return types.NewBlock(header, qc, cs)
}

func TestProposalFrameRoundTrip(t *testing.T) {
	msg := &ProposalMessage{Block: testBlock()}
	data, err := EncodeMessage(msg)
	require.NoError(t, err)

	code, decoded, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, MsgProposal, code)
	got := decoded.(*ProposalMessage)
	assert.Equal(t, msg.Block.ID(), got.Block.ID())
	require.NoError(t, got.Block.SanityCheck())
}

func TestVoteFrameRoundTrip(t *testing.T) {
	msg := &VoteMessage{
		Epoch:       3,
		BlockID:     common.HexToHash("0xaa"),
		BlockHeight: 9,
		Decision:    types.QuorumAccept,
		Signature: types.ValidatorSignature{
			PublicKey: common.BytesToPublicKey([]byte{1, 2, 3}),
			Signature: []byte{4, 5, 6},
			LeafHash:  common.HexToHash("0xaa"),
		},
	}
	data, err := EncodeMessage(msg)
	require.NoError(t, err)
	code, decoded, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, MsgVote, code)
	assert.Equal(t, msg, decoded)
}

func TestDecodeRejectsUnknownCode(t *testing.T) {
	_, err := NewMessage(999)
	assert.Error(t, err)
}

func TestInprocNetworkDelivers(t *testing.T) {
	network := NewInprocNetwork()
	a := common.BytesToPublicKey([]byte{1})
	b := common.BytesToPublicKey([]byte{2})
	ta := network.Join(a)
	tb := network.Join(b)
	defer ta.Close()
	defer tb.Close()

	err := ta.Multicast(context.Background(), []common.PublicKey{a, b}, &ForeignProposalNotificationMessage{
		BlockID: common.HexToHash("0x01"),
		Epoch:   1,
	})
	require.NoError(t, err)

	for _, tr := range []Transport{ta, tb} {
		select {
		case inbound := <-tr.Messages():
			assert.Equal(t, a, inbound.From)
			notification := inbound.Message.(*ForeignProposalNotificationMessage)
			assert.Equal(t, common.HexToHash("0x01"), notification.BlockID)
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}
}
