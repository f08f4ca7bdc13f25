package committee

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumchain/vellum/common"
)

func newMembers(t *testing.T, n int) []Member {
	t.Helper()
	members := make([]Member, n)
	for i := 0; i < n; i++ {
		pub, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		members[i] = Member{PublicKey: common.BytesToPublicKey(pub)}
	}
	return members
}

func TestMembersSorted(t *testing.T) {
	com := New(1, common.NewShardGroup(0, 256), 256, newMembers(t, 10))
	for i := 0; i < com.Size()-1; i++ {
		a := com.Members()[i].PublicKey
		b := com.Members()[i+1].PublicKey
		assert.True(t, bytes.Compare(a.Bytes(), b.Bytes()) < 0)
	}
}

func TestQuorumThreshold(t *testing.T) {
	tests := []struct {
		size, f, quorum int
	}{
		{1, 0, 1},
		{2, 0, 2},
		{3, 0, 3},
		{4, 1, 3},
		{5, 1, 4},
		{7, 2, 5},
		{10, 3, 7},
	}
	for _, tt := range tests {
		com := New(1, common.NewShardGroup(0, 256), 256, newMembers(t, tt.size))
		assert.Equal(t, tt.f, com.MaxFailures(), "size %d", tt.size)
		assert.Equal(t, tt.quorum, com.QuorumThreshold(), "size %d", tt.size)
	}
}

func TestLeaderRoundRobin(t *testing.T) {
	com := New(1, common.NewShardGroup(0, 256), 256, newMembers(t, 4))
	seen := make(map[common.PublicKey]int)
	for h := common.Height(1); h <= 8; h++ {
		seen[com.Leader(h)]++
	}
	// every member leads exactly twice over two full rounds
	require.Equal(t, 4, len(seen))
	for _, n := range seen {
		assert.Equal(t, 2, n)
	}
	// the schedule is stable
	assert.Equal(t, com.Leader(3), com.Leader(7))
}

func TestEvictionDoesNotChangeSchedule(t *testing.T) {
	com := New(1, common.NewShardGroup(0, 256), 256, newMembers(t, 5))
	leader3 := com.Leader(3)
	com.MarkEvicted(leader3)

	assert.Equal(t, leader3, com.Leader(3), "evicted members keep their slots")
	assert.True(t, com.IsEvicted(leader3))
	assert.Equal(t, 4, com.ActiveSize())
}

func TestIncludesSubstateID(t *testing.T) {
	sg := common.NewShardGroup(0, 128)
	com := New(1, sg, 256, newMembers(t, 4))

	in, out := 0, 0
	for i := 0; i < 64; i++ {
		id := common.Blake2bHash([]byte{byte(i)})
		if com.IncludesSubstateID(id) {
			in++
		} else {
			out++
		}
	}
	// half the preshard space belongs to this committee
	assert.Greater(t, in, 0)
	assert.Greater(t, out, 0)
}

func TestGroupFor(t *testing.T) {
	sg := common.NewShardGroup(0, 128)
	com := New(1, sg, 256, newMembers(t, 4))

	assert.Equal(t, sg, com.GroupFor(5))
	assert.Equal(t, common.NewShardGroup(128, 256), com.GroupFor(200))
	assert.Equal(t, sg, com.GroupFor(common.GlobalShard))
}
