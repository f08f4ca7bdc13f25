package statetree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumchain/vellum/common"
)

func h(b ...byte) common.Hash {
	return common.Blake2bHash(b)
}

func TestRootIndependentOfInsertionOrder(t *testing.T) {
	keys := make([]common.Hash, 50)
	for i := range keys {
		keys[i] = h(byte(i), 1)
	}

	t1 := New()
	for _, k := range keys {
		t1.Set(k, h(k[0], 0xee))
	}

	t2 := New()
	perm := rand.New(rand.NewSource(42)).Perm(len(keys))
	for _, i := range perm {
		t2.Set(keys[i], h(keys[i][0], 0xee))
	}

	require.Equal(t, t1.Root(), t2.Root())
}

func TestRootChangesWithValues(t *testing.T) {
	tr := New()
	tr.Set(h(1), h(2))
	r1 := tr.Root()

	tr.Set(h(1), h(3))
	assert.NotEqual(t, r1, tr.Root())

	tr.Set(h(1), h(2))
	assert.Equal(t, r1, tr.Root())
}

func TestDeleteRestoresRoot(t *testing.T) {
	tr := New()
	tr.Set(h(1), h(0xaa))
	r1 := tr.Root()

	tr.Set(h(2), h(0xbb))
	assert.NotEqual(t, r1, tr.Root())

	tr.Delete(h(2))
	assert.Equal(t, r1, tr.Root())
}

func TestEmptyTreeRootIsZero(t *testing.T) {
	assert.Equal(t, common.Hash{}, New().Root())
}

func TestLeafPositionBinding(t *testing.T) {
	// The same value under different keys must produce different roots.
	t1 := New()
	t1.Set(h(1), h(0xee))
	t2 := New()
	t2.Set(h(2), h(0xee))
	assert.NotEqual(t, t1.Root(), t2.Root())
}

func TestFoldShardRootsSkipsEmpty(t *testing.T) {
	root := h(5)
	a := FoldShardRoots([]ShardRootEntry{{Shard: 1, Root: root}})
	b := FoldShardRoots([]ShardRootEntry{{Shard: 1, Root: root}, {Shard: 2}})
	assert.Equal(t, a, b)

	c := FoldShardRoots([]ShardRootEntry{{Shard: 2, Root: root}})
	assert.NotEqual(t, a, c)
}
