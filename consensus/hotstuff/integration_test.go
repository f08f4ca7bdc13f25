package hotstuff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/consensus/committee"
	"github.com/vellumchain/vellum/epoch"
	"github.com/vellumchain/vellum/execution"
	"github.com/vellumchain/vellum/params"
	"github.com/vellumchain/vellum/protocol"
	"github.com/vellumchain/vellum/storage/database"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/types"
)

const testTimeout = 20 * time.Second

type testValidator struct {
	signer *Signer
	store  state.Store
	worker *Worker
}

type testNetwork struct {
	t          *testing.T
	validators []*testValidator
	committee  *committee.Committee
	cancel     context.CancelFunc
}

func testConsensusConfig() params.ConsensusConfig {
	cfg := params.DefaultConsensusConfig
	cfg.PacemakerBlockTime = 2 * time.Second
	cfg.MissedProposalEvictThreshold = 3
	cfg.MaxMissedProposalsCap = 6
	return cfg
}

// startTestNetwork boots a single-committee network of n validators over the
// in-proc transport, all shards owned by one committee.
func startTestNetwork(t *testing.T, n int) *testNetwork {
	t.Helper()
	cfg := testConsensusConfig()

	signers := make([]*Signer, n)
	members := make([]committee.Member, n)
	for i := 0; i < n; i++ {
		signers[i] = GenerateSigner()
		members[i] = committee.Member{PublicKey: signers[i].PublicKey()}
	}
	sg := common.AllShardsGroup(cfg.NumPreshards)
	com := committee.New(1, sg, cfg.NumPreshards, members)
	epochs := epoch.NewStaticManager(1, sg, []*committee.Committee{com})
	network := protocol.NewInprocNetwork()
	executor := execution.NewTransferExecutor(cfg.NumPreshards)

	ctx, cancel := context.WithCancel(context.Background())
	tn := &testNetwork{t: t, committee: com, cancel: cancel}
	for i := 0; i < n; i++ {
		store := state.NewStore(database.NewMemDatabase())
		worker := NewWorker(cfg, store, epochs, network.Join(signers[i].PublicKey()), executor, signers[i])
		tn.validators = append(tn.validators, &testValidator{signer: signers[i], store: store, worker: worker})
	}
	for _, v := range tn.validators {
		require.NoError(t, v.worker.Start(ctx))
	}
	t.Cleanup(tn.stop)
	return tn
}

func (tn *testNetwork) stop() {
	tn.cancel()
	for _, v := range tn.validators {
		v.worker.Stop()
	}
}

// seedSubstate commits an input substate on every validator before the test
// transaction references it.
func (tn *testNetwork) seedSubstate(id common.Hash, value []byte) {
	for _, v := range tn.validators {
		err := v.store.WithWriteTx(func(tx state.WriteTransaction) error {
			return tx.SubstatesCreate(&types.SubstateRecord{SubstateID: id, Version: 0, Value: value})
		})
		require.NoError(tn.t, err)
	}
}

func (tn *testNetwork) submit(rec *types.TransactionRecord) {
	for _, v := range tn.validators {
		require.NoError(tn.t, v.worker.SubmitTransaction(rec))
	}
}

// waitFor polls the predicate against every validator's store.
func (tn *testNetwork) waitFor(desc string, pred func(tx state.ReadTransaction) (bool, error)) {
	tn.t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		ok := true
		for _, v := range tn.validators {
			var pass bool
			err := v.store.WithReadTx(func(tx state.ReadTransaction) error {
				var err error
				pass, err = pred(tx)
				return err
			})
			if err != nil || !pass {
				ok = false
				break
			}
		}
		if ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	tn.t.Fatalf("timed out waiting for %s", desc)
}

func poolEmpty(tx state.ReadTransaction) (bool, error) {
	count, err := tx.TransactionPoolCount()
	return count == 0, err
}

func transferTx(input common.Hash, output common.Hash, fee uint64, abort bool) *types.TransactionRecord {
	payload := &execution.TransferPayload{Fee: fee, Abort: abort}
	if !output.IsZero() {
		payload.Outputs = append(payload.Outputs, execution.TransferOutput{ID: output, Value: []byte("out")})
	}
	return types.NewTransactionRecord(
		[]types.SubstateRequirement{{SubstateID: input, Lock: types.LockWrite}},
		execution.EncodeTransferPayload(payload),
	)
}

// Single-shard, single-committee: one Commit transaction with one input and
// one output finalizes; every committed command is LocalOnly.
func TestSingleValidatorLocalOnlyCommit(t *testing.T) {
	tn := startTestNetwork(t, 1)

	input := common.Blake2bHash([]byte("input-1"))
	output := common.Blake2bHash([]byte("output-1"))
	tn.seedSubstate(input, []byte("coin"))
	tx := transferTx(input, output, 100, false)
	tn.submit(tx)

	tn.waitFor("transaction finalized", func(rtx state.ReadTransaction) (bool, error) {
		if empty, err := poolEmpty(rtx); err != nil || !empty {
			return false, err
		}
		// output exists, input destroyed
		out, err := rtx.SubstatesGet(types.NewVersionedSubstateID(output, 0))
		if err != nil {
			if state.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		in, err := rtx.SubstatesGet(types.NewVersionedSubstateID(input, 0))
		if err != nil {
			return false, err
		}
		return out != nil && in.IsDestroyed(), nil
	})

	// every committed non-dummy command is LocalOnly
	v := tn.validators[0]
	err := v.store.WithReadTx(func(rtx state.ReadTransaction) error {
		leaf, err := rtx.LeafBlockGet(1)
		require.NoError(t, err)
		chain, err := rtx.BlocksGetParentChain(leaf.BlockID, 64)
		require.NoError(t, err)
		for _, b := range chain {
			committed, err := rtx.BlocksIsCommitted(b.ID())
			require.NoError(t, err)
			if !committed {
				continue
			}
			for _, cmd := range b.Commands() {
				assert.Equal(t, types.CmdLocalOnly, cmd.Type)
				assert.True(t, cmd.Transaction.Decision.IsCommit())
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// The same flow over a four-validator committee with leader rotation.
func TestFourValidatorCommit(t *testing.T) {
	tn := startTestNetwork(t, 4)

	input := common.Blake2bHash([]byte("input-4v"))
	output := common.Blake2bHash([]byte("output-4v"))
	tn.seedSubstate(input, []byte("coin"))
	tn.submit(transferTx(input, output, 100, false))

	tn.waitFor("transaction finalized on all validators", func(rtx state.ReadTransaction) (bool, error) {
		if empty, err := poolEmpty(rtx); err != nil || !empty {
			return false, err
		}
		_, err := rtx.SubstatesGet(types.NewVersionedSubstateID(output, 0))
		if state.IsNotFound(err) {
			return false, nil
		}
		return err == nil, err
	})
}

// Execution abort: the transaction finalizes as Abort and no substate
// changes persist.
func TestSingleShardAbort(t *testing.T) {
	tn := startTestNetwork(t, 1)

	input := common.Blake2bHash([]byte("input-abort"))
	output := common.Blake2bHash([]byte("output-abort"))
	tn.seedSubstate(input, []byte("coin"))
	tn.submit(transferTx(input, output, 50, true))

	tn.waitFor("aborted transaction removed", poolEmpty)

	err := tn.validators[0].store.WithReadTx(func(rtx state.ReadTransaction) error {
		_, err := rtx.SubstatesGet(types.NewVersionedSubstateID(output, 0))
		assert.True(t, state.IsNotFound(err), "aborted transaction must not create outputs")

		in, err := rtx.SubstatesGet(types.NewVersionedSubstateID(input, 0))
		require.NoError(t, err)
		assert.False(t, in.IsDestroyed(), "aborted transaction must not destroy inputs")
		return nil
	})
	require.NoError(t, err)
}

// Two transactions write-locking the same input: exactly one commits, the
// other aborts, and every validator agrees.
func TestInputWriteConflict(t *testing.T) {
	tn := startTestNetwork(t, 1)

	input := common.Blake2bHash([]byte("input-conflict"))
	out1 := common.Blake2bHash([]byte("conflict-out-1"))
	out2 := common.Blake2bHash([]byte("conflict-out-2"))
	tn.seedSubstate(input, []byte("coin"))

	tn.submit(transferTx(input, out1, 100, false))
	tn.submit(transferTx(input, out2, 100, false))

	tn.waitFor("both transactions finalized", poolEmpty)

	err := tn.validators[0].store.WithReadTx(func(rtx state.ReadTransaction) error {
		_, err1 := rtx.SubstatesGet(types.NewVersionedSubstateID(out1, 0))
		_, err2 := rtx.SubstatesGet(types.NewVersionedSubstateID(out2, 0))
		exists1 := err1 == nil
		exists2 := err2 == nil
		assert.True(t, exists1 != exists2, "exactly one transaction must commit (out1=%v out2=%v)", exists1, exists2)

		in, err := rtx.SubstatesGet(types.NewVersionedSubstateID(input, 0))
		require.NoError(t, err)
		assert.True(t, in.IsDestroyed())
		return nil
	})
	require.NoError(t, err)
}

// Idempotent propose: re-triggering the proposer for an already-proposed
// height is a no-op.
func TestProposeIdempotentPerHeight(t *testing.T) {
	tn := startTestNetwork(t, 1)
	v := tn.validators[0]

	tn.waitFor("chain advanced", func(rtx state.ReadTransaction) (bool, error) {
		proposed, err := rtx.LastProposedGet(1)
		return proposed.Height >= 2, err
	})

	var before types.LastProposed
	err := v.store.WithReadTx(func(rtx state.ReadTransaction) error {
		var err error
		before, err = rtx.LastProposedGet(1)
		return err
	})
	require.NoError(t, err)

	// Force the proposer at a stale height; the LastProposed guard must not
	// replace the stored proposal with one at a lower height.
	require.NoError(t, v.worker.proposer.handle(context.Background(), tn.committee, before.Height-1, false))

	err = v.store.WithReadTx(func(rtx state.ReadTransaction) error {
		after, err := rtx.LastProposedGet(1)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, after.Height.Uint64(), before.Height.Uint64())
		return nil
	})
	require.NoError(t, err)
}
