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

package state

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/storage/database"
	"github.com/vellumchain/vellum/types"
)

// kvStore implements Store over a database.Database. Writers are serialized
// by a mutex held from WriteTransaction() until Commit or Rollback; readers
// run lock-free against the backend, which applies committed batches
// atomically.
type kvStore struct {
	db      database.Database
	writeMu sync.Mutex
}

// NewStore wraps the given backend into a consensus state store.
func NewStore(db database.Database) Store {
	return &kvStore{db: db}
}

func (s *kvStore) ReadTransaction() ReadTransaction {
	return &stateTx{store: s}
}

func (s *kvStore) WriteTransaction() WriteTransaction {
	s.writeMu.Lock()
	return &stateTx{store: s, writable: true, overlay: make(map[string][]byte), deleted: make(map[string]bool)}
}

func (s *kvStore) WithReadTx(fn func(tx ReadTransaction) error) error {
	tx := s.ReadTransaction()
	defer tx.Close()
	return fn(tx)
}

func (s *kvStore) WithWriteTx(fn func(tx WriteTransaction) error) error {
	tx := s.WriteTransaction()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *kvStore) Close() { s.db.Close() }

// stateTx is both the read and the write transaction. A writable tx buffers
// mutations in an overlay that its own reads observe; Commit flushes the
// overlay through a single batch.
type stateTx struct {
	store    *kvStore
	writable bool
	overlay  map[string][]byte
	deleted  map[string]bool
	done     bool
}

func (tx *stateTx) get(key []byte) ([]byte, error) {
	if tx.writable {
		if tx.deleted[string(key)] {
			return nil, database.ErrKeyNotFound
		}
		if v, ok := tx.overlay[string(key)]; ok {
			return v, nil
		}
	}
	return tx.store.db.Get(key)
}

func (tx *stateTx) has(key []byte) (bool, error) {
	_, err := tx.get(key)
	if err == database.ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

func (tx *stateTx) put(key, value []byte) {
	delete(tx.deleted, string(key))
	tx.overlay[string(key)] = value
}

func (tx *stateTx) del(key []byte) {
	delete(tx.overlay, string(key))
	tx.deleted[string(key)] = true
}

func (tx *stateTx) getRLP(key []byte, out interface{}) error {
	raw, err := tx.get(key)
	if err != nil {
		if err == database.ErrKeyNotFound {
			return ErrNotFound
		}
		return errors.Wrap(err, "state get")
	}
	return rlp.DecodeBytes(raw, out)
}

func (tx *stateTx) putRLP(key []byte, val interface{}) error {
	enc, err := rlp.EncodeToBytes(val)
	if err != nil {
		return errors.Wrap(err, "state encode")
	}
	tx.put(key, enc)
	return nil
}

// iteratePrefix walks the table in key order, merging the backend with this
// transaction's uncommitted overlay.
func (tx *stateTx) iteratePrefix(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	var overlayKeys []string
	if tx.writable {
		for k := range tx.overlay {
			if bytes.HasPrefix([]byte(k), prefix) {
				overlayKeys = append(overlayKeys, k)
			}
		}
		sort.Strings(overlayKeys)
	}

	emit := func(k, v []byte) (bool, error) { return fn(k, v) }

	it := tx.store.db.NewIterator(prefix)
	defer it.Release()
	oi := 0
	for it.Next() {
		key := it.Key()
		// Overlay keys sorting before the current backend key come first.
		for oi < len(overlayKeys) && overlayKeys[oi] < string(key) {
			ok := overlayKeys[oi]
			oi++
			cont, err := emit([]byte(ok), tx.overlay[ok])
			if err != nil || !cont {
				return err
			}
		}
		if oi < len(overlayKeys) && overlayKeys[oi] == string(key) {
			oi++ // overlay shadows the backend value
			cont, err := emit(key, tx.overlay[string(key)])
			if err != nil || !cont {
				return err
			}
			continue
		}
		if tx.writable && tx.deleted[string(key)] {
			continue
		}
		cont, err := emit(key, it.Value())
		if err != nil || !cont {
			return err
		}
	}
	for ; oi < len(overlayKeys); oi++ {
		ok := overlayKeys[oi]
		cont, err := emit([]byte(ok), tx.overlay[ok])
		if err != nil || !cont {
			return err
		}
	}
	return it.Error()
}

func (tx *stateTx) nextSeq() (uint64, error) {
	raw, err := tx.get(seqCounterKey)
	var seq uint64
	if err == nil {
		seq = binary.BigEndian.Uint64(raw)
	} else if err != database.ErrKeyNotFound {
		return 0, err
	}
	seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	tx.put(seqCounterKey, buf[:])
	return seq, nil
}

func (tx *stateTx) Close() {}

func (tx *stateTx) Commit() error {
	if !tx.writable || tx.done {
		return errors.New("state: commit on closed or read-only transaction")
	}
	tx.done = true
	defer tx.store.writeMu.Unlock()

	batch := tx.store.db.NewBatch()
	for k, v := range tx.overlay {
		if err := batch.Put([]byte(k), v); err != nil {
			return errors.Wrap(err, "state commit")
		}
	}
	for k := range tx.deleted {
		if err := batch.Delete([]byte(k)); err != nil {
			return errors.Wrap(err, "state commit")
		}
	}
	return batch.Write()
}

func (tx *stateTx) Rollback() {
	if !tx.writable || tx.done {
		return
	}
	tx.done = true
	tx.overlay = nil
	tx.deleted = nil
	tx.store.writeMu.Unlock()
	logger.Debug("State transaction rolled back")
}

// ---- blocks ----

func (tx *stateTx) BlocksGet(id common.Hash) (*types.Block, error) {
	var b types.Block
	if err := tx.getRLP(mkKey(blockPrefix, id.Bytes()), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (tx *stateTx) BlocksExists(id common.Hash) (bool, error) {
	return tx.has(mkKey(blockPrefix, id.Bytes()))
}

func (tx *stateTx) BlocksIsJustified(id common.Hash) (bool, error) {
	return tx.has(mkKey(blockJustifiedPrefix, id.Bytes()))
}

func (tx *stateTx) BlocksIsCommitted(id common.Hash) (bool, error) {
	return tx.has(mkKey(blockCommittedPrefix, id.Bytes()))
}

func (tx *stateTx) BlocksGetParentChain(id common.Hash, limit int) ([]*types.Block, error) {
	var chain []*types.Block
	cur := id
	for len(chain) < limit && !cur.IsZero() {
		b, err := tx.BlocksGet(cur)
		if err != nil {
			if IsNotFound(err) {
				break
			}
			return nil, err
		}
		chain = append(chain, b)
		if b.IsZero() {
			break
		}
		cur = b.ParentID()
	}
	return chain, nil
}

func (tx *stateTx) BlocksGetAllBetween(startExclusive, endInclusive common.Hash) ([]*types.Block, error) {
	var desc []*types.Block
	cur := endInclusive
	for !cur.IsZero() && cur != startExclusive {
		b, err := tx.BlocksGet(cur)
		if err != nil {
			if IsNotFound(err) {
				break
			}
			return nil, err
		}
		desc = append(desc, b)
		if b.IsZero() {
			break
		}
		cur = b.ParentID()
	}
	// reverse into ascending height order
	for i, j := 0, len(desc)-1; i < j; i, j = i+1, j-1 {
		desc[i], desc[j] = desc[j], desc[i]
	}
	return desc, nil
}

func (tx *stateTx) BlocksInsert(b *types.Block) error {
	return tx.putRLP(mkKey(blockPrefix, b.ID().Bytes()), b)
}

func (tx *stateTx) BlocksSetJustified(id common.Hash) error {
	tx.put(mkKey(blockJustifiedPrefix, id.Bytes()), []byte{1})
	return nil
}

func (tx *stateTx) BlocksSetCommitted(id common.Hash) error {
	tx.put(mkKey(blockCommittedPrefix, id.Bytes()), []byte{1})
	return nil
}

func (tx *stateTx) BlockDiffsGet(blockID common.Hash) ([]types.SubstateChange, error) {
	var diff []types.SubstateChange
	if err := tx.getRLP(mkKey(blockDiffPrefix, blockID.Bytes()), &diff); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return diff, nil
}

func (tx *stateTx) BlockDiffsInsert(blockID common.Hash, diff []types.SubstateChange) error {
	return tx.putRLP(mkKey(blockDiffPrefix, blockID.Bytes()), diff)
}

func (tx *stateTx) BlockDiffsRemove(blockID common.Hash) error {
	tx.del(mkKey(blockDiffPrefix, blockID.Bytes()))
	return nil
}

// ---- quorum certificates ----

func (tx *stateTx) QuorumCertificatesGet(id common.Hash) (*types.QuorumCertificate, error) {
	var qc types.QuorumCertificate
	if err := tx.getRLP(mkKey(qcPrefix, id.Bytes()), &qc); err != nil {
		return nil, err
	}
	return &qc, nil
}

func (tx *stateTx) QuorumCertificatesInsert(qc *types.QuorumCertificate) error {
	return tx.putRLP(mkKey(qcPrefix, qc.ID().Bytes()), qc)
}

// ---- pacemaker pointers ----

type pointerRec struct {
	BlockID common.Hash
	Height  common.Height
	Epoch   common.Epoch
	Extra   common.Hash // qc id for HighQC
}

func (tx *stateTx) pointerGet(kind byte, epoch common.Epoch) (pointerRec, error) {
	var rec pointerRec
	err := tx.getRLP(pointerKey(kind, epoch), &rec)
	if IsNotFound(err) {
		return pointerRec{Epoch: epoch}, nil
	}
	return rec, err
}

func (tx *stateTx) pointerSet(kind byte, epoch common.Epoch, rec pointerRec) error {
	return tx.putRLP(pointerKey(kind, epoch), rec)
}

func (tx *stateTx) LeafBlockGet(epoch common.Epoch) (types.LeafBlock, error) {
	rec, err := tx.pointerGet(pointerLeaf, epoch)
	return types.LeafBlock{BlockID: rec.BlockID, Height: rec.Height, Epoch: epoch}, err
}

func (tx *stateTx) LeafBlockSet(l types.LeafBlock) error {
	return tx.pointerSet(pointerLeaf, l.Epoch, pointerRec{BlockID: l.BlockID, Height: l.Height, Epoch: l.Epoch})
}

func (tx *stateTx) LockedBlockGet(epoch common.Epoch) (types.LockedBlock, error) {
	rec, err := tx.pointerGet(pointerLocked, epoch)
	return types.LockedBlock{BlockID: rec.BlockID, Height: rec.Height, Epoch: epoch}, err
}

func (tx *stateTx) LockedBlockSet(l types.LockedBlock) error {
	return tx.pointerSet(pointerLocked, l.Epoch, pointerRec{BlockID: l.BlockID, Height: l.Height, Epoch: l.Epoch})
}

func (tx *stateTx) LastExecutedGet(epoch common.Epoch) (types.LastExecuted, error) {
	rec, err := tx.pointerGet(pointerLastExecuted, epoch)
	return types.LastExecuted{BlockID: rec.BlockID, Height: rec.Height, Epoch: epoch}, err
}

func (tx *stateTx) LastExecutedSet(l types.LastExecuted) error {
	return tx.pointerSet(pointerLastExecuted, l.Epoch, pointerRec{BlockID: l.BlockID, Height: l.Height, Epoch: l.Epoch})
}

func (tx *stateTx) LastVotedGet(epoch common.Epoch) (types.LastVoted, error) {
	rec, err := tx.pointerGet(pointerLastVoted, epoch)
	return types.LastVoted{BlockID: rec.BlockID, Height: rec.Height, Epoch: epoch}, err
}

func (tx *stateTx) LastVotedSet(l types.LastVoted) error {
	return tx.pointerSet(pointerLastVoted, l.Epoch, pointerRec{BlockID: l.BlockID, Height: l.Height, Epoch: l.Epoch})
}

func (tx *stateTx) LastProposedGet(epoch common.Epoch) (types.LastProposed, error) {
	rec, err := tx.pointerGet(pointerLastProposed, epoch)
	return types.LastProposed{BlockID: rec.BlockID, Height: rec.Height, Epoch: epoch}, err
}

func (tx *stateTx) LastProposedSet(l types.LastProposed) error {
	return tx.pointerSet(pointerLastProposed, l.Epoch, pointerRec{BlockID: l.BlockID, Height: l.Height, Epoch: l.Epoch})
}

func (tx *stateTx) HighQcGet(epoch common.Epoch) (types.HighQC, error) {
	rec, err := tx.pointerGet(pointerHighQC, epoch)
	return types.HighQC{QCID: rec.Extra, BlockID: rec.BlockID, BlockHeight: rec.Height, Epoch: epoch}, err
}

func (tx *stateTx) HighQcSet(h types.HighQC) error {
	return tx.pointerSet(pointerHighQC, h.Epoch, pointerRec{BlockID: h.BlockID, Height: h.BlockHeight, Epoch: h.Epoch, Extra: h.QCID})
}

// ---- transactions ----

func (tx *stateTx) TransactionsGet(id common.Hash) (*types.TransactionRecord, error) {
	var t types.TransactionRecord
	if err := tx.getRLP(mkKey(txPrefix, id.Bytes()), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (tx *stateTx) TransactionsExists(id common.Hash) (bool, error) {
	return tx.has(mkKey(txPrefix, id.Bytes()))
}

func (tx *stateTx) TransactionsInsert(t *types.TransactionRecord) error {
	return tx.putRLP(mkKey(txPrefix, t.TransactionID.Bytes()), t)
}

// ---- transaction pool ----

func (tx *stateTx) TransactionPoolGet(txID common.Hash) (*types.TransactionPoolRecord, error) {
	var r types.TransactionPoolRecord
	if err := tx.getRLP(mkKey(poolPrefix, txID.Bytes()), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (tx *stateTx) TransactionPoolExists(txID common.Hash) (bool, error) {
	return tx.has(mkKey(poolPrefix, txID.Bytes()))
}

func (tx *stateTx) TransactionPoolCount() (int, error) {
	count := 0
	err := tx.iteratePrefix(poolPrefix, func(_, _ []byte) (bool, error) {
		count++
		return true, nil
	})
	return count, err
}

func (tx *stateTx) TransactionPoolGetReady(max int) ([]*types.TransactionPoolRecord, error) {
	var records []*types.TransactionPoolRecord
	err := tx.iteratePrefix(poolReadyPrefix, func(_, value []byte) (bool, error) {
		rec, err := tx.TransactionPoolGet(common.BytesToHash(value))
		if err != nil {
			return false, err
		}
		records = append(records, rec)
		return len(records) < max, nil
	})
	return records, err
}

func (tx *stateTx) poolUpdateReadyIndex(r *types.TransactionPoolRecord, seq uint64) {
	key := mkKey(poolReadyPrefix, seqKey(seq))
	if r.Ready && !r.CurrentStage.IsFinal() {
		tx.put(key, r.TransactionID.Bytes())
	} else {
		tx.del(key)
	}
}

func (tx *stateTx) poolSeq(txID common.Hash) (uint64, error) {
	raw, err := tx.get(mkKey(poolSeqPrefix, txID.Bytes()))
	if err != nil {
		if err == database.ErrKeyNotFound {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (tx *stateTx) TransactionPoolInsert(r *types.TransactionPoolRecord) error {
	seq, err := tx.nextSeq()
	if err != nil {
		return err
	}
	tx.put(mkKey(poolSeqPrefix, r.TransactionID.Bytes()), seqKey(seq))
	tx.poolUpdateReadyIndex(r, seq)
	return tx.putRLP(mkKey(poolPrefix, r.TransactionID.Bytes()), r)
}

func (tx *stateTx) TransactionPoolUpdate(r *types.TransactionPoolRecord) error {
	seq, err := tx.poolSeq(r.TransactionID)
	if err != nil {
		return errors.Wrapf(err, "transaction %s not in pool", r.TransactionID.TerminalString())
	}
	tx.poolUpdateReadyIndex(r, seq)
	return tx.putRLP(mkKey(poolPrefix, r.TransactionID.Bytes()), r)
}

func (tx *stateTx) TransactionPoolRemove(txID common.Hash) error {
	seq, err := tx.poolSeq(txID)
	if err == nil {
		tx.del(mkKey(poolReadyPrefix, seqKey(seq)))
		tx.del(mkKey(poolSeqPrefix, txID.Bytes()))
	}
	tx.del(mkKey(poolPrefix, txID.Bytes()))
	tx.del(mkKey(conflictPrefix, txID.Bytes()))
	return nil
}

// ---- executions ----

// TransactionExecutionsGetPendingForBlock finds the speculative execution of
// txID produced by blockID or any of its uncommitted ancestors.
func (tx *stateTx) TransactionExecutionsGetPendingForBlock(txID, blockID common.Hash) (*types.BlockTransactionExecution, error) {
	cur := blockID
	for !cur.IsZero() {
		var exec types.TransactionExecution
		err := tx.getRLP(mkKey(execPrefix, cur.Bytes(), txID.Bytes()), &exec)
		if err == nil {
			return &types.BlockTransactionExecution{BlockID: cur, Execution: &exec}, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
		committed, err := tx.BlocksIsCommitted(cur)
		if err != nil {
			return nil, err
		}
		if committed {
			break
		}
		b, err := tx.BlocksGet(cur)
		if err != nil {
			if IsNotFound(err) {
				break
			}
			return nil, err
		}
		if b.IsZero() {
			break
		}
		cur = b.ParentID()
	}
	return nil, ErrNotFound
}

func (tx *stateTx) TransactionExecutionsInsert(blockID common.Hash, exec *types.TransactionExecution) error {
	return tx.putRLP(mkKey(execPrefix, blockID.Bytes(), exec.TransactionID.Bytes()), exec)
}

// ---- substates ----

func (tx *stateTx) SubstatesGet(id types.VersionedSubstateID) (*types.SubstateRecord, error) {
	var rec types.SubstateRecord
	if err := tx.getRLP(substateKey(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (tx *stateTx) SubstatesGetLatestVersion(id common.Hash) (uint32, error) {
	raw, err := tx.get(mkKey(substateLatestPrefix, id.Bytes()))
	if err != nil {
		if err == database.ErrKeyNotFound {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return binary.BigEndian.Uint32(raw), nil
}

func (tx *stateTx) SubstatesExistsAnyVersion(id common.Hash) (bool, error) {
	return tx.has(mkKey(substateLatestPrefix, id.Bytes()))
}

func (tx *stateTx) SubstatesCreate(rec *types.SubstateRecord) error {
	existing, err := tx.SubstatesGet(rec.VersionedID())
	if err != nil && !IsNotFound(err) {
		return err
	}
	if existing != nil && !existing.IsDestroyed() {
		return errors.Errorf("substate %s already exists", rec.VersionedID())
	}
	latest, err := tx.SubstatesGetLatestVersion(rec.SubstateID)
	if err != nil && !IsNotFound(err) {
		return err
	}
	if IsNotFound(err) || rec.Version >= latest {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], rec.Version)
		tx.put(mkKey(substateLatestPrefix, rec.SubstateID.Bytes()), buf[:])
	}
	return tx.putRLP(substateKey(rec.VersionedID()), rec)
}

func (tx *stateTx) SubstatesDestroy(id types.VersionedSubstateID, destroyed *types.SubstateDestroyed) error {
	rec, err := tx.SubstatesGet(id)
	if err != nil {
		return err
	}
	if rec.Destroyed != nil {
		// destroyed is monotone; keep the first destruction
		return nil
	}
	rec.Destroyed = destroyed
	return tx.putRLP(substateKey(id), rec)
}

// ---- substate locks ----

func (tx *stateTx) SubstateLocksGetByBlock(blockID common.Hash) ([]*types.SubstateLock, error) {
	var locks []*types.SubstateLock
	if err := tx.getRLP(mkKey(lockPrefix, blockID.Bytes()), &locks); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return locks, nil
}

func (tx *stateTx) SubstateLocksInsert(blockID common.Hash, locks []*types.SubstateLock) error {
	existing, err := tx.SubstateLocksGetByBlock(blockID)
	if err != nil {
		return err
	}
	return tx.putRLP(mkKey(lockPrefix, blockID.Bytes()), append(existing, locks...))
}

func (tx *stateTx) SubstateLocksRemoveByBlock(blockID common.Hash) error {
	tx.del(mkKey(lockPrefix, blockID.Bytes()))
	return nil
}

// ---- foreign proposals ----

func (tx *stateTx) ForeignProposalsGet(blockID common.Hash) (*types.ForeignProposal, error) {
	var fp types.ForeignProposal
	if err := tx.getRLP(mkKey(fpPrefix, blockID.Bytes()), &fp); err != nil {
		return nil, err
	}
	return &fp, nil
}

func (tx *stateTx) ForeignProposalsExists(blockID common.Hash) (bool, error) {
	return tx.has(mkKey(fpPrefix, blockID.Bytes()))
}

func (tx *stateTx) ForeignProposalsGetAllNew(max int) ([]*types.ForeignProposal, error) {
	var fps []*types.ForeignProposal
	err := tx.iteratePrefix(fpNewPrefix, func(_, value []byte) (bool, error) {
		fp, err := tx.ForeignProposalsGet(common.BytesToHash(value))
		if err != nil {
			return false, err
		}
		if fp.Status == types.ForeignProposalNew {
			fps = append(fps, fp)
		}
		return len(fps) < max, nil
	})
	return fps, err
}

func (tx *stateTx) ForeignProposalsUpsert(fp *types.ForeignProposal) error {
	blockID := fp.BlockID()
	exists, err := tx.has(mkKey(fpSeqPrefix, blockID.Bytes()))
	if err != nil {
		return err
	}
	if !exists {
		seq, err := tx.nextSeq()
		if err != nil {
			return err
		}
		tx.put(mkKey(fpSeqPrefix, blockID.Bytes()), seqKey(seq))
		if fp.Status == types.ForeignProposalNew {
			tx.put(mkKey(fpNewPrefix, seqKey(seq)), blockID.Bytes())
		}
	}
	return tx.putRLP(mkKey(fpPrefix, blockID.Bytes()), fp)
}

func (tx *stateTx) ForeignProposalsSetStatus(blockID common.Hash, status types.ForeignProposalStatus) error {
	fp, err := tx.ForeignProposalsGet(blockID)
	if err != nil {
		return err
	}
	fp.Status = status
	if status != types.ForeignProposalNew {
		if raw, err := tx.get(mkKey(fpSeqPrefix, blockID.Bytes())); err == nil {
			tx.del(mkKey(fpNewPrefix, raw))
		}
	}
	return tx.putRLP(mkKey(fpPrefix, blockID.Bytes()), fp)
}

func (tx *stateTx) ForeignSubstatePledgesGet(txID common.Hash) (types.SubstatePledges, error) {
	var pledges types.SubstatePledges
	if err := tx.getRLP(mkKey(pledgePrefix, txID.Bytes()), &pledges); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return pledges, nil
}

func (tx *stateTx) ForeignSubstatePledgesSave(txID common.Hash, pledges types.SubstatePledges) error {
	return tx.putRLP(mkKey(pledgePrefix, txID.Bytes()), pledges)
}

func (tx *stateTx) ForeignSubstatePledgesRemove(txID common.Hash) error {
	tx.del(mkKey(pledgePrefix, txID.Bytes()))
	return nil
}

func (tx *stateTx) ForeignSendCountersGet(blockID common.Hash) (types.ForeignIndexes, error) {
	var idx types.ForeignIndexes
	if err := tx.getRLP(mkKey(sendCtrPrefix, blockID.Bytes()), &idx); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return idx, nil
}

func (tx *stateTx) ForeignSendCountersSet(blockID common.Hash, indexes types.ForeignIndexes) error {
	return tx.putRLP(mkKey(sendCtrPrefix, blockID.Bytes()), indexes)
}

func (tx *stateTx) ForeignReceiveCounterGet(epoch common.Epoch, sg common.ShardGroup) (uint64, error) {
	raw, err := tx.get(mkKey(recvCtrPrefix, epochKey(epoch), shardGroupKey(sg)))
	if err != nil {
		if err == database.ErrKeyNotFound {
			return 0, nil
		}
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (tx *stateTx) ForeignReceiveCounterSet(epoch common.Epoch, sg common.ShardGroup, count uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], count)
	tx.put(mkKey(recvCtrPrefix, epochKey(epoch), shardGroupKey(sg)), buf[:])
	return nil
}

// ---- burnt utxos ----

func (tx *stateTx) BurntUtxosGet(commitment common.Hash) (*types.BurntUtxo, error) {
	var u types.BurntUtxo
	if err := tx.getRLP(mkKey(burntPrefix, commitment.Bytes()), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (tx *stateTx) BurntUtxosGetAllUnproposed(max int) ([]*types.BurntUtxo, error) {
	var utxos []*types.BurntUtxo
	err := tx.iteratePrefix(burntPrefix, func(_, value []byte) (bool, error) {
		var u types.BurntUtxo
		if err := rlp.DecodeBytes(value, &u); err != nil {
			return false, err
		}
		if !u.Proposed {
			utxos = append(utxos, &u)
		}
		return len(utxos) < max, nil
	})
	return utxos, err
}

func (tx *stateTx) BurntUtxosInsert(utxo *types.BurntUtxo) error {
	return tx.putRLP(mkKey(burntPrefix, utxo.Commitment.Bytes()), utxo)
}

func (tx *stateTx) BurntUtxosSetProposed(commitment common.Hash) error {
	var u types.BurntUtxo
	if err := tx.getRLP(mkKey(burntPrefix, commitment.Bytes()), &u); err != nil {
		return err
	}
	u.Proposed = true
	return tx.putRLP(mkKey(burntPrefix, commitment.Bytes()), &u)
}

func (tx *stateTx) BurntUtxosRemove(commitment common.Hash) error {
	tx.del(mkKey(burntPrefix, commitment.Bytes()))
	return nil
}

// ---- validator stats ----

func (tx *stateTx) ValidatorStatsGet(epoch common.Epoch, pk common.PublicKey) (*types.ValidatorConsensusStats, error) {
	var stats types.ValidatorConsensusStats
	err := tx.getRLP(mkKey(vstatsPrefix, epochKey(epoch), pk.Bytes()), &stats)
	if IsNotFound(err) {
		return &types.ValidatorConsensusStats{PublicKey: pk, Epoch: epoch}, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (tx *stateTx) statsPut(stats *types.ValidatorConsensusStats) error {
	return tx.putRLP(mkKey(vstatsPrefix, epochKey(stats.Epoch), stats.PublicKey.Bytes()), stats)
}

func (tx *stateTx) ValidatorStatsIncrementMissed(epoch common.Epoch, pk common.PublicKey, cap uint64) error {
	stats, err := tx.ValidatorStatsGet(epoch, pk)
	if err != nil {
		return err
	}
	if stats.MissedProposals < cap {
		stats.MissedProposals++
	}
	return tx.statsPut(stats)
}

func (tx *stateTx) ValidatorStatsResetMissed(epoch common.Epoch, pk common.PublicKey) error {
	stats, err := tx.ValidatorStatsGet(epoch, pk)
	if err != nil {
		return err
	}
	stats.MissedProposals = 0
	return tx.statsPut(stats)
}

func (tx *stateTx) ValidatorStatsIncrementShares(epoch common.Epoch, pk common.PublicKey) error {
	stats, err := tx.ValidatorStatsGet(epoch, pk)
	if err != nil {
		return err
	}
	stats.ParticipationShares++
	return tx.statsPut(stats)
}

func (tx *stateTx) ValidatorStatsGetNodesToEvict(epoch common.Epoch, threshold uint64, max int) ([]common.PublicKey, error) {
	var pks []common.PublicKey
	prefix := mkKey(vstatsPrefix, epochKey(epoch))
	err := tx.iteratePrefix(prefix, func(_, value []byte) (bool, error) {
		var stats types.ValidatorConsensusStats
		if err := rlp.DecodeBytes(value, &stats); err != nil {
			return false, err
		}
		if stats.MissedProposals < threshold {
			return true, nil
		}
		evicted, err := tx.EvictedNodesIsEvicted(epoch, stats.PublicKey)
		if err != nil {
			return false, err
		}
		if !evicted {
			pks = append(pks, stats.PublicKey)
		}
		return len(pks) < max, nil
	})
	return pks, err
}

func (tx *stateTx) EvictedNodesCount(epoch common.Epoch) (int, error) {
	count := 0
	err := tx.iteratePrefix(mkKey(evictedPrefix, epochKey(epoch)), func(_, _ []byte) (bool, error) {
		count++
		return true, nil
	})
	return count, err
}

func (tx *stateTx) EvictedNodesIsEvicted(epoch common.Epoch, pk common.PublicKey) (bool, error) {
	return tx.has(mkKey(evictedPrefix, epochKey(epoch), pk.Bytes()))
}

func (tx *stateTx) EvictedNodesInsert(epoch common.Epoch, pk common.PublicKey) error {
	tx.put(mkKey(evictedPrefix, epochKey(epoch), pk.Bytes()), []byte{1})
	return nil
}

// ---- pending state tree diffs ----

func (tx *stateTx) PendingStateTreeDiffsGetAllUpToCommitBlock(blockID common.Hash) ([]*types.PendingShardStateTreeDiff, error) {
	var chains [][]*types.PendingShardStateTreeDiff
	cur := blockID
	for !cur.IsZero() {
		committed, err := tx.BlocksIsCommitted(cur)
		if err != nil {
			return nil, err
		}
		if committed {
			break
		}
		var diffs []*types.PendingShardStateTreeDiff
		err = tx.getRLP(mkKey(treeDiffPrefix, cur.Bytes()), &diffs)
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
		chains = append(chains, diffs)
		b, err := tx.BlocksGet(cur)
		if err != nil {
			if IsNotFound(err) {
				break
			}
			return nil, err
		}
		if b.IsZero() {
			break
		}
		cur = b.ParentID()
	}
	// oldest ancestor first
	var out []*types.PendingShardStateTreeDiff
	for i := len(chains) - 1; i >= 0; i-- {
		out = append(out, chains[i]...)
	}
	return out, nil
}

func (tx *stateTx) PendingStateTreeDiffsInsert(diff *types.PendingShardStateTreeDiff) error {
	var diffs []*types.PendingShardStateTreeDiff
	err := tx.getRLP(mkKey(treeDiffPrefix, diff.BlockID.Bytes()), &diffs)
	if err != nil && !IsNotFound(err) {
		return err
	}
	diffs = append(diffs, diff)
	return tx.putRLP(mkKey(treeDiffPrefix, diff.BlockID.Bytes()), diffs)
}

func (tx *stateTx) PendingStateTreeDiffsRemoveByBlock(blockID common.Hash) error {
	tx.del(mkKey(treeDiffPrefix, blockID.Bytes()))
	return nil
}

// ---- durable state tree leaves ----

func (tx *stateTx) StateTreeLeavesGetByShard(shard common.Shard) ([]types.StateTreeChange, error) {
	var leaves []types.StateTreeChange
	prefix := mkKey(treeNodePrefix, shardKey(shard))
	err := tx.iteratePrefix(prefix, func(key, value []byte) (bool, error) {
		leaves = append(leaves, types.StateTreeChange{
			Key:       common.BytesToHash(key[len(prefix):]),
			ValueHash: common.BytesToHash(value),
		})
		return true, nil
	})
	return leaves, err
}

func (tx *stateTx) StateTreeLeavesApply(shard common.Shard, changes []types.StateTreeChange) error {
	for _, ch := range changes {
		key := mkKey(treeNodePrefix, shardKey(shard), ch.Key.Bytes())
		if ch.Deleted {
			tx.del(key)
			continue
		}
		tx.put(key, ch.ValueHash.Bytes())
	}
	return nil
}

// ---- lock conflicts ----

func (tx *stateTx) LockConflictsGetForTransaction(txID common.Hash) ([]*types.LockConflict, error) {
	var conflicts []*types.LockConflict
	if err := tx.getRLP(mkKey(conflictPrefix, txID.Bytes()), &conflicts); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return conflicts, nil
}

func (tx *stateTx) LockConflictsInsert(txID common.Hash, conflicts []*types.LockConflict) error {
	return tx.putRLP(mkKey(conflictPrefix, txID.Bytes()), conflicts)
}

func (tx *stateTx) LockConflictsRemoveForTransaction(txID common.Hash) error {
	tx.del(mkKey(conflictPrefix, txID.Bytes()))
	return nil
}

// ---- parked blocks ----

func (tx *stateTx) ParkedBlocksExists(blockID common.Hash) (bool, error) {
	return tx.has(mkKey(parkedPrefix, blockID.Bytes()))
}

func (tx *stateTx) ParkedBlocksInsert(blockID common.Hash, payload []byte) error {
	tx.put(mkKey(parkedPrefix, blockID.Bytes()), payload)
	return nil
}

func (tx *stateTx) ParkedBlocksRemove(blockID common.Hash) ([]byte, error) {
	raw, err := tx.get(mkKey(parkedPrefix, blockID.Bytes()))
	if err != nil {
		if err == database.ErrKeyNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	tx.del(mkKey(parkedPrefix, blockID.Bytes()))
	return raw, nil
}
