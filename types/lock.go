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

package types

import (
	"fmt"

	"github.com/vellumchain/vellum/common"
)

// LockType is the intent a transaction declares over a substate version.
type LockType uint8

const (
	LockRead LockType = iota
	LockWrite
	LockOutput
)

func (lt LockType) IsWrite() bool  { return lt == LockWrite }
func (lt LockType) IsRead() bool   { return lt == LockRead }
func (lt LockType) IsOutput() bool { return lt == LockOutput }

func (lt LockType) String() string {
	switch lt {
	case LockRead:
		return "Read"
	case LockWrite:
		return "Write"
	case LockOutput:
		return "Output"
	default:
		return fmt.Sprintf("LockType(%d)", uint8(lt))
	}
}

// SubstateLock is a lock held by a transaction over a substate version for
// the duration of an uncommitted block chain. At most one Write or Output
// lock may exist per versioned id across the chain.
type SubstateLock struct {
	SubstateID    common.Hash
	Version       uint32
	TransactionID common.Hash
	BlockID       common.Hash
	Lock          LockType
	IsLocalOnly   bool
}

func (l *SubstateLock) VersionedID() VersionedSubstateID {
	return VersionedSubstateID{ID: l.SubstateID, Version: l.Version}
}

// LockConflictKind distinguishes hard conflicts (the requester aborts) from
// soft conflicts (the requester is deferred and retried).
type LockConflictKind uint8

const (
	// LockConflictHard: a Write or Output request hit an existing lock, or
	// any request hit an Output lock. The requesting transaction is aborted
	// locally.
	LockConflictHard LockConflictKind = iota
	// LockConflictSoft: a Read request hit an existing Write. The requesting
	// transaction is deferred until the holder finalizes.
	LockConflictSoft
)

// LockConflict describes a failed lock acquisition.
type LockConflict struct {
	ID            VersionedSubstateID
	TransactionID common.Hash // requester
	HeldBy        common.Hash // current lock holder
	Requested     LockType
	Existing      LockType
	Kind          LockConflictKind
}

func (c *LockConflict) IsHard() bool { return c.Kind == LockConflictHard }

func (c *LockConflict) Error() string {
	return fmt.Sprintf("lock conflict on %s: %s requested by %s, %s held by %s",
		c.ID, c.Requested, c.TransactionID.TerminalString(), c.Existing, c.HeldBy.TerminalString())
}

// LockStatus is the result of a batch lock acquisition.
type LockStatus struct {
	conflicts    []*LockConflict
	hardConflict bool
}

func (s *LockStatus) AddConflict(c *LockConflict) {
	s.conflicts = append(s.conflicts, c)
	if c.IsHard() {
		s.hardConflict = true
	}
}

func (s *LockStatus) IsAcquired() bool { return len(s.conflicts) == 0 }

func (s *LockStatus) IsAnyFailed() bool { return len(s.conflicts) > 0 }

// IsHardConflict reports whether any item failed with a hard conflict.
func (s *LockStatus) IsHardConflict() bool { return s.hardConflict }

func (s *LockStatus) Conflicts() []*LockConflict { return s.conflicts }

func (s *LockStatus) FirstConflict() *LockConflict {
	if len(s.conflicts) == 0 {
		return nil
	}
	return s.conflicts[0]
}
