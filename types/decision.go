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

import "fmt"

// AbortReason records why a transaction was aborted.
type AbortReason uint8

const (
	AbortNone AbortReason = iota
	AbortExecutionFailure
	AbortForeignShardGroupDecidedToAbort
	AbortFailedToLockInputs
	AbortFailedToLockOutputs
	AbortInputsDowned
	AbortEarlyAbort
)

func (r AbortReason) String() string {
	switch r {
	case AbortNone:
		return "None"
	case AbortExecutionFailure:
		return "ExecutionFailure"
	case AbortForeignShardGroupDecidedToAbort:
		return "ForeignShardGroupDecidedToAbort"
	case AbortFailedToLockInputs:
		return "FailedToLockInputs"
	case AbortFailedToLockOutputs:
		return "FailedToLockOutputs"
	case AbortInputsDowned:
		return "InputsDowned"
	case AbortEarlyAbort:
		return "EarlyAbort"
	default:
		return fmt.Sprintf("AbortReason(%d)", uint8(r))
	}
}

// Decision is the outcome of a transaction: Commit, or Abort with a reason.
type Decision struct {
	Aborted bool
	Reason  AbortReason
}

func Commit() Decision { return Decision{} }

func Abort(reason AbortReason) Decision {
	return Decision{Aborted: true, Reason: reason}
}

func (d Decision) IsCommit() bool { return !d.Aborted }

func (d Decision) IsAbort() bool { return d.Aborted }

// IsSameOutcome reports whether two decisions agree on commit vs abort,
// ignoring the abort reason. A local ExecutionFailure and a foreign
// ForeignShardGroupDecidedToAbort are the same outcome.
func (d Decision) IsSameOutcome(other Decision) bool {
	return d.Aborted == other.Aborted
}

// And combines two decisions: any abort wins. The left reason is kept when
// both abort.
func (d Decision) And(other Decision) Decision {
	if d.Aborted {
		return d
	}
	return other
}

func (d Decision) String() string {
	if d.Aborted {
		return fmt.Sprintf("Abort(%s)", d.Reason)
	}
	return "Commit"
}
