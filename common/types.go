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

package common

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	// HashLength is the expected length of content-addressed identifiers.
	HashLength = 32
	// PublicKeyLength is the expected length of validator public keys.
	PublicKeyLength = 32
)

// Hash is a 32-byte content-addressed identifier.
type Hash [HashLength]byte

// PublicKey is a validator's ed25519 public key.
type PublicKey [PublicKeyLength]byte

// BytesToHash sets b to hash, left-truncating if necessary.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// HexToHash parses a hex string, with or without 0x prefix, into a Hash.
func HexToHash(s string) Hash {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, _ := hex.DecodeString(s)
	return BytesToHash(b)
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// IsZero reports whether the hash is the zero value. The zero hash is used as
// the "unset" marker for optional QC references.
func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) String() string { return h.Hex() }

// TerminalString formats the hash for log output.
func (h Hash) TerminalString() string {
	return fmt.Sprintf("%x…%x", h[:3], h[29:])
}

func BytesToPublicKey(b []byte) PublicKey {
	var pk PublicKey
	if len(b) > PublicKeyLength {
		b = b[len(b)-PublicKeyLength:]
	}
	copy(pk[PublicKeyLength-len(b):], b)
	return pk
}

func (pk PublicKey) Bytes() []byte { return pk[:] }

func (pk PublicKey) Hex() string { return "0x" + hex.EncodeToString(pk[:]) }

func (pk PublicKey) String() string { return pk.Hex() }

func (pk PublicKey) IsZero() bool { return pk == PublicKey{} }

// Blake2bHash computes the canonical 32-byte content hash over the given
// byte segments.
func Blake2bHash(segments ...[]byte) Hash {
	h, _ := blake2b.New256(nil)
	for _, seg := range segments {
		h.Write(seg)
	}
	return BytesToHash(h.Sum(nil))
}

// Epoch is a monotonic epoch counter. Committee composition is constant
// within an epoch.
type Epoch uint64

func (e Epoch) Uint64() uint64 { return uint64(e) }

func (e Epoch) String() string { return fmt.Sprintf("epoch %d", uint64(e)) }

// Height is a block height within a chain.
type Height uint64

func (h Height) Uint64() uint64 { return uint64(h) }

// Saturating subtraction; heights never wrap below zero.
func (h Height) Sub(n uint64) Height {
	if uint64(h) < n {
		return 0
	}
	return Height(uint64(h) - n)
}

func (h Height) String() string { return fmt.Sprintf("height %d", uint64(h)) }
