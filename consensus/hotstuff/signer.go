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
	"crypto/ed25519"

	"github.com/vellumchain/vellum/common"
)

// Signer holds this validator's consensus identity.
type Signer struct {
	priv ed25519.PrivateKey
	pub  common.PublicKey
}

func NewSigner(priv ed25519.PrivateKey) *Signer {
	return &Signer{
		priv: priv,
		pub:  common.BytesToPublicKey(priv.Public().(ed25519.PublicKey)),
	}
}

// GenerateSigner creates a fresh identity; local networks and tests.
func GenerateSigner() *Signer {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(err)
	}
	return NewSigner(priv)
}

func (s *Signer) PublicKey() common.PublicKey { return s.pub }

func (s *Signer) Sign(hash common.Hash) []byte {
	return ed25519.Sign(s.priv, hash.Bytes())
}

// Verify checks a signature over hash against pk.
func Verify(pk common.PublicKey, hash common.Hash, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pk.Bytes()), hash.Bytes(), sig)
}
