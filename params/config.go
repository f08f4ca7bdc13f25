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

package params

import (
	"time"

	"github.com/vellumchain/vellum/log"
)

var logger = log.NewModuleLogger(log.Params)

const (
	// DefaultNumPreshards is the fixed subdivision of the keyspace.
	DefaultNumPreshards uint32 = 256

	// DefaultMaxBlockSize bounds the cost-weighted number of commands in a
	// proposal. Foreign proposals cost 4 units each, everything else 1.
	DefaultMaxBlockSize = 500

	// DefaultFeeExhaustDivisor determines the portion of the transaction fee
	// burnt when the leader-fee division leaves a remainder.
	DefaultFeeExhaustDivisor uint64 = 20

	// DefaultMissedProposalEvictThreshold is the missed-proposal count at
	// which a leader becomes eligible for eviction.
	DefaultMissedProposalEvictThreshold uint64 = 5

	// DefaultMaxMissedProposalsCap caps the per-validator missed counter so a
	// recovering node can work its way back down.
	DefaultMaxMissedProposalsCap uint64 = 10

	// DefaultPacemakerBlockTime is the per-view timeout before a NewView is
	// broadcast for the next leader.
	DefaultPacemakerBlockTime = 10 * time.Second
)

// ConsensusConfig collects the tunables of the consensus core. All values are
// network-wide constants; mismatched values across validators make nodes
// refuse each other's blocks.
type ConsensusConfig struct {
	NumPreshards                 uint32
	MaxBlockSize                 int
	FeeExhaustDivisor            uint64
	MissedProposalEvictThreshold uint64
	MaxMissedProposalsCap        uint64
	PacemakerBlockTime           time.Duration
}

// DefaultConsensusConfig contains the default configuration of the consensus
// core.
var DefaultConsensusConfig = ConsensusConfig{
	NumPreshards:                 DefaultNumPreshards,
	MaxBlockSize:                 DefaultMaxBlockSize,
	FeeExhaustDivisor:            DefaultFeeExhaustDivisor,
	MissedProposalEvictThreshold: DefaultMissedProposalEvictThreshold,
	MaxMissedProposalsCap:        DefaultMaxMissedProposalsCap,
	PacemakerBlockTime:           DefaultPacemakerBlockTime,
}

// Sanitize checks the provided user configuration and changes anything that's
// unreasonable or unworkable.
func (config *ConsensusConfig) Sanitize() ConsensusConfig {
	conf := *config
	if conf.NumPreshards == 0 {
		logger.Error("Sanitizing invalid preshard count", "provided", conf.NumPreshards, "updated", DefaultNumPreshards)
		conf.NumPreshards = DefaultNumPreshards
	}
	if conf.MaxBlockSize <= 0 {
		logger.Error("Sanitizing invalid max block size", "provided", conf.MaxBlockSize, "updated", DefaultMaxBlockSize)
		conf.MaxBlockSize = DefaultMaxBlockSize
	}
	if conf.FeeExhaustDivisor == 0 {
		conf.FeeExhaustDivisor = DefaultFeeExhaustDivisor
	}
	if conf.MissedProposalEvictThreshold == 0 {
		conf.MissedProposalEvictThreshold = DefaultMissedProposalEvictThreshold
	}
	if conf.MaxMissedProposalsCap < conf.MissedProposalEvictThreshold {
		logger.Error("Sanitizing missed proposal cap below evict threshold",
			"provided", conf.MaxMissedProposalsCap, "updated", conf.MissedProposalEvictThreshold*2)
		conf.MaxMissedProposalsCap = conf.MissedProposalEvictThreshold * 2
	}
	if conf.PacemakerBlockTime < time.Second {
		logger.Error("Sanitizing invalid pacemaker block time", "provided", conf.PacemakerBlockTime, "updated", DefaultPacemakerBlockTime)
		conf.PacemakerBlockTime = DefaultPacemakerBlockTime
	}
	return conf
}
