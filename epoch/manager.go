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

// Package epoch defines the committee-membership manager the consensus core
// consumes, and a static implementation for fixed-membership networks and
// tests.
package epoch

import (
	"context"
	"errors"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/consensus/committee"
)

// ErrUnknownShardGroup is returned when no committee is registered for the
// requested (epoch, shard group).
var ErrUnknownShardGroup = errors.New("epoch: unknown shard group")

// BaseLayerBlockInfo anchors proposals to the layer-1 chain.
type BaseLayerBlockInfo struct {
	Height uint64
	Hash   common.Hash
}

// Manager maps epochs onto committees. Implementations may consult the base
// layer; all methods take a context.
type Manager interface {
	CurrentEpoch(ctx context.Context) (common.Epoch, error)
	CurrentBaseLayerBlockInfo(ctx context.Context) (BaseLayerBlockInfo, error)
	// GetCommitteeByShardGroup resolves the committee owning sg in the given
	// epoch.
	GetCommitteeByShardGroup(ctx context.Context, epoch common.Epoch, sg common.ShardGroup) (*committee.Committee, error)
	// LocalCommittee resolves the committee this node belongs to.
	LocalCommittee(ctx context.Context, epoch common.Epoch) (*committee.Committee, error)
	// AllShardGroups enumerates the shard groups active in an epoch.
	AllShardGroups(ctx context.Context, epoch common.Epoch) ([]common.ShardGroup, error)
	// IsEpochActive reports whether consensus should still run in epoch; a
	// false result makes the pacemaker propose EndEpoch.
	IsEpochActive(ctx context.Context, epoch common.Epoch) (bool, error)
}

// StaticManager is a Manager with fixed membership, used by local networks
// and the test suite.
type StaticManager struct {
	epoch      common.Epoch
	baseLayer  BaseLayerBlockInfo
	localSG    common.ShardGroup
	committees map[common.ShardGroup]*committee.Committee
	epochEnded bool
}

func NewStaticManager(epoch common.Epoch, localSG common.ShardGroup, committees []*committee.Committee) *StaticManager {
	m := &StaticManager{
		epoch:      epoch,
		localSG:    localSG,
		committees: make(map[common.ShardGroup]*committee.Committee),
	}
	for _, c := range committees {
		m.committees[c.ShardGroup()] = c
	}
	return m
}

func (m *StaticManager) SetBaseLayerBlockInfo(info BaseLayerBlockInfo) { m.baseLayer = info }

// EndEpoch flips the epoch inactive; the next proposal will be EndEpoch.
func (m *StaticManager) EndEpoch() { m.epochEnded = true }

func (m *StaticManager) CurrentEpoch(context.Context) (common.Epoch, error) {
	return m.epoch, nil
}

func (m *StaticManager) CurrentBaseLayerBlockInfo(context.Context) (BaseLayerBlockInfo, error) {
	return m.baseLayer, nil
}

func (m *StaticManager) GetCommitteeByShardGroup(_ context.Context, epoch common.Epoch, sg common.ShardGroup) (*committee.Committee, error) {
	if epoch != m.epoch {
		return nil, ErrUnknownShardGroup
	}
	c, ok := m.committees[sg]
	if !ok {
		return nil, ErrUnknownShardGroup
	}
	return c, nil
}

func (m *StaticManager) LocalCommittee(ctx context.Context, epoch common.Epoch) (*committee.Committee, error) {
	return m.GetCommitteeByShardGroup(ctx, epoch, m.localSG)
}

func (m *StaticManager) AllShardGroups(context.Context, common.Epoch) ([]common.ShardGroup, error) {
	sgs := make([]common.ShardGroup, 0, len(m.committees))
	for sg := range m.committees {
		sgs = append(sgs, sg)
	}
	return sgs, nil
}

func (m *StaticManager) IsEpochActive(context.Context, common.Epoch) (bool, error) {
	return !m.epochEnded, nil
}
