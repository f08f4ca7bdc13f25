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

package protocol

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/log"
)

var logger = log.NewModuleLogger(log.Protocol)

// ErrVersionMismatch is returned for frames from an incompatible protocol
// version.
var ErrVersionMismatch = errors.New("protocol: version mismatch")

// InboundMessage is a decoded frame with its sender.
type InboundMessage struct {
	From    common.PublicKey
	Code    uint64
	Message interface{}
}

// Transport is the peer-to-peer surface the consensus worker depends on.
// Sends are fire-and-forget: transport errors are logged, never surfaced as
// consensus failures; the pacemaker recovers via timeouts.
type Transport interface {
	// Send delivers msg to a single peer.
	Send(ctx context.Context, to common.PublicKey, msg interface{}) error
	// Multicast delivers msg to every member, self first when present.
	Multicast(ctx context.Context, members []common.PublicKey, msg interface{}) error
	// Messages is the inbound stream.
	Messages() <-chan InboundMessage
	Close()
}

// frame is the length-delimited, versioned wire envelope.
type frame struct {
	Version uint64
	Code    uint64
	Payload []byte
}

// EncodeMessage wraps a message into its wire frame.
func EncodeMessage(msg interface{}) ([]byte, error) {
	code, err := CodeOf(msg)
	if err != nil {
		return nil, err
	}
	payload, err := rlp.EncodeToBytes(msg)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&frame{Version: ProtocolVersion, Code: code, Payload: payload})
}

// DecodeMessage unwraps a wire frame.
func DecodeMessage(data []byte) (uint64, interface{}, error) {
	var f frame
	if err := rlp.DecodeBytes(data, &f); err != nil {
		return 0, nil, err
	}
	if f.Version != ProtocolVersion {
		return 0, nil, ErrVersionMismatch
	}
	msg, err := NewMessage(f.Code)
	if err != nil {
		return 0, nil, err
	}
	if err := rlp.DecodeBytes(f.Payload, msg); err != nil {
		return 0, nil, err
	}
	return f.Code, msg, nil
}

// InprocNetwork connects transports in-process through the wire codec. Local
// clusters and the test suite run over it; every message round-trips through
// EncodeMessage/DecodeMessage so the codec is exercised end to end.
type InprocNetwork struct {
	mu    sync.RWMutex
	nodes map[common.PublicKey]*inprocTransport
}

func NewInprocNetwork() *InprocNetwork {
	return &InprocNetwork{nodes: make(map[common.PublicKey]*inprocTransport)}
}

// Join registers a node and returns its transport.
func (n *InprocNetwork) Join(pk common.PublicKey) Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := &inprocTransport{
		network: n,
		self:    pk,
		inbound: make(chan InboundMessage, 1024),
	}
	n.nodes[pk] = t
	return t
}

// Disconnect removes a node; messages to it are dropped, simulating an
// offline validator.
func (n *InprocNetwork) Disconnect(pk common.PublicKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, pk)
}

func (n *InprocNetwork) deliver(from, to common.PublicKey, data []byte) {
	n.mu.RLock()
	t, ok := n.nodes[to]
	n.mu.RUnlock()
	if !ok {
		return
	}
	code, msg, err := DecodeMessage(data)
	if err != nil {
		logger.Error("Dropping undecodable frame", "from", from.Hex(), "err", err)
		return
	}
	select {
	case t.inbound <- InboundMessage{From: from, Code: code, Message: msg}:
	default:
		logger.Warn("Inbound queue full, dropping message", "to", to.Hex(), "code", code)
	}
}

type inprocTransport struct {
	network *InprocNetwork
	self    common.PublicKey
	inbound chan InboundMessage
	closed  sync.Once
}

func (t *inprocTransport) Send(_ context.Context, to common.PublicKey, msg interface{}) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	t.network.deliver(t.self, to, data)
	return nil
}

func (t *inprocTransport) Multicast(ctx context.Context, members []common.PublicKey, msg interface{}) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	// self first so the leader processes its own proposal before the
	// committee's votes can arrive
	ordered := make([]common.PublicKey, 0, len(members))
	for _, pk := range members {
		if pk == t.self {
			ordered = append([]common.PublicKey{pk}, ordered...)
			continue
		}
		ordered = append(ordered, pk)
	}
	for _, pk := range ordered {
		t.network.deliver(t.self, pk, bytes.Clone(data))
	}
	return nil
}

func (t *inprocTransport) Messages() <-chan InboundMessage { return t.inbound }

func (t *inprocTransport) Close() {
	t.closed.Do(func() {
		t.network.Disconnect(t.self)
	})
}
