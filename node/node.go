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

// Package node assembles a validator: storage, consensus worker, executor
// and transport.
package node

import (
	"context"
	"crypto/ed25519"
	"path/filepath"

	"github.com/vellumchain/vellum/consensus/hotstuff"
	"github.com/vellumchain/vellum/epoch"
	"github.com/vellumchain/vellum/execution"
	"github.com/vellumchain/vellum/log"
	"github.com/vellumchain/vellum/params"
	"github.com/vellumchain/vellum/protocol"
	"github.com/vellumchain/vellum/storage/database"
	"github.com/vellumchain/vellum/storage/state"
	"github.com/vellumchain/vellum/types"
)

var logger = log.NewModuleLogger(log.Node)

// Config is the validator node configuration.
type Config struct {
	DataDir          string
	DBType           database.DBType
	LevelDBCacheSize int
	LevelDBHandles   int

	Consensus params.ConsensusConfig
}

// DefaultConfig contains the default node configuration.
var DefaultConfig = Config{
	DataDir:          "vellum-data",
	DBType:           database.LevelDB,
	LevelDBCacheSize: 128,
	LevelDBHandles:   512,
	Consensus:        params.DefaultConsensusConfig,
}

// Node is a running validator.
type Node struct {
	config    Config
	db        database.Database
	store     state.Store
	worker    *hotstuff.Worker
	transport protocol.Transport
}

// New opens storage and wires the consensus worker. The transport and epoch
// manager are injected; the executor is the reference transfer executor
// unless a custom one is supplied.
func New(config Config, key ed25519.PrivateKey, epochs epoch.Manager, transport protocol.Transport, executor execution.Executor) (*Node, error) {
	config.Consensus = (&config.Consensus).Sanitize()

	db, err := database.NewDatabase(&database.DBConfig{
		Dir:              filepath.Join(config.DataDir, "state"),
		DBType:           config.DBType,
		LevelDBCacheSize: config.LevelDBCacheSize,
		LevelDBHandles:   config.LevelDBHandles,
	})
	if err != nil {
		return nil, err
	}

	if executor == nil {
		executor = execution.NewTransferExecutor(config.Consensus.NumPreshards)
	}

	store := state.NewStore(db)
	worker := hotstuff.NewWorker(config.Consensus, store, epochs, transport, executor, hotstuff.NewSigner(key))

	return &Node{
		config:    config,
		db:        db,
		store:     store,
		worker:    worker,
		transport: transport,
	}, nil
}

func (n *Node) Start(ctx context.Context) error {
	logger.Info("Starting vellum node", "datadir", n.config.DataDir)
	return n.worker.Start(ctx)
}

func (n *Node) Stop() {
	n.worker.Stop()
	n.transport.Close()
	n.store.Close()
	logger.Info("Node stopped")
}

// SubmitTransaction hands a transaction to the consensus worker.
func (n *Node) SubmitTransaction(rec *types.TransactionRecord) error {
	return n.worker.SubmitTransaction(rec)
}

// SubmitBurntUtxo registers a base-layer burn for minting.
func (n *Node) SubmitBurntUtxo(utxo *types.BurntUtxo) error {
	return n.worker.SubmitBurntUtxo(utxo)
}

// Store exposes read access for RPC and tooling.
func (n *Node) Store() state.Store { return n.store }

// Worker exposes the consensus worker for tests and tooling.
func (n *Node) Worker() *hotstuff.Worker { return n.worker }
