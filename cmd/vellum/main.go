// Copyright 2025 The vellum Authors
// This file is part of vellum.
//
// vellum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// vellum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with vellum. If not, see <http://www.gnu.org/licenses/>.

// vellum is the command-line entry point for a single-committee local
// validator network. It exists for development and soak testing; production
// deployments embed the node package directly.
package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/naoina/toml"
	"github.com/urfave/cli"

	"github.com/vellumchain/vellum/common"
	"github.com/vellumchain/vellum/consensus/committee"
	"github.com/vellumchain/vellum/epoch"
	"github.com/vellumchain/vellum/log"
	"github.com/vellumchain/vellum/node"
	"github.com/vellumchain/vellum/protocol"
	"github.com/vellumchain/vellum/storage/database"
)

var logger = log.NewModuleLogger(log.CMD)

var (
	dataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the databases",
		Value: node.DefaultConfig.DataDir,
	}
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	dbTypeFlag = cli.StringFlag{
		Name:  "db.type",
		Usage: "Database backend (leveldb, badger, memory)",
		Value: "leveldb",
	}
	validatorsFlag = cli.IntFlag{
		Name:  "validators",
		Usage: "Size of the local committee",
		Value: 4,
	}
	verbosityFlag = cli.BoolFlag{
		Name:  "verbosity",
		Usage: "Enable debug logging",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "vellum"
	app.Usage = "sharded BFT consensus validator"
	app.Flags = []cli.Flag{dataDirFlag, configFileFlag, dbTypeFlag, validatorsFlag, verbosityFlag}
	app.Action = runLocalNetwork

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type tomlConfig struct {
	Node node.Config
}

func loadConfig(path string, cfg *node.Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var wrapped tomlConfig
	if err := toml.NewDecoder(f).Decode(&wrapped); err != nil {
		return err
	}
	*cfg = wrapped.Node
	return nil
}

func parseDBType(s string) database.DBType {
	switch s {
	case "badger":
		return database.BadgerDB
	case "memory":
		return database.MemoryDB
	default:
		return database.LevelDB
	}
}

// runLocalNetwork boots an in-process committee over the in-proc transport.
func runLocalNetwork(ctx *cli.Context) error {
	if ctx.Bool(verbosityFlag.Name) {
		log.EnableDebug()
	}

	cfg := node.DefaultConfig
	if path := ctx.String(configFileFlag.Name); path != "" {
		if err := loadConfig(path, &cfg); err != nil {
			return fmt.Errorf("config %s: %v", path, err)
		}
	}
	cfg.DataDir = ctx.String(dataDirFlag.Name)
	cfg.DBType = parseDBType(ctx.String(dbTypeFlag.Name))

	n := ctx.Int(validatorsFlag.Name)
	if n < 1 {
		return fmt.Errorf("invalid committee size %d", n)
	}

	keys := make([]ed25519.PrivateKey, n)
	members := make([]committee.Member, n)
	for i := 0; i < n; i++ {
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return err
		}
		keys[i] = priv
		members[i] = committee.Member{PublicKey: common.BytesToPublicKey(pub)}
	}

	sg := common.AllShardsGroup(cfg.Consensus.NumPreshards)
	com := committee.New(1, sg, cfg.Consensus.NumPreshards, members)
	epochs := epoch.NewStaticManager(1, sg, []*committee.Committee{com})
	network := protocol.NewInprocNetwork()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodes := make([]*node.Node, n)
	for i := 0; i < n; i++ {
		nodeCfg := cfg
		nodeCfg.DataDir = filepath.Join(cfg.DataDir, fmt.Sprintf("validator-%d", i))
		nd, err := node.New(nodeCfg, keys[i], epochs, network.Join(members[i].PublicKey), nil)
		if err != nil {
			return err
		}
		nodes[i] = nd
		if err := nd.Start(runCtx); err != nil {
			return err
		}
	}
	logger.Info("Local network running", "validators", n)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutting down")
	for _, nd := range nodes {
		nd.Stop()
	}
	return nil
}
