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

// Package log provides per-module structured loggers backed by zap.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ModuleID identifies the subsystem a logger reports for.
type ModuleID int

const (
	Common ModuleID = iota
	Params
	Types
	StorageDatabase
	StorageState
	StateTree
	TxPool
	ConsensusCommittee
	ConsensusHotstuff
	Protocol
	Epoch
	Execution
	Node
	CMD
)

var moduleNames = [...]string{
	"common", "params", "types", "storage.database", "storage.state",
	"statetree", "txpool", "consensus.committee", "consensus.hotstuff",
	"protocol", "epoch", "execution", "node", "cmd",
}

func (m ModuleID) String() string {
	if int(m) < len(moduleNames) {
		return moduleNames[m]
	}
	return "unknown"
}

// Logger is the logging interface handed out to modules. Key/value pairs
// follow the msg argument: logger.Info("msg", "key", value, ...).
type Logger interface {
	NewWith(keysAndValues ...interface{}) Logger
	Trace(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Crit(msg string, keysAndValues ...interface{})
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

var (
	rootMu   sync.Mutex
	root     *zap.SugaredLogger
	minLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func rootLogger() *zap.SugaredLogger {
	rootMu.Lock()
	defer rootMu.Unlock()
	if root == nil {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), minLevel)
		root = zap.New(core).Sugar()
	}
	return root
}

// ChangeGlobalLogLevel adjusts the level for all module loggers at once.
func ChangeGlobalLogLevel(level zapcore.Level) {
	minLevel.SetLevel(level)
}

// EnableDebug lowers the global level to debug. Used by the --verbosity flag.
func EnableDebug() {
	ChangeGlobalLogLevel(zapcore.DebugLevel)
}

// NewModuleLogger returns a logger tagged with the given module.
func NewModuleLogger(mi ModuleID) Logger {
	return &zapLogger{sugar: rootLogger().With("module", mi.String())}
}

// New returns a root-level logger with the given context.
func New(keysAndValues ...interface{}) Logger {
	return &zapLogger{sugar: rootLogger().With(keysAndValues...)}
}

func (l *zapLogger) NewWith(keysAndValues ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(keysAndValues...)}
}

// Trace maps onto zap's debug level; zap has no level below debug.
func (l *zapLogger) Trace(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

// Crit logs at error level and exits. Reserved for unrecoverable invariant
// violations surfaced by the consensus worker.
func (l *zapLogger) Crit(msg string, kv ...interface{}) {
	l.sugar.Errorw(msg, kv...)
	os.Exit(1)
}
