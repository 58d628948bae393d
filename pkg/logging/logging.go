// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging builds the structured logger every package threads
// through as a logr.Logger, the way the teacher bridges its backend
// behind logr for controller-runtime interop — here the backend is
// always zap.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logr.Logger backed by zap. development enables
// human-readable console output and debug level; production uses JSON
// at info level, the way a deployed reconciler run would.
func New(development bool) (logr.Logger, func(), error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	zl, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, nil, err
	}
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}

// WithRun returns a child logger tagged with the run's team and mode,
// so every line emitted during one orchestrate/differential_sync
// invocation can be correlated.
func WithRun(log logr.Logger, correlationID, teamID, mode string) logr.Logger {
	return log.WithValues("correlationId", correlationID, "teamId", teamID, "mode", mode)
}
