// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package enginetest

import (
	"log/slog"

	"github.com/gogpu/webtex/internal/logging"
)

var logger logging.Logger

// SetLogger sets the logger for the fake engine.
// Pass nil to disable logging.
func SetLogger(l *slog.Logger) { logger.Set(l) }

func slogger() *slog.Logger { return logger.Get() }
