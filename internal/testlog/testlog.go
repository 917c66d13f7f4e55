// Copyright 2019 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package testlog provides a log handler for unit tests.
package testlog

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// T is the part of testing.TB used by the logger.
type T interface {
	Helper()
	Logf(format string, args ...any)
}

// cleaner is implemented by *testing.T and *testing.B.
type cleaner interface {
	Cleanup(func())
}

// writer forwards every formatted record to the unit test log. Output produced
// after the test has finished is discarded, since background goroutines of the
// code under test may still be logging.
type writer struct {
	t    T
	mu   sync.Mutex
	done bool
}

func (w *writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.t.Helper()
		w.t.Logf("%s", bytes.TrimRight(p, "\n"))
	}
	return len(p), nil
}

// Handler returns a log handler which logs to the unit test log of t.
func Handler(t T, level slog.Level) slog.Handler {
	w := &writer{t: t}
	if c, ok := t.(cleaner); ok {
		c.Cleanup(func() {
			w.mu.Lock()
			w.done = true
			w.mu.Unlock()
		})
	}
	return log.NewTerminalHandlerWithLevel(w, level, false)
}

// Logger returns a logger which logs to the unit test log of t.
func Logger(t T, level slog.Level) log.Logger {
	return log.NewLogger(Handler(t, level))
}
