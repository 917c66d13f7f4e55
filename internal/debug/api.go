// Copyright 2016 The go-ethereum Authors
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

// Package debug sets up logging and profiling for the command line tools.
package debug

import (
	"errors"
	"os"
	"runtime/pprof"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Handler is the global debugging handler.
var Handler = new(HandlerT)

var errNoCPUProfile = errors.New("CPU profiling not in progress")

// HandlerT holds the log verbosity and the profiles started from the command
// line.
// Do not create values of this type, use the one in the Handler variable
// instead.
type HandlerT struct {
	mu      sync.Mutex
	cpuFile *os.File
}

// Verbosity sets the log verbosity ceiling. The verbosity of individual
// packages and source files can be raised using Vmodule.
func (*HandlerT) Verbosity(level int) {
	glogger.Verbosity(log.FromLegacyLevel(level))
}

// Vmodule sets the log verbosity pattern. See package log for details on
// pattern syntax.
func (*HandlerT) Vmodule(pattern string) error {
	return glogger.Vmodule(pattern)
}

// StartCPUProfile turns on CPU profiling, writing to the given file.
func (h *HandlerT) StartCPUProfile(file string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cpuFile != nil {
		return errors.New("CPU profiling already in progress")
	}
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return err
	}
	h.cpuFile = f
	log.Info("CPU profiling started", "dump", file)
	return nil
}

// StopCPUProfile stops an ongoing CPU profile.
func (h *HandlerT) StopCPUProfile() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	pprof.StopCPUProfile()
	if h.cpuFile == nil {
		return errNoCPUProfile
	}
	log.Info("Done writing CPU profile", "dump", h.cpuFile.Name())
	err := h.cpuFile.Close()
	h.cpuFile = nil
	return err
}

// WriteMemProfile writes an allocation profile to the given file.
func (*HandlerT) WriteMemProfile(file string) error {
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	defer f.Close()
	return pprof.Lookup("heap").WriteTo(f, 0)
}
