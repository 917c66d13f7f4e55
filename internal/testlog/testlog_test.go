package testlog

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

type mockT struct {
	out      bytes.Buffer
	cleanups []func()
}

func (t *mockT) Helper() {
	// noop for the purposes of unit tests
}

func (t *mockT) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	// The timestamp is locale-dependent, so we want to trim that off
	// "INFO [01-01|00:00:00.000] a message ..." -> "a message..."
	if i := strings.Index(line, "]"); i >= 0 {
		line = line[i+1:]
	}
	t.out.WriteString(strings.TrimSpace(line) + "\n")
}

func (t *mockT) Cleanup(f func()) {
	t.cleanups = append(t.cleanups, f)
}

func (t *mockT) finish() {
	for _, f := range t.cleanups {
		f()
	}
}

func TestLogging(t *testing.T) {
	mock := new(mockT)
	l := Logger(mock, log.LevelInfo)
	sub := l.New("foobar", 123)

	l.Info("Visible")
	sub.Info("Hide and seek")
	l.Debug("Filtered")
	l.Info("Also visible")

	lines := strings.Split(strings.TrimSpace(mock.out.String()), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "Visible", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "Hide and seek"))
	require.Contains(t, lines[1], "foobar=123")
	require.Equal(t, "Also visible", lines[2])
}

func TestLoggingAfterCleanup(t *testing.T) {
	mock := new(mockT)
	l := Logger(mock, log.LevelTrace)
	l.Trace("before")
	mock.finish()
	l.Info("after")

	require.Equal(t, "before\n", mock.out.String())
}
