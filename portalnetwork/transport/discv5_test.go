package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/portal-network/go-portal/internal/testlog"
	"github.com/stretchr/testify/require"
)

func startDiscv5(t *testing.T) *Discv5Transport {
	t.Helper()
	tr, err := New(Config{
		ListenAddr: "127.0.0.1:0",
		Log:        testlog.Logger(t, log.LevelDebug),
	})
	require.NoError(t, err)
	require.NoError(t, tr.Start(""))
	t.Cleanup(tr.Close)
	return tr
}

func TestDiscv5DoubleStart(t *testing.T) {
	tr := startDiscv5(t)
	require.ErrorIs(t, tr.Start(""), ErrAlreadyStarted)
	require.NotZero(t, tr.Self().UDP())
}

func TestDiscv5NotStarted(t *testing.T) {
	tr, err := New(Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.TalkRequest(context.Background(), tr.Self(), "\x50\x0a", []byte{1})
	require.ErrorIs(t, err, ErrNotStarted)
	_, err = tr.DiscoverNodes(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestDiscv5TalkRequest(t *testing.T) {
	a := startDiscv5(t)
	b := startDiscv5(t)

	ch, err := b.Subscribe("\x50\x0a")
	require.NoError(t, err)
	go serveEcho(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := a.TalkRequest(ctx, b.Self(), "\x50\x0a", []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, []byte("echo:ping"), resp)

	// Unserved protocol ids get an empty TALKRESP.
	_, err = a.TalkRequest(ctx, b.Self(), "\x50\x0b", []byte("ping"))
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDiscv5ConfigErrors(t *testing.T) {
	_, err := New(Config{PrivateKeyHex: "zz"})
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, "private key", cerr.Field)

	_, err = New(Config{Bootnodes: []string{"enode://bad"}})
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, "bootnode", cerr.Field)
}

func TestClassify(t *testing.T) {
	require.Equal(t, ErrTimeout, classify(errors.New("RPC timeout")))
	require.Equal(t, ErrClosed, classify(errors.New("socket closed")))
	require.Equal(t, ErrNoSession, classify(errors.New("handshake failed")))
}
