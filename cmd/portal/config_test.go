package main

import (
	"context"
	"flag"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/enr"
	"github.com/portal-network/go-portal/internal/testlog"
	"github.com/portal-network/go-portal/portalnetwork/history"
	"github.com/portal-network/go-portal/portalnetwork/portalwire"
	"github.com/portal-network/go-portal/portalnetwork/storage"
	"github.com/portal-network/go-portal/portalnetwork/transport"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func newContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range nodeFlags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(app, set, nil)
}

func testENR(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	var r enr.Record
	r.Set(enr.IP(net.IP{127, 0, 0, 1}))
	r.Set(enr.UDP(9000))
	require.NoError(t, enode.SignV4(&r, key))
	n, err := enode.New(enode.ValidSchemes, &r)
	require.NoError(t, err)
	return n.String()
}

func TestBuildConfig(t *testing.T) {
	dir := t.TempDir()
	target := testENR(t)
	ctx := newContext(t,
		"--udp.addr", "127.0.0.1",
		"--udp.port", "9999",
		"--data.dir", dir,
		"--data.capacity", "5000",
		"--networks", "history",
		"--bootnodes", "enr:-a, enr:-b",
		"--peertest.targets", target,
	)
	config, err := buildConfig(ctx)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9999", config.ListenAddr)
	require.Equal(t, dir, config.DataDir)
	require.Equal(t, uint64(5000), config.DataCapacity)
	require.Equal(t, []string{"history"}, config.Networks)
	require.Equal(t, []string{"enr:-a", "enr:-b"}, config.Bootnodes)
	require.Equal(t, []string{target}, config.PeerTestTargets)
}

func TestBuildConfigDefaults(t *testing.T) {
	config, err := buildConfig(newContext(t, "--bootnodes", "none"))
	require.NoError(t, err)
	require.Equal(t, ":9876", config.ListenAddr)
	require.Equal(t, []string{"state", "history"}, config.Networks)
	require.Equal(t, uint64(1000), config.DataCapacity)
	require.Empty(t, config.Bootnodes)
}

func TestBuildConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "portal.toml")
	written := defaultConfig()
	written.ListenAddr = "0.0.0.0:7000"
	written.DataCapacity = 42
	written.Networks = []string{"state"}
	out, err := tomlSettings.Marshal(&written)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, out, 0644))

	config, err := buildConfig(newContext(t, "--config", file, "--udp.port", "7001"))
	require.NoError(t, err)
	require.Equal(t, ":7001", config.ListenAddr)
	require.Equal(t, uint64(42), config.DataCapacity)
	require.Equal(t, []string{"state"}, config.Networks)

	require.NoError(t, os.WriteFile(file, []byte("Unknown = 1\n"), 0644))
	_, err = buildConfig(newContext(t, "--config", file))
	require.ErrorContains(t, err, "Unknown")
}

func TestValidateConfig(t *testing.T) {
	_, err := buildConfig(newContext(t, "--networks", "beacon"))
	require.ErrorContains(t, err, "unknown network")
	_, err = buildConfig(newContext(t, "--data.capacity", "0"))
	require.Error(t, err)
}

func TestInvalidPeerTestTarget(t *testing.T) {
	_, err := buildConfig(newContext(t, "--peertest.targets", testENR(t)+",enr:-c"))
	require.ErrorContains(t, err, `invalid peer test target "enr:-c"`)

	nodes, err := parsePeerTargets([]string{testENR(t), testENR(t)})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
}

func TestRunPeerTest(t *testing.T) {
	network := transport.NewMemoryNetwork()
	newHistory := func() (*history.Network, *transport.MemoryTransport) {
		tr, err := network.NewTransport(transport.Config{Log: testlog.Logger(t, log.LevelDebug)})
		require.NoError(t, err)
		t.Cleanup(tr.Close)
		require.NoError(t, tr.Start(""))
		store, err := storage.NewMemoryStorage(16, tr.Self().ID(), nil)
		require.NoError(t, err)
		config := portalwire.DefaultPortalProtocolConfig()
		config.RadiusCacheSize = 1024 * 1024
		config.Log = testlog.Logger(t, log.LevelDebug)
		h, err := history.NewHistoryNetwork(config, tr, store)
		require.NoError(t, err)
		require.NoError(t, h.Start(context.Background()))
		t.Cleanup(h.Stop)
		return h, tr
	}
	h1, _ := newHistory()
	h2, tr2 := newHistory()

	require.NoError(t, runPeerTest(context.Background(), h1.Router(), "history", tr2.Self()))
	radius, ok := h2.Overlay().Protocol.PeerRadius(h1.Overlay().Protocol.Self().ID())
	require.True(t, ok)
	require.True(t, radius.Eq(peerTestRadius))

	h1.Router().Close()
	require.ErrorIs(t, runPeerTest(context.Background(), h1.Router(), "history", tr2.Self()), portalwire.ErrRouterClosed)
}
