package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/holiman/uint256"
	"github.com/portal-network/go-portal/internal/debug"
	"github.com/portal-network/go-portal/internal/flags"
	wire "github.com/portal-network/go-portal/p2p/discover/portalwire"
	"github.com/portal-network/go-portal/portalnetwork/history"
	"github.com/portal-network/go-portal/portalnetwork/portalwire"
	"github.com/portal-network/go-portal/portalnetwork/state"
	"github.com/portal-network/go-portal/portalnetwork/storage"
	"github.com/portal-network/go-portal/portalnetwork/storage/ethpepple"
	"github.com/portal-network/go-portal/portalnetwork/transport"
	"github.com/portal-network/go-portal/portalnetwork/utils"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const (
	databaseCache   = 16
	databaseHandles = 64
	metricsRefresh  = 10 * time.Second
)

// network is a started portal sub network.
type network interface {
	Router() *portalwire.Router
	Start(ctx context.Context) error
	Stop()
}

var app = flags.NewApp("the portal network node")

var dumpConfigCommand = &cli.Command{
	Action:      dumpConfig,
	Name:        "dumpconfig",
	Usage:       "Export configuration values in a TOML format",
	ArgsUsage:   "<dumpfile (optional)>",
	Flags:       nodeFlags,
	Description: `Export configuration values in TOML format (to stdout by default).`,
}

func init() {
	app.Action = portal
	app.Flags = flags.Merge(nodeFlags, debug.Flags)
	app.Commands = []*cli.Command{dumpConfigCommand}
	flags.AutoEnvVars(app.Flags, "PORTAL")
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Fatalf formats a message to standard error and exits the program.
func Fatalf(format string, args ...interface{}) {
	w := io.MultiWriter(os.Stdout, os.Stderr)
	fmt.Fprintf(w, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

func portal(ctx *cli.Context) error {
	if err := debug.Setup(ctx); err != nil {
		return err
	}
	defer debug.Exit()
	config, err := buildConfig(ctx)
	if err != nil {
		Fatalf("Invalid configuration: %v", err)
	}
	targets, err := parsePeerTargets(config.PeerTestTargets)
	if err != nil {
		Fatalf("Invalid configuration: %v", err)
	}
	if config.Metrics {
		metrics.Enabled = true
		go metrics.CollectProcessMetrics(3 * time.Second)
	}

	sigctx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := startNode(sigctx, config)
	if err != nil {
		Fatalf("Failed to start node: %v", err)
	}
	defer n.close()

	if len(targets) > 0 {
		if err := n.peerTest(sigctx, targets); err != nil {
			log.Error("Peer test failed", "err", err)
		}
	}

	<-sigctx.Done()
	log.Info("Got interrupt, shutting down...")
	return nil
}

type node struct {
	transport *transport.Discv5Transport
	db        *pebble.DB
	networks  map[string]network
	cancel    context.CancelFunc
}

func startNode(ctx context.Context, config *portalConfig) (*node, error) {
	if err := utils.EnsureDir(config.DataDir); err != nil {
		return nil, err
	}
	tcfg := transport.DefaultConfig()
	tcfg.ListenAddr = config.ListenAddr
	tcfg.Bootnodes = config.Bootnodes
	tcfg.NodeDBPath = filepath.Join(config.DataDir, "nodes")
	tcfg.Log = log.Root()
	if config.PrivateKey != "" {
		keyBytes, err := hexutil.Decode(config.PrivateKey)
		if err != nil {
			return nil, err
		}
		if tcfg.PrivateKey, err = crypto.ToECDSA(keyBytes); err != nil {
			return nil, err
		}
	} else {
		key, err := utils.LoadOrCreatePrivateKey(config.DataDir)
		if err != nil {
			return nil, err
		}
		tcfg.PrivateKey = key
	}

	t, err := transport.New(tcfg)
	if err != nil {
		return nil, err
	}
	if err := t.Start(""); err != nil {
		t.Close()
		return nil, err
	}
	db, err := ethpepple.NewPeppleDB(filepath.Join(config.DataDir, "portal"), databaseCache, databaseHandles, "portal")
	if err != nil {
		t.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	n := &node{transport: t, db: db, networks: make(map[string]network), cancel: cancel}
	stores := make(map[string]storage.ContentStorage)
	for _, name := range config.Networks {
		store, err := ethpepple.NewPeppleStorage(ethpepple.PeppleStorageConfig{
			StorageCapacityMB: config.DataCapacity,
			DB:                db,
			NodeId:            t.Self().ID(),
			NetworkName:       name,
		})
		if err != nil {
			n.close()
			return nil, err
		}
		nw, err := newNetwork(name, t, store)
		if err != nil {
			n.close()
			return nil, err
		}
		if err := nw.Start(ctx); err != nil {
			n.close()
			return nil, err
		}
		n.networks[name] = nw
		stores[name] = store
	}
	go portalwire.CollectPortalMetrics(ctx, metricsRefresh, stores)
	go func() {
		if _, err := t.DiscoverNodes(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug("Initial lookup failed", "err", err)
		}
	}()
	log.Info("Portal node started", "enr", t.Self(), "networks", config.Networks)
	return n, nil
}

func newNetwork(name string, t transport.Transport, store storage.ContentStorage) (network, error) {
	config := portalwire.DefaultPortalProtocolConfig()
	config.Log = log.Root()
	switch name {
	case wire.History.Name():
		return history.NewHistoryNetwork(config, t, store)
	case wire.State.Name():
		return state.NewStateNetwork(config, t, store)
	}
	return nil, fmt.Errorf("unknown network %q", name)
}

func (n *node) close() {
	n.cancel()
	for name, nw := range n.networks {
		log.Info("Closing network", "network", name)
		nw.Stop()
	}
	log.Info("Closing database...")
	if err := n.db.Close(); err != nil {
		log.Error("Failed to close database", "err", err)
	}
	log.Info("Closing transport...")
	n.transport.Close()
}

// peerTest sends one ping, one findnodes and one findcontent to each target
// on every enabled network.
func (n *node) peerTest(ctx context.Context, targets []*enode.Node) error {
	names := make([]string, 0, len(n.networks))
	for name := range n.networks {
		names = append(names, name)
	}
	slices.Sort(names)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		router := n.networks[name].Router()
		for _, target := range targets {
			g.Go(func() error {
				return runPeerTest(gctx, router, name, target)
			})
		}
	}
	return g.Wait()
}

var (
	peerTestRadius     = new(uint256.Int).SetUint64(^uint64(0))
	peerTestDistances  = []uint{256, 255, 254}
	peerTestContentKey = bytes.Repeat([]byte{0x64}, 32)
)

func runPeerTest(ctx context.Context, router *portalwire.Router, name string, target *enode.Node) error {
	logger := log.New("network", name, "peer", target.ID())

	pong, err := router.Call(ctx, portalwire.PingEndpoint, portalwire.PingArgs{Node: target, DataRadius: peerTestRadius})
	if err != nil {
		logger.Warn("Peer test ping failed", "err", err)
	} else {
		logger.Info("Peer test ping", "pong", pong)
	}

	found, err := router.Call(ctx, portalwire.FindNodesEndpoint, portalwire.FindNodesArgs{Node: target, Distances: peerTestDistances})
	if err != nil {
		logger.Warn("Peer test findnodes failed", "err", err)
	} else {
		logger.Info("Peer test findnodes", "nodes", len(found.([]string)))
	}

	content, err := router.Call(ctx, portalwire.FindContentEndpoint, portalwire.FindContentArgs{Node: target, ContentKey: peerTestContentKey})
	if err != nil {
		logger.Warn("Peer test findcontent failed", "err", err)
	} else {
		logger.Info("Peer test findcontent", "result", content)
	}
	// Only a closed router stops the test, peer failures are logged.
	if errors.Is(err, portalwire.ErrRouterClosed) {
		return err
	}
	return nil
}
