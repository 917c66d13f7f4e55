package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/naoina/toml"
	"github.com/portal-network/go-portal/internal/flags"
	wire "github.com/portal-network/go-portal/p2p/discover/portalwire"
	"github.com/urfave/cli/v2"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: flags.MiscCategory,
	}
	udpAddrFlag = &cli.StringFlag{
		Name:     "udp.addr",
		Usage:    "Protocol UDP server listening interface",
		Value:    "",
		Category: flags.NetworkCategory,
	}
	udpPortFlag = &cli.IntFlag{
		Name:     "udp.port",
		Usage:    "Protocol UDP server listening port",
		Value:    9876,
		Category: flags.NetworkCategory,
	}
	bootnodesFlag = &cli.StringFlag{
		Name:     "bootnodes",
		Usage:    "Comma separated enode URLs for P2P discovery bootstrap, 'none' disables them",
		Value:    "",
		Category: flags.NetworkCategory,
	}
	privateKeyFlag = &cli.StringFlag{
		Name:     "private.key",
		Usage:    "Private key of the p2p node, hex encoded",
		Category: flags.NetworkCategory,
	}
	peerTestTargetsFlag = &cli.StringFlag{
		Name:     "peertest.targets",
		Usage:    "Comma separated ENRs pinged, asked for nodes and content on startup",
		Category: flags.PortalCategory,
	}
	networksFlag = &cli.StringSliceFlag{
		Name:     "networks",
		Usage:    "Portal sub networks: state, history",
		Value:    cli.NewStringSlice(wire.State.Name(), wire.History.Name()),
		Category: flags.PortalCategory,
	}
	metricsFlag = &cli.BoolFlag{
		Name:     "metrics",
		Usage:    "Enable metrics collection",
		Category: flags.PortalCategory,
	}
	dataDirFlag = &flags.DirectoryFlag{
		Name:     "data.dir",
		Usage:    "Data directory for the databases and the node key",
		Value:    flags.DirectoryString(defaultDataDir()),
		Category: flags.StorageCategory,
	}
	dataCapacityFlag = &cli.Uint64Flag{
		Name:     "data.capacity",
		Usage:    "The maximum disk space of each network in megabytes",
		Value:    1000,
		Category: flags.StorageCategory,
	}
)

var nodeFlags = []cli.Flag{
	configFileFlag,
	udpAddrFlag,
	udpPortFlag,
	bootnodesFlag,
	privateKeyFlag,
	peerTestTargetsFlag,
	networksFlag,
	metricsFlag,
	dataDirFlag,
	dataCapacityFlag,
}

// portalConfig is the node configuration. It is read from the TOML file given
// by --config and then overridden by the command line.
type portalConfig struct {
	ListenAddr      string
	Bootnodes       []string
	PeerTestTargets []string
	PrivateKey      string
	DataDir         string
	DataCapacity    uint64
	Networks        []string
	Metrics         bool
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

func defaultConfig() portalConfig {
	return portalConfig{
		ListenAddr:   ":9876",
		DataDir:      defaultDataDir(),
		DataCapacity: dataCapacityFlag.Value,
		Networks:     []string{wire.State.Name(), wire.History.Name()},
	}
}

func defaultDataDir() string {
	if home := flags.HomeDir(); home != "" {
		return filepath.Join(home, ".portal")
	}
	return ".portal"
}

func loadConfig(file string, cfg *portalConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// buildConfig layers the command line over the config file over the defaults.
func buildConfig(ctx *cli.Context) (*portalConfig, error) {
	cfg := defaultConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return nil, err
		}
	}

	if ctx.IsSet(udpAddrFlag.Name) || ctx.IsSet(udpPortFlag.Name) {
		cfg.ListenAddr = listenAddr(ctx.String(udpAddrFlag.Name), ctx.Int(udpPortFlag.Name))
	}
	if ctx.IsSet(bootnodesFlag.Name) {
		cfg.Bootnodes = splitAndTrim(ctx.String(bootnodesFlag.Name))
	}
	if ctx.IsSet(peerTestTargetsFlag.Name) {
		cfg.PeerTestTargets = splitAndTrim(ctx.String(peerTestTargetsFlag.Name))
	}
	if ctx.IsSet(privateKeyFlag.Name) {
		cfg.PrivateKey = ctx.String(privateKeyFlag.Name)
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(dataCapacityFlag.Name) {
		cfg.DataCapacity = ctx.Uint64(dataCapacityFlag.Name)
	}
	if ctx.IsSet(networksFlag.Name) {
		cfg.Networks = ctx.StringSlice(networksFlag.Name)
	}
	if ctx.IsSet(metricsFlag.Name) {
		cfg.Metrics = ctx.Bool(metricsFlag.Name)
	}
	if len(cfg.Bootnodes) == 1 && cfg.Bootnodes[0] == "none" {
		cfg.Bootnodes = nil
	}
	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *portalConfig) error {
	if len(cfg.Networks) == 0 {
		return errors.New("no network enabled")
	}
	for _, name := range cfg.Networks {
		if name != wire.State.Name() && name != wire.History.Name() {
			return fmt.Errorf("unknown network %q", name)
		}
	}
	if cfg.DataCapacity == 0 {
		return errors.New("data capacity must be positive")
	}
	if _, err := parsePeerTargets(cfg.PeerTestTargets); err != nil {
		return err
	}
	return nil
}

// parsePeerTargets parses the peer test targets. A malformed entry fails the
// whole list.
func parsePeerTargets(urls []string) ([]*enode.Node, error) {
	nodes := make([]*enode.Node, 0, len(urls))
	for _, url := range urls {
		n, err := enode.Parse(enode.ValidSchemes, url)
		if err != nil {
			return nil, fmt.Errorf("invalid peer test target %q: %w", url, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func listenAddr(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}

// splitAndTrim splits input separated by a comma
// and trims excessive white space from the substrings.
func splitAndTrim(input string) (ret []string) {
	l := strings.Split(input, ",")
	for _, r := range l {
		if r = strings.TrimSpace(r); r != "" {
			ret = append(ret, r)
		}
	}
	return ret
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := buildConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(cfg)
	if err != nil {
		return err
	}
	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.Write(out)
	return nil
}
