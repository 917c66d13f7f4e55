package transport

import (
	"crypto/ecdsa"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/enr"
)

func loadKey(cfg Config) (*ecdsa.PrivateKey, error) {
	if cfg.PrivateKey != nil {
		return cfg.PrivateKey, nil
	}
	if cfg.PrivateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			return nil, &ConfigError{Field: "private key", Err: err}
		}
		return key, nil
	}
	return crypto.GenerateKey()
}

// ParseBootnodes parses enr: and enode: URLs.
func ParseBootnodes(urls []string, schemes enr.IdentityScheme) ([]*enode.Node, error) {
	nodes := make([]*enode.Node, 0, len(urls))
	for _, url := range urls {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		n, err := enode.Parse(schemes, url)
		if err != nil {
			return nil, &ConfigError{Field: "bootnode", Err: err}
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func newLocalNode(db *enode.DB, key *ecdsa.PrivateKey, addr *net.UDPAddr) *enode.LocalNode {
	ln := enode.NewLocalNode(db, key)
	ip := addr.IP
	if ip == nil || ip.IsUnspecified() {
		ip = net.IPv4(127, 0, 0, 1)
	}
	ln.SetFallbackIP(ip)
	ln.SetFallbackUDP(addr.Port)
	return ln
}
