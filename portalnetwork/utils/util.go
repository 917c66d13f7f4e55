package utils

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
)

// PrivateKeyFileName is the file in the data directory holding the node key.
const PrivateKeyFileName = "clientKey"

var ErrNotDir = errors.New("node dir should be a dir")

func EnsureDir(dir string) error {
	stat, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	if err != nil {
		return err
	}
	if !stat.IsDir() {
		return ErrNotDir
	}
	return nil
}

// LoadOrCreatePrivateKey returns the node key stored in dataDir. A new key is
// generated and written when there is none yet.
func LoadOrCreatePrivateKey(dataDir string) (*ecdsa.PrivateKey, error) {
	if err := EnsureDir(dataDir); err != nil {
		return nil, err
	}
	fullPath := filepath.Join(dataDir, PrivateKeyFileName)
	if _, err := os.Stat(fullPath); err == nil {
		log.Info("Loading private key from file", "datadir", dataDir, "file", PrivateKeyFileName)
		return ReadPrivateKey(fullPath)
	}
	log.Info("Creating new private key")
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return key, WritePrivateKey(fullPath, key)
}

func WritePrivateKey(fullPath string, key *ecdsa.PrivateKey) error {
	keyEnc := crypto.FromECDSA(key)
	return os.WriteFile(fullPath, []byte(hex.EncodeToString(keyEnc)), 0600)
}

func ReadPrivateKey(fullPath string) (*ecdsa.PrivateKey, error) {
	keyBytes, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, err
	}
	return crypto.HexToECDSA(strings.TrimSpace(string(keyBytes)))
}
