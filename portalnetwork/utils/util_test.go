package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))
	stat, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, stat.IsDir())
	require.NoError(t, EnsureDir(dir))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))
	assert.ErrorIs(t, EnsureDir(file), ErrNotDir)
}

func TestLoadOrCreatePrivateKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	key, err := LoadOrCreatePrivateKey(dir)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, PrivateKeyFileName))

	again, err := LoadOrCreatePrivateKey(dir)
	require.NoError(t, err)
	assert.Equal(t, crypto.FromECDSA(key), crypto.FromECDSA(again))
}

func TestReadPrivateKeyInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), PrivateKeyFileName)
	require.NoError(t, os.WriteFile(path, []byte("not hex"), 0600))
	_, err := ReadPrivateKey(path)
	assert.Error(t, err)
}
