package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/portal-network/go-portal/internal/testlog"
	"github.com/portal-network/go-portal/portalnetwork/portalwire"
	"github.com/portal-network/go-portal/portalnetwork/storage"
	"github.com/portal-network/go-portal/portalnetwork/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ContentId(contentKey []byte) []byte {
	digest := sha256.Sum256(contentKey)
	return digest[:]
}

func TestContentKey(t *testing.T) {
	testCases := []struct {
		name          string
		hash          string
		contentKey    string
		contentIdHex  string
		contentIdU256 string
		selector      ContentType
	}{
		{
			name:          "block header key",
			hash:          "d1c390624d3bd4e409a61a858e5dcc5517729a9170d014a6c96530d64dd8621d",
			contentKey:    "00d1c390624d3bd4e409a61a858e5dcc5517729a9170d014a6c96530d64dd8621d",
			contentIdHex:  "3e86b3767b57402ea72e369ae0496ce47cc15be685bec3b4726b9f316e3895fe",
			contentIdU256: "28281392725701906550238743427348001871342819822834514257505083923073246729726",
			selector:      BlockHeaderType,
		},
		{
			name:          "block body key",
			hash:          "d1c390624d3bd4e409a61a858e5dcc5517729a9170d014a6c96530d64dd8621d",
			contentKey:    "01d1c390624d3bd4e409a61a858e5dcc5517729a9170d014a6c96530d64dd8621d",
			contentIdHex:  "ebe414854629d60c58ddd5bf60fd72e41760a5f7a463fdcb169f13ee4a26786b",
			contentIdU256: "106696502175825986237944249828698290888857178633945273402044845898673345165419",
			selector:      BlockBodyType,
		},
		{
			name:          "receipt key",
			hash:          "d1c390624d3bd4e409a61a858e5dcc5517729a9170d014a6c96530d64dd8621d",
			contentKey:    "02d1c390624d3bd4e409a61a858e5dcc5517729a9170d014a6c96530d64dd8621d",
			contentIdHex:  "a888f4aafe9109d495ac4d4774a6277c1ada42035e3da5e10a04cc93247c04a4",
			contentIdU256: "76230538398907151249589044529104962263309222250374376758768131420767496438948",
			selector:      ReceiptsType,
		},
		{
			name:          "epoch accumulator key",
			hash:          "e242814b90ed3950e13aac7e56ce116540c71b41d1516605aada26c6c07cc491",
			contentKey:    "03e242814b90ed3950e13aac7e56ce116540c71b41d1516605aada26c6c07cc491",
			contentIdHex:  "9fb2175e76c6989e0fdac3ee10c40d2a81eb176af32e1c16193e3904fe56896e",
			contentIdU256: "72232402989179419196382321898161638871438419016077939952896528930608027961710",
			selector:      EpochAccumulatorType,
		},
	}

	for _, c := range testCases {
		t.Run(c.name, func(t *testing.T) {
			hashByte, err := hex.DecodeString(c.hash)
			require.NoError(t, err)

			contentKey := newContentKey(c.selector, hashByte).encode()
			hexKey := hex.EncodeToString(contentKey)
			require.Equal(t, hexKey, c.contentKey)
			contentId := ContentId(contentKey)
			require.Equal(t, c.contentIdHex, hex.EncodeToString(contentId))

			bigNum := big.NewInt(0).SetBytes(contentId)
			u256Format, isOverflow := uint256.FromBig(bigNum)
			require.False(t, isOverflow)
			u256Str := fmt.Sprint(u256Format)
			require.Equal(t, u256Str, c.contentIdU256)

			decoded, err := DecodeContentKey(contentKey)
			require.NoError(t, err)
			require.Equal(t, c.selector, decoded.Selector())
			require.Equal(t, hashByte, decoded.Hash())
		})
	}
}

func TestDecodeContentKeyErrors(t *testing.T) {
	_, err := DecodeContentKey([]byte{0x00, 0x01})
	assert.ErrorIs(t, err, ErrInvalidContentKey)
	_, err = DecodeContentKey(append([]byte{0x04}, make([]byte, 32)...))
	assert.ErrorIs(t, err, ErrInvalidContentKey)
}

func newTestHistoryNetwork(t *testing.T, network *transport.MemoryNetwork) (*Network, *transport.MemoryTransport) {
	t.Helper()
	tr, err := network.NewTransport(transport.Config{Log: testlog.Logger(t, log.LevelTrace)})
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	require.NoError(t, tr.Start(""))

	store, err := storage.NewMemoryStorage(16, tr.Self().ID(), nil)
	require.NoError(t, err)
	config := portalwire.DefaultPortalProtocolConfig()
	config.RadiusCacheSize = 1024 * 1024
	config.Log = testlog.Logger(t, log.LevelTrace)
	h, err := NewHistoryNetwork(config, tr, store)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(h.Stop)
	return h, tr
}

func TestGetHistoryContent(t *testing.T) {
	network := transport.NewMemoryNetwork()
	h1, tr1 := newTestHistoryNetwork(t, network)
	h2, tr2 := newTestHistoryNetwork(t, network)
	require.NoError(t, tr1.AddEnr(tr2.Self()))

	hash := hexutil.MustDecode("0xd1c390624d3bd4e409a61a858e5dcc5517729a9170d014a6c96530d64dd8621d")
	header := []byte("header with proof")
	require.NoError(t, h2.Overlay().Protocol.Put(newContentKey(BlockHeaderType, hash).encode(), header))

	content, err := h1.GetContent(context.Background(), BlockHeaderType, hash)
	require.NoError(t, err)
	assert.Equal(t, header, content)

	// The content is now served from the local store.
	local, err := h1.Overlay().Protocol.Get(newContentKey(BlockHeaderType, hash).encode())
	require.NoError(t, err)
	assert.Equal(t, header, local)

	_, err = h1.GetContent(context.Background(), BlockBodyType, hash)
	assert.ErrorIs(t, err, storage.ErrContentNotFound)
	_, err = h1.GetContent(context.Background(), BlockBodyType, hash[:4])
	assert.ErrorIs(t, err, ErrInvalidBlockHash)
	_, err = h1.GetContent(context.Background(), ContentType(9), hash)
	assert.ErrorIs(t, err, ErrInvalidContentKey)
}

func TestGetHistoryContentEndpoint(t *testing.T) {
	network := transport.NewMemoryNetwork()
	h1, tr1 := newTestHistoryNetwork(t, network)
	h2, tr2 := newTestHistoryNetwork(t, network)
	require.NoError(t, tr1.AddEnr(tr2.Self()))

	hash := make([]byte, 32)
	hash[0] = 0x42
	require.NoError(t, h2.Overlay().Protocol.Put(newContentKey(ReceiptsType, hash).encode(), []byte{1, 2, 3}))

	v, err := h1.Router().Call(context.Background(), GetHistoryContentEndpoint, GetHistoryContentArgs{Selector: ReceiptsType, BlockHash: hash})
	require.NoError(t, err)
	assert.Equal(t, &portalwire.ContentInfo{Content: "0x010203"}, v)

	_, err = h1.Router().Call(context.Background(), GetHistoryContentEndpoint, "bad")
	assert.ErrorContains(t, err, "invalid arguments")
}
