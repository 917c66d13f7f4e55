package portalwire

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/holiman/uint256"
	wire "github.com/portal-network/go-portal/p2p/discover/portalwire"
	"github.com/portal-network/go-portal/portalnetwork/storage"
)

type portalMetrics struct {
	messagesReceivedPing        metrics.Meter
	messagesReceivedPong        metrics.Meter
	messagesReceivedFindNodes   metrics.Meter
	messagesReceivedNodes       metrics.Meter
	messagesReceivedFindContent metrics.Meter
	messagesReceivedContent     metrics.Meter

	messagesSentPing        metrics.Meter
	messagesSentPong        metrics.Meter
	messagesSentFindNodes   metrics.Meter
	messagesSentNodes       metrics.Meter
	messagesSentFindContent metrics.Meter
	messagesSentContent     metrics.Meter

	droppedUndecodable metrics.Counter
	droppedUnexpected  metrics.Counter
	droppedStoreError  metrics.Counter
	rpcFailures        metrics.Counter
}

func newPortalMetrics(protocolName string) *portalMetrics {
	prefix := "portal/" + protocolName
	return &portalMetrics{
		messagesReceivedPing:        metrics.NewRegisteredMeter(prefix+"/received/ping", nil),
		messagesReceivedPong:        metrics.NewRegisteredMeter(prefix+"/received/pong", nil),
		messagesReceivedFindNodes:   metrics.NewRegisteredMeter(prefix+"/received/find_nodes", nil),
		messagesReceivedNodes:       metrics.NewRegisteredMeter(prefix+"/received/nodes", nil),
		messagesReceivedFindContent: metrics.NewRegisteredMeter(prefix+"/received/find_content", nil),
		messagesReceivedContent:     metrics.NewRegisteredMeter(prefix+"/received/content", nil),
		messagesSentPing:            metrics.NewRegisteredMeter(prefix+"/sent/ping", nil),
		messagesSentPong:            metrics.NewRegisteredMeter(prefix+"/sent/pong", nil),
		messagesSentFindNodes:       metrics.NewRegisteredMeter(prefix+"/sent/find_nodes", nil),
		messagesSentNodes:           metrics.NewRegisteredMeter(prefix+"/sent/nodes", nil),
		messagesSentFindContent:     metrics.NewRegisteredMeter(prefix+"/sent/find_content", nil),
		messagesSentContent:         metrics.NewRegisteredMeter(prefix+"/sent/content", nil),
		droppedUndecodable:          metrics.NewRegisteredCounter(prefix+"/dropped/undecodable", nil),
		droppedUnexpected:           metrics.NewRegisteredCounter(prefix+"/dropped/unexpected", nil),
		droppedStoreError:           metrics.NewRegisteredCounter(prefix+"/dropped/store_error", nil),
		rpcFailures:                 metrics.NewRegisteredCounter(prefix+"/rpc/failures", nil),
	}
}

func (m *portalMetrics) markReceived(code byte) {
	switch code {
	case wire.PING:
		m.messagesReceivedPing.Mark(1)
	case wire.PONG:
		m.messagesReceivedPong.Mark(1)
	case wire.FINDNODES:
		m.messagesReceivedFindNodes.Mark(1)
	case wire.NODES:
		m.messagesReceivedNodes.Mark(1)
	case wire.FINDCONTENT:
		m.messagesReceivedFindContent.Mark(1)
	case wire.CONTENT:
		m.messagesReceivedContent.Mark(1)
	}
}

func (m *portalMetrics) markSent(code byte) {
	switch code {
	case wire.PING:
		m.messagesSentPing.Mark(1)
	case wire.PONG:
		m.messagesSentPong.Mark(1)
	case wire.FINDNODES:
		m.messagesSentFindNodes.Mark(1)
	case wire.NODES:
		m.messagesSentNodes.Mark(1)
	case wire.FINDCONTENT:
		m.messagesSentFindContent.Mark(1)
	case wire.CONTENT:
		m.messagesSentContent.Mark(1)
	}
}

// PortalStorageMetrics reports the usage of one network's content store.
type PortalStorageMetrics struct {
	RadiusRatio         metrics.GaugeFloat64
	EntriesCount        metrics.Gauge
	ContentStorageUsage metrics.Gauge

	store storage.ContentStorage
}

func NewPortalStorageMetrics(network string, store storage.ContentStorage) *PortalStorageMetrics {
	m := &PortalStorageMetrics{
		RadiusRatio:         metrics.NewRegisteredGaugeFloat64("portal/"+network+"/radius_ratio", nil),
		EntriesCount:        metrics.NewRegisteredGauge("portal/"+network+"/entry_count", nil),
		ContentStorageUsage: metrics.NewRegisteredGauge("portal/"+network+"/content_storage", nil),
		store:               store,
	}
	m.Update()
	return m
}

// Update refreshes the gauges. Counters are only reported by stores that
// implement storage.Stats.
func (m *PortalStorageMetrics) Update() {
	m.RadiusRatio.Update(radiusRatio(m.store.Radius()))
	if stats, ok := m.store.(storage.Stats); ok {
		m.EntriesCount.Update(int64(stats.ContentCount()))
		m.ContentStorageUsage.Update(int64(stats.UsedSize()))
	}
}

func radiusRatio(radius *uint256.Int) float64 {
	r := new(big.Float).SetInt(radius.ToBig())
	max := new(big.Float).SetInt(storage.MaxDistance.ToBig())
	ratio, _ := r.Quo(r, max).Float64()
	return ratio
}

// CollectPortalMetrics periodically refreshes the storage metrics until ctx
// is cancelled.
func CollectPortalMetrics(ctx context.Context, refresh time.Duration, stores map[string]storage.ContentStorage) {
	collected := make([]*PortalStorageMetrics, 0, len(stores))
	for network, store := range stores {
		collected = append(collected, NewPortalStorageMetrics(network, store))
	}
	log.Debug("Collecting portal storage metrics", "networks", len(collected), "refresh", refresh)

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, m := range collected {
				m.Update()
			}
		case <-ctx.Done():
			return
		}
	}
}
