package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceTopologySupersedesPreviousReport(t *testing.T) {
	store := newFakeRepository()
	svc := NewTopologyService(store, testLogger())
	ctx := context.Background()

	first := NetworkInfo{NetworkRoute: "eth0", UploadTraffic: "1.2"}
	require.NoError(t, svc.ReplaceTopology(ctx, "gw-1", first, []string{"d1", "d2"}))

	ids, err := svc.Connections(ctx, "gw-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, ids)

	// The next report replaces, never merges.
	second := NetworkInfo{NetworkRoute: "wlan0", UploadTraffic: "0.4"}
	require.NoError(t, svc.ReplaceTopology(ctx, "gw-1", second, []string{"d3"}))

	ids, err = svc.Connections(ctx, "gw-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d3"}, ids)

	network, err := store.GetGatewayNetwork(ctx, "gw-1")
	require.NoError(t, err)
	assert.Equal(t, "wlan0", network.NetworkInfo.NetworkRoute)
}

func TestReplaceTopologyEmptyReportClearsConnections(t *testing.T) {
	store := newFakeRepository()
	svc := NewTopologyService(store, testLogger())
	ctx := context.Background()

	require.NoError(t, svc.ReplaceTopology(ctx, "gw-1", NetworkInfo{}, []string{"d1"}))
	require.NoError(t, svc.ReplaceTopology(ctx, "gw-1", NetworkInfo{}, nil))

	ids, err := svc.Connections(ctx, "gw-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestReplaceTopologyIsolatedPerGateway(t *testing.T) {
	store := newFakeRepository()
	svc := NewTopologyService(store, testLogger())
	ctx := context.Background()

	require.NoError(t, svc.ReplaceTopology(ctx, "gw-1", NetworkInfo{}, []string{"d1"}))
	require.NoError(t, svc.ReplaceTopology(ctx, "gw-2", NetworkInfo{}, []string{"d2"}))

	// Replacing gw-1 must not disturb gw-2's connections.
	require.NoError(t, svc.ReplaceTopology(ctx, "gw-1", NetworkInfo{}, []string{"d9"}))

	ids, err := svc.Connections(ctx, "gw-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, ids)
}

func TestEnrichDeviceList(t *testing.T) {
	store := newFakeRepository()
	svc := NewTopologyService(store, testLogger())
	ctx := context.Background()

	info := NetworkInfo{NetworkRoute: "eth0"}
	require.NoError(t, svc.ReplaceTopology(ctx, "gw-1", info, []string{"edge-001"}))

	gateway := &Device{DeviceID: "gw-1", DeviceType: GatewayDeviceType}
	connected := &Device{DeviceID: "edge-001", DeviceType: "sensor"}
	orphan := &Device{DeviceID: "edge-999", DeviceType: "sensor"}
	devices := []*Device{gateway, connected, orphan}

	require.NoError(t, svc.EnrichDeviceList(ctx, devices))

	// Gateways carry their network summary, nothing else.
	require.NotNil(t, gateway.NetworkInfo)
	assert.Equal(t, "eth0", gateway.NetworkInfo.NetworkRoute)
	assert.Nil(t, gateway.ConnectedGatewayID)

	// Connected devices carry only their gateway's id.
	require.NotNil(t, connected.ConnectedGatewayID)
	assert.Equal(t, "gw-1", *connected.ConnectedGatewayID)
	assert.Nil(t, connected.NetworkInfo)

	// Devices no gateway reports carry neither.
	assert.Nil(t, orphan.NetworkInfo)
	assert.Nil(t, orphan.ConnectedGatewayID)
}

func TestEnrichDeviceListGatewayWithoutReport(t *testing.T) {
	store := newFakeRepository()
	svc := NewTopologyService(store, testLogger())

	gateway := &Device{DeviceID: "gw-1", DeviceType: GatewayDeviceType}
	require.NoError(t, svc.EnrichDeviceList(context.Background(), []*Device{gateway}))

	assert.Nil(t, gateway.NetworkInfo)
	assert.Nil(t, gateway.ConnectedGatewayID)
}
