// internal/core/gateway.go
package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// TopologyService owns the mapping of which devices are reachable
// through which gateway, plus each gateway's last-reported network
// summary. Device identity rows stay under the device registry; this
// service only touches the topology tables.
type TopologyService struct {
	store  Repository
	logger *logrus.Logger

	// Per-gateway serialization: two status reports for the same
	// gateway must not interleave their delete+insert pair.
	mu       sync.Mutex
	gateways map[string]*sync.Mutex
}

// NewTopologyService creates the gateway topology tracker.
func NewTopologyService(store Repository, logger *logrus.Logger) *TopologyService {
	return &TopologyService{
		store:    store,
		logger:   logger,
		gateways: make(map[string]*sync.Mutex),
	}
}

func (s *TopologyService) gatewayLock(gatewayDeviceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.gateways[gatewayDeviceID]
	if !ok {
		lock = &sync.Mutex{}
		s.gateways[gatewayDeviceID] = lock
	}
	return lock
}

// ReplaceTopology supersedes a gateway's previously reported state:
// the network summary blob is replaced wholesale and the connection
// set becomes exactly connectedDeviceIDs. The delete+insert pair runs
// in one transaction so readers never observe a torn mix of the old
// and new report.
func (s *TopologyService) ReplaceTopology(ctx context.Context, gatewayDeviceID string, info NetworkInfo, connectedDeviceIDs []string) error {
	lock := s.gatewayLock(gatewayDeviceID)
	lock.Lock()
	defer lock.Unlock()

	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.UpsertGatewayNetwork(ctx, &GatewayNetwork{
			DeviceID:    gatewayDeviceID,
			NetworkInfo: info,
		}); err != nil {
			return fmt.Errorf("failed to upsert network summary: %w", err)
		}

		if err := tx.DeleteGatewayConnections(ctx, gatewayDeviceID); err != nil {
			return fmt.Errorf("failed to clear connections: %w", err)
		}

		connections := make([]*GatewayConnection, 0, len(connectedDeviceIDs))
		for _, deviceID := range connectedDeviceIDs {
			connections = append(connections, &GatewayConnection{
				GatewayDeviceID:   gatewayDeviceID,
				ConnectedDeviceID: deviceID,
			})
		}
		if err := tx.CreateGatewayConnections(ctx, connections); err != nil {
			return fmt.Errorf("failed to insert connections: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"gateway_device_id": gatewayDeviceID,
		"connections":       len(connectedDeviceIDs),
	}).Info("Gateway topology replaced")
	return nil
}

// Connections returns the downstream device ids of the gateway's most
// recent report.
func (s *TopologyService) Connections(ctx context.Context, gatewayDeviceID string) ([]string, error) {
	connections, err := s.store.ListGatewayConnections(ctx, gatewayDeviceID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(connections))
	for _, c := range connections {
		ids = append(ids, c.ConnectedDeviceID)
	}
	return ids, nil
}

// EnrichDeviceList attaches topology data to a device page: gateways
// get their network summary, every other device gets the id of the
// gateway currently reporting it (nil if none). Exactly one of the
// two fields is populated per device.
func (s *TopologyService) EnrichDeviceList(ctx context.Context, devices []*Device) error {
	var gatewayIDs, deviceIDs []string
	for _, d := range devices {
		if d.IsGateway() {
			gatewayIDs = append(gatewayIDs, d.DeviceID)
		} else {
			deviceIDs = append(deviceIDs, d.DeviceID)
		}
	}

	networks, err := s.store.ListGatewayNetworks(ctx, gatewayIDs)
	if err != nil {
		return fmt.Errorf("failed to load network summaries: %w", err)
	}
	networkByGateway := make(map[string]*NetworkInfo, len(networks))
	for _, n := range networks {
		info := n.NetworkInfo
		networkByGateway[n.DeviceID] = &info
	}

	connections, err := s.store.ListConnectionsByDevices(ctx, deviceIDs)
	if err != nil {
		return fmt.Errorf("failed to load connections: %w", err)
	}
	gatewayByDevice := make(map[string]string, len(connections))
	for _, c := range connections {
		gatewayByDevice[c.ConnectedDeviceID] = c.GatewayDeviceID
	}

	for _, d := range devices {
		d.NetworkInfo = nil
		d.ConnectedGatewayID = nil
		if d.IsGateway() {
			d.NetworkInfo = networkByGateway[d.DeviceID]
			continue
		}
		if gatewayID, ok := gatewayByDevice[d.DeviceID]; ok {
			d.ConnectedGatewayID = &gatewayID
		}
	}
	return nil
}
