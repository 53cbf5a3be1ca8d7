// internal/core/fleet.go
package core

import (
	"context"
	"time"

	"github.com/qnetlab/device-registry/internal/infrastructure"
	"github.com/sirupsen/logrus"
)

// StatusReport is a gateway's periodic full report: its own identity
// proof, its network summary, and every downstream device it can see.
type StatusReport struct {
	Signature   string             `json:"signature"`
	DeviceID    string             `json:"deviceId"`
	DeviceName  string             `json:"deviceName"`
	NetworkInfo NetworkInfo        `json:"networkInfo"`
	DeviceInfo  []DeviceReportInfo `json:"deviceInfo"`
}

// AlarmInfo is one alarm item inside a gateway alarm report.
type AlarmInfo struct {
	AlarmType        string `json:"alarmType"`
	AlarmDescription string `json:"alarmDescription"`
}

// AlarmReport is a gateway's alarm delivery.
type AlarmReport struct {
	Signature  string      `json:"signature"`
	DeviceID   string      `json:"deviceId"`
	DeviceName string      `json:"deviceName"`
	AlarmInfo  []AlarmInfo `json:"alarmInfo"`
}

// AlarmRecord is one created alarm echoed back to the gateway, with
// the server-assigned timestamp rendered in the configured zone.
type AlarmRecord struct {
	AlarmType        string `json:"alarmType"`
	AlarmDescription string `json:"alarmDescription"`
	DeviceID         string `json:"deviceId"`
	DeviceName       string `json:"deviceName"`
	CreatedAt        string `json:"createdAt"`
}

// FleetService orchestrates gateway ingestion: it authenticates the
// gateway, replaces its topology, materializes downstream devices and
// assembles the per-device control directives returned to the gateway.
type FleetService struct {
	devices   *DeviceService
	topology  *TopologyService
	alarms    *AlarmService
	events    *EventService
	messaging *infrastructure.Messaging
	logger    *logrus.Logger
	alarmZone *time.Location
}

// NewFleetService creates the ingestion coordinator. messaging may be
// nil; alarmZone nil falls back to UTC.
func NewFleetService(
	devices *DeviceService,
	topology *TopologyService,
	alarms *AlarmService,
	events *EventService,
	messaging *infrastructure.Messaging,
	logger *logrus.Logger,
	alarmZone *time.Location,
) *FleetService {
	if alarmZone == nil {
		alarmZone = time.UTC
	}
	return &FleetService{
		devices:   devices,
		topology:  topology,
		alarms:    alarms,
		events:    events,
		messaging: messaging,
		logger:    logger,
		alarmZone: alarmZone,
	}
}

// ProcessStatusReport runs the gateway status ingestion state machine.
// Authentication failure aborts with no side effects and surfaces the
// registry's error verbatim. Faults after authentication are
// normalized to an internal error; the topology replace itself is
// transactional and can never be left half-applied.
func (s *FleetService) ProcessStatusReport(ctx context.Context, report StatusReport) ([]DeviceControl, error) {
	if _, err := s.devices.Authenticate(ctx, report.DeviceID, GatewayDeviceType, report.Signature, ""); err != nil {
		s.recordAuthFailure(ctx, report.DeviceID, err)
		return nil, err
	}

	// The gateway's own record: deviceType is forced, whatever the
	// report claims.
	if _, err := s.devices.UpsertFromReport(ctx, DeviceReportInfo{
		DeviceID:   report.DeviceID,
		DeviceName: report.DeviceName,
		DeviceType: GatewayDeviceType,
	}); err != nil {
		return nil, s.internal(err, "failed to upsert gateway record", report.DeviceID)
	}

	connectedIDs := make([]string, 0, len(report.DeviceInfo))
	for _, info := range report.DeviceInfo {
		connectedIDs = append(connectedIDs, info.DeviceID)
	}
	if err := s.topology.ReplaceTopology(ctx, report.DeviceID, report.NetworkInfo, connectedIDs); err != nil {
		return nil, s.internal(err, "failed to replace topology", report.DeviceID)
	}

	deviceCtrl := make([]DeviceControl, 0, len(report.DeviceInfo))
	for _, info := range report.DeviceInfo {
		device, err := s.devices.UpsertFromReport(ctx, info)
		if err != nil {
			return nil, s.internal(err, "failed to upsert downstream device", info.DeviceID)
		}
		deviceCtrl = append(deviceCtrl, DeviceControl{
			DeviceID:        device.DeviceID,
			IPAddr:          device.IPAddr,
			Bandwidth:       BandwidthLevel(device.FlowControlLevel),
			Status:          device.Status,
			IsAuthenticated: device.IsAuthenticated,
		})
	}

	s.events.Record(ctx, EventTypeStatusReport, EventLevelInfo,
		"gateway status report processed", "",
		EventContext{"deviceId": report.DeviceID, "devices": len(report.DeviceInfo)})

	s.logger.WithFields(logrus.Fields{
		"gateway_device_id": report.DeviceID,
		"devices":           len(report.DeviceInfo),
	}).Info("Status report processed")
	return deviceCtrl, nil
}

// ProcessAlarmReport authenticates the gateway and appends one alarm
// row per reported item, tagged with the gateway's identity.
func (s *FleetService) ProcessAlarmReport(ctx context.Context, report AlarmReport) ([]AlarmRecord, error) {
	if _, err := s.devices.Authenticate(ctx, report.DeviceID, GatewayDeviceType, report.Signature, ""); err != nil {
		s.recordAuthFailure(ctx, report.DeviceID, err)
		return nil, err
	}

	records := make([]AlarmRecord, 0, len(report.AlarmInfo))
	for _, item := range report.AlarmInfo {
		alarm, err := s.alarms.Create(ctx, &Alarm{
			AlarmType:        item.AlarmType,
			AlarmDescription: item.AlarmDescription,
			DeviceID:         report.DeviceID,
			DeviceName:       report.DeviceName,
		})
		if err != nil {
			return nil, s.internal(err, "failed to record alarm", report.DeviceID)
		}

		records = append(records, AlarmRecord{
			AlarmType:        alarm.AlarmType,
			AlarmDescription: alarm.AlarmDescription,
			DeviceID:         alarm.DeviceID,
			DeviceName:       alarm.DeviceName,
			CreatedAt:        alarm.CreatedAt.In(s.alarmZone).Format("2006-01-02T15:04:05-07:00"),
		})

		if alarm.AlarmType == AlarmTypeFault {
			s.notifyFault(ctx, alarm)
		}
	}

	s.events.Record(ctx, EventTypeAlarmReport, EventLevelInfo,
		"gateway alarm report processed", "",
		EventContext{"deviceId": report.DeviceID, "alarms": len(report.AlarmInfo)})

	s.logger.WithFields(logrus.Fields{
		"gateway_device_id": report.DeviceID,
		"alarms":            len(report.AlarmInfo),
	}).Info("Alarm report processed")
	return records, nil
}

// notifyFault publishes a FAULT alarm to the notification queue, best
// effort: broker trouble never fails alarm ingestion.
func (s *FleetService) notifyFault(ctx context.Context, alarm *Alarm) {
	if s.messaging == nil {
		return
	}
	if err := s.messaging.Publish(ctx, "fleet.alarm.fault", alarm); err != nil {
		s.logger.WithError(err).WithField("device_id", alarm.DeviceID).
			Error("Failed to publish fault alarm notification")
	}
}

func (s *FleetService) recordAuthFailure(ctx context.Context, deviceID string, err error) {
	s.events.Record(ctx, EventTypeAuthFailure, EventLevelWarning,
		"gateway authentication rejected", err.Error(),
		EventContext{"deviceId": deviceID})
}

// internal logs the real fault and returns the normalized wire error.
func (s *FleetService) internal(err error, message, deviceID string) error {
	s.logger.WithError(err).WithField("device_id", deviceID).Error(message)
	return ErrInternal
}
