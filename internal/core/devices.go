// internal/core/devices.go
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qnetlab/device-registry/internal/infrastructure"
	"github.com/qnetlab/device-registry/internal/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RegisterOptions is the allow-listed subset of optional fields a
// device may supply at registration. Everything else is rejected at
// the HTTP boundary.
type RegisterOptions struct {
	IPAddr           string
	DeviceName       string
	FlowControlLevel string
}

// UpdateDeviceFields is an explicit field-by-field merge for PATCH
// updates. Nil means "leave unchanged". DeviceID is immutable and
// deliberately absent.
type UpdateDeviceFields struct {
	DeviceType       *string
	DeviceName       *string
	PublicKey        *string
	FlowControlLevel *string
	IPAddr           *string
	Host             *string
	LoginUser        *string
}

// DeviceService owns device identity records. Every identity check in
// the system, including gateway ingestion, funnels through
// Authenticate.
type DeviceService struct {
	store   Repository
	cache   *infrastructure.Cache
	logger  *logrus.Logger
	timeout time.Duration
}

// NewDeviceService creates the device registry service. cache may be
// nil; timeout <= 0 falls back to the default connection timeout.
func NewDeviceService(store Repository, cache *infrastructure.Cache, logger *logrus.Logger, timeout time.Duration) *DeviceService {
	if timeout <= 0 {
		timeout = DefaultConnectionTimeout
	}
	return &DeviceService{
		store:   store,
		cache:   cache,
		logger:  logger,
		timeout: timeout,
	}
}

// ConnectionTimeout returns the liveness window used for status derivation.
func (s *DeviceService) ConnectionTimeout() time.Duration {
	return s.timeout
}

// Register creates a device identity, or claims a placeholder row that
// a gateway report materialized earlier. Re-registering a registered
// device always fails without mutation.
func (s *DeviceService) Register(ctx context.Context, deviceID, publicKey string, opts RegisterOptions) (*Device, error) {
	existing, err := s.store.GetDeviceByDeviceID(ctx, deviceID)
	switch {
	case err == nil:
		return s.claimDevice(ctx, existing, publicKey, opts)

	case errors.Is(err, gorm.ErrRecordNotFound):
		device := &Device{
			DeviceID:         deviceID,
			PublicKey:        publicKey,
			IsRegistered:     true,
			FlowControlLevel: FlowControlMedium,
			Status:           StatusDisconnected,
		}
		applyRegisterOptions(device, opts)
		if err := s.store.CreateDevice(ctx, device); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Lost a create race. The row exists now, so claim
				// it; a registered winner rejects as usual.
				existing, getErr := s.store.GetDeviceByDeviceID(ctx, deviceID)
				if getErr != nil {
					return nil, getErr
				}
				return s.claimDevice(ctx, existing, publicKey, opts)
			}
			return nil, fmt.Errorf("failed to register device: %w", err)
		}
		s.logger.WithField("device_id", deviceID).Info("Device registered")
		return device, nil

	default:
		return nil, err
	}
}

// claimDevice transitions an existing row to registered. Registration
// is the only transition out of the unregistered state; a row that is
// already registered rejects without mutation.
func (s *DeviceService) claimDevice(ctx context.Context, device *Device, publicKey string, opts RegisterOptions) (*Device, error) {
	if device.IsRegistered {
		return nil, ErrDeviceAlreadyRegistered
	}
	device.PublicKey = publicKey
	device.IsRegistered = true
	applyRegisterOptions(device, opts)
	RefreshStatus(device, time.Now(), s.timeout)
	if err := s.store.SaveDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to claim device record: %w", err)
	}
	s.invalidateCache(ctx, device.DeviceID)
	s.logger.WithFields(logrus.Fields{
		"device_id": device.DeviceID,
		"claimed":   true,
	}).Info("Device registered")
	return device, nil
}

func applyRegisterOptions(d *Device, opts RegisterOptions) {
	if opts.IPAddr != "" {
		d.IPAddr = opts.IPAddr
	}
	if opts.DeviceName != "" {
		d.DeviceName = opts.DeviceName
	}
	if ValidFlowControlLevel(opts.FlowControlLevel) {
		d.FlowControlLevel = opts.FlowControlLevel
	}
}

// Authenticate verifies a detached signature over the device's own
// deviceId against its stored public key. On success the identity
// state is updated in a single write; on failure nothing is mutated.
func (s *DeviceService) Authenticate(ctx context.Context, deviceID, deviceType, signature, ipAddr string) (*Device, error) {
	device, err := s.store.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	// The signed message is the literal deviceId. This is replayable
	// and kept for protocol compatibility with deployed gateways.
	if !utils.VerifySignature(device.PublicKey, signature, deviceID) {
		s.logger.WithFields(logrus.Fields{
			"device_id":   deviceID,
			"device_type": deviceType,
		}).Warn("Device authentication failed")
		return nil, ErrAuthenticationFailed
	}

	now := time.Now()
	device.IsAuthenticated = true
	device.DeviceType = deviceType
	device.LastAuthenticated = &now
	if ipAddr != "" {
		device.IPAddr = ipAddr
	}
	RefreshStatus(device, now, s.timeout)

	if err := s.store.SaveDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to record authentication: %w", err)
	}
	s.invalidateCache(ctx, deviceID)

	s.logger.WithFields(logrus.Fields{
		"device_id":   deviceID,
		"device_type": deviceType,
	}).Info("Device authenticated")
	return device, nil
}

// UpsertFromReport is the idempotent create-or-update a gateway report
// uses to materialize downstream devices without a register call.
// The cached status is always recomputed after the write.
func (s *DeviceService) UpsertFromReport(ctx context.Context, info DeviceReportInfo) (*Device, error) {
	device, err := s.store.GetDeviceByDeviceID(ctx, info.DeviceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		device = &Device{
			DeviceID:         info.DeviceID,
			FlowControlLevel: FlowControlMedium,
		}
		mergeReportInfo(device, info)
		RefreshStatus(device, time.Now(), s.timeout)
		err = s.store.CreateDevice(ctx, device)
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("failed to create device from report: %w", err)
		}
		// Lost a create race; merge onto the winner's row instead.
		device, err = s.store.GetDeviceByDeviceID(ctx, info.DeviceID)
	}
	if err != nil {
		return nil, err
	}

	mergeReportInfo(device, info)
	RefreshStatus(device, time.Now(), s.timeout)
	if err := s.store.SaveDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to update device from report: %w", err)
	}
	s.invalidateCache(ctx, info.DeviceID)
	return device, nil
}

// mergeReportInfo copies the non-empty report fields onto the record.
// DeviceID and PublicKey are never touched by gateway reports.
func mergeReportInfo(d *Device, info DeviceReportInfo) {
	if info.DeviceType != "" {
		d.DeviceType = info.DeviceType
	}
	if info.DeviceName != "" {
		d.DeviceName = info.DeviceName
	}
	if info.IPAddr != "" {
		d.IPAddr = info.IPAddr
	}
	if info.Host != "" {
		d.Host = info.Host
	}
	if info.LoginUser != "" {
		d.LoginUser = info.LoginUser
	}
	if ValidFlowControlLevel(info.FlowControlLevel) {
		d.FlowControlLevel = info.FlowControlLevel
	}
}

// GetByID looks a device up by its surrogate primary key.
func (s *DeviceService) GetByID(ctx context.Context, id uint) (*Device, error) {
	device, err := s.store.GetDevice(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	RefreshStatus(device, time.Now(), s.timeout)
	return device, nil
}

// GetByDeviceID looks a device up by its external identifier, trying
// the cache first. Status is recomputed on every read so a cache hit
// can never serve a stale liveness value.
func (s *DeviceService) GetByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	if cached, err := s.getCachedDevice(ctx, deviceID); err == nil && cached != nil {
		RefreshStatus(cached, time.Now(), s.timeout)
		return cached, nil
	}

	device, err := s.store.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	s.cacheDevice(ctx, device)
	RefreshStatus(device, time.Now(), s.timeout)
	return device, nil
}

// List returns a page of devices with freshly derived status values.
func (s *DeviceService) List(ctx context.Context, q DeviceListQuery) ([]*Device, int64, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 10
	}

	devices, total, err := s.store.ListDevices(ctx, q)
	if err != nil {
		return nil, 0, err
	}

	now := time.Now()
	for _, d := range devices {
		RefreshStatus(d, now, s.timeout)
	}
	return devices, total, nil
}

// Update applies an explicit field-by-field merge to a device record.
func (s *DeviceService) Update(ctx context.Context, deviceID string, fields UpdateDeviceFields) (*Device, error) {
	device, err := s.store.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	if fields.DeviceType != nil {
		device.DeviceType = *fields.DeviceType
	}
	if fields.DeviceName != nil {
		device.DeviceName = *fields.DeviceName
	}
	if fields.PublicKey != nil {
		device.PublicKey = *fields.PublicKey
	}
	if fields.FlowControlLevel != nil && ValidFlowControlLevel(*fields.FlowControlLevel) {
		device.FlowControlLevel = *fields.FlowControlLevel
	}
	if fields.IPAddr != nil {
		device.IPAddr = *fields.IPAddr
	}
	if fields.Host != nil {
		device.Host = *fields.Host
	}
	if fields.LoginUser != nil {
		device.LoginUser = *fields.LoginUser
	}

	RefreshStatus(device, time.Now(), s.timeout)
	if err := s.store.SaveDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to update device: %w", err)
	}
	s.invalidateCache(ctx, deviceID)

	s.logger.WithField("device_id", deviceID).Info("Device updated")
	return device, nil
}

// Delete removes a device record.
func (s *DeviceService) Delete(ctx context.Context, deviceID string) error {
	if err := s.store.DeleteDevice(ctx, deviceID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDeviceNotFound
		}
		return err
	}
	s.invalidateCache(ctx, deviceID)
	s.logger.WithField("device_id", deviceID).Info("Device deleted")
	return nil
}

func (s *DeviceService) cacheDevice(ctx context.Context, device *Device) {
	if s.cache == nil {
		return
	}
	data, _ := json.Marshal(device)
	s.cache.Set(ctx, deviceCacheKey(device.DeviceID), string(data), 24*time.Hour)
}

func (s *DeviceService) invalidateCache(ctx context.Context, deviceID string) {
	if s.cache == nil {
		return
	}
	s.cache.Delete(ctx, deviceCacheKey(deviceID))
}

func (s *DeviceService) getCachedDevice(ctx context.Context, deviceID string) (*Device, error) {
	if s.cache == nil {
		return nil, errors.New("cache not available")
	}

	data, err := s.cache.Get(ctx, deviceCacheKey(deviceID))
	if err != nil {
		return nil, err
	}

	var device Device
	if err := json.Unmarshal([]byte(data), &device); err != nil {
		return nil, err
	}
	return &device, nil
}

func deviceCacheKey(deviceID string) string {
	return "device:" + deviceID
}
