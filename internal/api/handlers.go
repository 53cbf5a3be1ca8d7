// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qnetlab/device-registry/internal/core"
)

// APIHandlers holds all HTTP handlers
type APIHandlers struct {
	devices  *core.DeviceService
	topology *core.TopologyService
	alarms   *core.AlarmService
	fleet    *core.FleetService
}

// NewAPIHandlers creates a new handler instance
func NewAPIHandlers(devices *core.DeviceService, topology *core.TopologyService, alarms *core.AlarmService, fleet *core.FleetService) *APIHandlers {
	return &APIHandlers{
		devices:  devices,
		topology: topology,
		alarms:   alarms,
		fleet:    fleet,
	}
}

// HealthCheck returns service health status
func (h *APIHandlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "device-registry",
	})
}

func businessError(err error) (core.BusinessError, bool) {
	var be core.BusinessError
	ok := errors.As(err, &be)
	return be, ok
}

// errorStatus maps a business error code to its HTTP status.
func errorStatus(be core.BusinessError) int {
	switch be.Code {
	case core.ErrDeviceNotFound.Code:
		return http.StatusNotFound
	case core.ErrDeviceAlreadyRegistered.Code:
		return http.StatusConflict
	case core.ErrAuthenticationFailed.Code:
		return http.StatusUnauthorized
	case core.ErrInvalidDateParameters.Code:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	if be, ok := businessError(err); ok {
		c.JSON(errorStatus(be), gin.H{"code": be.Code, "message": be.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    core.ErrInternal.Code,
		"message": core.ErrInternal.Message,
	})
}

// --- Device Endpoints ---

type registerDeviceRequest struct {
	DeviceID         string `json:"deviceId"`
	PublicKey        string `json:"publicKey"`
	IPAddr           string `json:"ipAddr"`
	DeviceName       string `json:"deviceName"`
	FlowControlLevel string `json:"flowControlLevel"`
}

// RegisterDevice handles new device registration. Unknown body fields
// are rejected here rather than silently dropped downstream.
func (h *APIHandlers) RegisterDevice(c *gin.Context) {
	var req registerDeviceRequest
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}
	if req.DeviceID == "" || req.PublicKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId and publicKey are required"})
		return
	}
	if req.FlowControlLevel != "" && !core.ValidFlowControlLevel(req.FlowControlLevel) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flowControlLevel"})
		return
	}

	device, err := h.devices.Register(c.Request.Context(), req.DeviceID, req.PublicKey, core.RegisterOptions{
		IPAddr:           req.IPAddr,
		DeviceName:       req.DeviceName,
		FlowControlLevel: req.FlowControlLevel,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, device)
}

type authenticateDeviceRequest struct {
	DeviceID   string `json:"deviceId" binding:"required"`
	DeviceType string `json:"deviceType" binding:"required"`
	Signature  string `json:"signature" binding:"required"`
	IPAddr     string `json:"ipAddr"`
}

// AuthenticateDevice verifies a device's signature over its deviceId.
func (h *APIHandlers) AuthenticateDevice(c *gin.Context) {
	var req authenticateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}

	if _, err := h.devices.Authenticate(c.Request.Context(), req.DeviceID, req.DeviceType, req.Signature, req.IPAddr); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Device authenticated successfully"})
}

// ListDevices returns a page of devices enriched with topology data.
func (h *APIHandlers) ListDevices(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	includeGateways := c.DefaultQuery("includePqcGateway", "false") == "true"

	devices, total, err := h.devices.List(c.Request.Context(), core.DeviceListQuery{
		Page:            page,
		Limit:           limit,
		IncludeGateways: includeGateways,
		SortBy:          c.DefaultQuery("sortBy", "id"),
		SortOrder:       c.DefaultQuery("sortOrder", "ASC"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.topology.EnrichDeviceList(c.Request.Context(), devices); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"total":   total,
	})
}

// GetDeviceByID retrieves a device by its numeric primary key.
func (h *APIHandlers) GetDeviceByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device id"})
		return
	}

	device, err := h.devices.GetByID(c.Request.Context(), uint(id))
	if err != nil {
		respondError(c, err)
		return
	}

	h.enrichOne(c, device)
}

// GetDeviceByDeviceID retrieves a device by its external identifier.
func (h *APIHandlers) GetDeviceByDeviceID(c *gin.Context) {
	device, err := h.devices.GetByDeviceID(c.Request.Context(), c.Param("deviceId"))
	if err != nil {
		respondError(c, err)
		return
	}

	h.enrichOne(c, device)
}

func (h *APIHandlers) enrichOne(c *gin.Context, device *core.Device) {
	if err := h.topology.EnrichDeviceList(c.Request.Context(), []*core.Device{device}); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

type updateDeviceRequest struct {
	DeviceType       *string `json:"deviceType"`
	DeviceName       *string `json:"deviceName"`
	PublicKey        *string `json:"publicKey"`
	FlowControlLevel *string `json:"flowControlLevel"`
	IPAddr           *string `json:"ipAddr"`
	Host             *string `json:"host"`
	LoginUser        *string `json:"loginUser"`
}

// UpdateDevice applies a partial update. deviceId is immutable.
func (h *APIHandlers) UpdateDevice(c *gin.Context) {
	var req updateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}
	if req.FlowControlLevel != nil && !core.ValidFlowControlLevel(*req.FlowControlLevel) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flowControlLevel"})
		return
	}

	device, err := h.devices.Update(c.Request.Context(), c.Param("deviceId"), core.UpdateDeviceFields{
		DeviceType:       req.DeviceType,
		DeviceName:       req.DeviceName,
		PublicKey:        req.PublicKey,
		FlowControlLevel: req.FlowControlLevel,
		IPAddr:           req.IPAddr,
		Host:             req.Host,
		LoginUser:        req.LoginUser,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, device)
}

// DeleteDevice removes a device record.
func (h *APIHandlers) DeleteDevice(c *gin.Context) {
	if err := h.devices.Delete(c.Request.Context(), c.Param("deviceId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Device deleted successfully"})
}

// --- Gateway Endpoints ---

// gatewayError writes the fleet protocol error envelope.
func gatewayError(c *gin.Context, err error) {
	if be, ok := businessError(err); ok {
		c.JSON(errorStatus(be), gin.H{
			"result":  "error",
			"message": be.Message,
			"error":   be.Code,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"result":  "error",
		"message": core.ErrInternal.Message,
		"error":   core.ErrInternal.Code,
	})
}

// GatewayStatusReport ingests a gateway's periodic status report and
// returns per-device bandwidth directives.
func (h *APIHandlers) GatewayStatusReport(c *gin.Context) {
	var report core.StatusReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"result":  "error",
			"message": "invalid status report format",
			"error":   "INVALID_REQUEST",
		})
		return
	}
	if report.DeviceID == "" || report.Signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"result":  "error",
			"message": "deviceId and signature are required",
			"error":   "INVALID_REQUEST",
		})
		return
	}

	deviceCtrl, err := h.fleet.ProcessStatusReport(c.Request.Context(), report)
	if err != nil {
		gatewayError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"result":     "success",
		"deviceCtrl": deviceCtrl,
	})
}

// GatewayAlarmReport ingests a gateway's alarm delivery.
func (h *APIHandlers) GatewayAlarmReport(c *gin.Context) {
	var report core.AlarmReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"result":  "error",
			"message": "invalid alarm report format",
			"error":   "INVALID_REQUEST",
		})
		return
	}
	for _, item := range report.AlarmInfo {
		if !core.ValidAlarmType(item.AlarmType) {
			c.JSON(http.StatusBadRequest, gin.H{
				"result":  "error",
				"message": "invalid alarmType: " + item.AlarmType,
				"error":   "INVALID_REQUEST",
			})
			return
		}
	}

	updatedAlarms, err := h.fleet.ProcessAlarmReport(c.Request.Context(), report)
	if err != nil {
		gatewayError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"result":        "success",
		"message":       "Alarm received successfully",
		"updatedAlarms": updatedAlarms,
	})
}

// ListAlarms returns a filtered page of alarms.
func (h *APIHandlers) ListAlarms(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	opts := core.AlarmListOptions{
		Page:        page,
		Limit:       limit,
		AlarmType:   c.Query("alarmType"),
		AlarmStatus: c.Query("alarmStatus"),
		SortBy:      c.DefaultQuery("sortBy", "createdAt"),
		SortOrder:   c.DefaultQuery("sortOrder", "DESC"),
	}

	var parseErr error
	opts.StartDate, parseErr = parseDateParam(c.Query("startDate"))
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid startDate"})
		return
	}
	opts.EndDate, parseErr = parseDateParam(c.Query("endDate"))
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endDate"})
		return
	}
	opts.StartTimestamp, parseErr = parseTimestampParam(c.Query("startTimestamp"))
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid startTimestamp"})
		return
	}
	opts.EndTimestamp, parseErr = parseTimestampParam(c.Query("endTimestamp"))
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endTimestamp"})
		return
	}

	alarms, total, err := h.alarms.List(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alarms": alarms,
		"total":  total,
	})
}

// parseDateParam accepts a plain date or an RFC 3339 timestamp.
func parseDateParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseTimestampParam accepts Unix milliseconds.
func parseTimestampParam(value string) (*int64, error) {
	if value == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, err
	}
	return &ms, nil
}
