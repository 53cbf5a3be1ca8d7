// internal/core/alarms.go
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// AlarmListOptions are the caller-facing alarm query parameters.
// Each time edge accepts either a date or a millisecond timestamp,
// never both.
type AlarmListOptions struct {
	Page           int
	Limit          int
	AlarmType      string
	AlarmStatus    string
	SortBy         string
	SortOrder      string
	StartDate      *time.Time
	EndDate        *time.Time
	StartTimestamp *int64
	EndTimestamp   *int64
}

// AlarmService is the append-only store of gateway-raised alarms.
type AlarmService struct {
	store  Repository
	logger *logrus.Logger
}

// NewAlarmService creates the alarm recorder.
func NewAlarmService(store Repository, logger *logrus.Logger) *AlarmService {
	return &AlarmService{store: store, logger: logger}
}

// Create appends one alarm row. CreatedAt is server-assigned and
// immutable afterwards.
func (s *AlarmService) Create(ctx context.Context, alarm *Alarm) (*Alarm, error) {
	if alarm.AlarmStatus == "" {
		alarm.AlarmStatus = AlarmStatusActive
	}
	if err := s.store.CreateAlarm(ctx, alarm); err != nil {
		return nil, fmt.Errorf("failed to create alarm: %w", err)
	}
	return alarm, nil
}

// List returns a filtered, paginated page of alarms. Conflicting time
// bounds fail before any query runs.
func (s *AlarmService) List(ctx context.Context, opts AlarmListOptions) ([]*Alarm, int64, error) {
	if (opts.StartDate != nil && opts.StartTimestamp != nil) ||
		(opts.EndDate != nil && opts.EndTimestamp != nil) {
		return nil, 0, ErrInvalidDateParameters
	}

	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = 10
	}
	if opts.SortBy == "" {
		opts.SortBy = "createdAt"
	}
	if opts.SortOrder == "" {
		opts.SortOrder = "DESC"
	}

	query := AlarmListQuery{
		Page:        opts.Page,
		Limit:       opts.Limit,
		AlarmType:   opts.AlarmType,
		AlarmStatus: opts.AlarmStatus,
		SortBy:      opts.SortBy,
		SortOrder:   opts.SortOrder,
	}
	if opts.StartTimestamp != nil {
		t := time.UnixMilli(*opts.StartTimestamp)
		query.Start = &t
	} else if opts.StartDate != nil {
		query.Start = opts.StartDate
	}
	if opts.EndTimestamp != nil {
		t := time.UnixMilli(*opts.EndTimestamp)
		query.End = &t
	} else if opts.EndDate != nil {
		query.End = opts.EndDate
	}

	return s.store.ListAlarms(ctx, query)
}
