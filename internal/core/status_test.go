package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	timeout := 3 * time.Minute

	recent := now.Add(-time.Minute)
	atBoundary := now.Add(-timeout)
	justExpired := now.Add(-timeout - time.Nanosecond)
	old := now.Add(-time.Hour)

	tests := []struct {
		name              string
		isRegistered      bool
		lastAuthenticated *time.Time
		want              string
	}{
		{"unregistered", false, nil, StatusUnknown},
		{"unregistered with stale auth", false, &old, StatusUnknown},
		{"registered never authenticated", true, nil, StatusDisconnected},
		{"authenticated recently", true, &recent, StatusConnected},
		{"authenticated exactly at timeout", true, &atBoundary, StatusConnected},
		{"authenticated just past timeout", true, &justExpired, StatusDisconnected},
		{"authenticated long ago", true, &old, StatusDisconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStatus(tt.isRegistered, tt.lastAuthenticated, now, timeout)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRefreshStatus(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Second)

	d := &Device{IsRegistered: true, LastAuthenticated: &recent, Status: StatusUnknown}
	RefreshStatus(d, now, DefaultConnectionTimeout)
	assert.Equal(t, StatusConnected, d.Status)

	d.LastAuthenticated = nil
	RefreshStatus(d, now, DefaultConnectionTimeout)
	assert.Equal(t, StatusDisconnected, d.Status)
}
