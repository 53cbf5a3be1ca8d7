package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/qnetlab/device-registry/internal/core"
	"github.com/qnetlab/device-registry/internal/infrastructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	refreshBatchSize int
	refreshDryRun    bool
)

// refreshStatusCmd recomputes the stored status column for every
// device. The column is only a cache of the derived value, but
// dashboards that read the table directly benefit from a periodic
// sweep between authentications.
var refreshStatusCmd = &cobra.Command{
	Use:   "refresh-status",
	Short: "Recompute the cached connection status of all devices",
	Long: `Sweeps the device table and rewrites the stored status column from
each device's registration state and last authentication time. Stale
cache entries are invalidated along the way.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRefreshStatus()
	},
}

func init() {
	rootCmd.AddCommand(refreshStatusCmd)

	refreshStatusCmd.Flags().IntVarP(&refreshBatchSize, "batch", "b", 500, "Devices per page")
	refreshStatusCmd.Flags().BoolVar(&refreshDryRun, "dry-run", false, "Report changes without writing them")
}

func runRefreshStatus() error {
	logger.Info("Starting status refresh sweep...")

	db, err := infrastructure.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	cache, err := infrastructure.NewCache(cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("Cache unavailable, skipping cache invalidation")
		cache = nil
	} else {
		defer cache.Close()
	}

	store := core.NewRepository(db.DB)
	ctx := context.Background()
	now := time.Now()

	var scanned, changed int
	for page := 1; ; page++ {
		devices, _, err := store.ListDevices(ctx, core.DeviceListQuery{
			Page:            page,
			Limit:           refreshBatchSize,
			IncludeGateways: true,
			SortBy:          "id",
			SortOrder:       "ASC",
		})
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}
		if len(devices) == 0 {
			break
		}

		for _, device := range devices {
			scanned++
			derived := core.DeriveStatus(device.IsRegistered, device.LastAuthenticated, now, cfg.Fleet.ConnectionTimeout)
			if derived == device.Status {
				continue
			}
			changed++

			if refreshDryRun {
				logger.WithFields(logrus.Fields{
					"device_id": device.DeviceID,
					"from":      device.Status,
					"to":        derived,
				}).Info("Would update status")
				continue
			}

			device.Status = derived
			if err := store.SaveDevice(ctx, device); err != nil {
				logger.WithError(err).WithField("device_id", device.DeviceID).
					Error("Failed to update status")
				continue
			}
			if cache != nil {
				cache.Delete(ctx, "device:"+device.DeviceID)
			}
		}

		if len(devices) < refreshBatchSize {
			break
		}
	}

	logger.WithFields(logrus.Fields{
		"scanned": scanned,
		"changed": changed,
		"dry_run": refreshDryRun,
	}).Info("Status refresh completed")
	return nil
}
