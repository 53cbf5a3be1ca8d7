package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qnetlab/device-registry/internal/api"
	"github.com/qnetlab/device-registry/internal/core"
	"github.com/qnetlab/device-registry/internal/infrastructure"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the Device Registry API server",
	Long:  `Launches the HTTP server to handle device registration, authentication, and gateway fleet reports.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer() error {
	logger.Info("Initializing Device Registry Service...")

	// --- Infrastructure Setup ---
	logger.Info("Connecting to database...")
	db, err := infrastructure.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	logger.Info("Connecting to cache...")
	cache, err := infrastructure.NewCache(cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("Cache unavailable, continuing without it")
		cache = nil
	} else {
		defer cache.Close()
	}

	var messaging *infrastructure.Messaging
	if cfg.ServiceBus.ConnectionString != "" {
		logger.Info("Connecting to messaging service...")
		messaging, err = infrastructure.NewMessaging(cfg.ServiceBus)
		if err != nil {
			logger.WithError(err).Warn("Messaging service unavailable, continuing without it")
			messaging = nil
		} else {
			defer messaging.Close()
		}
	}

	// --- Service Layer Setup ---
	store := core.NewRepository(db.DB)

	alarmZone, err := time.LoadLocation(cfg.Fleet.AlarmTimeZone)
	if err != nil {
		logger.WithError(err).WithField("zone", cfg.Fleet.AlarmTimeZone).
			Warn("Unknown alarm time zone, falling back to UTC")
		alarmZone = time.UTC
	}

	devices := core.NewDeviceService(store, cache, logger, cfg.Fleet.ConnectionTimeout)
	topology := core.NewTopologyService(store, logger)
	alarms := core.NewAlarmService(store, logger)
	events := core.NewEventService(store, logger)
	fleet := core.NewFleetService(devices, topology, alarms, events, messaging, logger, alarmZone)

	// --- API Layer Setup ---
	router := gin.New()

	handlers := api.NewAPIHandlers(devices, topology, alarms, fleet)
	api.SetupRoutes(router, handlers, logger)

	// --- MQTT Ingestion Bridge ---
	var subscriber *infrastructure.MQTTSubscriber
	if cfg.MQTT != nil && cfg.MQTT.BrokerURL != "" {
		subscriber, err = startMQTTBridge(fleet)
		if err != nil {
			return fmt.Errorf("MQTT bridge failed to start: %w", err)
		}
		defer subscriber.Stop()
	}

	// --- HTTP Server ---
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful Shutdown ---
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Infof("Device Registry API listening on %s", serverAddr)
		logger.Info("Service started successfully")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdownChan

	logger.Warn("Shutdown signal received, initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	} else {
		logger.Info("Server stopped gracefully")
	}

	logger.Info("Device Registry Service shutdown complete")
	return nil
}

// startMQTTBridge subscribes to the fleet topics and feeds reports
// into the same coordinator as the REST endpoints. Bandwidth
// directives for a status report are echoed back on the gateway's
// deviceCtrl topic.
func startMQTTBridge(fleet *core.FleetService) (*infrastructure.MQTTSubscriber, error) {
	subscriber, err := infrastructure.NewMQTTSubscriber(infrastructure.MQTTConfig{
		BrokerURL:         cfg.MQTT.BrokerURL,
		ClientID:          cfg.MQTT.ClientID,
		Username:          cfg.MQTT.Username,
		Password:          cfg.MQTT.Password,
		QoS:               cfg.MQTT.QoS,
		CleanSession:      cfg.MQTT.CleanSession,
		Topics:            cfg.MQTT.Topics,
		KeepAlive:         cfg.MQTT.KeepAlive,
		ConnectTimeout:    cfg.MQTT.ConnectTimeout,
		MaxReconnectDelay: cfg.MQTT.MaxReconnectDelay,
	}, logger)
	if err != nil {
		return nil, err
	}

	subscriber.RegisterHandler("status", func(ctx context.Context, topic string, payload []byte) error {
		var report core.StatusReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return fmt.Errorf("malformed status report: %w", err)
		}

		deviceCtrl, err := fleet.ProcessStatusReport(ctx, report)
		if err != nil {
			return err
		}

		response, err := json.Marshal(map[string]interface{}{
			"result":     "success",
			"deviceCtrl": deviceCtrl,
		})
		if err != nil {
			return err
		}
		return subscriber.Publish(deviceCtrlTopic(topic), response, cfg.MQTT.QoS)
	})

	subscriber.RegisterHandler("alarm", func(ctx context.Context, topic string, payload []byte) error {
		var report core.AlarmReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return fmt.Errorf("malformed alarm report: %w", err)
		}

		_, err := fleet.ProcessAlarmReport(ctx, report)
		return err
	})

	if err := subscriber.Start(); err != nil {
		return nil, err
	}
	return subscriber, nil
}

// deviceCtrlTopic maps fleet/{gateway}/status to fleet/{gateway}/deviceCtrl.
func deviceCtrlTopic(statusTopic string) string {
	return strings.TrimSuffix(statusTopic, "/status") + "/deviceCtrl"
}
