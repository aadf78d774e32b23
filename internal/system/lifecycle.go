package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/alerting"
	"github.com/KevinKickass/OpenMachineMonitor/internal/api/rest"
	"github.com/KevinKickass/OpenMachineMonitor/internal/api/stream"
	"github.com/KevinKickass/OpenMachineMonitor/internal/auth"
	"github.com/KevinKickass/OpenMachineMonitor/internal/collector"
	"github.com/KevinKickass/OpenMachineMonitor/internal/config"
	"github.com/KevinKickass/OpenMachineMonitor/internal/directory"
	"github.com/KevinKickass/OpenMachineMonitor/internal/events"
	"github.com/KevinKickass/OpenMachineMonitor/internal/interfaces"
	"github.com/KevinKickass/OpenMachineMonitor/internal/mqtt"
	"github.com/KevinKickass/OpenMachineMonitor/internal/storage"
	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const ackListenRetry = 5 * time.Second

type LifecycleManager struct {
	config  *config.Config
	storage *storage.PostgresClient
	logger  *zap.Logger

	tracker   *alerting.Tracker
	acks      *acknowledger
	bus       *events.Bus
	debouncer *events.Debouncer
	manager   *collector.Manager

	restServer *rest.Server
	grpcServer *grpc.Server
	mqttClient *mqtt.Client
	forwarder  *mqtt.Forwarder

	stateMu      sync.RWMutex
	currentState SystemState

	cancel context.CancelFunc
	bg     sync.WaitGroup

	shutdownOnce sync.Once
}

func NewLifecycleManager(storage *storage.PostgresClient, cfg *config.Config, logger *zap.Logger) *LifecycleManager {
	bus := events.NewBus(logger)
	tracker := alerting.NewTracker(cfg.Collector.RecentAlerts)
	return &LifecycleManager{
		config:       cfg,
		storage:      storage,
		logger:       logger,
		tracker:      tracker,
		acks:         newAcknowledger(storage, tracker, logger),
		bus:          bus,
		debouncer:    events.NewDebouncer(cfg.Collector.DebounceWindow, bus.Publish),
		currentState: StateInitializing,
	}
}

// Start starts the entire system
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting machine monitor",
		zap.Int("machines", len(lm.config.Machines)),
		zap.String("directory", lm.config.Directory.Source))

	if err := lm.storage.Migrate(ctx); err != nil {
		return lm.fail(fmt.Errorf("failed to migrate: %w", err))
	}

	source, err := lm.buildDirectory(ctx)
	if err != nil {
		return lm.fail(err)
	}

	// Offene Alarme übernehmen, sonst würden sie nach einem Neustart doppelt erzeugt
	open, err := lm.storage.LoadOpenAlerts(ctx)
	if err != nil {
		return lm.fail(fmt.Errorf("failed to load open alerts: %w", err))
	}
	lm.tracker.Seed(open)
	lm.logger.Info("Open alerts restored", zap.Int("count", len(open)))

	sink := storage.NewRetryingSink(lm.storage,
		lm.config.Collector.PersistRetries,
		lm.config.Collector.PersistRetryDelay,
		lm.logger)

	lm.manager = collector.NewManager(collector.ManagerConfig{
		ReadTimeout:    lm.config.Collector.ReadTimeout,
		BackoffInitial: lm.config.Collector.BackoffInitial,
		BackoffMax:     lm.config.Collector.BackoffMax,
		ShutdownGrace:  lm.config.Collector.ShutdownGrace,
	}, source, lm.tracker, sink, lm.bus, lm.debouncer, lm.logger)

	for _, m := range lm.config.MachineList() {
		if err := lm.manager.AddMachine(m); err != nil {
			return lm.fail(fmt.Errorf("failed to add machine %d: %w", m.ID, err))
		}
	}

	if err := lm.startMQTT(ctx); err != nil {
		return lm.fail(fmt.Errorf("failed to start MQTT: %w", err))
	}

	if err := lm.startGRPCServer(); err != nil {
		return lm.fail(fmt.Errorf("failed to start gRPC: %w", err))
	}

	if err := lm.startRESTServer(); err != nil {
		return lm.fail(fmt.Errorf("failed to start REST API: %w", err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	lm.bg.Add(1)
	go func() {
		defer lm.bg.Done()
		lm.acks.run(runCtx)
	}()

	lm.manager.StartAll(runCtx)

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("mqtt_enabled", lm.config.MQTT.Enabled))

	return nil
}

func (lm *LifecycleManager) buildDirectory(ctx context.Context) (directory.Source, error) {
	if lm.config.Directory.Source != "file" {
		return lm.storage, nil
	}

	loader, err := directory.NewLoader()
	if err != nil {
		return nil, err
	}
	static, err := loader.LoadFile(lm.config.Directory.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load parameter directory: %w", err)
	}

	params := static.All()
	if err := lm.storage.UpsertParameters(ctx, params); err != nil {
		return nil, err
	}

	lm.logger.Info("Parameter directory loaded",
		zap.String("path", lm.config.Directory.Path),
		zap.Int("parameters", len(params)))
	return static, nil
}

func (lm *LifecycleManager) startMQTT(ctx context.Context) error {
	if !lm.config.MQTT.Enabled {
		return nil
	}

	lm.mqttClient = mqtt.NewClient(lm.config.MQTT, lm.logger)
	if err := lm.mqttClient.Connect(ctx); err != nil {
		return err
	}

	lm.forwarder = mqtt.NewForwarder(lm.config.MQTT.TopicPrefix, lm.config.MQTT.QueueSize,
		lm.mqttClient.Publish, lm.logger)
	return lm.bus.Subscribe(lm.forwarder)
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	stream.RegisterEventStreamServer(lm.grpcServer, stream.NewService(lm.bus, lm.logger))

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", stream.ServiceName))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	if !lm.config.Auth.IsProductionReady() {
		lm.logger.Warn("JWT secret is the development default or too short",
			zap.String("env", lm.config.Auth.JWTSecretEnv))
	}
	verifier := auth.NewVerifier(lm.config.Auth.GetJWTSecret(), lm.config.Auth.Issuer)

	lm.restServer = rest.NewServer(lm.config.Server.HTTPPort, lm, lm.bus, verifier, lm.logger)
	return lm.restServer.Start()
}

// AcknowledgeAlert persists the acknowledgement and re-arms evaluation.
func (lm *LifecycleManager) AcknowledgeAlert(ctx context.Context, id uuid.UUID, by string) (types.Alert, error) {
	return lm.acks.acknowledge(ctx, id, by)
}

func (lm *LifecycleManager) RecentAlerts() []types.Alert {
	return lm.tracker.Recent()
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	var machines []collector.MachineStatus
	if lm.manager != nil {
		machines = lm.manager.Status()
	}
	connected := 0
	for _, m := range machines {
		if m.Connected {
			connected++
		}
	}

	stats := lm.bus.Stats()
	return interfaces.SystemStatus{
		State:           state.String(),
		Machines:        machines,
		MachineCount:    len(machines),
		ConnectedPLCs:   connected,
		OpenAlerts:      lm.tracker.OpenCount(),
		LiveSubscribers: stats.Subscribers,
		PublishedEvents: stats.Published,
		Timestamp:       time.Now().Unix(),
	}
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		if shutdownErr != nil {
			lm.fail(shutdownErr)
			return
		}
		lm.setState(StateStopped)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	// 1. Pollers, in-flight reads, PLC connections
	if lm.manager != nil {
		if err := lm.manager.StopAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("collector stop failed: %w", err))
		}
	}

	// 2. Pending connectivity changes still go out, then the bus closes
	// every live subscriber (websocket, gRPC streams, MQTT forwarder)
	lm.debouncer.Flush()
	lm.debouncer.Stop()
	lm.bus.Close()

	if lm.forwarder != nil {
		lm.forwarder.Wait()
		lm.mqttClient.Disconnect()
	}

	if lm.cancel != nil {
		lm.cancel()
	}
	lm.bg.Wait()

	// 3. Servers
	if lm.restServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
		cancel()
	}

	if lm.grpcServer != nil {
		lm.logger.Info("Stopping gRPC server")
		done := make(chan struct{})
		go func() {
			lm.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			lm.logger.Warn("Shutdown timeout, forcing gRPC stop")
			lm.grpcServer.Stop()
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) fail(err error) error {
	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.stateMu.Unlock()

	lm.logger.Error("System error", zap.Error(err))
	return err
}
