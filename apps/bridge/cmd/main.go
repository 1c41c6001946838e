package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/cache"
	"github.com/pitabwire/frame/cache/jetstreamkv"
	"github.com/pitabwire/frame/cache/valkey"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/util"

	bconfig "github.com/antinvestor/service-wabridge/apps/bridge/config"
	"github.com/antinvestor/service-wabridge/apps/bridge/service/business"
	"github.com/antinvestor/service-wabridge/apps/bridge/service/handlers"
	"github.com/antinvestor/service-wabridge/apps/bridge/service/protocol"
	"github.com/antinvestor/service-wabridge/apps/bridge/service/queues"
	"github.com/antinvestor/service-wabridge/apps/bridge/service/repository"
	"github.com/antinvestor/service-wabridge/internal/health"
)

const gracefulShutdownTimeout = 30 * time.Second

// runService initializes and starts the bridge with all dependencies.
func runService(ctx context.Context) error {
	cfg, err := config.FromEnv[bconfig.BridgeConfig]()
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return err
	}

	// Fail fast on invalid config
	if err = cfg.Validate(); err != nil {
		util.Log(ctx).With("err", err).Error("invalid configuration")
		return err
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "service_wabridge"
	}

	rawCache, err := setupCache(ctx, cfg)
	if err != nil {
		util.Log(ctx).WithError(err).Error("could not setup cache")
		return err
	}

	ctx, svc := frame.NewServiceWithContext(
		ctx,
		frame.WithConfig(&cfg),
		frame.WithDatastore(),
	)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	if cfg.DoDatabaseMigrate() {
		if err = repository.Migrate(ctx, svc, cfg.GetDatabaseMigrationPath()); err != nil {
			log.WithError(err).Error("could not migrate successfully")
			return err
		}
		return nil
	}

	queueMan := svc.QueueManager()
	workMan := svc.WorkManager()
	dbManager := svc.DatastoreManager()
	dbPool := dbManager.GetPool(ctx, datastore.DefaultPoolName)

	// The device store lives in its own database owned by the protocol
	// client library, outside the service datastore.
	deviceDB, err := sql.Open(cfg.DeviceStoreDialect, cfg.DeviceStoreURI)
	if err != nil {
		log.WithError(err).Error("could not open device store")
		return err
	}
	defer deviceDB.Close()

	dialer, err := protocol.NewWhatsmeowDialer(ctx, deviceDB, cfg.DeviceStoreDialect, cfg.DeviceDisplayName)
	if err != nil {
		log.WithError(err).Error("could not setup protocol dialer")
		return err
	}

	sessionRepo := repository.NewSessionRepository(svc)
	settingRepo := repository.NewSettingRepository(svc)
	trackedRepo := repository.NewTrackedAccountRepository(svc)

	registry := business.NewRegistry()

	lifecycle := business.NewLifecycleManager(
		ctx,
		business.LifecycleOptions{
			PairingMaxRetries:  cfg.PairingMaxRetries,
			PairingRetryDelay:  cfg.PairingRetryDelay,
			ConnectSettleDelay: cfg.ConnectSettleDelay,
			RestartDelayBase:   cfg.RestartDelayBase,
			MaxRestartAttempts: cfg.MaxRestartAttempts,
		},
		registry,
		dialer,
		sessionRepo,
		settingRepo,
		trackedRepo,
		queueMan,
		cfg.QueueLifecycleName,
	)
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer drainCancel()
		if shutdownErr := lifecycle.Shutdown(drainCtx); shutdownErr != nil {
			util.Log(drainCtx).WithError(shutdownErr).Error("lifecycle shutdown error")
		}
	}()

	orchestrator := business.NewOrchestrator(
		lifecycle, sessionRepo, trackedRepo, registry, int32(cfg.MaxConcurrentConnections),
	)
	settings := business.NewSettingsBusiness(settingRepo, rawCache)

	healthHandler := setupHealthChecks(dbPool, rawCache, deviceDB, registry)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	handlers.NewBridgeHandler(lifecycle, orchestrator, settings, registry).SetupRouter(mux)

	dlp := queues.NewDeadLetterPublisher(&cfg, queueMan)

	serviceOptions := []frame.Option{
		frame.WithHTTPHandler(mux),
		frame.WithRegisterPublisher(cfg.QueueLifecycleName, cfg.QueueLifecycleURI),
		frame.WithRegisterSubscriber(
			cfg.QueueLifecycleName,
			cfg.QueueLifecycleURI,
			queues.NewLifecycleNotificationHandler(&cfg, workMan, registry, dlp),
		),
		frame.WithRegisterPublisher(cfg.QueueDeadLetterName, cfg.QueueDeadLetterURI),
	}

	svc.Init(ctx, serviceOptions...)

	if cfg.ReconnectOnStartup {
		go func() {
			results, recoverErr := orchestrator.RecoverTracked(ctx)
			if recoverErr != nil {
				log.WithError(recoverErr).Error("startup recovery failed")
				return
			}
			log.WithField("accounts", len(results)).Info("startup recovery complete")
		}()
	}

	return svc.Run(ctx, "")
}

func main() {
	ctx := context.Background()
	if err := runService(ctx); err != nil {
		util.Log(ctx).WithError(err).Fatal("could not run service")
	}
}

func setupCache(_ context.Context, cfg bconfig.BridgeConfig) (cache.RawCache, error) {
	cacheDSN := data.DSN(cfg.CacheURI)

	cacheOptions := []cache.Option{
		cache.WithDSN(cacheDSN),
	}

	switch {
	case cacheDSN.IsNats():
		return jetstreamkv.New(cacheOptions...)
	case cacheDSN.IsRedis():
		return valkey.New(cacheOptions...)
	default:
		return cache.NewInMemoryCache(), nil
	}
}

// setupHealthChecks wires readiness probes for every external dependency.
func setupHealthChecks(
	dbPool pool.Pool,
	rawCache cache.RawCache,
	deviceDB *sql.DB,
	registry *business.Registry,
) *health.Handler {
	handler := health.NewHandler()
	handler.AddChecker(health.NewDatabaseChecker(dbPool, 5*time.Second))
	handler.AddChecker(health.NewCacheChecker(rawCache, 5*time.Second))
	handler.AddChecker(health.NewDeviceStoreChecker(deviceDB, 5*time.Second))
	handler.AddChecker(health.NewConnectionsChecker(registry.Size))
	return handler
}
