package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wattmint/backend/libs/db"
	libredis "wattmint/backend/libs/redis"
	"wattmint/backend/services/sync-service/internal/archive"
	"wattmint/backend/services/sync-service/internal/availability"
	appconfig "wattmint/backend/services/sync-service/internal/config"
	"wattmint/backend/services/sync-service/internal/credentials"
	httpserver "wattmint/backend/services/sync-service/internal/http"
	"wattmint/backend/services/sync-service/internal/http/handlers"
	"wattmint/backend/services/sync-service/internal/http/middleware"
	"wattmint/backend/services/sync-service/internal/provider"
	redisstore "wattmint/backend/services/sync-service/internal/redis"
	"wattmint/backend/services/sync-service/internal/repository"
	"wattmint/backend/services/sync-service/internal/service"
	"wattmint/backend/services/sync-service/internal/telemetry"
)

// App wires dependencies for the sync service.
type App struct {
	cfg          *appconfig.Config
	pool         *pgxpool.Pool
	redis        *goredis.Client
	orchestrator *service.Orchestrator
	telemetry    telemetry.ShutdownFunc
	logger       *zap.Logger
}

// New builds application graph.
func New(ctx context.Context, cfg *appconfig.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		ServiceName:  cfg.Telemetry.ServiceName,
	})
	a.telemetry = shutdown
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPostgresPool(ctx, cfg.Database.DSN)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.pool = pool

	if cfg.Redis.Addr != "" {
		client, err := libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
	} else {
		logger.Info("redis not configured; rate-limit cooldowns and cached results disabled")
	}

	orch, err := a.buildOrchestrator(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.orchestrator = orch
	return a, nil
}

func (a *App) buildOrchestrator(ctx context.Context) (*service.Orchestrator, error) {
	cfg := a.cfg

	sealer, err := newSealer(cfg.Crypto)
	if err != nil {
		return nil, err
	}
	if cfg.Crypto.TokenKey == "" {
		a.logger.Warn("token sealing disabled; vendor tokens are stored as plaintext")
	}

	vendorHTTP := provider.NewDefaultHTTPClient(cfg.Sync.VendorTimeout)
	credRepo := repository.NewCredentialRepository(a.pool, sealer)
	tokens := credentials.NewManager(
		credRepo,
		credentials.NewOAuthRefresher(oauthEndpoints(cfg.Providers), vendorHTTP),
		cfg.Sync.RefreshWindow,
		a.logger.Named("credentials"),
	)

	deps := service.Deps{
		Devices:  repository.NewDeviceRepository(a.pool),
		Records:  repository.NewRecordRepository(a.pool, cfg.Sync.ChunkSize, a.logger.Named("records")),
		Profiles: repository.NewProfileRepository(a.pool),
		Tokens:   tokens,
		Adapters: newRegistry(cfg.Providers, vendorHTTP),
		Fetcher:  availability.NewController(cfg.Sync.WakeAttempts, cfg.Sync.WakeInterval, a.logger.Named("availability")),
	}
	if a.redis != nil {
		store := redisstore.NewStore(a.redis, cfg.Redis.ResultTTL)
		deps.Cooldowns = store
		deps.Results = store
	}
	if cfg.Archive.Bucket != "" {
		archiver, err := archive.NewS3Archiver(ctx, archive.S3Config{
			Bucket:       cfg.Archive.Bucket,
			Region:       cfg.Archive.Region,
			BaseEndpoint: cfg.Archive.BaseEndpoint,
			AccessKey:    cfg.Archive.AccessKey,
			SecretKey:    cfg.Archive.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		deps.Archiver = archiver
	}

	return service.NewOrchestrator(deps, service.Options{
		ProviderConcurrency: cfg.Sync.ProviderConcurrency,
		PageSize:            cfg.Sync.PageSize,
		ItemCeiling:         cfg.Sync.ItemCeiling,
		MilesPerKWh:         cfg.Sync.MilesPerKWh,
		DefaultCooldown:     cfg.Sync.DefaultCooldown,
		Budget:              cfg.Sync.Budget,
	}, a.logger.Named("orchestrator"))
}

func newSealer(cfg appconfig.CryptoConfig) (credentials.Sealer, error) {
	if cfg.TokenKey == "" {
		return credentials.PlainSealer{}, nil
	}
	return credentials.NewAEADSealer(cfg.TokenKey)
}

// newRegistry builds one rate-limited client and adapter per configured vendor.
func newRegistry(cfg appconfig.ProvidersConfig, httpClient *http.Client) *provider.Registry {
	client := func(name string, p appconfig.ProviderConfig, asleep int) *provider.Client {
		return provider.NewClient(provider.ClientOptions{
			Provider:     name,
			BaseURL:      p.BaseURL,
			AsleepStatus: asleep,
			RPS:          p.RPS,
			Burst:        p.Burst,
		}, httpClient)
	}
	return provider.NewRegistry(
		provider.NewSolarEdge(client(provider.SolarEdgeName, cfg.SolarEdge, 0)),
		provider.NewTesla(client(provider.TeslaName, cfg.Tesla, provider.TeslaAsleepStatus)),
		provider.NewWallbox(client(provider.WallboxName, cfg.Wallbox, 0)),
	)
}

// oauthEndpoints lists vendors that issue refreshable tokens.
func oauthEndpoints(cfg appconfig.ProvidersConfig) map[string]credentials.Endpoint {
	out := map[string]credentials.Endpoint{}
	for name, p := range map[string]appconfig.ProviderConfig{
		provider.SolarEdgeName: cfg.SolarEdge,
		provider.TeslaName:     cfg.Tesla,
		provider.WallboxName:   cfg.Wallbox,
	} {
		if p.TokenURL == "" {
			continue
		}
		out[name] = credentials.Endpoint{ClientID: p.ClientID, ClientSecret: p.ClientSecret, TokenURL: p.TokenURL}
	}
	return out
}

// Orchestrator exposes the sync engine for one-shot invocations.
func (a *App) Orchestrator() *service.Orchestrator {
	return a.orchestrator
}

// Server builds the HTTP server around the orchestrator.
func (a *App) Server() (*httpserver.Server, error) {
	if err := a.cfg.ValidateServe(); err != nil {
		return nil, err
	}
	syncHandler := handlers.NewSyncHandler(a.orchestrator, a.logger.Named("http"))
	routes := httpserver.Routes{
		Sync:       syncHandler.Sync,
		Stream:     handlers.NewStreamHandler(a.orchestrator, a.logger.Named("stream")).ServeHTTP,
		LastResult: syncHandler.LastResult,
		Health:     handlers.NewHealthHandler(a.healthChecks()),
	}
	router := httpserver.NewRouter(routes, middleware.AuthMiddleware(a.cfg.JWT.Secret))
	return httpserver.NewServer(a.cfg.HTTPAddress(), router, a.cfg.HTTP.WriteTimeout, a.logger,
		middleware.Recovery(a.logger),
		middleware.Logging(a.logger),
	), nil
}

func (a *App) healthChecks() map[string]handlers.Pinger {
	checks := map[string]handlers.Pinger{}
	if a.pool != nil {
		checks["postgres"] = a.pool.Ping
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return checks
}

// Run starts serving HTTP traffic until context cancellation.
func (a *App) Run(ctx context.Context) error {
	srv, err := a.Server()
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// Close releases acquired resources.
func (a *App) Close(ctx context.Context) {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.telemetry != nil {
		if err := a.telemetry(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}
