package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/evyataryagoni/membermap/internal/config"
	"github.com/evyataryagoni/membermap/internal/geocode"
	"github.com/evyataryagoni/membermap/internal/handler"
	"github.com/evyataryagoni/membermap/internal/limiter"
	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/metrics"
	"github.com/evyataryagoni/membermap/internal/realtime"
	"github.com/evyataryagoni/membermap/internal/router"
	"github.com/evyataryagoni/membermap/internal/service"
	"github.com/evyataryagoni/membermap/internal/store"
)

const shutdownTimeout = 10 * time.Second

// MemberMap API
// Member directory with live change notifications and address geocoding
// BasePath /v1
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	appConfig := config.Load()

	// Initialize components
	appLogger := setupLogger(appConfig)
	metricsCollector := setupMetrics(appLogger)

	redisClient := setupRedis(ctx, appConfig, appLogger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	dataStore := setupDataStore(ctx, appConfig, redisClient, appLogger)
	broker := setupBroker(appConfig, redisClient, appLogger)

	rateLimiter := setupRateLimiter(appConfig, redisClient, appLogger)
	defer rateLimiter.Close()

	geocoder := setupGeocoder(ctx, appConfig, redisClient, metricsCollector, appLogger)
	defer geocoder.Flush(context.Background())

	// Build application layers
	memberService := service.NewMemberService(dataStore, broker, metricsCollector, appLogger)
	defer memberService.Close()

	appRouter := router.SetupRouter(router.Options{
		Members:        handler.NewMemberHandler(memberService),
		Events:         handler.NewEventsHandler(memberService, metricsCollector, appLogger, handler.DefaultKeepAlive),
		Geocode:        handler.NewGeocodeHandler(geocoder),
		RateLimiter:    rateLimiter,
		Metrics:        metricsCollector,
		Gatherer:       prometheus.DefaultGatherer,
		Logger:         appLogger,
		AllowedOrigins: appConfig.CORSAllowedOrigins,
	})

	// Start server
	startServer(ctx, appConfig, appRouter, appLogger)
}

// setupLogger initializes the structured logger
func setupLogger(appConfig *config.Config) *logger.Logger {
	appLogger := logger.New(logger.Config{
		Level:      appConfig.LogLevel,
		Pretty:     appConfig.LogPretty,
		OutputFile: appConfig.LogFile,
	})

	appLogger.Info().Msg("Starting MemberMap Server...")
	appLogger.Info().
		Str("port", appConfig.Port).
		Str("rate_limiter_type", appConfig.RateLimitType).
		Int("rate_limit", appConfig.RateLimit).
		Int("rate_limit_window", appConfig.RateLimitWindow).
		Str("datastore_type", appConfig.DatastoreType).
		Str("datastore_path", appConfig.DatastorePath).
		Str("broker_type", appConfig.BrokerType).
		Str("geocode_cache_type", appConfig.GeocodeCacheType).
		Dur("geocode_delay", appConfig.GeocodeDelay).
		Strs("cors_allowed_origins", appConfig.CORSAllowedOrigins).
		Msg("Configuration loaded")

	return appLogger
}

// setupMetrics initializes the Prometheus metrics collector
func setupMetrics(log *logger.Logger) *metrics.Metrics {
	metricsCollector := metrics.New()
	log.Info().Msg("Metrics initialized")
	return metricsCollector
}

// setupRedis connects to Redis when any component is configured to use it.
// The client is shared by the store, broker, limiter and geocode cache.
func setupRedis(ctx context.Context, appConfig *config.Config, log *logger.Logger) *redis.Client {
	if appConfig.DatastoreType != "redis" && appConfig.BrokerType != "redis" &&
		appConfig.RateLimitType != "redis" && appConfig.GeocodeCacheType != "redis" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     appConfig.RedisAddr,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", appConfig.RedisAddr).Msg("Failed to connect to Redis")
	}

	log.Info().Str("addr", appConfig.RedisAddr).Msg("Redis connected")
	return client
}

// setupDataStore initializes the member store based on configuration
// Supports memory (optionally seeded from CSV), MySQL, and Redis backends
func setupDataStore(ctx context.Context, appConfig *config.Config, redisClient *redis.Client, log *logger.Logger) store.Store {
	var dataStore store.Store
	var err error

	switch appConfig.DatastoreType {
	case "memory", "":
		if appConfig.DatastorePath != "" {
			dataStore, err = store.NewMemoryStoreFromCSV(appConfig.DatastorePath)
		} else {
			dataStore = store.NewMemoryStore()
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize memory store")
		}

	case "mysql":
		dataStore, err = store.NewMySQLStore(appConfig.MySQLDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize MySQL store")
		}
		seedIfEmpty(ctx, dataStore, appConfig.DatastorePath, log)

	case "redis":
		dataStore, err = store.NewRedisStore(ctx, redisClient, store.DefaultRedisPrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Redis store")
		}
		seedIfEmpty(ctx, dataStore, appConfig.DatastorePath, log)

	default:
		log.Fatal().Str("type", appConfig.DatastoreType).Msg("Unknown datastore type")
	}

	log.Info().Str("type", appConfig.DatastoreType).Msg("Member store initialized")
	return dataStore
}

// seedIfEmpty loads sample members from CSV into an empty store
func seedIfEmpty(ctx context.Context, dataStore store.Store, csvPath string, log *logger.Logger) {
	n, err := store.SeedFromCSVIfEmpty(ctx, dataStore, csvPath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load sample data")
		return
	}
	if n > 0 {
		log.Info().Int("count", n).Str("path", csvPath).Msg("Store was empty, loaded sample data")
	}
}

// setupBroker initializes the change notification broker
func setupBroker(appConfig *config.Config, redisClient *redis.Client, log *logger.Logger) realtime.Broker {
	broker, err := realtime.NewBroker(realtime.BrokerConfig{
		Type:        appConfig.BrokerType,
		Channel:     appConfig.BrokerChannel,
		Buffer:      realtime.DefaultBuffer,
		RedisClient: redisClient,
		Logger:      log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize change broker")
	}

	log.Info().Str("type", appConfig.BrokerType).Str("channel", appConfig.BrokerChannel).Msg("Change broker initialized")
	return broker
}

// setupRateLimiter initializes the rate limiter
// Supports in-memory and Redis-based rate limiting
func setupRateLimiter(appConfig *config.Config, redisClient *redis.Client, log *logger.Logger) limiter.Limiter {
	rateLimiter, err := limiter.NewLimiter(limiter.LimiterConfig{
		Type:        appConfig.RateLimitType,
		Limit:       appConfig.RateLimit,
		Window:      time.Duration(appConfig.RateLimitWindow) * time.Second,
		RedisClient: redisClient,
		Logger:      log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize rate limiter")
	}

	log.Info().
		Str("type", appConfig.RateLimitType).
		Int("limit", appConfig.RateLimit).
		Int("window_seconds", appConfig.RateLimitWindow).
		Float64("requests_per_second", appConfig.RequestsPerSecond()).
		Msg("Rate limiter initialized")

	return rateLimiter
}

// setupGeocoder builds the cached Nominatim geocoder with its persistence backend
func setupGeocoder(ctx context.Context, appConfig *config.Config, redisClient *redis.Client, m *metrics.Metrics, log *logger.Logger) *geocode.Cache {
	provider := geocode.NewNominatim(
		geocode.WithBaseURL(appConfig.GeocodeURL),
		geocode.WithUserAgent(appConfig.GeocodeUserAgent),
		geocode.WithLogger(log),
	)

	opts := []geocode.CacheOption{
		geocode.WithDelay(appConfig.GeocodeDelay),
		geocode.WithMetrics(m),
		geocode.WithCacheLogger(log),
	}

	switch appConfig.GeocodeCacheType {
	case "memory", "":
	case "file":
		opts = append(opts, geocode.WithBackend(geocode.NewFileBackend(appConfig.GeocodeCachePath)))
	case "redis":
		opts = append(opts, geocode.WithBackend(geocode.NewRedisBackend(redisClient, geocode.DefaultRedisKey)))
	default:
		log.Fatal().Str("type", appConfig.GeocodeCacheType).Msg("Unknown geocode cache type")
	}

	cache := geocode.NewCache(ctx, provider, opts...)
	log.Info().Str("type", appConfig.GeocodeCacheType).Int("entries", cache.Len()).Msg("Geocode cache initialized")
	return cache
}

// startServer serves until ctx is cancelled, then drains connections
func startServer(ctx context.Context, appConfig *config.Config, appRouter http.Handler, log *logger.Logger) {
	server := &http.Server{
		Addr:              ":" + appConfig.Port,
		Handler:           appRouter,
		ReadHeaderTimeout: 10 * time.Second,
		// event streams end when ctx is cancelled instead of holding Shutdown open
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	log.Info().
		Str("port", appConfig.Port).
		Str("api_endpoint", "http://localhost:"+appConfig.Port+"/v1/members").
		Str("events", "http://localhost:"+appConfig.Port+"/v1/members/events").
		Str("health_check", "http://localhost:"+appConfig.Port+"/health").
		Str("metrics", "http://localhost:"+appConfig.Port+"/metrics").
		Msg("Server is running")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Graceful shutdown incomplete")
		}
	}
}
