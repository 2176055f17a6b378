package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"villa-auth/internal/adapter/events"
	"villa-auth/internal/adapter/gateway"
	adapterhandler "villa-auth/internal/adapter/handler"
	"villa-auth/internal/domain"
	infracache "villa-auth/internal/infrastructure/cache"
	"villa-auth/internal/infrastructure/metrics"
	infratoken "villa-auth/internal/infrastructure/token"
	"villa-auth/internal/usecase"

	"villa-auth/config"
	appmiddleware "villa-auth/middleware"
	"villa-auth/utils/logger"
	"villa-auth/utils/otel"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"
)

const providerPingInterval = 30 * time.Second

func main() {
	// Handle healthcheck subcommand (for Docker healthcheck in distroless image)
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		if err := runHealthcheck(); err != nil {
			fmt.Fprintf(os.Stderr, "Healthcheck failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	otelCfg := otel.ConfigFromEnv()
	otelShutdown, err := otel.InitProvider(ctx, otelCfg)
	if err != nil {
		slog.Warn("failed to initialize OpenTelemetry, continuing without tracing", "error", err)
		otelCfg.Enabled = false
		otelShutdown = func(context.Context) error { return nil }
	}

	log := logger.Init(otelCfg.Enabled)

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.InfoContext(ctx, "configuration loaded",
		"kratos_url", cfg.KratosURL,
		"port", cfg.Port,
		"cache_driver", cfg.CacheDriver,
		"freshness_window", cfg.FreshnessWindow,
		"reconcile_timeout", cfg.ReconcileTimeout)

	// Infrastructure
	store, redisClient, err := newSessionStore(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize session store", "error", err)
		os.Exit(1)
	}

	kratosGateway := gateway.NewKratosGateway(cfg.KratosURL, cfg.KratosAdminURL, cfg.ReconcileTimeout, log)
	csrfGenerator := infratoken.NewHMACCSRFGenerator(cfg.CSRFSecret)
	var tokens domain.TokenIssuer
	if cfg.BackendTokenSecret != "" {
		tokens = infratoken.NewJWTIssuer(infratoken.JWTConfig{
			Secret:   cfg.BackendTokenSecret,
			Issuer:   cfg.BackendTokenIssuer,
			Audience: cfg.BackendTokenAudience,
			TTL:      cfg.BackendTokenTTL,
		})
	} else {
		slog.WarnContext(ctx, "BACKEND_TOKEN_SECRET not set, /session will not issue backend tokens")
	}

	// Usecases
	registry, err := usecase.NewRegistry(cfg.RegistrySize, kratosGateway, store, usecase.ReconcilerConfig{
		FreshnessWindow: cfg.FreshnessWindow,
		Timeout:         cfg.ReconcileTimeout,
	}, log)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize reconciler registry", "error", err)
		os.Exit(1)
	}

	var publisher events.Publisher = events.NewLocalPublisher(registry)
	var subscriber *events.RedisSubscriber
	if redisClient != nil {
		publisher = events.NewRedisPublisher(redisClient, cfg.EventsChannel)
		subscriber = events.NewRedisSubscriber(redisClient, cfg.EventsChannel, registry, log)
	}

	// Setup Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(appmiddleware.SecurityHeaders(cfg.CookieSecure))

	if otelCfg.Enabled {
		e.Use(otelecho.Middleware(otelCfg.ServiceName))
		e.Use(appmiddleware.OTelStatusMiddleware())
	}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path == "/health" || path == "/metrics"
		},
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			rctx := c.Request().Context()
			l := logger.GlobalContext.WithContext(rctx)
			if v.Error == nil {
				l.InfoContext(rctx, "request completed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds())
			} else {
				l.ErrorContext(rctx, "request failed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds(),
					"error", v.Error.Error())
			}
			return nil
		},
	}))

	e.Use(middleware.Recover())

	loginRL := appmiddleware.NewRateLimiter(10.0/60.0, 5) // 10 req/min
	defer loginRL.Close()

	adapterhandler.Register(e, adapterhandler.Routes{
		Reconcilers: registry,
		Provider:    kratosGateway,
		Publisher:   publisher,
		CSRF:        csrfGenerator,
		Tokens:      tokens,
		Cookies:     adapterhandler.CookieConfig{Secure: cfg.CookieSecure},
		Guard: usecase.GuardConfig{
			LoginPath: cfg.LoginPath,
			Timeout:   cfg.ReconcileTimeout,
		},
		HookSecret:   cfg.HookSharedSecret,
		LoginLimiter: loginRL,
		Logger:       log,
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	address := fmt.Sprintf(":%s", cfg.Port)
	slog.InfoContext(ctx, "starting villa-auth server", "address", address)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := e.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if subscriber != nil {
		g.Go(func() error {
			return subscriber.Run(gCtx, nil)
		})
	}

	g.Go(func() error {
		watchProvider(gCtx, kratosGateway)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := e.Shutdown(shutdownCtx)
		registry.Close()
		if closer, ok := store.(io.Closer); ok {
			err = errors.Join(err, closer.Close())
		}
		if redisClient != nil && cfg.CacheDriver != config.CacheDriverRedis {
			err = errors.Join(err, redisClient.Close())
		}
		return err
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return otelShutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited properly")
}

// newSessionStore builds the configured Session Cache backend. The returned
// client, if any, also carries identity events.
func newSessionStore(cfg *config.Config) (domain.SessionStore, *redis.Client, error) {
	var eventsClient *redis.Client
	if cfg.RedisURL != "" && cfg.CacheDriver != config.CacheDriverRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		eventsClient = redis.NewClient(opts)
	}

	switch cfg.CacheDriver {
	case config.CacheDriverFile:
		store, err := infracache.NewFileStore(cfg.CacheDir)
		if err != nil {
			return nil, nil, err
		}
		return store, eventsClient, nil
	case config.CacheDriverRedis:
		store, err := infracache.NewRedisStoreWithURL(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return nil, nil, err
		}
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Ping(pctx); err != nil {
			// Reads degrade to a cache miss until Redis is back.
			slog.Warn("redis session store unreachable at startup", "error", err)
		}
		return store, store.Client(), nil
	default:
		return infracache.NewMemoryStore(cfg.CacheTTL), eventsClient, nil
	}
}

// watchProvider keeps the provider connection gauge current.
func watchProvider(ctx context.Context, provider domain.ProviderStatus) {
	ping := func() {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Ping(pctx); err != nil {
			metrics.SetProviderDisconnected()
			slog.WarnContext(ctx, "identity provider unreachable", "error", err)
			return
		}
		metrics.SetProviderConnected()
	}

	ping()
	ticker := time.NewTicker(providerPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping()
		}
	}
}

// runHealthcheck performs a health check against the local server.
func runHealthcheck() error {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8888"
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%s/health", port))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned status: %d", resp.StatusCode)
	}
	return nil
}
