package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/storefront/api/internal/di"
	"github.com/storefront/api/internal/handlers"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/config"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/idempotency"
	"github.com/storefront/api/internal/platform/jobs"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/platform/secrets"
	platformstorage "github.com/storefront/api/internal/platform/storage"
	"github.com/storefront/api/internal/repositories"
	firestoreRepo "github.com/storefront/api/internal/repositories/firestore"
	"github.com/storefront/api/internal/services"
)

const multipartOverhead = 1 << 20

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher := newSecretFetcher(ctx, logger, envValues)
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	var (
		orderTopic     *pubsub.Topic
		eventPublisher *jobs.PubSubOrderEventPublisher
	)
	if projectID := pubSubProjectID(cfg); projectID != "" && strings.TrimSpace(cfg.PubSub.OrderEventsTopic) != "" {
		pubsubClient, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		orderTopic = pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
		eventPublisher, err = jobs.NewPubSubOrderEventPublisher(orderTopic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		defer eventPublisher.Stop()
	} else {
		logger.Warn("pubsub project not configured; order events disabled")
	}

	healthRepo, err := newHealthRepository(firestoreProvider, fetcher, redisClient, orderTopic)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	var imageUploader *platformstorage.ImageUploader
	if bucket := strings.TrimSpace(cfg.Storage.ImagesBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		objectStore, err := platformstorage.NewGCSObjectStore(storageClient)
		if err != nil {
			logger.Fatal("failed to initialise object store", zap.Error(err))
		}
		imageUploader, err = platformstorage.NewImageUploader(objectStore, platformstorage.UploaderConfig{
			Bucket:        bucket,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
			MaxFiles:      cfg.Storage.UploadMaxFiles,
			MaxBytes:      cfg.Storage.UploadMaxBytes,
		})
		if err != nil {
			logger.Fatal("failed to initialise image uploader", zap.Error(err))
		}
	} else {
		logger.Warn("images bucket not configured; uploads disabled")
	}

	var paymentProvider payments.Provider
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:        cfg.PSP.StripeAPIKey,
			WebhookSecret: cfg.PSP.StripeWebhookSecret,
			Logger:        payments.StripeLogger(observability.ServiceLogger(logger, "payments")),
			Clock:         time.Now,
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
		}
		paymentProvider = stripeProvider
	} else {
		logger.Warn("stripe api key not configured; payment sessions disabled")
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.TokenSecret,
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
		auth.WithTokenIssuer(cfg.Auth.Issuer),
	)
	if err != nil {
		logger.Fatal("failed to initialise token manager", zap.Error(err))
	}

	infra := di.Infrastructure{
		Tokens:   tokens,
		Payments: paymentProvider,
		Uploader: imageUploader,
		Build:    buildInfo,
		Logger:   logger,
		Clock:    time.Now,
	}
	if eventPublisher != nil {
		infra.Events = eventPublisher
	}

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()
	svc := container.Services

	authenticator := auth.NewAuthenticator(tokens, auth.WithIdentityLoader(container.IdentityLoader()))

	idempotencyStore := idempotency.NewFirestoreStore(firestoreProvider, "")
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	scheduler := cron.New(cron.WithLogger(cron.PrintfLogger(observability.NewPrintfAdapter(logger.Named("cron")))))
	cleaner := idempotency.NewCleaner(idempotencyStore, cfg.Idempotency.CleanupBatch, logger.Named("idempotency"))
	if _, err := cleaner.Schedule(scheduler, cfg.Idempotency.CleanupSchedule, time.Minute); err != nil {
		logger.Fatal("failed to schedule idempotency cleanup", zap.Error(err))
	}
	scheduler.Start()

	loginLimit := cfg.RateLimits.LoginPerMinute
	var loginLimiter handlers.RateLimiter
	if redisClient != nil {
		loginLimiter = handlers.NewRedisRateLimiter(redisClient, "ratelimit:login", loginLimit, time.Minute)
	} else {
		loginLimiter = handlers.NewMemoryRateLimiter(loginLimit, time.Minute, time.Now)
	}

	userHandlers := handlers.NewUserHandlers(authenticator, svc.Users, handlers.WithLoginRateLimiter(loginLimiter))
	productHandlers := handlers.NewProductHandlers(authenticator, svc.Catalog)
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Carts)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout,
		handlers.WithCheckoutIdempotency(idempotencyMiddleware),
	)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
	)
	categoryHandlers := handlers.NewTaxonomyHandlers(authenticator, svc.Categories, "category")
	brandHandlers := handlers.NewTaxonomyHandlers(authenticator, svc.Brands, "brand")
	uploadLimit := cfg.Storage.UploadMaxBytes*int64(cfg.Storage.UploadMaxFiles) + multipartOverhead
	uploadHandlers := handlers.NewUploadHandlers(authenticator, svc.Uploads, uploadLimit)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Checkout)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithUserRoutes(userHandlers.Routes),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithCategoryRoutes(categoryHandlers.Routes),
		handlers.WithBrandRoutes(brandHandlers.Routes),
		handlers.WithUploadRoutes(uploadHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithAdminRoutes(handlers.AdminRegistrar(
			userHandlers.AdminRoutes,
			productHandlers.AdminRoutes,
			orderHandlers.AdminRoutes,
		)),
		handlers.WithInternalRoutes(userHandlers.InternalRoutes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening", zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newHealthRepository(provider *pfirestore.Provider, fetcher *secrets.Fetcher, rdb *redis.Client, topic *pubsub.Topic) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 4)
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Critical: true,
			Timeout:  1500 * time.Millisecond,
			Check:    provider.Ping,
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if rdb != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: 500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topic.ID())
				}
				return nil
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache, logger)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firestore.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.PubSub.ProjectID)
}

func pubSubProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.PubSub.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) *secrets.Fetcher {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if ttl, err := time.ParseDuration(lookup("API_SECRET_CACHE_TTL")); err == nil && ttl > 0 {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(env map[string]string) []string {
	required := []string{"Auth.TokenSecret"}

	environment := ""
	if env != nil {
		environment = strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]))
		if strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
			required = append(required, "Redis.Password")
		}
	}
	if environment == "prod" || environment == "production" {
		required = append(required, "PSP.StripeAPIKey", "PSP.StripeWebhookSecret")
	}

	return uniqueStrings(required)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
