package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"

	"communitysync/application/ports"
	"communitysync/application/session"
	domainconfig "communitysync/domain/config"
	"communitysync/infrastructure/api"
	"communitysync/infrastructure/cache"
	"communitysync/infrastructure/config"
	"communitysync/infrastructure/messaging/eventbridge"
	"communitysync/infrastructure/messaging/local"
	"communitysync/infrastructure/persistence/dynamodb"
	"communitysync/infrastructure/persistence/memory"
	"communitysync/interfaces/http/rest"
	"communitysync/pkg/auth"
	"communitysync/pkg/observability"
)

const (
	serviceName       = "community-sync"
	developmentSecret = "development-secret-change-in-production"
	cacheSweepEvery   = time.Minute
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = level
	}
	return zapCfg.Build()
}

// ProvideDomainConfig selects the business limits for the environment
func ProvideDomainConfig(cfg *config.Config) (*domainconfig.DomainConfig, error) {
	domainCfg := domainconfig.LoadDomainConfig(cfg.Environment)
	domainCfg.SessionTimeout = cfg.SessionTTL
	if err := domainCfg.Validate(); err != nil {
		return nil, err
	}
	return domainCfg, nil
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideMetrics creates the CloudWatch recorder. With metrics disabled it
// records nothing.
func ProvideMetrics(client *awscloudwatch.Client, cfg *config.Config, logger *zap.Logger) *observability.Metrics {
	namespace := fmt.Sprintf("CommunitySync/%s", cfg.Environment)
	if !cfg.EnableMetrics {
		return observability.NewMetrics(namespace, nil, logger)
	}
	return observability.NewMetrics(namespace, client, logger)
}

// ProvideTracer creates the X-Ray tracer
func ProvideTracer(cfg *config.Config) *observability.Tracer {
	return observability.NewTracer(serviceName, cfg.EnableTracing)
}

// ProvideEventPublisher publishes sync events to EventBridge when a bus is
// configured and to the in-process audit log otherwise.
func ProvideEventPublisher(client *awseventbridge.Client, cfg *config.Config, logger *zap.Logger) (ports.EventPublisher, error) {
	if cfg.EventBusName != "" {
		return eventbridge.NewPublisher(client, cfg.EventBusName, logger), nil
	}
	bus := local.NewBus(logger)
	if err := bus.Subscribe("*", local.NewAuditLogger(logger)); err != nil {
		return nil, err
	}
	return bus, nil
}

// ProvideSnapshotStore persists reaction baselines in DynamoDB when
// snapshots are enabled and in process memory otherwise.
func ProvideSnapshotStore(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.SnapshotStore {
	if cfg.EnableSnapshots {
		return dynamodb.NewSnapshotStore(client, cfg.SnapshotTable, 7*24*time.Hour, logger)
	}
	return memory.NewSnapshotStore()
}

// ProvideClientFactory builds one API client and hands each session a copy
// bound to its own token. All copies share the circuit breaker.
func ProvideClientFactory(cfg *config.Config, tracer *observability.Tracer, logger *zap.Logger) (session.ClientFactory, error) {
	client, err := api.NewClient(api.ClientConfig{
		BaseURL:      cfg.APIBaseURL,
		Timeout:      cfg.APITimeout,
		FailureRatio: cfg.BreakerMaxFailure,
		MinRequests:  cfg.BreakerMinRequest,
		OpenTimeout:  cfg.BreakerOpenFor,
	}, nil, tracer, logger)
	if err != nil {
		return nil, err
	}
	return func(tokens ports.TokenSource) ports.RemoteAPI {
		return client.WithTokenSource(tokens)
	}, nil
}

// ProvideSessionCache creates the TTL cache holding live sessions
func ProvideSessionCache(logger *zap.Logger) (*cache.InMemoryCache, func()) {
	c := cache.NewInMemoryCache(cacheSweepEvery, func(key string, value interface{}) {
		logger.Debug("Session evicted", zap.String("sessionID", key))
	})
	return c, c.Close
}

// ProvideSessionManager creates the session manager
func ProvideSessionManager(
	domainCfg *domainconfig.DomainConfig,
	sessionCache ports.Cache,
	newClient session.ClientFactory,
	publisher ports.EventPublisher,
	snapshots ports.SnapshotStore,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *session.Manager {
	return session.NewManager(domainCfg, sessionCache, newClient, logger,
		session.WithPublisher(publisher),
		session.WithSnapshots(snapshots),
		session.WithMetrics(metrics),
	)
}

// ProvideJWTValidator creates the viewer token validator. Outside
// production a fixed development secret is used when none is configured.
func ProvideJWTValidator(cfg *config.Config, logger *zap.Logger) (*auth.JWTValidator, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		logger.Warn("JWT_SECRET not set, using development secret")
		secret = developmentSecret
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SigningMethod: "HS256",
		SecretKey:     secret,
		Issuer:        cfg.JWTIssuer,
	})
}

// ProvideRateLimiter creates the per-viewer mutation limiter
func ProvideRateLimiter(cfg *config.Config) *auth.ViewerRateLimiter {
	return auth.NewViewerRateLimiter(cfg.MutationRateLimit, cfg.MutationRateWindow)
}

// ProvideRouter creates the HTTP handler of the gateway
func ProvideRouter(
	sessions *session.Manager,
	validator *auth.JWTValidator,
	limiter *auth.ViewerRateLimiter,
	cfg *config.Config,
	logger *zap.Logger,
) http.Handler {
	return rest.NewRouter(sessions, validator, limiter, rest.RouterConfig{
		EnableCORS:     cfg.EnableCORS,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Debug:          cfg.IsDevelopment(),
	}, logger).Setup()
}
