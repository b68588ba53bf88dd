package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references against Google Secret Manager. Values are cached,
// concurrent lookups of one reference share a single request, and a local dotenv-style
// file serves references when Secret Manager cannot be reached.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger
	cacheTTL   time.Duration
	now        func() time.Time

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group

	latency metric.Float64Histogram
}

type cacheEntry struct {
	value   string
	expires time.Time
}

type fetcherConfig struct {
	client       secretManagerClient
	clientOpts   []option.ClientOption
	projectID    string
	logger       *zap.Logger
	cacheTTL     time.Duration
	fallbackPath string
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithDefaultProject sets the project used when a reference has no ?project= override.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.projectID = strings.TrimSpace(projectID) }
}

// WithFallbackFile overrides the local fallback file. An empty path disables it.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithCacheTTL bounds how long resolved values are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *fetcherConfig) {
		if ttl > 0 {
			cfg.cacheTTL = ttl
		}
	}
}

// WithSecretManagerClient injects a client instead of dialling one.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

// WithClientOptions forwards options to the Secret Manager client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. When no client can be created it runs on the fallback file alone.
func NewFetcher(ctx context.Context, opts ...Option) *Fetcher {
	cfg := fetcherConfig{logger: zap.NewNop(), cacheTTL: defaultCacheTTL, fallbackPath: defaultFallbackPath}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	f := &Fetcher{
		client:       cfg.client,
		projectID:    cfg.projectID,
		logger:       cfg.logger,
		cacheTTL:     cfg.cacheTTL,
		now:          time.Now,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]cacheEntry),
	}

	latency, err := otel.Meter("github.com/storefront/api/secrets").Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency"),
	)
	if err != nil {
		cfg.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	}
	f.latency = latency

	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind ref, e.g. secret://stripe-api-key?version=3&project=prod.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := f.now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := parsed.resource(f.projectID)

	if value, ok := f.cached(key); ok {
		f.record(ctx, start, "cache")
		return value, nil
	}

	result, err, _ := f.group.Do(key, func() (any, error) {
		value, source, err := f.fetch(ctx, parsed)
		if err != nil {
			return "", err
		}
		f.store(key, value)
		f.record(ctx, start, source)
		return value, nil
	})
	if err != nil {
		f.record(ctx, start, "error")
		return "", err
	}
	return result.(string), nil
}

func (f *Fetcher) fetch(ctx context.Context, ref reference) (string, string, error) {
	project := ref.project(f.projectID)
	if f.client != nil && project != "" {
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: ref.resource(f.projectID)})
		if err == nil {
			if resp.GetPayload() == nil {
				return "", "remote", fmt.Errorf("secrets: empty payload for %s", ref.name)
			}
			return string(resp.GetPayload().GetData()), "remote", nil
		}
		if !fallbackEligible(err) {
			return "", "remote", fmt.Errorf("secrets: access %s: %w", ref.name, err)
		}
		f.logger.Debug("secrets: secret manager unreachable, trying fallback", zap.String("secret", ref.name), zap.Error(err))
	}

	if value, ok := f.lookupFallback(ref); ok {
		return value, "fallback", nil
	}
	return "", "fallback", fmt.Errorf("secrets: %s not available", ref.name)
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok || !f.now().Before(entry.expires) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = cacheEntry{value: value, expires: f.now().Add(f.cacheTTL)}
	f.mu.Unlock()
}

func (f *Fetcher) record(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	elapsed := float64(f.now().Sub(start)) / float64(time.Millisecond)
	f.latency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

func (f *Fetcher) lookupFallback(ref reference) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback = readFallbackFile(f.fallbackPath, f.logger)
	})
	if value, ok := f.fallback[ref.name+"#"+ref.version]; ok {
		return value, true
	}
	value, ok := f.fallback[ref.name]
	return value, ok
}

// readFallbackFile parses lines of the form secret://name[?version=N]=value.
func readFallbackFile(path string, logger *zap.Logger) map[string]string {
	values := map[string]string{}
	if path == "" {
		return values
	}
	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("secrets: fallback file unreadable", zap.String("path", path), zap.Error(err))
		}
		return values
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// The value follows the last '=' outside the optional query string.
		refPart, value, ok := splitFallbackLine(line)
		if !ok {
			continue
		}
		parsed, err := parseReference(refPart)
		if err != nil {
			continue
		}
		if parsed.explicitVersion {
			values[parsed.name+"#"+parsed.version] = value
		} else {
			values[parsed.name] = value
		}
	}
	return values
}

func splitFallbackLine(line string) (string, string, bool) {
	start := 0
	if q := strings.Index(line, "?"); q >= 0 {
		start = q
		if eq := strings.Index(line[q:], "="); eq >= 0 {
			start = q + eq + 1
		}
	}
	idx := strings.Index(line[start:], "=")
	if idx < 0 {
		return "", "", false
	}
	idx += start
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

type reference struct {
	name            string
	version         string
	explicitVersion bool
	projectOverride string
}

func (r reference) project(defaultProject string) string {
	if r.projectOverride != "" {
		return r.projectOverride
	}
	return defaultProject
}

func (r reference) resource(defaultProject string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", r.project(defaultProject), r.name, r.version)
}

func parseReference(ref string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	query := u.Query()
	parsed := reference{
		name:            name,
		version:         "latest",
		projectOverride: strings.TrimSpace(query.Get("project")),
	}
	if v := strings.TrimSpace(query.Get("version")); v != "" {
		parsed.version = v
		parsed.explicitVersion = true
	}
	return parsed, nil
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
