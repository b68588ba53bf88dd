package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const stripeResource = "projects/test/secrets/stripe-api-key/versions/latest"

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[stripeResource] = "remote-secret"

	fetcher := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("test"), WithLogger(zap.NewNop()), WithFallbackFile(""))
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://stripe-api-key")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got != "remote-secret" {
			t.Fatalf("expected remote-secret, got %q", got)
		}
	}
	if calls := client.callCount(stripeResource); calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}
}

func TestResolveRefetchesAfterCacheTTL(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[stripeResource] = "v1"

	fetcher := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("test"), WithCacheTTL(time.Minute), WithFallbackFile(""))
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher.now = func() time.Time { return now }

	if _, err := fetcher.Resolve(ctx, "secret://stripe-api-key"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	client.setValue(stripeResource, "v2")
	now = now.Add(2 * time.Minute)

	got, err := fetcher.Resolve(ctx, "secret://stripe-api-key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "v2" {
		t.Fatalf("expected rotated value, got %q", got)
	}
}

func TestResolveHonoursVersionAndProjectOverride(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/prod/secrets/stripe-api-key/versions/5"] = "pinned"

	fetcher := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("test"), WithFallbackFile(""))

	got, err := fetcher.Resolve(ctx, "sm://stripe-api-key?version=5&project=prod")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "pinned" {
		t.Fatalf("expected pinned, got %q", got)
	}
}

func TestResolveFallsBackWhenSecretManagerDenied(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors[stripeResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("test"), WithFallbackFile(writeFallback(t)))

	got, err := fetcher.Resolve(ctx, "secret://stripe-api-key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "local-secret" {
		t.Fatalf("expected local-secret, got %q", got)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors[stripeResource] = status.Error(codes.NotFound, "missing")

	fetcher := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("test"), WithFallbackFile(writeFallback(t)))

	if _, err := fetcher.Resolve(ctx, "secret://stripe-api-key"); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	fetcher := NewFetcher(context.Background(), WithFallbackFile(writeFallback(t)))
	defer fetcher.Close()

	got, err := fetcher.Resolve(context.Background(), "secret://token-secret?version=2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "abc==" {
		t.Fatalf("expected versioned fallback value, got %q", got)
	}
}

func TestParseReferenceRejectsBadInput(t *testing.T) {
	for _, ref := range []string{"", "https://example.com/x", "secret://"} {
		if _, err := parseReference(ref); err == nil {
			t.Fatalf("expected error for %q", ref)
		}
	}
}

func writeFallback(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	content := "# local secrets\nsecret://stripe-api-key=local-secret\nsecret://token-secret?version=2=abc==\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, errors: map[string]error{}, counter: map[string]int{}}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := req.GetName()
	f.counter[name]++
	if err := f.errors[name]; err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) setValue(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[name] = value
}

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
