package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeAccessClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeAccessClient() *fakeAccessClient {
	return &fakeAccessClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (c *fakeAccessClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err := c.errs[req.GetName()]; err != nil {
		return nil, err
	}
	if value, ok := c.values[req.GetName()]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (c *fakeAccessClient) Close() error { return nil }

func writeFallback(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

func TestResolveReadsSecretManagerOnce(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	resource := "projects/moto/secrets/jwt-signing/versions/latest"
	client.values[resource] = "remote-value\n"

	fetcher, err := NewFetcher(ctx, withClient(client), WithProject("moto"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	for _, ref := range []string{"sm://jwt-signing", "secret://jwt-signing"} {
		got, err := fetcher.Resolve(ctx, ref)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", ref, err)
		}
		if got != "remote-value" {
			t.Fatalf("expected trimmed remote value, got %q", got)
		}
	}
	if calls := client.calls[resource]; calls != 1 {
		t.Fatalf("expected one remote access, got %d", calls)
	}
}

func TestResolveHonoursVersionAndProjectQuery(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	client.values["projects/other/secrets/db-url/versions/3"] = "postgres://pinned"

	fetcher, err := NewFetcher(ctx, withClient(client), WithProject("moto"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := fetcher.Resolve(ctx, "sm://db-url?version=3&project=other")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "postgres://pinned" {
		t.Fatalf("unexpected value %q", got)
	}
}

func TestResolveFallsBackWhenUnavailable(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	client.errs["projects/moto/secrets/jwt-signing/versions/latest"] = status.Error(codes.Unavailable, "down")
	path := writeFallback(t, "secret://jwt-signing=local-value\n")

	fetcher, err := NewFetcher(ctx, withClient(client), WithProject("moto"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := fetcher.Resolve(ctx, "sm://jwt-signing")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "local-value" {
		t.Fatalf("expected fallback value, got %q", got)
	}
}

func TestResolveDoesNotMaskMissingSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	path := writeFallback(t, "secret://jwt-signing=local-value\n")

	fetcher, err := NewFetcher(ctx, withClient(client), WithProject("moto"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "sm://jwt-signing"); err == nil {
		t.Fatal("expected NotFound from Secret Manager to surface")
	}
}

func TestResolveWithoutProjectUsesFallbackOnly(t *testing.T) {
	ctx := context.Background()
	path := writeFallback(t, "jwt-signing=by-name\n")

	fetcher, err := NewFetcher(ctx, WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := fetcher.Resolve(ctx, "secret://jwt-signing")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "by-name" {
		t.Fatalf("expected value keyed by name, got %q", got)
	}
	if _, err := fetcher.Resolve(ctx, "secret://unknown"); err == nil {
		t.Fatal("expected error for unknown secret")
	}
}

func TestParseReferenceRejectsOtherSchemes(t *testing.T) {
	for _, raw := range []string{"https://example.com/x", "secret://", ""} {
		if _, err := parseReference(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
	if !IsReference(" sm://x") || IsReference("plain") {
		t.Fatal("IsReference misclassified values")
	}
}
