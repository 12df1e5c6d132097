package objstore

import (
	"testing"

	"ghafacts/internal/platform/config"
)

func TestEndpointHost(t *testing.T) {
	cases := map[string]string{
		"s3.amazonaws.com":         "s3.amazonaws.com",
		"https://minio.local:9000": "minio.local:9000",
		"http://localhost:9000/":   "localhost:9000",
	}
	for in, want := range cases {
		if got := endpointHost(in); got != want {
			t.Fatalf("endpointHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_FreshClientsAreDistinct(t *testing.T) {
	f := Factory{Cfg: Config{Endpoint: "localhost:9000", AccessKey: "k", SecretKey: "s"}}
	a, err := f.Fresh()
	if err != nil {
		t.Fatalf("fresh: %v", err)
	}
	b, err := f.Fresh()
	if err != nil {
		t.Fatalf("fresh: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct clients")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OBJSTORE_ENDPOINT", "minio:9000")
	t.Setenv("OBJSTORE_SECURE", "false")
	t.Setenv("OBJSTORE_DEST_ACL", "bucket-owner-full-control")
	t.Setenv("OBJSTORE_CACHE_MAX_BYTES", "1024")

	cfg := ConfigFromEnv(config.New())
	if cfg.Endpoint != "minio:9000" || cfg.Secure || cfg.DestACL != "bucket-owner-full-control" || cfg.CacheMaxBytes != 1024 {
		t.Fatalf("cfg = %+v", cfg)
	}
}
