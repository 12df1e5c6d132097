package objstore

import (
	"ghafacts/internal/platform/config"
)

// Config holds connection settings for the object store
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	Secure        bool
	DestACL       string
	CacheDir      string
	CacheMaxBytes int64
}

// ConfigFromEnv reads OBJSTORE_* keys. Missing credentials fall back to the
// AWS_* and MINIO_* environment variables
func ConfigFromEnv(cfg config.Conf) Config {
	c := cfg.Prefix("OBJSTORE_")
	return Config{
		Endpoint:      c.MayString("ENDPOINT", "s3.amazonaws.com"),
		AccessKey:     c.MayString("ACCESS_KEY", ""),
		SecretKey:     c.MayString("SECRET_KEY", ""),
		Region:        c.MayString("REGION", ""),
		Secure:        c.MayBool("SECURE", true),
		DestACL:       c.MayString("DEST_ACL", ""),
		CacheDir:      c.MayString("CACHE_DIR", ""),
		CacheMaxBytes: c.MayInt64("CACHE_MAX_BYTES", 0),
	}
}
