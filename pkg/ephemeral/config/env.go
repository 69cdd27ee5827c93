package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv reads every field tagged `env` from the process environment.
// Unset variables take their env-default, so WithEnv should come before
// options that override individual fields.
//
// The most common variables:
//
//	PORT, ENVIRONMENT, LOG_LEVEL, BASE_URL
//	REDIS_URL        "memory" (default) or redis://host:6379/0
//	STORAGE_URL      memory:// (default), file:///var/lib/ephemeral or s3://bucket
//	AWS_REGION, S3_ENDPOINT, S3_USE_PATH_STYLE for S3-compatible storage
//	SIGNING_SECRET   required when more than one instance serves memory or file storage
//	BROADCAST_MODE   "local" (default) or "redis"
//	CLEANUP_MODE     "sweep" (default), "external" or "off"
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}
		return nil
	}
}

// Usage returns a description of every environment variable the server reads
func Usage() string {
	var cfg ServerConfig
	desc, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return err.Error()
	}
	return desc
}
