package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithLogLevel sets the log level (debug, info, warn, error)
func WithLogLevel(level string) Option {
	return func(c *ServerConfig) error {
		if _, err := parseLevel(level); err != nil {
			return err
		}
		c.LogLevel = level
		return nil
	}
}

// WithBaseURL sets the public URL clients use to reach the server
func WithBaseURL(baseURL string) Option {
	return func(c *ServerConfig) error {
		if baseURL == "" {
			return fmt.Errorf("base url cannot be empty")
		}
		c.BaseURL = baseURL
		return nil
	}
}

// WithRedis stores hub metadata in Redis under an optional key prefix
func WithRedis(url, keyPrefix string) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("redis url cannot be empty")
		}
		c.RedisURL = url
		c.RedisKeyPrefix = keyPrefix
		return nil
	}
}

// WithMemoryStore keeps hub metadata in process memory
func WithMemoryStore() Option {
	return func(c *ServerConfig) error {
		c.RedisURL = "memory"
		c.BroadcastMode = "local"
		return nil
	}
}

// WithMemoryStorage keeps blobs in process memory
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.StorageURL = "memory://"
		return nil
	}
}

// WithFilesystemStorage stores blobs under baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("base directory cannot be empty")
		}
		c.StorageURL = "file://" + baseDir
		return nil
	}
}

// WithS3Storage stores blobs in an S3 bucket
func WithS3Storage(bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		c.StorageURL = "s3://" + bucket
		if region != "" {
			c.S3.Region = region
		}
		return nil
	}
}

// WithS3Credentials sets static S3 credentials
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		c.S3.AccessKeyID = accessKeyID
		c.S3.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithS3Endpoint points the S3 client at an S3-compatible service such as MinIO
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		c.S3.Endpoint = endpoint
		c.S3.UsePathStyle = usePathStyle
		return nil
	}
}

// WithSigningSecret sets the secret for blob URLs served by this process
func WithSigningSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.SigningSecret = secret
		return nil
	}
}

// WithTTL sets the default and maximum hub lifetimes
func WithTTL(defaultTTL, maxTTL time.Duration) Option {
	return func(c *ServerConfig) error {
		if defaultTTL <= 0 || maxTTL < defaultTTL {
			return fmt.Errorf("ttl must satisfy 0 < default (%s) <= max (%s)", defaultTTL, maxTTL)
		}
		c.DefaultTTL = defaultTTL
		c.MaxTTL = maxTTL
		return nil
	}
}

// WithMaxTextBytes caps the size of a hub's text
func WithMaxTextBytes(n int) Option {
	return func(c *ServerConfig) error {
		if n <= 0 {
			return fmt.Errorf("max text bytes must be positive, got: %d", n)
		}
		c.MaxTextBytes = n
		return nil
	}
}

// WithMaxFileBytes caps the size of a single file
func WithMaxFileBytes(n int64) Option {
	return func(c *ServerConfig) error {
		if n <= 0 {
			return fmt.Errorf("max file bytes must be positive, got: %d", n)
		}
		c.MaxFileBytes = n
		return nil
	}
}

// WithBroadcastMode selects "local" or "redis" fan-out of live events
func WithBroadcastMode(mode string) Option {
	return func(c *ServerConfig) error {
		if mode != "local" && mode != "redis" {
			return fmt.Errorf("broadcast mode must be 'local' or 'redis', got: %s", mode)
		}
		c.BroadcastMode = mode
		return nil
	}
}

// WithHeartbeat sets the live connection ping interval and pong timeout
func WithHeartbeat(pingInterval, pongWait time.Duration) Option {
	return func(c *ServerConfig) error {
		c.PingInterval = pingInterval
		c.PongWait = pongWait
		return nil
	}
}

// WithCleanup configures the orphan sweep. An interval of zero turns it off.
func WithCleanup(interval, grace time.Duration) Option {
	return func(c *ServerConfig) error {
		if interval <= 0 {
			c.CleanupMode = "off"
		} else {
			c.CleanupMode = "sweep"
			c.CleanupInterval = interval
		}
		c.CleanupGrace = grace
		return nil
	}
}

// WithCleanupMode selects "sweep", "external" or "off"
func WithCleanupMode(mode string) Option {
	return func(c *ServerConfig) error {
		c.CleanupMode = mode
		return nil
	}
}
