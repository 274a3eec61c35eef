// Package config loads server settings from defaults, an optional config file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNATS   = "nats"

	MediaDisk = "disk"
	MediaNATS = "nats"
)

const (
	keyPort             = "port"
	keyLogLevel         = "log_level"
	keyLogFormat        = "log_format"
	keyRedisURL         = "redis_url"
	keyNATSURL          = "nats_url"
	keyBrokerBackend    = "broker_backend"
	keyTopicPrefix      = "topic_prefix"
	keyDatabasePath     = "database_path"
	keyJWTSecret        = "jwt_secret"
	keyJWTIssuer        = "jwt_issuer"
	keyJWKSIssuerURL    = "jwks_issuer_url"
	keyMediaBackend     = "media_backend"
	keyMediaDir         = "media_dir"
	keyMediaBaseURL     = "media_base_url"
	keyMediaBucket      = "media_bucket"
	keyMaxUploadBytes   = "max_upload_bytes"
	keyOperationTimeout = "operation_timeout"
	keyShutdownTimeout  = "shutdown_timeout"
	keySubscriberBuffer = "subscriber_buffer"
)

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	RedisURL string
	NATSURL  string

	// BrokerBackend is memory, redis or nats. Presence lives in Redis unless the backend is memory.
	BrokerBackend string
	TopicPrefix   string

	DatabasePath string

	// JWTSecret enables HS256 tokens; JWKSIssuerURL enables RS256 tokens from an identity provider.
	JWTSecret     string
	JWTIssuer     string
	JWKSIssuerURL string

	MediaBackend   string
	MediaDir       string
	MediaBaseURL   string
	MediaBucket    string
	MaxUploadBytes int64

	OperationTimeout time.Duration
	ShutdownTimeout  time.Duration
	SubscriberBuffer int
}

// SetDefaults registers defaults and environment bindings on v. Every key can be set as
// LIVECHAT_<KEY>; PORT, REDIS_URL, NATS_URL and LOG_LEVEL are also read without the prefix,
// and KINDE_ISSUER_URL sets the JWKS issuer.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(keyPort, "8080")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, "text")
	v.SetDefault(keyRedisURL, "redis://localhost:6379")
	v.SetDefault(keyNATSURL, "nats://localhost:4222")
	v.SetDefault(keyBrokerBackend, BackendRedis)
	v.SetDefault(keyTopicPrefix, "livechat")
	v.SetDefault(keyDatabasePath, "livechat.db")
	v.SetDefault(keyJWTSecret, "")
	v.SetDefault(keyJWTIssuer, "livechat")
	v.SetDefault(keyJWKSIssuerURL, "")
	v.SetDefault(keyMediaBackend, MediaDisk)
	v.SetDefault(keyMediaDir, "public/images")
	v.SetDefault(keyMediaBaseURL, "/images")
	v.SetDefault(keyMediaBucket, "livechat-media")
	v.SetDefault(keyMaxUploadBytes, 10<<20)
	v.SetDefault(keyOperationTimeout, 5*time.Second)
	v.SetDefault(keyShutdownTimeout, 15*time.Second)
	v.SetDefault(keySubscriberBuffer, 256)

	v.SetEnvPrefix("LIVECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{keyPort, keyRedisURL, keyNATSURL, keyLogLevel} {
		_ = v.BindEnv(key, "LIVECHAT_"+strings.ToUpper(key), strings.ToUpper(key))
	}
	_ = v.BindEnv(keyJWKSIssuerURL, "LIVECHAT_JWKS_ISSUER_URL", "KINDE_ISSUER_URL")
}

// Load reads the optional config file and returns the resulting configuration.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{
		Port:             v.GetString(keyPort),
		LogLevel:         v.GetString(keyLogLevel),
		LogFormat:        v.GetString(keyLogFormat),
		RedisURL:         v.GetString(keyRedisURL),
		NATSURL:          v.GetString(keyNATSURL),
		BrokerBackend:    strings.ToLower(v.GetString(keyBrokerBackend)),
		TopicPrefix:      v.GetString(keyTopicPrefix),
		DatabasePath:     v.GetString(keyDatabasePath),
		JWTSecret:        v.GetString(keyJWTSecret),
		JWTIssuer:        v.GetString(keyJWTIssuer),
		JWKSIssuerURL:    v.GetString(keyJWKSIssuerURL),
		MediaBackend:     strings.ToLower(v.GetString(keyMediaBackend)),
		MediaDir:         v.GetString(keyMediaDir),
		MediaBaseURL:     v.GetString(keyMediaBaseURL),
		MediaBucket:      v.GetString(keyMediaBucket),
		MaxUploadBytes:   v.GetInt64(keyMaxUploadBytes),
		OperationTimeout: v.GetDuration(keyOperationTimeout),
		ShutdownTimeout:  v.GetDuration(keyShutdownTimeout),
		SubscriberBuffer: v.GetInt(keySubscriberBuffer),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.BrokerBackend {
	case BackendMemory, BackendRedis, BackendNATS:
	default:
		errs = append(errs, fmt.Errorf("unknown broker backend %q", c.BrokerBackend))
	}
	switch c.MediaBackend {
	case MediaDisk, MediaNATS:
	default:
		errs = append(errs, fmt.Errorf("unknown media backend %q", c.MediaBackend))
	}
	if c.JWTSecret == "" && c.JWKSIssuerURL == "" {
		errs = append(errs, errors.New("one of jwt_secret or jwks_issuer_url is required"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.OperationTimeout <= 0 {
		errs = append(errs, errors.New("operation_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// UsesRedis reports whether presence, and possibly the broker bus, live in Redis.
func (c *Config) UsesRedis() bool {
	return c.BrokerBackend != BackendMemory
}

// UsesNATS reports whether a NATS connection is needed.
func (c *Config) UsesNATS() bool {
	return c.BrokerBackend == BackendNATS || c.MediaBackend == MediaNATS
}
