// Package config loads and validates skybridge configuration from
// environment variables. Every setting has a SKYBRIDGE_* variable and a
// default suitable for local development.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/c360/skybridge/errors"
)

// NATSConfig holds event bus connection settings.
type NATSConfig struct {
	URL        string
	ClientName string
}

// SubjectConfig names the event channels the bridge subscribes to and
// the prefix under which failed messages are dead-lettered.
type SubjectConfig struct {
	ProjectCreate    string
	MissionCreate    string
	AssetUploaded    string
	DeadLetterPrefix string
}

// EngineConfig holds processing engine (WebODM-style API) settings.
type EngineConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// BlobConfig holds object store settings for presigned asset downloads.
type BlobConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PresignExpiry time.Duration
}

// Config is the complete bridge configuration.
type Config struct {
	NATS     NATSConfig
	KVBucket string
	Subjects SubjectConfig
	Engine   EngineConfig
	Blob     BlobConfig

	MetricsPort     int
	ShutdownTimeout time.Duration
}

// FromEnv builds a Config from SKYBRIDGE_* environment variables,
// falling back to defaults for anything unset.
func FromEnv() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:        getEnv("SKYBRIDGE_NATS_URL", "nats://localhost:4222"),
			ClientName: getEnv("SKYBRIDGE_NATS_CLIENT_NAME", "skybridge"),
		},
		KVBucket: getEnv("SKYBRIDGE_KV_BUCKET", "skybridge_mappings"),
		Subjects: SubjectConfig{
			ProjectCreate:    getEnv("SKYBRIDGE_SUBJECT_PROJECT_CREATE", "project_create"),
			MissionCreate:    getEnv("SKYBRIDGE_SUBJECT_MISSION_CREATE", "mission_create"),
			AssetUploaded:    getEnv("SKYBRIDGE_SUBJECT_ASSET_UPLOADED", "mission_asset_uploaded"),
			DeadLetterPrefix: getEnv("SKYBRIDGE_DEADLETTER_PREFIX", "skybridge.deadletter"),
		},
		Engine: EngineConfig{
			BaseURL:  getEnv("SKYBRIDGE_ODM_URL", "http://localhost:8000"),
			Username: getEnv("SKYBRIDGE_ODM_USERNAME", ""),
			Password: getEnv("SKYBRIDGE_ODM_PASSWORD", ""),
			Timeout:  getEnvDuration("SKYBRIDGE_ODM_TIMEOUT", 30*time.Second),
		},
		Blob: BlobConfig{
			Endpoint:      getEnv("SKYBRIDGE_S3_ENDPOINT", "localhost:9000"),
			AccessKey:     getEnv("SKYBRIDGE_S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("SKYBRIDGE_S3_SECRET_KEY", ""),
			Bucket:        getEnv("SKYBRIDGE_S3_BUCKET", "skystore"),
			UseSSL:        getEnvBool("SKYBRIDGE_S3_USE_SSL", false),
			PresignExpiry: getEnvDuration("SKYBRIDGE_PRESIGN_EXPIRY", 15*time.Minute),
		},
		MetricsPort:     getEnvInt("SKYBRIDGE_METRICS_PORT", 0),
		ShutdownTimeout: getEnvDuration("SKYBRIDGE_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats url is required")
	}
	if c.KVBucket == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "kv bucket is required")
	}

	// DeadLetterPrefix is deliberately absent: an empty prefix disables
	// dead-lettering.
	for name, subject := range map[string]string{
		"project create subject": c.Subjects.ProjectCreate,
		"mission create subject": c.Subjects.MissionCreate,
		"asset uploaded subject": c.Subjects.AssetUploaded,
	} {
		if subject == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
				fmt.Sprintf("%s is required", name))
		}
	}

	if c.Engine.BaseURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "engine url is required")
	}
	if u, err := url.Parse(c.Engine.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("engine url %q is not a valid http(s) url", c.Engine.BaseURL))
	}
	if c.Engine.Username == "" || c.Engine.Password == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"engine credentials are required")
	}
	if c.Engine.Timeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"engine timeout must be positive")
	}

	if c.Blob.Endpoint == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "blob endpoint is required")
	}
	if c.Blob.Bucket == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "blob bucket is required")
	}
	if c.Blob.PresignExpiry <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"presign expiry must be positive")
	}

	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("invalid metrics port %d", c.MetricsPort))
	}

	return nil
}
